package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transfa/wallet-funding-service/internal/domain"
)

// applyCreditScript runs atomically on the server: either the marker is set and
// the balance incremented, or nothing is written. Redis does not undo earlier
// writes when a command fails, so HINCRBY (which rejects corrupt balances and
// overflow) is the first write.
//
// KEYS[1] marker key, KEYS[2] account hash
// ARGV[1] amount, ARGV[2] currency, ARGV[3] marker value, ARGV[4] unix millis
// Returns {status, balance}: 1 applied, 0 already processed, -1 currency mismatch.
var applyCreditScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return {0, 0}
end
local currency = redis.call("HGET", KEYS[2], "currency")
if currency and currency ~= ARGV[2] then
  return {-1, 0}
end
local balance = redis.call("HINCRBY", KEYS[2], "balance", ARGV[1])
redis.call("SET", KEYS[1], ARGV[3])
redis.call("HSETNX", KEYS[2], "currency", ARGV[2])
redis.call("HSETNX", KEYS[2], "created_at", ARGV[4])
redis.call("HSET", KEYS[2], "updated_at", ARGV[4])
return {1, balance}
`)

// RedisRepository stores wallets as hashes and idempotency markers as plain
// keys. Both keys of a credit share the {accountID} hash tag so the script is
// valid on Redis Cluster. Markers are scoped per account and never expire.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "wallet"
	}
	return &RedisRepository{client: client, prefix: trimmedPrefix}
}

func (r *RedisRepository) markerKey(accountID, eventID string) string {
	return fmt.Sprintf("%s:{%s}:event:%s", r.prefix, accountID, eventID)
}

func (r *RedisRepository) accountKey(accountID string) string {
	return fmt.Sprintf("%s:{%s}:account", r.prefix, accountID)
}

func (r *RedisRepository) ApplyCreditOnce(ctx context.Context, credit domain.CreditRequest) (ApplyResult, error) {
	now := time.Now().UTC()
	marker := fmt.Sprintf("%s|%d|%s|%d", credit.EventType, credit.AmountMinor, credit.Currency, now.Unix())

	raw, err := applyCreditScript.Run(ctx, r.client,
		[]string{r.markerKey(credit.AccountID, credit.EventID), r.accountKey(credit.AccountID)},
		credit.AmountMinor, credit.Currency, marker, now.UnixMilli(),
	).Result()
	if err != nil {
		if strings.Contains(err.Error(), "overflow") {
			return ApplyResult{}, fmt.Errorf("credit %s on account %s: %w", credit.EventID, credit.AccountID, ErrBalanceOverflow)
		}
		return ApplyResult{}, fmt.Errorf("failed to run credit script: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return ApplyResult{}, fmt.Errorf("unexpected credit script response shape: %T", raw)
	}
	status, ok := values[0].(int64)
	if !ok {
		return ApplyResult{}, fmt.Errorf("unexpected credit script status type: %T", values[0])
	}
	balance, ok := values[1].(int64)
	if !ok {
		return ApplyResult{}, fmt.Errorf("unexpected credit script balance type: %T", values[1])
	}

	switch status {
	case 1:
		return ApplyResult{Applied: true, Balance: balance}, nil
	case 0:
		return ApplyResult{Applied: false}, nil
	case -1:
		return ApplyResult{}, ErrCurrencyMismatch
	default:
		return ApplyResult{}, fmt.Errorf("unexpected credit script status: %d", status)
	}
}

func (r *RedisRepository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	fields, err := r.client.HGetAll(ctx, r.accountKey(accountID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrAccountNotFound
	}

	balance, err := strconv.ParseInt(fields["balance"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for account %s: %w", accountID, err)
	}
	return &domain.Account{
		ID:           accountID,
		BalanceMinor: balance,
		Currency:     fields["currency"],
		CreatedAt:    parseMillis(fields["created_at"]),
		UpdatedAt:    parseMillis(fields["updated_at"]),
	}, nil
}

func parseMillis(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
