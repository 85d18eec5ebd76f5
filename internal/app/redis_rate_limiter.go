package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// INCR and PEXPIRE run in one script so a crash can never leave a counter
// without an expiry.
var windowHitScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {hits, redis.call("PTTL", KEYS[1])}
`)

// RateWindow is the state of one fixed window after a hit.
type RateWindow struct {
	Hits    int
	ResetIn time.Duration
}

// RedisRateLimiter counts hits in fixed windows shared by every replica.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "wallet:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

// Hit records one hit against key. A nil limiter reports an empty window.
func (r *RedisRateLimiter) Hit(ctx context.Context, key string, window time.Duration) (RateWindow, error) {
	key = strings.TrimSpace(key)
	if r == nil || r.client == nil || key == "" {
		return RateWindow{}, nil
	}
	if window < time.Second {
		window = time.Second
	}

	res, err := windowHitScript.Run(ctx, r.client, []string{r.prefix + ":" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return RateWindow{}, fmt.Errorf("rate limit hit %s: %w", key, err)
	}
	if len(res) != 2 {
		return RateWindow{}, fmt.Errorf("rate limit hit %s: unexpected reply length %d", key, len(res))
	}

	resetIn := time.Duration(res[1]) * time.Millisecond
	if resetIn <= 0 {
		resetIn = window
	}
	return RateWindow{Hits: int(res[0]), ResetIn: resetIn}, nil
}
