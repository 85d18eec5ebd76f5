/**
 * @description
 * This file defines the storage contracts the wallet-funding-service depends on.
 * The credit path needs exactly one primitive: apply a credit at most once per
 * event id, with the idempotency marker and the balance increment committed as a
 * single unit. Keeping it behind an interface lets the core run against
 * PostgreSQL, Redis, or an in-memory map, and lets tests inject failures.
 *
 * @dependencies
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/transfa/wallet-funding-service/internal/domain"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrCurrencyMismatch = errors.New("credit currency does not match account currency")
	ErrBalanceOverflow  = errors.New("credit would overflow the account balance")
)

// ApplyResult reports what ApplyCreditOnce did.
type ApplyResult struct {
	// Applied is false when the event id had already been recorded.
	Applied bool
	// Balance is the post-credit balance when Applied is true.
	Balance int64
}

// CreditStore is the storage collaborator of the credit applier.
type CreditStore interface {
	// ApplyCreditOnce records credit.EventID and increments the account balance
	// atomically. If the event id was already recorded nothing changes and
	// Applied is false. On any error neither the marker nor the balance change.
	ApplyCreditOnce(ctx context.Context, credit domain.CreditRequest) (ApplyResult, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
}

// OutboxMessage is a broker message persisted alongside the change it announces.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// OutboxRepository is implemented by stores that enqueue messages transactionally.
type OutboxRepository interface {
	ClaimOutboxMessages(ctx context.Context, batchSize int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, lastError string) error
	PruneOutboxMessages(ctx context.Context, publishedBefore time.Time) (int64, error)
}

// OutboxTarget names where credited events are published.
type OutboxTarget struct {
	Exchange   string
	RoutingKey string
}
