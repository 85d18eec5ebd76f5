/**
 * @description
 * This file provides the PostgreSQL implementation of the CreditStore and
 * OutboxRepository interfaces.
 *
 * Key features:
 * - The idempotency marker insert, the balance increment, and the outbox enqueue
 *   run in one transaction, so a failure at any step leaves no trace.
 * - Concurrent deliveries of the same event serialize on the processed_events
 *   primary key; the loser sees ON CONFLICT DO NOTHING and rolls back.
 * - Accounts are created on first credit in the credit's currency.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/wallet-funding-service/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// PostgresRepository is the PostgreSQL-backed credit store.
type PostgresRepository struct {
	db     *pgxpool.Pool
	outbox OutboxTarget
}

// NewPostgresRepository creates a new instance of PostgresRepository. Credited
// events are enqueued for outbox.Exchange / outbox.RoutingKey; an empty
// exchange disables the outbox.
func NewPostgresRepository(db *pgxpool.Pool, outbox OutboxTarget) *PostgresRepository {
	return &PostgresRepository{db: db, outbox: outbox}
}

// EnsureSchema creates the tables this service owns if they are missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ApplyCreditOnce implements CreditStore.
func (r *PostgresRepository) ApplyCreditOnce(ctx context.Context, credit domain.CreditRequest) (ApplyResult, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	markerQuery := `
		INSERT INTO processed_events (event_id, account_id, amount, currency, event_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, markerQuery, credit.EventID, credit.AccountID, credit.AmountMinor, credit.Currency, credit.EventType)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to record processed event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ApplyResult{Applied: false}, nil
	}

	creditQuery := `
		INSERT INTO accounts (id, balance, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET balance = accounts.balance + EXCLUDED.balance,
			updated_at = NOW()
		WHERE accounts.currency = EXCLUDED.currency
		RETURNING balance
	`
	var balance int64
	err = tx.QueryRow(ctx, creditQuery, credit.AccountID, credit.AmountMinor, credit.Currency).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ApplyResult{}, ErrCurrencyMismatch
		}
		return ApplyResult{}, fmt.Errorf("failed to credit account: %w", err)
	}

	if r.outbox.Exchange != "" {
		event := domain.WalletCreditedEvent{
			EventID:       credit.EventID,
			AccountID:     credit.AccountID,
			Amount:        credit.AmountMinor,
			Currency:      credit.Currency,
			Balance:       balance,
			CreditedAt:    time.Now().UTC(),
			CorrelationID: uuid.NewString(),
		}
		if err := enqueueEventTx(ctx, tx, r.outbox.Exchange, r.outbox.RoutingKey, event); err != nil {
			return ApplyResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, fmt.Errorf("failed to commit credit: %w", err)
	}
	return ApplyResult{Applied: true, Balance: balance}, nil
}

// GetAccount implements CreditStore.
func (r *PostgresRepository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `SELECT id, balance, currency, created_at, updated_at FROM accounts WHERE id = $1`
	var account domain.Account
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.ID,
		&account.BalanceMinor,
		&account.Currency,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func enqueueEventTx(ctx context.Context, tx pgx.Tx, exchange, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	query := `
		INSERT INTO outbox_messages (exchange, routing_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`
	if _, err := tx.Exec(ctx, query, exchange, routingKey, string(blob)); err != nil {
		return fmt.Errorf("failed to enqueue outbox message: %w", err)
	}
	return nil
}
