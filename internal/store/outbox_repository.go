package store

import (
	"context"
	"fmt"
	"time"
)

// ClaimOutboxMessages locks up to batchSize due messages for this dispatcher.
// Messages stuck in processing for longer than staleAfterSeconds are reclaimed.
func (r *PostgresRepository) ClaimOutboxMessages(ctx context.Context, batchSize int, staleAfterSeconds int) ([]OutboxMessage, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	query := `
		WITH due AS (
			SELECT id
			FROM outbox_messages
			WHERE (status = 'pending' AND next_attempt_at <= NOW())
			   OR (status = 'processing' AND claimed_at < NOW() - make_interval(secs => $2))
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_messages o
		SET status = 'processing',
			claimed_at = NOW(),
			attempts = o.attempts + 1
		FROM due
		WHERE o.id = due.id
		RETURNING o.id, o.exchange, o.routing_key, o.payload::text, o.attempts
	`
	rows, err := r.db.Query(ctx, query, batchSize, staleAfterSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var (
			msg     OutboxMessage
			payload string
		)
		if err := rows.Scan(&msg.ID, &msg.Exchange, &msg.RoutingKey, &payload, &msg.Attempts); err != nil {
			return nil, err
		}
		msg.Payload = []byte(payload)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_messages
		SET status = 'published', published_at = NOW(), last_error = NULL
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, lastError string) error {
	query := `
		UPDATE outbox_messages
		SET status = 'pending',
			claimed_at = NULL,
			last_error = $3,
			next_attempt_at = NOW() + make_interval(secs => $2)
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, retryAfterSeconds, lastError)
	return err
}

// PruneOutboxMessages deletes published messages older than publishedBefore.
// Idempotency markers live in processed_events and are never pruned.
func (r *PostgresRepository) PruneOutboxMessages(ctx context.Context, publishedBefore time.Time) (int64, error) {
	query := `
		DELETE FROM outbox_messages
		WHERE status = 'published' AND published_at < $1
	`
	tag, err := r.db.Exec(ctx, query, publishedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to prune outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}
