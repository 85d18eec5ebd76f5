/**
 * @description
 * Scheduled maintenance jobs for the wallet-funding-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/transfa/wallet-funding-service/internal/store"
)

const jobTimeout = time.Minute

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	outbox          store.OutboxRepository
	outboxRetention time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

func NewJobs(outbox store.OutboxRepository, outboxRetention time.Duration, logger *slog.Logger) *Jobs {
	return &Jobs{
		outbox:          outbox,
		outboxRetention: outboxRetention,
		logger:          logger,
		now:             time.Now,
	}
}

// PruneOutbox deletes published outbox messages older than the retention
// window. Unpublished messages and idempotency markers are never touched.
func (j *Jobs) PruneOutbox() {
	j.logger.Info("starting outbox prune job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cutoff := j.now().Add(-j.outboxRetention)
	deleted, err := j.outbox.PruneOutboxMessages(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to prune outbox", "error", err)
		return
	}

	j.logger.Info("outbox prune job finished", "deleted", deleted, "cutoff", cutoff)
}
