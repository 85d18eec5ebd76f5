package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/transfa/wallet-funding-service/internal/store"
	"github.com/transfa/wallet-funding-service/pkg/rabbitmq"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
)

var errInvalidOutboxPayload = errors.New("outbox payload is not valid JSON")

// PublisherFactory opens a broker connection. It is called lazily and again
// after a publish failure drops the previous publisher.
type PublisherFactory func() (rabbitmq.Publisher, error)

// OutboxDispatcher relays wallet.credited messages committed with each credit
// to the broker. Delivery is at least once; consumers dedupe on event_id.
type OutboxDispatcher struct {
	repo                store.OutboxRepository
	newPublisher        PublisherFactory
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	publisher           rabbitmq.Publisher
	logger              *slog.Logger
}

func NewOutboxDispatcher(repo store.OutboxRepository, newPublisher PublisherFactory, logger *slog.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		repo:                repo,
		newPublisher:        newPublisher,
		batchSize:           defaultBatchSize,
		pollInterval:        defaultPollInterval,
		staleProcessingTime: defaultStaleProcessing,
		logger:              logger,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.closePublisher()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				d.logger.Error("outbox flush failed", "error", err)
			}
		}
	}
}

func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return err
	}

	for _, message := range messages {
		if err := d.publishMessage(ctx, message); err != nil {
			retryAfter := retryDelaySeconds(message.Attempts)
			d.logger.Warn("outbox publish failed",
				"message_id", message.ID,
				"attempts", message.Attempts,
				"retry_after_seconds", retryAfter,
				"error", err,
			)
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				d.logger.Error("failed to mark outbox message as failed", "message_id", message.ID, "error", markErr)
			}
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			d.logger.Error("failed to mark outbox message as published", "message_id", message.ID, "error", err)
		}
	}
	return nil
}

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message store.OutboxMessage) error {
	if d.publisher == nil {
		publisher, err := d.newPublisher()
		if err != nil {
			return err
		}
		d.publisher = publisher
	}

	if !json.Valid(message.Payload) {
		return errInvalidOutboxPayload
	}

	if err := d.publisher.Publish(ctx, message.Exchange, message.RoutingKey, json.RawMessage(message.Payload)); err != nil {
		d.closePublisher()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closePublisher() {
	if d.publisher != nil {
		d.publisher.Close()
		d.publisher = nil
	}
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
