package app

import (
	"context"
	"log/slog"

	"github.com/transfa/wallet-funding-service/internal/domain"
)

// EventHandler processes one event type.
type EventHandler interface {
	Handle(ctx context.Context, event domain.VerifiedEvent) domain.Outcome
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event domain.VerifiedEvent) domain.Outcome

func (f EventHandlerFunc) Handle(ctx context.Context, event domain.VerifiedEvent) domain.Outcome {
	return f(ctx, event)
}

// EventRouter dispatches verified events by type. Unregistered types are
// acknowledged without action so the processor stops retrying them.
type EventRouter struct {
	handlers map[string]EventHandler
	logger   *slog.Logger
}

func NewEventRouter(logger *slog.Logger) *EventRouter {
	return &EventRouter{
		handlers: make(map[string]EventHandler),
		logger:   logger,
	}
}

// Register binds handler to eventType, replacing any previous binding.
func (r *EventRouter) Register(eventType string, handler EventHandler) {
	r.handlers[eventType] = handler
}

func (r *EventRouter) Route(ctx context.Context, event domain.VerifiedEvent) domain.Outcome {
	handler, ok := r.handlers[event.Type]
	if !ok {
		r.logger.Debug("ignoring unhandled event type", "event_id", event.ID, "event_type", event.Type)
		return domain.Ignored()
	}
	return handler.Handle(ctx, event)
}
