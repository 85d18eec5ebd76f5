package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/transfa/wallet-funding-service/internal/domain"
)

// MetadataAccountKey is the checkout metadata key carrying the wallet owner.
const MetadataAccountKey = "userId"

var errMissingObject = errors.New("event has no checkout session object")

// Crediter applies a credit at most once per event id.
type Crediter interface {
	Apply(ctx context.Context, credit domain.CreditRequest) domain.Outcome
}

// CheckoutCompletedHandler credits the wallet named in a paid checkout session.
type CheckoutCompletedHandler struct {
	credits Crediter
	logger  *slog.Logger
}

func NewCheckoutCompletedHandler(credits Crediter, logger *slog.Logger) *CheckoutCompletedHandler {
	return &CheckoutCompletedHandler{credits: credits, logger: logger}
}

func (h *CheckoutCompletedHandler) Handle(ctx context.Context, event domain.VerifiedEvent) domain.Outcome {
	payload, err := decodeCheckoutSession(event.Object)
	if err != nil {
		h.logger.Warn("malformed checkout session object", "event_id", event.ID, "error", err)
		return domain.Rejected(domain.ReasonMalformedObject)
	}

	switch stripe.CheckoutSessionPaymentStatus(payload.PaymentStatus) {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
	default:
		// Delayed methods complete the session unpaid; the async success event follows.
		h.logger.Info("checkout session not yet paid",
			"event_id", event.ID,
			"session_id", payload.SessionID,
			"payment_status", payload.PaymentStatus,
		)
		return domain.Ignored()
	}

	outcome := h.credits.Apply(ctx, domain.CreditRequest{
		EventID:     event.ID,
		EventType:   event.Type,
		AccountID:   payload.AccountID,
		AmountMinor: payload.AmountMinor,
		Currency:    payload.Currency,
	})
	if outcome.Kind == domain.OutcomeRejected && outcome.Reason == domain.ReasonMissingAccount {
		h.logger.Warn("checkout session has no account reference", "event_id", event.ID, "session_id", payload.SessionID)
	}
	return outcome
}

// AsyncPaymentFailedHandler acknowledges failed delayed payments. Nothing was
// credited for the session, so there is nothing to undo.
type AsyncPaymentFailedHandler struct {
	logger *slog.Logger
}

func NewAsyncPaymentFailedHandler(logger *slog.Logger) *AsyncPaymentFailedHandler {
	return &AsyncPaymentFailedHandler{logger: logger}
}

func (h *AsyncPaymentFailedHandler) Handle(ctx context.Context, event domain.VerifiedEvent) domain.Outcome {
	attrs := []any{"event_id", event.ID}
	if payload, err := decodeCheckoutSession(event.Object); err == nil {
		attrs = append(attrs, "session_id", payload.SessionID, "account_id", payload.AccountID)
	}
	h.logger.Warn("checkout async payment failed", attrs...)
	return domain.Ignored()
}

// RegisterCheckoutHandlers binds the checkout session events this service acts on.
func RegisterCheckoutHandlers(router *EventRouter, credits Crediter, logger *slog.Logger) {
	completed := NewCheckoutCompletedHandler(credits, logger)
	router.Register(string(stripe.EventTypeCheckoutSessionCompleted), completed)
	router.Register(string(stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded), completed)
	router.Register(string(stripe.EventTypeCheckoutSessionAsyncPaymentFailed), NewAsyncPaymentFailedHandler(logger))
}

func decodeCheckoutSession(object json.RawMessage) (domain.PaymentCompletedPayload, error) {
	if len(object) == 0 {
		return domain.PaymentCompletedPayload{}, errMissingObject
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(object, &session); err != nil {
		return domain.PaymentCompletedPayload{}, err
	}
	if session.ID == "" {
		return domain.PaymentCompletedPayload{}, errMissingObject
	}

	accountID := strings.TrimSpace(session.Metadata[MetadataAccountKey])
	if accountID == "" {
		accountID = strings.TrimSpace(session.ClientReferenceID)
	}

	return domain.PaymentCompletedPayload{
		SessionID:     session.ID,
		AccountID:     accountID,
		AmountMinor:   session.AmountTotal,
		Currency:      string(session.Currency),
		PaymentStatus: string(session.PaymentStatus),
		Metadata:      session.Metadata,
	}, nil
}
