/**
 * @description
 * This file implements the HTTP handler for Stripe webhooks. It is the delivery
 * acknowledger: every request ends in exactly one status code that tells Stripe
 * whether to redeliver.
 *
 * Key features:
 * - Security: The signature is verified over the raw body before anything is parsed.
 * - Idempotency: Redeliveries are acknowledged with 200 once the event has been applied.
 * - Retry semantics: Only transient storage failures answer 503; permanent problems
 *   answer 200 (or 400 for forged/undecodable deliveries) so Stripe stops retrying.
 *
 * @dependencies
 * - pkg/webhooksig: Stripe-Signature verification.
 * - internal/app: Event parsing.
 * - github.com/go-chi/chi/v5/middleware: Request ids for log correlation.
 */

package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/transfa/wallet-funding-service/internal/app"
	"github.com/transfa/wallet-funding-service/internal/domain"
	"github.com/transfa/wallet-funding-service/pkg/webhooksig"
)

// MaxWebhookBodyBytes bounds the request body read before verification.
const MaxWebhookBodyBytes = 1 << 20

// EventRouter dispatches a verified event to its handler.
type EventRouter interface {
	Route(ctx context.Context, event domain.VerifiedEvent) domain.Outcome
}

// WebhookHandler processes incoming webhooks from Stripe.
type WebhookHandler struct {
	verifier        *webhooksig.Verifier
	allowedVersions []string
	router          EventRouter
	logger          *slog.Logger
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewWebhookHandler creates a new handler for the webhook endpoint.
func NewWebhookHandler(verifier *webhooksig.Verifier, allowedVersions []string, router EventRouter, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:        verifier,
		allowedVersions: allowedVersions,
		router:          router,
		logger:          logger,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", middleware.GetReqID(r.Context()))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("webhook body too large", "limit_bytes", tooLarge.Limit)
			writeJSON(w, http.StatusRequestEntityTooLarge, webhookResponse{Error: "payload_too_large"})
			return
		}
		logger.Warn("failed to read webhook body", "error", err)
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "unreadable_body"})
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get(webhooksig.HeaderName)); err != nil {
		kind := "signature_mismatch"
		var verr *webhooksig.VerificationError
		if errors.As(err, &verr) {
			kind = string(verr.Kind)
		}
		logger.Warn("rejected webhook with invalid signature", "reason", kind, "remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: kind})
		return
	}

	event, err := app.ParseEvent(body, h.allowedVersions)
	if err != nil {
		kind := string(app.ParseMalformedPayload)
		var perr *app.ParseError
		if errors.As(err, &perr) {
			kind = string(perr.Kind)
		}
		logger.Warn("rejected undecodable webhook", "reason", kind, "error", err)
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: kind})
		return
	}

	outcome := h.router.Route(r.Context(), event)
	logger.Info("webhook processed",
		"event_id", event.ID,
		"event_type", event.Type,
		"outcome", outcome.Kind,
		"reason", outcome.Reason,
	)

	writeJSON(w, statusForOutcome(outcome), webhookResponse{
		Received: true,
		Outcome:  string(outcome.Kind),
		Reason:   string(outcome.Reason),
	})
}

// statusForOutcome maps a processing outcome onto the acknowledgement Stripe
// acts on. Anything other than 2xx schedules a redelivery.
func statusForOutcome(outcome domain.Outcome) int {
	if outcome.Retryable() {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
