/**
 * @description
 * This file defines the Go structs that model verified webhook events from Stripe
 * and the payment payload this service acts on.
 *
 * @notes
 * - The type-specific object is kept as raw JSON and decoded by the handler that
 *   owns the event type, so the parser never depends on payment fields.
 * - Amounts are always minor currency units (cents).
 */
package domain

import (
	"encoding/json"
	"time"
)

// EventEnvelope is the top-level JSON shape of a Stripe event delivery.
type EventEnvelope struct {
	ID         string    `json:"id"`
	Object     string    `json:"object"`
	Type       string    `json:"type"`
	APIVersion string    `json:"api_version"`
	Created    int64     `json:"created"`
	Livemode   bool      `json:"livemode"`
	Data       EventData `json:"data"`
}

// EventData wraps the resource the event is about.
type EventData struct {
	Object json.RawMessage `json:"object"`
}

// VerifiedEvent is an authenticated, decoded event.
type VerifiedEvent struct {
	ID         string
	Type       string
	APIVersion string
	CreatedAt  time.Time
	Livemode   bool
	Object     json.RawMessage
}

// PaymentCompletedPayload carries the fields needed to credit a wallet.
// AccountID may be empty when the session was created without metadata.
type PaymentCompletedPayload struct {
	SessionID     string
	AccountID     string
	AmountMinor   int64
	Currency      string
	PaymentStatus string
	Metadata      map[string]string
}

// CreditRequest is the input to the idempotent credit applier.
type CreditRequest struct {
	EventID     string
	EventType   string
	AccountID   string
	AmountMinor int64
	Currency    string
}

// WalletCreditedEvent is published to the broker after a credit commits.
type WalletCreditedEvent struct {
	EventID       string    `json:"event_id"`
	AccountID     string    `json:"account_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Balance       int64     `json:"balance"`
	CreditedAt    time.Time `json:"credited_at"`
	CorrelationID string    `json:"correlation_id"`
}
