package domain

import "time"

// Account is a user's wallet. Balance is in minor units of Currency.
type Account struct {
	ID           string    `json:"account_id"`
	BalanceMinor int64     `json:"balance"`
	Currency     string    `json:"currency"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CheckoutSessionRequest is what a signed-in user asks for when topping up.
type CheckoutSessionRequest struct {
	AccountID   string
	Email       string
	AmountMinor int64
	Currency    string
}

// CheckoutSession is the processor-hosted page the client is redirected to.
type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}
