package stripeclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/transfa/wallet-funding-service/internal/domain"
)

var (
	ErrInvalidRequest = errors.New("stripe rejected the checkout request")
	ErrProviderDown   = errors.New("stripe is unavailable")
	ErrNotConfigured  = errors.New("stripe secret key is not configured")
)

// Config configures the hosted checkout page.
type Config struct {
	SecretKey   string
	SuccessURL  string
	CancelURL   string
	ProductName string
	// BaseURL overrides the API endpoint; empty means api.stripe.com.
	BaseURL string
}

// Client creates Checkout Sessions for wallet top-ups.
type Client struct {
	api    *client.API
	config Config
}

func New(cfg Config) *Client {
	var backends *stripe.Backends
	if cfg.BaseURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:               stripe.String(cfg.BaseURL),
				MaxNetworkRetries: stripe.Int64(0),
			}),
		}
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)
	return &Client{api: sc, config: cfg}
}

// CreateCheckoutSession opens a one-off card payment for req.AmountMinor. The
// wallet owner travels in metadata.userId and client_reference_id, which is
// where the webhook handler reads it back from.
func (c *Client) CreateCheckoutSession(ctx context.Context, req domain.CheckoutSessionRequest, idempotencyKey string) (*domain.CheckoutSession, error) {
	if strings.TrimSpace(c.config.SecretKey) == "" {
		return nil, ErrNotConfigured
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(c.config.ProductName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(c.config.SuccessURL),
		CancelURL:         stripe.String(c.config.CancelURL),
		ClientReferenceID: stripe.String(req.AccountID),
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata("userId", req.AccountID)
	if req.Email != "" {
		params.AddMetadata("email", req.Email)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	params.Context = ctx

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &domain.CheckoutSession{SessionID: session.ID, URL: session.URL}, nil
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s", ErrProviderDown, stripeErr.Msg)
		}
		if stripeErr.Type == stripe.ErrorTypeInvalidRequest || stripeErr.HTTPStatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", ErrInvalidRequest, stripeErr.Msg)
		}
	}
	return fmt.Errorf("stripe checkout error: %w", err)
}
