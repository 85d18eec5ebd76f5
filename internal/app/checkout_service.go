package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-funding-service/internal/domain"
)

const checkoutRateLimitScope = "checkout_session"

var (
	ErrInvalidCheckoutAmount   = errors.New("amount must be a positive number of minor units")
	ErrCheckoutAmountTooLarge  = errors.New("amount exceeds the top-up limit")
	ErrInvalidCheckoutCurrency = errors.New("currency must be a three-letter ISO code")
)

// RateLimitError is returned when a caller opens checkout sessions too quickly.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many checkout sessions, retry after %ds", e.RetryAfterSeconds)
}

// CheckoutGateway creates processor-hosted checkout pages.
type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, req domain.CheckoutSessionRequest, idempotencyKey string) (*domain.CheckoutSession, error)
}

// RateLimiter counts hits per key in a fixed window.
type RateLimiter interface {
	Hit(ctx context.Context, key string, window time.Duration) (RateWindow, error)
}

type CheckoutConfig struct {
	DefaultCurrency    string
	MaxAmountMinor     int64
	RateLimitPerMinute int
}

// CheckoutService opens top-up sessions for signed-in users. The resulting
// payment is credited later by the webhook path, never here.
type CheckoutService struct {
	gateway CheckoutGateway
	limiter RateLimiter
	config  CheckoutConfig
	logger  *slog.Logger
}

func NewCheckoutService(gateway CheckoutGateway, limiter RateLimiter, cfg CheckoutConfig, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		gateway: gateway,
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}
}

func (s *CheckoutService) CreateSession(ctx context.Context, req domain.CheckoutSessionRequest) (*domain.CheckoutSession, error) {
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = s.config.DefaultCurrency
	}
	if req.AmountMinor <= 0 {
		return nil, ErrInvalidCheckoutAmount
	}
	if s.config.MaxAmountMinor > 0 && req.AmountMinor > s.config.MaxAmountMinor {
		return nil, ErrCheckoutAmountTooLarge
	}
	if !isCurrencyCode(req.Currency) {
		return nil, ErrInvalidCheckoutCurrency
	}

	if s.limiter != nil && s.config.RateLimitPerMinute > 0 {
		window, err := s.limiter.Hit(ctx, checkoutRateLimitScope+":"+req.AccountID, time.Minute)
		if err != nil {
			// Limiter outages do not block top-ups.
			s.logger.Warn("checkout rate limiter unavailable", "account_id", req.AccountID, "error", err)
		} else if window.Hits > s.config.RateLimitPerMinute {
			return nil, &RateLimitError{RetryAfterSeconds: retryAfterSeconds(window.ResetIn)}
		}
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, req, uuid.NewString())
	if err != nil {
		s.logger.Error("failed to create checkout session", "account_id", req.AccountID, "error", err)
		return nil, err
	}

	s.logger.Info("checkout session created",
		"account_id", req.AccountID,
		"session_id", session.SessionID,
		"amount", req.AmountMinor,
		"currency", req.Currency,
	)
	return session, nil
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
