package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/transfa/wallet-funding-service/internal/app"
	"github.com/transfa/wallet-funding-service/internal/domain"
	"github.com/transfa/wallet-funding-service/pkg/stripeclient"
)

// CheckoutCreator opens top-up checkout sessions.
type CheckoutCreator interface {
	CreateSession(ctx context.Context, req domain.CheckoutSessionRequest) (*domain.CheckoutSession, error)
}

// BalanceReader returns a wallet, reporting defaultCurrency for empty ones.
type BalanceReader interface {
	Balance(ctx context.Context, accountID, defaultCurrency string) (*domain.Account, error)
}

// WalletHandlers serves the authenticated wallet endpoints.
type WalletHandlers struct {
	checkout        CheckoutCreator
	balances        BalanceReader
	defaultCurrency string
	logger          *slog.Logger
}

func NewWalletHandlers(checkout CheckoutCreator, balances BalanceReader, defaultCurrency string, logger *slog.Logger) *WalletHandlers {
	return &WalletHandlers{
		checkout:        checkout,
		balances:        balances,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

type createCheckoutRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type balanceResponse struct {
	AccountID string `json:"accountId"`
	Balance   int64  `json:"balance"`
	Currency  string `json:"currency"`
}

// CreateCheckoutSessionHandler handles POST /checkout/sessions.
func (h *WalletHandlers) CreateCheckoutSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req createCheckoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	email, _ := GetClerkEmail(r.Context())
	session, err := h.checkout.CreateSession(r.Context(), domain.CheckoutSessionRequest{
		AccountID:   userID,
		Email:       email,
		AmountMinor: req.Amount,
		Currency:    req.Currency,
	})
	if err != nil {
		var limitErr *app.RateLimitError
		switch {
		case errors.As(err, &limitErr):
			w.Header().Set("Retry-After", strconv.Itoa(limitErr.RetryAfterSeconds))
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, app.ErrInvalidCheckoutAmount),
			errors.Is(err, app.ErrCheckoutAmountTooLarge),
			errors.Is(err, app.ErrInvalidCheckoutCurrency),
			errors.Is(err, stripeclient.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, stripeclient.ErrProviderDown):
			writeError(w, http.StatusBadGateway, "payment provider unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to create checkout session")
		}
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// GetBalanceHandler handles GET /wallet/balance.
func (h *WalletHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	account, err := h.balances.Balance(r.Context(), userID, h.defaultCurrency)
	if err != nil {
		h.logger.Error("failed to load wallet balance", "account_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load balance")
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		AccountID: account.ID,
		Balance:   account.BalanceMinor,
		Currency:  account.Currency,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
