/**
 * @description
 * The credit service turns a validated completed-payment event into at most one
 * balance increment. All deduplication happens inside the store's atomic
 * primitive; this layer validates input, bounds the wait, and maps store
 * results onto processing outcomes.
 *
 * @dependencies
 * - internal/store: CreditStore and its sentinel errors.
 * - internal/domain: CreditRequest and Outcome.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/transfa/wallet-funding-service/internal/domain"
	"github.com/transfa/wallet-funding-service/internal/store"
)

const defaultStoreTimeout = 5 * time.Second

type CreditService struct {
	store        store.CreditStore
	storeTimeout time.Duration
	logger       *slog.Logger
}

func NewCreditService(creditStore store.CreditStore, storeTimeout time.Duration, logger *slog.Logger) *CreditService {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &CreditService{
		store:        creditStore,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// Apply validates credit and applies it once. Validation failures never touch
// storage. Storage failures of any kind, including the wait bound expiring,
// yield Deferred so the processor redelivers.
func (s *CreditService) Apply(ctx context.Context, credit domain.CreditRequest) domain.Outcome {
	credit.AccountID = strings.TrimSpace(credit.AccountID)
	credit.Currency = strings.ToLower(strings.TrimSpace(credit.Currency))

	if credit.AccountID == "" {
		return domain.Rejected(domain.ReasonMissingAccount)
	}
	if credit.AmountMinor <= 0 {
		s.logger.Warn("rejecting non-positive credit", "event_id", credit.EventID, "account_id", credit.AccountID, "amount", credit.AmountMinor)
		return domain.Rejected(domain.ReasonInvalidAmount)
	}
	if !isCurrencyCode(credit.Currency) {
		s.logger.Warn("rejecting credit with invalid currency", "event_id", credit.EventID, "currency", credit.Currency)
		return domain.Rejected(domain.ReasonInvalidCurrency)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	result, err := s.store.ApplyCreditOnce(storeCtx, credit)
	if err != nil {
		if errors.Is(err, store.ErrCurrencyMismatch) {
			s.logger.Warn("credit currency does not match wallet",
				"event_id", credit.EventID,
				"account_id", credit.AccountID,
				"currency", credit.Currency,
			)
			return domain.Rejected(domain.ReasonCurrencyMismatch)
		}
		s.logger.Error("failed to apply credit",
			"event_id", credit.EventID,
			"account_id", credit.AccountID,
			"error", err,
		)
		return domain.Deferred(domain.ReasonStorageUnavailable)
	}

	if !result.Applied {
		s.logger.Info("event already processed", "event_id", credit.EventID, "account_id", credit.AccountID)
		return domain.AlreadyProcessed()
	}

	s.logger.Info("wallet credited",
		"event_id", credit.EventID,
		"account_id", credit.AccountID,
		"amount", credit.AmountMinor,
		"currency", credit.Currency,
		"balance", result.Balance,
	)
	return domain.Credited(result.Balance)
}

// Balance returns the caller's wallet. A wallet that has never been credited
// reports zero in defaultCurrency.
func (s *CreditService) Balance(ctx context.Context, accountID, defaultCurrency string) (*domain.Account, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	account, err := s.store.GetAccount(storeCtx, accountID)
	if errors.Is(err, store.ErrAccountNotFound) {
		return &domain.Account{ID: accountID, Currency: defaultCurrency}, nil
	}
	return account, err
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
