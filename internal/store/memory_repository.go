package store

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/transfa/wallet-funding-service/internal/domain"
)

// MemoryRepository keeps wallets in process memory. It backs local runs
// (STORE_BACKEND=memory) and tests; state is lost on restart.
type MemoryRepository struct {
	mu        sync.Mutex
	accounts  map[string]*domain.Account
	processed map[string]domain.CreditRequest
	now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:  make(map[string]*domain.Account),
		processed: make(map[string]domain.CreditRequest),
		now:       time.Now,
	}
}

func (r *MemoryRepository) ApplyCreditOnce(ctx context.Context, credit domain.CreditRequest) (ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.processed[credit.EventID]; seen {
		return ApplyResult{Applied: false}, nil
	}

	now := r.now().UTC()
	account, ok := r.accounts[credit.AccountID]
	if ok && !strings.EqualFold(account.Currency, credit.Currency) {
		return ApplyResult{}, ErrCurrencyMismatch
	}
	if ok && credit.AmountMinor > 0 && account.BalanceMinor > math.MaxInt64-credit.AmountMinor {
		return ApplyResult{}, fmt.Errorf("credit %s on account %s: %w", credit.EventID, credit.AccountID, ErrBalanceOverflow)
	}
	if !ok {
		account = &domain.Account{
			ID:        credit.AccountID,
			Currency:  credit.Currency,
			CreatedAt: now,
		}
		r.accounts[credit.AccountID] = account
	}

	account.BalanceMinor += credit.AmountMinor
	account.UpdatedAt = now
	r.processed[credit.EventID] = credit

	return ApplyResult{Applied: true, Balance: account.BalanceMinor}, nil
}

func (r *MemoryRepository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

// ProcessedCount returns how many distinct events have been applied.
func (r *MemoryRepository) ProcessedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processed)
}
