package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/transfa/wallet-funding-service/internal/domain"
	"github.com/transfa/wallet-funding-service/internal/store"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// faultyStore fails the first failures calls without touching the wrapped store.
type faultyStore struct {
	store.CreditStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *faultyStore) ApplyCreditOnce(ctx context.Context, credit domain.CreditRequest) (store.ApplyResult, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return store.ApplyResult{}, errors.New("connection reset by peer")
	}
	return s.CreditStore.ApplyCreditOnce(ctx, credit)
}

// blockingStore waits for the context to expire.
type blockingStore struct {
	store.CreditStore
}

func (blockingStore) ApplyCreditOnce(ctx context.Context, credit domain.CreditRequest) (store.ApplyResult, error) {
	<-ctx.Done()
	return store.ApplyResult{}, ctx.Err()
}

type countingStore struct {
	store.CreditStore
	calls int
}

func (s *countingStore) ApplyCreditOnce(ctx context.Context, credit domain.CreditRequest) (store.ApplyResult, error) {
	s.calls++
	return s.CreditStore.ApplyCreditOnce(ctx, credit)
}

func TestCreditServiceApplyValidation(t *testing.T) {
	tests := []struct {
		name   string
		credit domain.CreditRequest
		want   domain.Outcome
	}{
		{
			name:   "missing account",
			credit: domain.CreditRequest{EventID: "evt_1", AccountID: "  ", AmountMinor: 500, Currency: "eur"},
			want:   domain.Rejected(domain.ReasonMissingAccount),
		},
		{
			name:   "zero amount",
			credit: domain.CreditRequest{EventID: "evt_1", AccountID: "u1", AmountMinor: 0, Currency: "eur"},
			want:   domain.Rejected(domain.ReasonInvalidAmount),
		},
		{
			name:   "negative amount",
			credit: domain.CreditRequest{EventID: "evt_1", AccountID: "u1", AmountMinor: -10, Currency: "eur"},
			want:   domain.Rejected(domain.ReasonInvalidAmount),
		},
		{
			name:   "empty currency",
			credit: domain.CreditRequest{EventID: "evt_1", AccountID: "u1", AmountMinor: 500, Currency: ""},
			want:   domain.Rejected(domain.ReasonInvalidCurrency),
		},
		{
			name:   "non alphabetic currency",
			credit: domain.CreditRequest{EventID: "evt_1", AccountID: "u1", AmountMinor: 500, Currency: "e1r"},
			want:   domain.Rejected(domain.ReasonInvalidCurrency),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &countingStore{CreditStore: store.NewMemoryRepository()}
			service := NewCreditService(repo, time.Second, newTestLogger())

			got := service.Apply(context.Background(), tt.credit)
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
			if repo.calls != 0 {
				t.Fatalf("expected rejected credit not to reach storage, got %d calls", repo.calls)
			}
		})
	}
}

func TestCreditServiceApplyNormalizesCurrency(t *testing.T) {
	repo := store.NewMemoryRepository()
	service := NewCreditService(repo, time.Second, newTestLogger())

	got := service.Apply(context.Background(), domain.CreditRequest{EventID: "evt_1", AccountID: "u1", AmountMinor: 500, Currency: "EUR"})
	if got != domain.Credited(500) {
		t.Fatalf("expected credited 500, got %+v", got)
	}
	account, err := repo.GetAccount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.Currency != "eur" {
		t.Fatalf("expected lowercase currency, got %s", account.Currency)
	}
}

func TestCreditServiceConcurrentDuplicateDelivery(t *testing.T) {
	repo := store.NewMemoryRepository()
	service := NewCreditService(repo, time.Second, newTestLogger())
	credit := domain.CreditRequest{EventID: "evt_1", EventType: "checkout.session.completed", AccountID: "u1", AmountMinor: 500, Currency: "eur"}

	outcomes := make([]domain.Outcome, 2)
	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = service.Apply(context.Background(), credit)
		}(i)
	}
	wg.Wait()

	kinds := map[domain.OutcomeKind]int{}
	for _, outcome := range outcomes {
		kinds[outcome.Kind]++
	}
	if kinds[domain.OutcomeCredited] != 1 || kinds[domain.OutcomeAlreadyProcessed] != 1 {
		t.Fatalf("expected one credited and one already processed, got %+v", outcomes)
	}

	account, _ := repo.GetAccount(context.Background(), "u1")
	if account.BalanceMinor != 500 {
		t.Fatalf("expected balance 500, got %d", account.BalanceMinor)
	}
}

func TestCreditServiceManyConcurrentDeliveries(t *testing.T) {
	repo := store.NewMemoryRepository()
	service := NewCreditService(repo, time.Second, newTestLogger())
	credit := domain.CreditRequest{EventID: "evt_many", AccountID: "u1", AmountMinor: 125, Currency: "usd"}

	const deliveries = 50
	results := make(chan domain.Outcome, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- service.Apply(context.Background(), credit)
		}()
	}
	wg.Wait()
	close(results)

	credited := 0
	for outcome := range results {
		switch outcome.Kind {
		case domain.OutcomeCredited:
			credited++
		case domain.OutcomeAlreadyProcessed:
		default:
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	}
	if credited != 1 {
		t.Fatalf("expected exactly one credit, got %d", credited)
	}
	account, _ := repo.GetAccount(context.Background(), "u1")
	if account.BalanceMinor != 125 {
		t.Fatalf("expected balance 125, got %d", account.BalanceMinor)
	}
}

func TestCreditServiceStorageFailureLeavesNoPartialState(t *testing.T) {
	memory := store.NewMemoryRepository()
	repo := &faultyStore{CreditStore: memory, failures: 1}
	service := NewCreditService(repo, time.Second, newTestLogger())
	credit := domain.CreditRequest{EventID: "evt_1", AccountID: "u1", AmountMinor: 500, Currency: "eur"}

	first := service.Apply(context.Background(), credit)
	if first != domain.Deferred(domain.ReasonStorageUnavailable) {
		t.Fatalf("expected deferred, got %+v", first)
	}
	if !first.Retryable() {
		t.Fatalf("expected deferred outcome to be retryable")
	}
	if memory.ProcessedCount() != 0 {
		t.Fatalf("expected no marker after failure, got %d", memory.ProcessedCount())
	}
	if _, err := memory.GetAccount(context.Background(), "u1"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected no balance change after failure, got %v", err)
	}

	redelivery := service.Apply(context.Background(), credit)
	if redelivery != domain.Credited(500) {
		t.Fatalf("expected redelivery to credit 500, got %+v", redelivery)
	}
}

func TestCreditServiceStoreTimeoutDefers(t *testing.T) {
	service := NewCreditService(blockingStore{}, 20*time.Millisecond, newTestLogger())

	started := time.Now()
	got := service.Apply(context.Background(), domain.CreditRequest{EventID: "evt_1", AccountID: "u1", AmountMinor: 500, Currency: "eur"})
	if got != domain.Deferred(domain.ReasonStorageUnavailable) {
		t.Fatalf("expected deferred, got %+v", got)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("expected the store wait to be bounded, took %s", elapsed)
	}
}

func TestCreditServiceCurrencyMismatchRejects(t *testing.T) {
	repo := store.NewMemoryRepository()
	service := NewCreditService(repo, time.Second, newTestLogger())
	ctx := context.Background()

	service.Apply(ctx, domain.CreditRequest{EventID: "evt_1", AccountID: "u1", AmountMinor: 500, Currency: "eur"})
	got := service.Apply(ctx, domain.CreditRequest{EventID: "evt_2", AccountID: "u1", AmountMinor: 500, Currency: "usd"})
	if got != domain.Rejected(domain.ReasonCurrencyMismatch) {
		t.Fatalf("expected currency mismatch rejection, got %+v", got)
	}
	if got.Retryable() {
		t.Fatalf("expected rejection not to be retryable")
	}
}

func TestCreditServiceBalance(t *testing.T) {
	repo := store.NewMemoryRepository()
	service := NewCreditService(repo, time.Second, newTestLogger())
	ctx := context.Background()

	empty, err := service.Balance(ctx, "u1", "eur")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty.BalanceMinor != 0 || empty.Currency != "eur" {
		t.Fatalf("expected empty eur wallet, got %+v", empty)
	}

	service.Apply(ctx, domain.CreditRequest{EventID: "evt_1", AccountID: "u1", AmountMinor: 700, Currency: "usd"})
	funded, err := service.Balance(ctx, "u1", "eur")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if funded.BalanceMinor != 700 || funded.Currency != "usd" {
		t.Fatalf("expected 700 usd, got %+v", funded)
	}
}
