package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/wallet-funding-service/internal/app"
	"github.com/transfa/wallet-funding-service/internal/domain"
	"github.com/transfa/wallet-funding-service/internal/store"
)

const testKeyID = "ins_test_key"

type authFixture struct {
	key      *rsa.PrivateKey
	jwks     *httptest.Server
	jwksHits atomic.Int32
	issuer   string
	audience string
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	f := &authFixture{key: key, issuer: "https://clerk.example.com", audience: "wallet"}
	f.jwks = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.jwksHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": testKeyID,
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(f.jwks.Close)

	return f
}

func (f *authFixture) config() AuthConfig {
	return AuthConfig{JWKSURL: f.jwks.URL, Issuer: f.issuer, Audience: f.audience}
}

func (f *authFixture) token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (f *authFixture) validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   sub,
		"iss":   f.issuer,
		"aud":   f.audience,
		"email": sub + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
}

type checkoutCreatorStub struct {
	got domain.CheckoutSessionRequest
	err error
}

func (c *checkoutCreatorStub) CreateSession(ctx context.Context, req domain.CheckoutSessionRequest) (*domain.CheckoutSession, error) {
	c.got = req
	if c.err != nil {
		return nil, c.err
	}
	return &domain.CheckoutSession{SessionID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func newTestRouter(t *testing.T, auth *authFixture, checkout CheckoutCreator, repo store.CreditStore) http.Handler {
	t.Helper()
	logger := newTestLogger()
	credits := app.NewCreditService(repo, time.Second, logger)
	wallet := NewWalletHandlers(checkout, credits, "eur", logger)
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return NewRouter(webhook, wallet, RouterConfig{Auth: auth.config()})
}

func TestWalletRoutesRequireToken(t *testing.T) {
	auth := newAuthFixture(t)
	router := newTestRouter(t, auth, &checkoutCreatorStub{}, store.NewMemoryRepository())

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not.a.jwt"},
		{name: "wrong issuer", header: "Bearer " + auth.token(t, jwt.MapClaims{
			"sub": "u1", "iss": "https://evil.example.com", "aud": auth.audience, "exp": time.Now().Add(time.Hour).Unix(),
		})},
		{name: "expired", header: "Bearer " + auth.token(t, jwt.MapClaims{
			"sub": "u1", "iss": auth.issuer, "aud": auth.audience, "exp": time.Now().Add(-time.Hour).Unix(),
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/wallet/balance", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestGetBalance(t *testing.T) {
	auth := newAuthFixture(t)
	repo := store.NewMemoryRepository()
	if _, err := repo.ApplyCreditOnce(context.Background(), domain.CreditRequest{EventID: "evt_1", AccountID: "user_1", AmountMinor: 1200, Currency: "usd"}); err != nil {
		t.Fatalf("seed credit failed: %v", err)
	}
	router := newTestRouter(t, auth, &checkoutCreatorStub{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/wallet/balance", nil)
	req.Header.Set("Authorization", "Bearer "+auth.token(t, auth.validClaims("user_1")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp balanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.AccountID != "user_1" || resp.Balance != 1200 || resp.Currency != "usd" {
		t.Fatalf("unexpected balance response: %+v", resp)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	auth := newAuthFixture(t)
	checkout := &checkoutCreatorStub{}
	router := newTestRouter(t, auth, checkout, store.NewMemoryRepository())

	req := httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(`{"amount":2500,"currency":"EUR"}`))
	req.Header.Set("Authorization", "Bearer "+auth.token(t, auth.validClaims("user_1")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var session domain.CheckoutSession
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if session.SessionID != "cs_test_1" || session.URL == "" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if checkout.got.AccountID != "user_1" || checkout.got.Email != "user_1@example.com" || checkout.got.AmountMinor != 2500 {
		t.Fatalf("unexpected checkout request: %+v", checkout.got)
	}
}

func TestCreateCheckoutSessionErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{name: "invalid json", body: `{"amount":`, wantStatus: http.StatusBadRequest},
		{name: "invalid amount", body: `{"amount":0}`, err: app.ErrInvalidCheckoutAmount, wantStatus: http.StatusBadRequest},
		{name: "rate limited", body: `{"amount":100}`, err: &app.RateLimitError{RetryAfterSeconds: 30}, wantStatus: http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := newAuthFixture(t)
			router := newTestRouter(t, auth, &checkoutCreatorStub{err: tt.err}, store.NewMemoryRepository())

			req := httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+auth.token(t, auth.validClaims("user_1")))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "30" {
				t.Fatalf("expected Retry-After 30, got %q", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestWebhookRouteIsPublic(t *testing.T) {
	auth := newAuthFixture(t)
	router := newTestRouter(t, auth, &checkoutCreatorStub{}, store.NewMemoryRepository())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected webhook route to bypass token auth, got %d", rec.Code)
	}
}

func TestJWKSCacheThrottlesUnknownKeyIDs(t *testing.T) {
	auth := newAuthFixture(t)
	cache := newJWKSCache(auth.jwks.URL, time.Hour)
	ctx := context.Background()

	if _, err := cache.key(ctx, testKeyID); err != nil {
		t.Fatalf("expected known kid to resolve, got %v", err)
	}
	for i := 0; i < 20; i++ {
		if _, err := cache.key(ctx, fmt.Sprintf("unknown-%d", i)); err == nil {
			t.Fatal("expected unknown kid to fail")
		}
	}
	if hits := auth.jwksHits.Load(); hits != 1 {
		t.Fatalf("expected unknown kids not to refetch within the interval, got %d fetches", hits)
	}

	cache.minRefresh = 0
	if _, err := cache.key(ctx, "unknown-after-interval"); err == nil {
		t.Fatal("expected unknown kid to fail")
	}
	if hits := auth.jwksHits.Load(); hits != 2 {
		t.Fatalf("expected one refetch once the interval passed, got %d fetches", hits)
	}
	if _, err := cache.key(ctx, testKeyID); err != nil {
		t.Fatalf("expected known kid to keep resolving, got %v", err)
	}
}

func TestJWKSCacheConcurrentLookups(t *testing.T) {
	auth := newAuthFixture(t)
	cache := newJWKSCache(auth.jwks.URL, time.Hour)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.key(context.Background(), testKeyID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("expected every lookup to resolve, got %v", err)
	}
}
