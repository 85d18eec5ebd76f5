/**
 * @description
 * This file sets up the HTTP router for the wallet-funding-service. The webhook
 * endpoint is unauthenticated at the HTTP layer (the signature is its
 * authentication); the wallet endpoints require a Clerk session token.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the cross-cutting settings for NewRouter.
type RouterConfig struct {
	Auth           AuthConfig
	AllowedOrigins []string
}

// NewRouter creates the service router.
func NewRouter(webhook http.Handler, wallet *WalletHandlers, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Method(http.MethodPost, "/webhooks/stripe", webhook)

	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(cfg.Auth))

		r.Post("/checkout/sessions", wallet.CreateCheckoutSessionHandler)
		r.Get("/wallet/balance", wallet.GetBalanceHandler)
	})

	return r
}
