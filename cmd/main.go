/**
 * @description
 * This is the main entry point for the wallet-funding-service. It receives Stripe
 * webhooks, credits wallets exactly once per payment event, opens checkout
 * sessions for top-ups, and relays credited events to RabbitMQ.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5/pgxpool: PostgreSQL connection pool.
 * - github.com/redis/go-redis/v9: Redis credit store and checkout rate limiting.
 * - internal/*: The service's own packages.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/wallet-funding-service/internal/api"
	"github.com/transfa/wallet-funding-service/internal/app"
	"github.com/transfa/wallet-funding-service/internal/config"
	"github.com/transfa/wallet-funding-service/internal/store"
	"github.com/transfa/wallet-funding-service/pkg/rabbitmq"
	"github.com/transfa/wallet-funding-service/pkg/stripeclient"
	"github.com/transfa/wallet-funding-service/pkg/webhooksig"
)

const walletCreditedRoutingKey = "wallet.credited"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("starting wallet-funding-service", "port", cfg.ServerPort, "store_backend", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var (
		creditStore store.CreditStore
		outboxRepo  store.OutboxRepository
	)
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		dbpool, err := connectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("unable to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbpool.Close()
		logger.Info("database connection established")

		repo := store.NewPostgresRepository(dbpool, store.OutboxTarget{
			Exchange:   cfg.WalletEventsExchange,
			RoutingKey: walletCreditedRoutingKey,
		})
		if cfg.AutoMigrate {
			if err := repo.EnsureSchema(ctx); err != nil {
				logger.Error("failed to apply schema", "error", err)
				os.Exit(1)
			}
		}
		creditStore = repo
		outboxRepo = repo
	case config.StoreBackendRedis:
		if redisClient == nil {
			logger.Error("STORE_BACKEND=redis requires a reachable REDIS_URL")
			os.Exit(1)
		}
		creditStore = store.NewRedisRepository(redisClient, cfg.RedisKeyPrefix)
	case config.StoreBackendMemory:
		logger.Warn("using in-memory wallet store; balances are lost on restart")
		creditStore = store.NewMemoryRepository()
	}

	// Credit path
	creditService := app.NewCreditService(creditStore, cfg.WebhookStoreTimeout(), logger)
	eventRouter := app.NewEventRouter(logger)
	app.RegisterCheckoutHandlers(eventRouter, creditService, logger)

	verifier := webhooksig.NewVerifier(cfg.WebhookSecrets(), cfg.WebhookTolerance())
	if !verifier.Configured() {
		logger.Warn("STRIPE_WEBHOOK_SECRET is not set; every webhook will be rejected")
	}
	webhookHandler := api.NewWebhookHandler(verifier, cfg.AllowedAPIVersions(), eventRouter, logger)

	// Checkout path
	stripeClient := stripeclient.New(stripeclient.Config{
		SecretKey:   cfg.StripeSecretKey,
		SuccessURL:  cfg.CheckoutSuccessURL,
		CancelURL:   cfg.CheckoutCancelURL,
		ProductName: cfg.CheckoutProductName,
	})
	var limiter app.RateLimiter
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisKeyPrefix+":rate_limit")
	}
	checkoutService := app.NewCheckoutService(stripeClient, limiter, app.CheckoutConfig{
		DefaultCurrency:    cfg.CheckoutDefaultCurrency,
		MaxAmountMinor:     cfg.CheckoutMaxAmountMinor,
		RateLimitPerMinute: cfg.CheckoutRateLimitPerMinute,
	}, logger)
	walletHandlers := api.NewWalletHandlers(checkoutService, creditService, cfg.CheckoutDefaultCurrency, logger)

	// Outbox relay and maintenance jobs only exist for the transactional store.
	var scheduler *app.Scheduler
	dispatcherDone := make(chan struct{})
	if outboxRepo != nil {
		dispatcher := app.NewOutboxDispatcher(outboxRepo, newPublisherFactory(cfg.RabbitMQURL, logger), logger)
		go func() {
			defer close(dispatcherDone)
			dispatcher.Run(ctx)
		}()

		scheduler = app.NewScheduler(app.NewJobs(outboxRepo, cfg.OutboxRetention(), logger), cfg.OutboxPruneSchedule, logger)
		if err := scheduler.Start(); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
	} else {
		close(dispatcherDone)
	}

	router := api.NewRouter(webhookHandler, walletHandlers, api.RouterConfig{
		Auth: api.AuthConfig{
			JWKSURL:  cfg.ClerkJWKSURL,
			Issuer:   cfg.ClerkIssuer,
			Audience: cfg.ClerkAudience,
		},
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	<-dispatcherDone

	logger.Info("shutdown complete")
}

func connectPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func connectRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) *redis.Client {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Info("redis url missing; checkout rate limiting disabled")
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; checkout rate limiting disabled", "error", err)
		return nil
	}
	client := redis.NewClient(redisOptions)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; checkout rate limiting disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}

func newPublisherFactory(rabbitURL string, logger *slog.Logger) app.PublisherFactory {
	if strings.TrimSpace(rabbitURL) == "" {
		logger.Warn("RABBITMQ_URL not set; credited events will only be logged")
		return func() (rabbitmq.Publisher, error) {
			return &rabbitmq.LogPublisher{Logger: logger}, nil
		}
	}
	return func() (rabbitmq.Publisher, error) {
		producer, err := rabbitmq.NewEventProducer(rabbitURL, logger)
		if err != nil {
			return nil, err
		}
		return producer, nil
	}
}

func parseLogLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}
