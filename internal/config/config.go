/**
 * @description
 * This package handles the configuration management for the wallet-funding-service.
 * It uses Viper to read configuration from environment variables and an optional
 * .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
	StoreBackendMemory   = "memory"
)

// Config holds all the configuration variables for the wallet-funding-service.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	StoreBackend   string `mapstructure:"STORE_BACKEND"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	WalletEventsExchange string `mapstructure:"WALLET_EVENTS_EXCHANGE"`

	StripeSecretKey         string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret     string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	WebhookToleranceSeconds int    `mapstructure:"WEBHOOK_TOLERANCE_SECONDS"`
	WebhookStoreTimeoutMS   int    `mapstructure:"WEBHOOK_STORE_TIMEOUT_MS"`
	StripeAPIVersions       string `mapstructure:"STRIPE_API_VERSIONS"`

	ClerkJWKSURL  string `mapstructure:"CLERK_JWKS_URL"`
	ClerkIssuer   string `mapstructure:"CLERK_ISSUER"`
	ClerkAudience string `mapstructure:"CLERK_AUDIENCE"`

	CheckoutSuccessURL         string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL          string `mapstructure:"CHECKOUT_CANCEL_URL"`
	CheckoutDefaultCurrency    string `mapstructure:"CHECKOUT_DEFAULT_CURRENCY"`
	CheckoutProductName        string `mapstructure:"CHECKOUT_PRODUCT_NAME"`
	CheckoutMaxAmountMinor     int64  `mapstructure:"CHECKOUT_MAX_AMOUNT_MINOR"`
	CheckoutRateLimitPerMinute int    `mapstructure:"CHECKOUT_RATE_LIMIT_PER_MINUTE"`
	CORSAllowedOrigins         string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	OutboxPruneSchedule  string `mapstructure:"OUTBOX_PRUNE_SCHEDULE"`
	OutboxRetentionHours int    `mapstructure:"OUTBOX_RETENTION_HOURS"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORE_BACKEND", StoreBackendPostgres)
	viper.SetDefault("AUTO_MIGRATE", true)
	viper.SetDefault("REDIS_KEY_PREFIX", "transfa:wallet")
	viper.SetDefault("WALLET_EVENTS_EXCHANGE", "wallet_events")
	viper.SetDefault("WEBHOOK_TOLERANCE_SECONDS", 300)
	viper.SetDefault("WEBHOOK_STORE_TIMEOUT_MS", 5000)
	viper.SetDefault("CHECKOUT_DEFAULT_CURRENCY", "eur")
	viper.SetDefault("CHECKOUT_PRODUCT_NAME", "Wallet top-up")
	viper.SetDefault("CHECKOUT_MAX_AMOUNT_MINOR", 100000)
	viper.SetDefault("CHECKOUT_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("OUTBOX_PRUNE_SCHEDULE", "@hourly")
	viper.SetDefault("OUTBOX_RETENTION_HOURS", 168)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("STORE_BACKEND")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("AUTO_MIGRATE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("WALLET_EVENTS_EXCHANGE")
	_ = viper.BindEnv("STRIPE_SECRET_KEY", "STRIPE_SECRET_KEY", "STRIPE_SECRET")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("WEBHOOK_TOLERANCE_SECONDS")
	_ = viper.BindEnv("WEBHOOK_STORE_TIMEOUT_MS")
	_ = viper.BindEnv("STRIPE_API_VERSIONS")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("CLERK_ISSUER")
	_ = viper.BindEnv("CLERK_AUDIENCE")
	_ = viper.BindEnv("CHECKOUT_SUCCESS_URL")
	_ = viper.BindEnv("CHECKOUT_CANCEL_URL")
	_ = viper.BindEnv("CHECKOUT_DEFAULT_CURRENCY")
	_ = viper.BindEnv("CHECKOUT_PRODUCT_NAME")
	_ = viper.BindEnv("CHECKOUT_MAX_AMOUNT_MINOR")
	_ = viper.BindEnv("CHECKOUT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("OUTBOX_PRUNE_SCHEDULE")
	_ = viper.BindEnv("OUTBOX_RETENTION_HOURS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "error", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.StoreBackend = strings.ToLower(strings.TrimSpace(config.StoreBackend))
	switch config.StoreBackend {
	case StoreBackendPostgres, StoreBackendRedis, StoreBackendMemory:
	default:
		return config, fmt.Errorf("unsupported STORE_BACKEND %q", config.StoreBackend)
	}

	config.StripeSecretKey = strings.TrimSpace(config.StripeSecretKey)
	config.CheckoutDefaultCurrency = strings.ToLower(strings.TrimSpace(config.CheckoutDefaultCurrency))
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)

	if config.WebhookToleranceSeconds <= 0 {
		slog.Warn("non-positive webhook tolerance configured; using default", "value", config.WebhookToleranceSeconds)
		config.WebhookToleranceSeconds = 300
	}
	if config.WebhookStoreTimeoutMS <= 0 {
		config.WebhookStoreTimeoutMS = 5000
	}
	if config.CheckoutMaxAmountMinor < 0 {
		config.CheckoutMaxAmountMinor = 0
	}
	if config.CheckoutRateLimitPerMinute < 0 {
		config.CheckoutRateLimitPerMinute = 0
	}
	if config.OutboxRetentionHours <= 0 {
		config.OutboxRetentionHours = 168
	}

	return
}

// WebhookSecrets returns the configured signing secrets. Several secrets may be
// listed, comma separated, while a rolled secret is still in flight.
func (c Config) WebhookSecrets() []string {
	return splitList(c.StripeWebhookSecret)
}

// AllowedAPIVersions returns the accepted event api_version values. Empty
// means any version is accepted.
func (c Config) AllowedAPIVersions() []string {
	return splitList(c.StripeAPIVersions)
}

func (c Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

func (c Config) WebhookTolerance() time.Duration {
	return time.Duration(c.WebhookToleranceSeconds) * time.Second
}

func (c Config) WebhookStoreTimeout() time.Duration {
	return time.Duration(c.WebhookStoreTimeoutMS) * time.Millisecond
}

func (c Config) OutboxRetention() time.Duration {
	return time.Duration(c.OutboxRetentionHours) * time.Hour
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
