package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterNilIsNoop(t *testing.T) {
	var limiter *RedisRateLimiter
	window, err := limiter.Hit(context.Background(), "checkout_session:u1", time.Minute)
	if err != nil || window != (RateWindow{}) {
		t.Fatalf("expected nil limiter to be a no-op, got %+v err=%v", window, err)
	}
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{in: 0, want: 1},
		{in: 200 * time.Millisecond, want: 1},
		{in: 41500 * time.Millisecond, want: 42},
		{in: time.Minute, want: 60},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.in); got != tt.want {
			t.Fatalf("retryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRedisRateLimiterCountsWithinWindow(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("invalid TEST_REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewRedisRateLimiter(client, "rate-test-"+uuid.NewString()[:8])
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		window, err := limiter.Hit(ctx, "checkout_session:u1", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if window.Hits != want {
			t.Fatalf("expected %d hits, got %d", want, window.Hits)
		}
		if window.ResetIn <= 0 || window.ResetIn > time.Minute {
			t.Fatalf("expected reset within the window, got %v", window.ResetIn)
		}
	}

	window, err := limiter.Hit(ctx, "checkout_session:u2", time.Minute)
	if err != nil || window.Hits != 1 {
		t.Fatalf("expected independent key to start at 1, got %+v err=%v", window, err)
	}
}
