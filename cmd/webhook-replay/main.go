/**
 * @description
 * Tool to replay Stripe webhook payloads against a running wallet-funding-service.
 * The payload is signed locally with the webhook secret, so a captured event (or a
 * generated sample) can be delivered any number of times to check idempotency.
 *
 * Usage:
 *   go run ./cmd/webhook-replay [-url http://localhost:8080/webhooks/stripe] [-times 2] <payload.json | ->
 *   go run ./cmd/webhook-replay -sample -account user_123 -amount 2500 -currency eur
 *
 * @dependencies
 * - github.com/joho/godotenv: Loads STRIPE_WEBHOOK_SECRET from .env files.
 * - github.com/google/uuid: Event ids for generated samples.
 * - Environment variables: STRIPE_WEBHOOK_SECRET, WEBHOOK_REPLAY_URL (optional)
 */

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stripe/stripe-go/v82"
	"github.com/transfa/wallet-funding-service/pkg/webhooksig"
)

const defaultReplayURL = "http://localhost:8080/webhooks/stripe"

// replayResult is what the service answered for one delivery.
type replayResult struct {
	StatusCode int
	Body       string
}

func main() {
	targetURL := flag.String("url", "", "webhook endpoint (defaults to WEBHOOK_REPLAY_URL or "+defaultReplayURL+")")
	times := flag.Int("times", 1, "number of deliveries of the same signed payload")
	sample := flag.Bool("sample", false, "generate a checkout.session.completed event instead of reading a payload")
	accountID := flag.String("account", "", "account id for -sample")
	amount := flag.Int64("amount", 1000, "amount in minor units for -sample")
	currency := flag.String("currency", "eur", "currency for -sample")
	flag.Parse()

	// Load environment variables from .env files if they exist
	_ = godotenv.Load("../.env", ".env")

	secret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if secret == "" {
		log.Fatal("STRIPE_WEBHOOK_SECRET environment variable is required")
	}
	// Rotation lists use the first secret for signing.
	secret = strings.TrimSpace(strings.Split(secret, ",")[0])

	endpoint := *targetURL
	if endpoint == "" {
		endpoint = os.Getenv("WEBHOOK_REPLAY_URL")
	}
	if endpoint == "" {
		endpoint = defaultReplayURL
	}

	var payload []byte
	var err error
	switch {
	case *sample:
		if *accountID == "" {
			log.Fatal("-account is required with -sample")
		}
		payload, err = buildSampleEvent(*accountID, *amount, *currency, time.Now())
	case flag.NArg() == 1:
		payload, err = readPayload(flag.Arg(0))
	default:
		fmt.Println("Usage: go run ./cmd/webhook-replay [flags] <payload.json | ->")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Failed to prepare payload: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// One signature for every attempt, so repeats look like Stripe redeliveries.
	header := webhooksig.Sign(payload, secret, time.Now())
	client := &http.Client{Timeout: 15 * time.Second}

	for i := 1; i <= *times; i++ {
		result, err := deliver(ctx, client, endpoint, payload, header)
		if err != nil {
			log.Fatalf("Delivery %d failed: %v", i, err)
		}
		fmt.Printf("Delivery %d: HTTP %d %s\n", i, result.StatusCode, result.Body)
	}
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// buildSampleEvent produces a paid checkout.session.completed event for accountID.
func buildSampleEvent(accountID string, amount int64, currency string, now time.Time) ([]byte, error) {
	event := map[string]interface{}{
		"id":          "evt_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		"object":      "event",
		"type":        string(stripe.EventTypeCheckoutSessionCompleted),
		"api_version": stripe.APIVersion,
		"created":     now.Unix(),
		"livemode":    false,
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":                  "cs_test_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
				"object":              "checkout.session",
				"mode":                string(stripe.CheckoutSessionModePayment),
				"status":              string(stripe.CheckoutSessionStatusComplete),
				"payment_status":      string(stripe.CheckoutSessionPaymentStatusPaid),
				"amount_total":        amount,
				"currency":            strings.ToLower(currency),
				"client_reference_id": accountID,
				"metadata":            map[string]string{"userId": accountID},
			},
		},
	}
	return json.Marshal(event)
}

// deliver posts one signed payload and returns the service's answer.
func deliver(ctx context.Context, client *http.Client, endpoint string, payload []byte, signature string) (*replayResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhooksig.HeaderName, signature)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &replayResult{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}, nil
}
