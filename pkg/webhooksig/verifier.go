/**
 * @description
 * This package validates the signature header that Stripe attaches to every webhook
 * delivery, using stripe-go's webhook package for header parsing, the HMAC and the
 * replay window. It adds what the service needs on top: several secrets during a
 * rotation and failures classified into kinds the HTTP layer can report.
 *
 * @dependencies
 * - github.com/stripe/stripe-go/v82/webhook: Stripe-Signature validation.
 */
package webhooksig

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// HeaderName is the request header Stripe uses for webhook signatures.
const HeaderName = "Stripe-Signature"

// DefaultTolerance is the replay window applied when none is configured.
const DefaultTolerance = webhook.DefaultTolerance

// ErrorKind classifies why a delivery failed verification.
type ErrorKind string

const (
	KindMissingHeader     ErrorKind = "missing_header"
	KindMalformedHeader   ErrorKind = "malformed_header"
	KindSignatureMismatch ErrorKind = "signature_mismatch"
	KindStaleTimestamp    ErrorKind = "stale_timestamp"
)

// Sentinels for errors.Is checks against a *VerificationError.
var (
	ErrMissingHeader     = &VerificationError{Kind: KindMissingHeader}
	ErrMalformedHeader   = &VerificationError{Kind: KindMalformedHeader}
	ErrSignatureMismatch = &VerificationError{Kind: KindSignatureMismatch}
	ErrStaleTimestamp    = &VerificationError{Kind: KindStaleTimestamp}
)

// VerificationError is returned for every authenticity failure.
type VerificationError struct {
	Kind   ErrorKind
	Detail string
}

func (e *VerificationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("webhook signature: %s", e.Kind)
	}
	return fmt.Sprintf("webhook signature: %s: %s", e.Kind, e.Detail)
}

// Is matches on Kind so callers can compare against the sentinels.
func (e *VerificationError) Is(target error) bool {
	var other *VerificationError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Verifier holds the secrets and replay window used to check deliveries.
type Verifier struct {
	secrets   []string
	tolerance time.Duration
}

// NewVerifier creates a verifier. Blank secrets are dropped; a non-positive
// tolerance falls back to DefaultTolerance.
func NewVerifier(secrets []string, tolerance time.Duration) *Verifier {
	keys := make([]string, 0, len(secrets))
	for _, secret := range secrets {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		keys = append(keys, secret)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secrets: keys, tolerance: tolerance}
}

// Configured reports whether at least one signing secret is present.
func (v *Verifier) Configured() bool {
	return v != nil && len(v.secrets) > 0
}

// Verify checks the header against the raw body.
func (v *Verifier) Verify(body []byte, header string) error {
	return Verify(body, header, v.secrets, v.tolerance)
}

// Verify checks header against body using any of secrets, relative to the
// current time.
func Verify(body []byte, header string, secrets []string, tolerance time.Duration) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return &VerificationError{Kind: KindMissingHeader}
	}
	if len(secrets) == 0 {
		return &VerificationError{Kind: KindSignatureMismatch, Detail: "no signing secret configured"}
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	for _, secret := range secrets {
		err := webhook.ValidatePayloadWithTolerance(body, header, secret, tolerance)
		if err == nil {
			return nil
		}
		// Only a mismatch depends on the secret; try the next one.
		if !errors.Is(err, webhook.ErrNoValidSignature) {
			return classify(err)
		}
	}
	return &VerificationError{Kind: KindSignatureMismatch}
}

// Sign builds a header value for body the way Stripe does.
func Sign(body []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

func classify(err error) error {
	switch {
	case errors.Is(err, webhook.ErrNotSigned):
		return &VerificationError{Kind: KindMissingHeader}
	case errors.Is(err, webhook.ErrInvalidHeader):
		return &VerificationError{Kind: KindMalformedHeader, Detail: err.Error()}
	case errors.Is(err, webhook.ErrTooOld):
		return &VerificationError{Kind: KindStaleTimestamp, Detail: err.Error()}
	default:
		return &VerificationError{Kind: KindSignatureMismatch, Detail: err.Error()}
	}
}
