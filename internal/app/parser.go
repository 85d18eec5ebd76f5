package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/transfa/wallet-funding-service/internal/domain"
)

// ParseErrorKind classifies a delivery that authenticated but could not be decoded.
type ParseErrorKind string

const (
	ParseMalformedPayload         ParseErrorKind = "malformed_payload"
	ParseUnsupportedSchemaVersion ParseErrorKind = "unsupported_schema_version"
)

var (
	ErrMalformedPayload         = &ParseError{Kind: ParseMalformedPayload}
	ErrUnsupportedSchemaVersion = &ParseError{Kind: ParseUnsupportedSchemaVersion}
)

type ParseError struct {
	Kind   ParseErrorKind
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("webhook event: %s", e.Kind)
	}
	return fmt.Sprintf("webhook event: %s: %s", e.Kind, e.Detail)
}

func (e *ParseError) Is(target error) bool {
	var other *ParseError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// ParseEvent decodes an authenticated delivery body into a VerifiedEvent.
// An empty allowedVersions accepts any api_version. Only the envelope is
// checked here; the type-specific object is left to its handler.
func ParseEvent(body []byte, allowedVersions []string) (domain.VerifiedEvent, error) {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.VerifiedEvent{}, &ParseError{Kind: ParseMalformedPayload, Detail: err.Error()}
	}

	if strings.TrimSpace(envelope.ID) == "" {
		return domain.VerifiedEvent{}, &ParseError{Kind: ParseMalformedPayload, Detail: "missing event id"}
	}
	if strings.TrimSpace(envelope.Type) == "" {
		return domain.VerifiedEvent{}, &ParseError{Kind: ParseMalformedPayload, Detail: "missing event type"}
	}
	if envelope.Object != "" && envelope.Object != "event" {
		return domain.VerifiedEvent{}, &ParseError{Kind: ParseMalformedPayload, Detail: fmt.Sprintf("unexpected object %q", envelope.Object)}
	}

	if len(allowedVersions) > 0 && !versionAllowed(envelope.APIVersion, allowedVersions) {
		return domain.VerifiedEvent{}, &ParseError{
			Kind:   ParseUnsupportedSchemaVersion,
			Detail: fmt.Sprintf("api_version %q", envelope.APIVersion),
		}
	}

	var object json.RawMessage
	if raw := bytes.TrimSpace(envelope.Data.Object); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		object = raw
	}

	var createdAt time.Time
	if envelope.Created > 0 {
		createdAt = time.Unix(envelope.Created, 0).UTC()
	}

	return domain.VerifiedEvent{
		ID:         envelope.ID,
		Type:       envelope.Type,
		APIVersion: envelope.APIVersion,
		CreatedAt:  createdAt,
		Livemode:   envelope.Livemode,
		Object:     object,
	}, nil
}

func versionAllowed(version string, allowed []string) bool {
	for _, candidate := range allowed {
		if strings.TrimSpace(candidate) == version {
			return true
		}
	}
	return false
}
