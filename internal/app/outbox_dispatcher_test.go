package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/transfa/wallet-funding-service/internal/store"
	"github.com/transfa/wallet-funding-service/pkg/rabbitmq"
)

type publisherStub struct {
	err       error
	published []json.RawMessage
	closed    int
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if p.err != nil {
		return p.err
	}
	raw, ok := body.(json.RawMessage)
	if !ok {
		return errors.New("expected raw JSON body")
	}
	p.published = append(p.published, raw)
	return nil
}

func (p *publisherStub) Close() { p.closed++ }

func TestOutboxDispatcherPublishesAndMarks(t *testing.T) {
	repo := &outboxRepoStub{messages: []store.OutboxMessage{
		{ID: 1, Exchange: "wallet_events", RoutingKey: "wallet.credited", Payload: []byte(`{"event_id":"evt_1"}`), Attempts: 1},
		{ID: 2, Exchange: "wallet_events", RoutingKey: "wallet.credited", Payload: []byte(`{"event_id":"evt_2"}`), Attempts: 1},
	}}
	publisher := &publisherStub{}
	opened := 0
	dispatcher := NewOutboxDispatcher(repo, func() (rabbitmq.Publisher, error) {
		opened++
		return publisher, nil
	}, newTestLogger())

	if err := dispatcher.flushOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opened != 1 {
		t.Fatalf("expected publisher to be opened once, got %d", opened)
	}
	if len(publisher.published) != 2 || string(publisher.published[0]) != `{"event_id":"evt_1"}` {
		t.Fatalf("unexpected published payloads: %s", publisher.published)
	}
	if len(repo.published) != 2 {
		t.Fatalf("expected both messages marked published, got %v", repo.published)
	}
}

func TestOutboxDispatcherMarksFailuresForRetry(t *testing.T) {
	repo := &outboxRepoStub{messages: []store.OutboxMessage{
		{ID: 7, Exchange: "wallet_events", RoutingKey: "wallet.credited", Payload: []byte(`{}`), Attempts: 3},
	}}
	publisher := &publisherStub{err: errors.New("channel closed")}
	dispatcher := NewOutboxDispatcher(repo, func() (rabbitmq.Publisher, error) {
		return publisher, nil
	}, newTestLogger())

	if err := dispatcher.flushOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.failed[7] != 8 {
		t.Fatalf("expected retry after 8s for third attempt, got %d", repo.failed[7])
	}
	if repo.failReasons[7] != "channel closed" {
		t.Fatalf("expected failure reason to be recorded, got %q", repo.failReasons[7])
	}
	if publisher.closed != 1 || dispatcher.publisher != nil {
		t.Fatalf("expected publisher to be dropped after failure")
	}
}

func TestOutboxDispatcherBrokerUnavailable(t *testing.T) {
	repo := &outboxRepoStub{messages: []store.OutboxMessage{
		{ID: 9, Payload: []byte(`{}`), Attempts: 1},
	}}
	dispatcher := NewOutboxDispatcher(repo, func() (rabbitmq.Publisher, error) {
		return nil, errors.New("dial tcp: connection refused")
	}, newTestLogger())

	if err := dispatcher.flushOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.failed[9]; !ok {
		t.Fatal("expected message to be rescheduled when the broker is unreachable")
	}
}

func TestOutboxDispatcherClaimError(t *testing.T) {
	repo := &outboxRepoStub{claimErr: errors.New("db unavailable")}
	dispatcher := NewOutboxDispatcher(repo, func() (rabbitmq.Publisher, error) {
		return &publisherStub{}, nil
	}, newTestLogger())

	if err := dispatcher.flushOnce(context.Background()); err == nil {
		t.Fatal("expected claim error to be returned")
	}
}

func TestRetryDelaySeconds(t *testing.T) {
	tests := []struct {
		attempt int
		want    int
	}{
		{attempt: 0, want: 1},
		{attempt: 1, want: 2},
		{attempt: 3, want: 8},
		{attempt: 8, want: 256},
		{attempt: 20, want: 256},
	}
	for _, tt := range tests {
		if got := retryDelaySeconds(tt.attempt); got != tt.want {
			t.Fatalf("retryDelaySeconds(%d) = %d, want %d", tt.attempt, got, tt.want)
		}
	}
}
