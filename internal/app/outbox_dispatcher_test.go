package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

type outboxStoreStub struct {
	messages  []domain.OutboxMessage
	published []int64
	failed    map[int64]int
}

func (s *outboxStoreStub) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]domain.OutboxMessage, error) {
	if limit > 0 && len(s.messages) > limit {
		return s.messages[:limit], nil
	}
	return s.messages, nil
}

func (s *outboxStoreStub) MarkOutboxPublished(ctx context.Context, id int64) error {
	s.published = append(s.published, id)
	return nil
}

func (s *outboxStoreStub) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if s.failed == nil {
		s.failed = map[int64]int{}
	}
	s.failed[id] = retryAfterSeconds
	return nil
}

type publisherStub struct {
	failKey string
	bodies  map[string]json.RawMessage
	closed  int
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if routingKey == p.failKey {
		return errors.New("channel closed")
	}
	if p.bodies == nil {
		p.bodies = map[string]json.RawMessage{}
	}
	p.bodies[routingKey] = body.(json.RawMessage)
	return nil
}

func (p *publisherStub) Close() { p.closed++ }

func TestFlushOnce_PublishesAndMarksMessages(t *testing.T) {
	store := &outboxStoreStub{messages: []domain.OutboxMessage{
		{ID: 1, Exchange: "rental.events", RoutingKey: domain.EventPaymentRecorded, Payload: []byte(`{"payment_id":"p-1"}`), Attempts: 1},
		{ID: 2, Exchange: "rental.events", RoutingKey: domain.EventInstallmentPaid, Payload: []byte(`{"installment_id":"i-1"}`), Attempts: 3},
		{ID: 3, Exchange: "rental.events", RoutingKey: domain.EventDocumentIssued, Payload: []byte(`{}`), Attempts: 1},
	}}
	publisher := &publisherStub{failKey: domain.EventInstallmentPaid}
	connects := 0
	dispatcher := NewOutboxDispatcher(store, func() (EventPublisher, error) {
		connects++
		return publisher, nil
	}, 10, 0)

	published, err := dispatcher.FlushOnce(context.Background())
	if err != nil {
		t.Fatalf("FlushOnce returned error: %v", err)
	}
	if published != 2 {
		t.Fatalf("expected 2 published messages, got %d", published)
	}
	if len(store.published) != 2 || store.published[0] != 1 || store.published[1] != 3 {
		t.Fatalf("unexpected published ids %v", store.published)
	}
	if delay := store.failed[2]; delay != 8 {
		t.Fatalf("expected retry delay 8s for third attempt, got %d", delay)
	}
	if string(publisher.bodies[domain.EventPaymentRecorded]) != `{"payment_id":"p-1"}` {
		t.Fatalf("payload was not forwarded verbatim: %s", publisher.bodies[domain.EventPaymentRecorded])
	}
	// The failed publish drops the producer; the next message reconnects.
	if connects != 2 || publisher.closed != 1 {
		t.Fatalf("expected reconnect after failure, connects=%d closed=%d", connects, publisher.closed)
	}
}

func TestFlushOnce_ConnectFailureMarksMessagesFailed(t *testing.T) {
	store := &outboxStoreStub{messages: []domain.OutboxMessage{{ID: 7, RoutingKey: domain.EventPaymentRecorded, Payload: []byte(`{}`), Attempts: 1}}}
	dispatcher := NewOutboxDispatcher(store, func() (EventPublisher, error) {
		return nil, errors.New("broker down")
	}, 0, 0)

	published, err := dispatcher.FlushOnce(context.Background())
	if err != nil {
		t.Fatalf("FlushOnce returned error: %v", err)
	}
	if published != 0 {
		t.Fatalf("expected nothing published, got %d", published)
	}
	if _, ok := store.failed[7]; !ok {
		t.Fatal("expected message to be marked failed")
	}
}

func TestRetryDelaySeconds(t *testing.T) {
	tests := []struct {
		attempt int
		want    int
	}{
		{0, 1},
		{1, 2},
		{4, 16},
		{8, 256},
		{20, 256},
	}
	for _, tt := range tests {
		if got := retryDelaySeconds(tt.attempt); got != tt.want {
			t.Fatalf("retryDelaySeconds(%d) = %d, want %d", tt.attempt, got, tt.want)
		}
	}
}
