package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/immotopia/rental-finance-service/internal/domain"
	"github.com/immotopia/rental-finance-service/internal/metrics"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
)

// OutboxStore is the part of the repository the dispatcher drains.
type OutboxStore interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]domain.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// OutboxDispatcher publishes committed outbox rows to the broker with retry backoff.
type OutboxDispatcher struct {
	repo                OutboxStore
	connect             func() (EventPublisher, error)
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	producer            EventPublisher
}

// NewOutboxDispatcher creates a dispatcher. connect is called lazily and again after a
// publish failure drops the producer.
func NewOutboxDispatcher(repo OutboxStore, connect func() (EventPublisher, error), batchSize int, pollInterval time.Duration) *OutboxDispatcher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &OutboxDispatcher{
		repo:                repo,
		connect:             connect,
		batchSize:           batchSize,
		pollInterval:        pollInterval,
		staleProcessingTime: defaultStaleProcessing,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.closeProducer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.FlushOnce(ctx); err != nil {
				log.Printf("level=error component=outbox msg=\"flush failed\" err=%v", err)
			}
		}
	}
}

// FlushOnce publishes one batch and returns how many messages were published.
func (d *OutboxDispatcher) FlushOnce(ctx context.Context) (int, error) {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, message := range messages {
		if err := d.publishMessage(ctx, message); err != nil {
			metrics.OutboxPublished.WithLabelValues("failed").Inc()
			retryAfter := retryDelaySeconds(message.Attempts)
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				log.Printf("level=error component=outbox msg=\"mark failed\" id=%d err=%v", message.ID, markErr)
			}
			continue
		}
		metrics.OutboxPublished.WithLabelValues("published").Inc()
		published++
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			log.Printf("level=error component=outbox msg=\"mark published failed\" id=%d err=%v", message.ID, err)
		}
	}
	return published, nil
}

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message domain.OutboxMessage) error {
	if d.producer == nil {
		producer, err := d.connect()
		if err != nil {
			return err
		}
		d.producer = producer
	}

	if err := d.producer.Publish(ctx, message.Exchange, message.RoutingKey, json.RawMessage(message.Payload)); err != nil {
		d.closeProducer()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closeProducer() {
	if d.producer != nil {
		d.producer.Close()
		d.producer = nil
	}
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
