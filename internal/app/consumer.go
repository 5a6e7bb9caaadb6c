package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

// SettlementConsumer records payment facts published by upstream payment integrations.
type SettlementConsumer struct {
	service Service
}

func NewSettlementConsumer(service Service) *SettlementConsumer {
	return &SettlementConsumer{service: service}
}

// retryable reports whether a failed delivery should be re-queued.
func retryable(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindFatal, domain.KindConcurrencyConflict:
		return true
	}
	return false
}

// HandleSettled records a settled payment through the idempotent ledger and optionally
// allocates it. Returning false re-queues the delivery.
func (c *SettlementConsumer) HandleSettled(body []byte) bool {
	var event domain.PaymentSettledEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=settlement_consumer msg=\"invalid payload; dropping\" err=%v", err)
		return true
	}
	if strings.TrimSpace(event.TenantID) == "" || strings.TrimSpace(event.IdempotencyKey) == "" {
		log.Printf("level=warn component=settlement_consumer msg=\"missing tenant or idempotency key; dropping\"")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processSettled(ctx, event); err != nil {
		log.Printf("level=error component=settlement_consumer msg=\"settlement failed\" tenant_id=%s idempotency_key=%s err=%v", event.TenantID, event.IdempotencyKey, err)
		return !retryable(err)
	}
	return true
}

func (c *SettlementConsumer) processSettled(ctx context.Context, event domain.PaymentSettledEvent) error {
	actorID := event.ActorID
	if actorID == "" {
		actorID = "system:settlement"
	}

	payment, _, err := c.service.CreatePayment(ctx, event.TenantID, actorID, domain.CreatePaymentParams{
		LeaseID:        event.LeaseID,
		RenterID:       event.RenterID,
		Method:         event.Method,
		Details:        event.Details,
		Amount:         event.Amount,
		Currency:       event.Currency,
		IdempotencyKey: event.IdempotencyKey,
	})
	if err != nil {
		return err
	}

	if payment.Status == domain.PaymentPending {
		if payment, err = c.service.UpdatePaymentStatus(ctx, event.TenantID, payment.ID, domain.PaymentSuccess); err != nil {
			return err
		}
	}
	if payment.Status != domain.PaymentSuccess || !event.AutoAllocate || payment.LeaseID == nil {
		return nil
	}

	_, err = c.service.AllocatePayment(ctx, event.TenantID, actorID, payment.ID, domain.AllocateParams{})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrNotFound):
		// Nothing left to allocate, or nothing open on the lease; the payment stays recorded.
		log.Printf("level=info component=settlement_consumer msg=\"auto-allocation skipped\" tenant_id=%s payment_id=%s reason=%q", event.TenantID, payment.ID, err.Error())
		return nil
	default:
		return err
	}
}

// HandleFailed marks a pending payment as FAILED. Unknown or already-settled payments are
// acknowledged without change.
func (c *SettlementConsumer) HandleFailed(body []byte) bool {
	var event domain.PaymentSettledEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=settlement_consumer msg=\"invalid payload; dropping\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	payment, err := c.service.repo.GetPaymentByIdempotencyKey(ctx, event.TenantID, strings.TrimSpace(event.IdempotencyKey))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("level=info component=settlement_consumer msg=\"failure for unknown payment; acknowledging\" tenant_id=%s idempotency_key=%s", event.TenantID, event.IdempotencyKey)
			return true
		}
		log.Printf("level=error component=settlement_consumer msg=\"lookup failed\" tenant_id=%s err=%v", event.TenantID, err)
		return !retryable(err)
	}
	if payment.Status != domain.PaymentPending {
		return true
	}

	if _, err := c.service.UpdatePaymentStatus(ctx, event.TenantID, payment.ID, domain.PaymentFailed); err != nil {
		log.Printf("level=error component=settlement_consumer msg=\"mark failed errored\" tenant_id=%s payment_id=%s err=%v", event.TenantID, payment.ID, err)
		return !retryable(err)
	}
	return true
}
