/**
 * @description
 * Event payloads written to the outbox and consumed from upstream services.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Routing keys published on the events exchange.
const (
	EventPaymentRecorded      = "payment.recorded"
	EventPaymentStatusChanged = "payment.status_changed"
	EventAllocationApplied    = "allocation.applied"
	EventInstallmentPaid      = "installment.paid"
	EventInstallmentsCreated  = "installments.generated"
	EventDepositCollected     = "deposit.collected"
	EventDepositMovement      = "deposit.movement"
	EventDocumentIssued       = "document.issued"
)

// Routing keys consumed from upstream payment integrations.
const (
	EventPaymentSettled = "payment.settled"
	EventPaymentFailed  = "payment.failed"
)

// OutboxEvent is a message waiting to be published.
type OutboxEvent struct {
	RoutingKey string
	Payload    interface{}
}

// OutboxMessage is a claimed outbox row.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

type PaymentRecordedEvent struct {
	TenantID  string          `json:"tenant_id"`
	PaymentID string          `json:"payment_id"`
	LeaseID   *string         `json:"lease_id,omitempty"`
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    PaymentStatus   `json:"status"`
	ActorID   string          `json:"actor_id"`
}

type PaymentStatusChangedEvent struct {
	TenantID  string        `json:"tenant_id"`
	PaymentID string        `json:"payment_id"`
	From      PaymentStatus `json:"from"`
	To        PaymentStatus `json:"to"`
	ChangedAt time.Time     `json:"changed_at"`
}

type AllocationAppliedEvent struct {
	TenantID       string          `json:"tenant_id"`
	PaymentID      string          `json:"payment_id"`
	InstallmentIDs []string        `json:"installment_ids"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
}

type InstallmentPaidEvent struct {
	TenantID      string    `json:"tenant_id"`
	LeaseID       string    `json:"lease_id"`
	InstallmentID string    `json:"installment_id"`
	PeriodYear    int       `json:"period_year"`
	PeriodMonth   int       `json:"period_month"`
	PaidAt        time.Time `json:"paid_at"`
}

type InstallmentsGeneratedEvent struct {
	TenantID string `json:"tenant_id"`
	LeaseID  string `json:"lease_id"`
	Count    int    `json:"count"`
}

type DepositMovementEvent struct {
	TenantID  string          `json:"tenant_id"`
	LeaseID   string          `json:"lease_id"`
	DepositID string          `json:"deposit_id"`
	Type      MovementType    `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Held      decimal.Decimal `json:"held"`
}

type DocumentIssuedEvent struct {
	TenantID   string       `json:"tenant_id"`
	DocumentID string       `json:"document_id"`
	DocType    DocumentType `json:"doc_type"`
	SourceKey  string       `json:"source_key"`
	Number     string       `json:"number"`
}

// PaymentSettledEvent is published upstream once a gateway has settled a payment.
type PaymentSettledEvent struct {
	TenantID       string          `json:"tenant_id"`
	ActorID        string          `json:"actor_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	LeaseID        *string         `json:"lease_id,omitempty"`
	RenterID       *string         `json:"renter_id,omitempty"`
	Method         PaymentMethod   `json:"method"`
	Details        MethodDetails   `json:"details"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	AutoAllocate   bool            `json:"auto_allocate"`
	Reason         string          `json:"reason,omitempty"`
}
