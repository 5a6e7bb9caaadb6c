package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is the closed set of ways a payment can be settled.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodMobileMoney  PaymentMethod = "MOBILE_MONEY"
	MethodCard         PaymentMethod = "CARD"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodMobileMoney, MethodCard, MethodBankTransfer:
		return true
	}
	return false
}

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentSuccess  PaymentStatus = "SUCCESS"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentCanceled PaymentStatus = "CANCELED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSuccess, PaymentFailed, PaymentCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed. SUCCESS is not terminal:
// it may still be canceled while unallocated.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentFailed || s == PaymentCanceled
}

// MethodDetails holds the method-specific optional fields.
type MethodDetails struct {
	MobileMoneyProvider *string `json:"mobile_money_provider,omitempty"`
	MobileMoneyPhone    *string `json:"mobile_money_phone,omitempty"`
	CardLast4           *string `json:"card_last4,omitempty"`
	PSPReference        *string `json:"psp_reference,omitempty"`
	BankReference       *string `json:"bank_reference,omitempty"`
	ReceivedBy          *string `json:"received_by,omitempty"`
}

// Validate checks that the details carried match the method.
func (d MethodDetails) Validate(method PaymentMethod) error {
	const op = "payment.validate"
	switch method {
	case MethodCash:
		if d.MobileMoneyProvider != nil || d.MobileMoneyPhone != nil || d.CardLast4 != nil || d.PSPReference != nil || d.BankReference != nil {
			return InvalidInput(op, "cash payments carry no provider references")
		}
	case MethodMobileMoney:
		if blank(d.MobileMoneyProvider) || blank(d.MobileMoneyPhone) {
			return InvalidInput(op, "mobile money payments require provider and phone")
		}
	case MethodCard:
		if blank(d.PSPReference) {
			return InvalidInput(op, "card payments require a psp reference")
		}
		if d.CardLast4 != nil && len(strings.TrimSpace(*d.CardLast4)) != 4 {
			return InvalidInput(op, "card last4 must have 4 digits")
		}
	case MethodBankTransfer:
		if blank(d.BankReference) {
			return InvalidInput(op, "bank transfers require a bank reference")
		}
	default:
		return InvalidInput(op, "unsupported payment method "+string(method))
	}
	return nil
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// Payment is a recorded payment fact.
type Payment struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	LeaseID        *string         `json:"lease_id,omitempty"`
	RenterID       *string         `json:"renter_id,omitempty"`
	Method         PaymentMethod   `json:"method"`
	Details        MethodDetails   `json:"details"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         PaymentStatus   `json:"status"`
	InitiatedAt    time.Time       `json:"initiated_at"`
	SucceededAt    *time.Time      `json:"succeeded_at,omitempty"`
	FailedAt       *time.Time      `json:"failed_at,omitempty"`
	CanceledAt     *time.Time      `json:"canceled_at,omitempty"`
	RecordedBy     string          `json:"recorded_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CreatePaymentParams is the caller-supplied part of a payment.
type CreatePaymentParams struct {
	LeaseID        *string
	RenterID       *string
	Method         PaymentMethod
	Details        MethodDetails
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	// Status is SUCCESS when empty; PENDING records a payment awaiting settlement.
	Status PaymentStatus
}

// Validate checks amounts, method and key.
func (p CreatePaymentParams) Validate() error {
	const op = "payment.validate"
	switch {
	case strings.TrimSpace(p.IdempotencyKey) == "":
		return InvalidInput(op, "idempotency key is required")
	case !p.Amount.IsPositive():
		return InvalidInput(op, "amount must be positive")
	case !FitsMoneyScale(p.Amount):
		return InvalidInput(op, "amount has more than 2 decimal places")
	case strings.TrimSpace(p.Currency) == "":
		return InvalidInput(op, "currency is required")
	case !p.Method.Valid():
		return InvalidInput(op, "unsupported payment method "+string(p.Method))
	case p.Status != "" && p.Status != PaymentSuccess && p.Status != PaymentPending:
		return InvalidInput(op, "payments are recorded as SUCCESS or PENDING")
	}
	return p.Details.Validate(p.Method)
}

// PaymentFilter narrows ListPayments results.
type PaymentFilter struct {
	LeaseID  *string
	RenterID *string
	Status   *PaymentStatus
	Method   *PaymentMethod
	From     *time.Time
	To       *time.Time
}

// Page is limit/offset pagination.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps the page into the supported range.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// StampStatus applies a transition to p, stamping the matching timestamp once.
func (p *Payment) StampStatus(status PaymentStatus, at time.Time) {
	p.Status = status
	switch status {
	case PaymentSuccess:
		if p.SucceededAt == nil {
			p.SucceededAt = &at
		}
	case PaymentFailed:
		if p.FailedAt == nil {
			p.FailedAt = &at
		}
	case PaymentCanceled:
		if p.CanceledAt == nil {
			p.CanceledAt = &at
		}
	}
}

// CheckTransition validates a status change. A repeat of the current status is a no-op.
// SUCCESS may only move to CANCELED, and only while nothing is allocated from it.
func CheckTransition(from, to PaymentStatus, allocated bool) (noop bool, err error) {
	const op = "payment.status"
	if !to.Valid() {
		return false, InvalidInput(op, "unsupported payment status "+string(to))
	}
	if from == to {
		return true, nil
	}
	if from.Terminal() {
		return false, InvalidState(op, "payment is "+string(from)+" and cannot change status")
	}
	switch from {
	case PaymentPending:
		return false, nil
	case PaymentSuccess:
		if to != PaymentCanceled {
			return false, InvalidState(op, "successful payment can only be canceled")
		}
		if allocated {
			return false, InvalidState(op, "payment has allocations and cannot be canceled")
		}
		return false, nil
	default:
		return false, InvalidState(op, "payment is "+string(from)+" and cannot change status")
	}
}
