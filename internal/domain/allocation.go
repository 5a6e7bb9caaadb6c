package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentAllocation is the portion of a payment applied to one installment. Rows are append-only.
type PaymentAllocation struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	PaymentID     string          `json:"payment_id"`
	InstallmentID string          `json:"installment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AllocateParams selects the installments a payment should settle.
// An empty InstallmentIDs means every outstanding installment of the payment's lease.
type AllocateParams struct {
	InstallmentIDs []string
	Amounts        map[string]decimal.Decimal
}

// AllocationCandidate is an installment loaded under lock, with the amount already allocated to it.
type AllocationCandidate struct {
	Installment Installment
	Allocated   decimal.Decimal
}

// AllocationLine is one planned allocation.
type AllocationLine struct {
	InstallmentID string
	Amount        decimal.Decimal
}

// AllocationPlanner decides the new allocation lines for a payment. The store calls it
// inside the allocation transaction with the payment and candidates locked.
type AllocationPlanner func(payment Payment, alreadyAllocated decimal.Decimal, candidates []AllocationCandidate) ([]AllocationLine, error)

// AllocationResult is returned by AllocatePayment.
type AllocationResult struct {
	PaymentID    string              `json:"payment_id"`
	Allocations  []PaymentAllocation `json:"allocations"`
	Total        decimal.Decimal     `json:"total"`
	Unallocated  decimal.Decimal     `json:"unallocated"`
	Installments []Installment       `json:"installments"`
	// NewlyPaid lists installments that transitioned into PAID during this call.
	NewlyPaid []string `json:"newly_paid,omitempty"`
}

// AllocationFilter narrows ListAllocations results.
type AllocationFilter struct {
	PaymentID     *string
	InstallmentID *string
}
