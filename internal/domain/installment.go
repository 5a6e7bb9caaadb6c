package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentStatus is the settlement state of one billing period.
type InstallmentStatus string

const (
	InstallmentDue     InstallmentStatus = "DUE"
	InstallmentPartial InstallmentStatus = "PARTIAL"
	InstallmentOverdue InstallmentStatus = "OVERDUE"
	InstallmentPaid    InstallmentStatus = "PAID"
)

// Installment is one billing period's due amount under a lease.
type Installment struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	LeaseID         string            `json:"lease_id"`
	PeriodYear      int               `json:"period_year"`
	PeriodMonth     int               `json:"period_month"`
	DueDate         time.Time         `json:"due_date"`
	Status          InstallmentStatus `json:"status"`
	Currency        string            `json:"currency"`
	AmountRent      decimal.Decimal   `json:"amount_rent"`
	AmountService   decimal.Decimal   `json:"amount_service"`
	AmountOtherFees decimal.Decimal   `json:"amount_other_fees"`
	PenaltyAmount   decimal.Decimal   `json:"penalty_amount"`
	AmountPaid      decimal.Decimal   `json:"amount_paid"`
	PaidAt          *time.Time        `json:"paid_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// BaseDue is the amount owed before penalties.
func (i Installment) BaseDue() decimal.Decimal {
	return i.AmountRent.Add(i.AmountService).Add(i.AmountOtherFees)
}

// TotalDue is the amount owed including the current penalty.
func (i Installment) TotalDue() decimal.Decimal {
	return i.BaseDue().Add(i.PenaltyAmount)
}

// Outstanding is the unpaid part of TotalDue, never negative.
func (i Installment) Outstanding() decimal.Decimal {
	out := i.TotalDue().Sub(i.AmountPaid)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// InstallmentFilter narrows ListInstallments results.
type InstallmentFilter struct {
	Status *InstallmentStatus
}

// PenaltyCandidate pairs an unpaid, past-due installment with its lease terms.
type PenaltyCandidate struct {
	Installment Installment
	Lease       Lease
}

// PenaltyRunResult summarizes one penalty batch.
type PenaltyRunResult struct {
	AsOf          time.Time `json:"as_of"`
	Evaluated     int       `json:"evaluated"`
	Updated       int       `json:"updated"`
	MarkedOverdue int       `json:"marked_overdue"`
	Skipped       int       `json:"skipped"`
}

// ExtensionResult summarizes an open-ended lease top-up run.
type ExtensionResult struct {
	LeasesScanned       int `json:"leases_scanned"`
	InstallmentsCreated int `json:"installments_created"`
	Failed              int `json:"failed"`
}
