/**
 * @description
 * Lease terms: the billing and penalty configuration every other component reads.
 */
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BillingFrequency is the length of one billing period.
type BillingFrequency string

const (
	FrequencyMonthly    BillingFrequency = "MONTHLY"
	FrequencyQuarterly  BillingFrequency = "QUARTERLY"
	FrequencySemiannual BillingFrequency = "SEMIANNUAL"
	FrequencyAnnual     BillingFrequency = "ANNUAL"
)

// Months returns the number of calendar months per period, or 0 when unsupported.
func (f BillingFrequency) Months() int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencySemiannual:
		return 6
	case FrequencyAnnual:
		return 12
	default:
		return 0
	}
}

// PenaltyMode selects how a late-payment surcharge is computed.
type PenaltyMode string

const (
	PenaltyFixedAmount      PenaltyMode = "FIXED_AMOUNT"
	PenaltyPercentOfRent    PenaltyMode = "PERCENT_OF_RENT"
	PenaltyPercentOfBalance PenaltyMode = "PERCENT_OF_BALANCE"
)

func (m PenaltyMode) Valid() bool {
	switch m {
	case PenaltyFixedAmount, PenaltyPercentOfRent, PenaltyPercentOfBalance:
		return true
	}
	return false
}

// LeaseStatus tracks the lifecycle of a lease.
type LeaseStatus string

const (
	LeaseDraft      LeaseStatus = "DRAFT"
	LeaseActive     LeaseStatus = "ACTIVE"
	LeaseEnded      LeaseStatus = "ENDED"
	LeaseTerminated LeaseStatus = "TERMINATED"
)

func (s LeaseStatus) Valid() bool {
	switch s {
	case LeaseDraft, LeaseActive, LeaseEnded, LeaseTerminated:
		return true
	}
	return false
}

// Lease represents a lease contract row.
type Lease struct {
	ID                    string           `json:"id"`
	TenantID              string           `json:"tenant_id"`
	PropertyID            string           `json:"property_id"`
	RenterID              string           `json:"renter_id"`
	OwnerID               string           `json:"owner_id"`
	LeaseNumber           *string          `json:"lease_number,omitempty"`
	Status                LeaseStatus      `json:"status"`
	StartDate             time.Time        `json:"start_date"`
	EndDate               *time.Time       `json:"end_date,omitempty"`
	BillingFrequency      BillingFrequency `json:"billing_frequency"`
	DueDayOfMonth         int              `json:"due_day_of_month"`
	Currency              string           `json:"currency"`
	RentAmount            decimal.Decimal  `json:"rent_amount"`
	ServiceChargeAmount   decimal.Decimal  `json:"service_charge_amount"`
	SecurityDepositAmount decimal.Decimal  `json:"security_deposit_amount"`
	PenaltyGraceDays      int              `json:"penalty_grace_days"`
	PenaltyMode           PenaltyMode      `json:"penalty_mode"`
	// PenaltyRate is a fraction for percentage modes and a money amount for FIXED_AMOUNT.
	PenaltyRate         decimal.Decimal     `json:"penalty_rate"`
	PenaltyCap          decimal.NullDecimal `json:"penalty_cap"`
	MinBalanceThreshold decimal.NullDecimal `json:"min_balance_threshold"`
	CreatedBy           string              `json:"created_by"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// CreateLeaseParams carries the fields needed to register a lease.
type CreateLeaseParams struct {
	PropertyID            string
	RenterID              string
	OwnerID               string
	LeaseNumber           *string
	Status                LeaseStatus
	StartDate             time.Time
	EndDate               *time.Time
	BillingFrequency      BillingFrequency
	DueDayOfMonth         int
	Currency              string
	RentAmount            decimal.Decimal
	ServiceChargeAmount   decimal.Decimal
	SecurityDepositAmount decimal.Decimal
	PenaltyGraceDays      int
	PenaltyMode           PenaltyMode
	PenaltyRate           decimal.Decimal
	PenaltyCap            decimal.NullDecimal
	MinBalanceThreshold   decimal.NullDecimal
}

// LeaseFilter narrows ListLeases results.
type LeaseFilter struct {
	Status     *LeaseStatus
	PropertyID *string
	RenterID   *string
}

// ValidateBillingTerms reports the first missing or malformed billing field.
func (l Lease) ValidateBillingTerms() error {
	const op = "lease.validate"
	switch {
	case l.StartDate.IsZero():
		return InvalidInput(op, "start date is required")
	case l.BillingFrequency == "":
		return InvalidInput(op, "billing frequency is required")
	case l.BillingFrequency.Months() == 0:
		return InvalidInput(op, "unsupported billing frequency "+string(l.BillingFrequency))
	case l.DueDayOfMonth < 1 || l.DueDayOfMonth > 31:
		return InvalidInput(op, "due day of month must be between 1 and 31")
	case strings.TrimSpace(l.Currency) == "":
		return InvalidInput(op, "currency is required")
	case !l.RentAmount.IsPositive():
		return InvalidInput(op, "rent amount must be positive")
	case l.ServiceChargeAmount.IsNegative():
		return InvalidInput(op, "service charge cannot be negative")
	case l.EndDate != nil && l.EndDate.Before(l.StartDate):
		return InvalidInput(op, "end date precedes start date")
	}
	if err := CheckMoney(op, "rent amount", l.RentAmount); err != nil {
		return err
	}
	if err := CheckMoney(op, "service charge", l.ServiceChargeAmount); err != nil {
		return err
	}
	return CheckMoney(op, "security deposit amount", l.SecurityDepositAmount)
}

// ValidatePenaltyTerms checks the penalty configuration.
func (l Lease) ValidatePenaltyTerms() error {
	const op = "lease.validate"
	switch {
	case !l.PenaltyMode.Valid():
		return InvalidInput(op, "unsupported penalty mode "+string(l.PenaltyMode))
	case l.PenaltyGraceDays < 0:
		return InvalidInput(op, "penalty grace days cannot be negative")
	case l.PenaltyRate.IsNegative():
		return InvalidInput(op, "penalty rate cannot be negative")
	case l.PenaltyCap.Valid && l.PenaltyCap.Decimal.IsNegative():
		return InvalidInput(op, "penalty cap cannot be negative")
	case l.MinBalanceThreshold.Valid && l.MinBalanceThreshold.Decimal.IsNegative():
		return InvalidInput(op, "minimum balance threshold cannot be negative")
	case l.PenaltyMode == PenaltyFixedAmount && !FitsMoneyScale(l.PenaltyRate):
		return InvalidInput(op, "fixed penalty amount has more than 2 decimal places")
	case l.PenaltyCap.Valid && !FitsMoneyScale(l.PenaltyCap.Decimal):
		return InvalidInput(op, "penalty cap has more than 2 decimal places")
	}
	return nil
}
