package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

// MoneyScale is the number of decimal places money is rounded to.
const MoneyScale = domain.MoneyScale

// PenaltyOutcome is the result of evaluating one installment.
type PenaltyOutcome struct {
	Penalty     decimal.Decimal
	DaysLate    int
	Skipped     bool
	WithinGrace bool
	Changed     bool
}

// DaysLate is max(0, today - dueDate) in days.
func DaysLate(dueDate, today time.Time) int {
	if d := DaysBetween(dueDate, today); d > 0 {
		return d
	}
	return 0
}

// PenaltyFor computes the surcharge from the lease configuration alone, cap applied.
func PenaltyFor(inst domain.Installment, lease domain.Lease) decimal.Decimal {
	var penalty decimal.Decimal
	switch lease.PenaltyMode {
	case domain.PenaltyFixedAmount:
		penalty = lease.PenaltyRate
	case domain.PenaltyPercentOfRent:
		penalty = inst.AmountRent.Mul(lease.PenaltyRate)
	case domain.PenaltyPercentOfBalance:
		balance := inst.BaseDue().Sub(inst.AmountPaid)
		if balance.IsNegative() {
			balance = decimal.Zero
		}
		if lease.MinBalanceThreshold.Valid && balance.LessThan(lease.MinBalanceThreshold.Decimal) {
			penalty = decimal.Zero
		} else {
			penalty = balance.Mul(lease.PenaltyRate)
		}
	default:
		penalty = decimal.Zero
	}

	if lease.PenaltyCap.Valid && penalty.GreaterThan(lease.PenaltyCap.Decimal) {
		penalty = lease.PenaltyCap.Decimal
	}
	return penalty.Round(MoneyScale)
}

// EvaluatePenalty decides the penalty an installment should carry on today.
// PAID installments and those without an outstanding balance are skipped; inside the grace
// period the current penalty is kept. Otherwise the penalty is the larger of the current one
// and the computed one, so reruns never compound and never lower a charged penalty.
func EvaluatePenalty(inst domain.Installment, lease domain.Lease, today time.Time) PenaltyOutcome {
	out := PenaltyOutcome{Penalty: inst.PenaltyAmount, DaysLate: DaysLate(inst.DueDate, today)}

	if inst.Status == domain.InstallmentPaid || !inst.Outstanding().IsPositive() {
		out.Skipped = true
		return out
	}
	if out.DaysLate <= lease.PenaltyGraceDays {
		out.WithinGrace = true
		return out
	}

	computed := PenaltyFor(inst, lease)
	if computed.GreaterThan(inst.PenaltyAmount) {
		out.Penalty = computed
		out.Changed = true
	}
	return out
}
