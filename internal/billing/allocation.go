package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

const opAllocate = "allocation.plan"

// PriorityOrder sorts candidates for allocation. Overdue installments come first, most days
// late first; the rest follow by earliest due date. Ties fall back to period then id so the
// order is deterministic.
func PriorityOrder(candidates []domain.AllocationCandidate, today time.Time) []domain.AllocationCandidate {
	ordered := make([]domain.AllocationCandidate, len(candidates))
	copy(ordered, candidates)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Installment, ordered[j].Installment
		lateA, lateB := DaysLate(a.DueDate, today), DaysLate(b.DueDate, today)
		overdueA, overdueB := lateA > 0, lateB > 0

		if overdueA != overdueB {
			return overdueA
		}
		if overdueA {
			if lateA != lateB {
				return lateA > lateB
			}
		} else if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.PeriodYear != b.PeriodYear {
			return a.PeriodYear < b.PeriodYear
		}
		if a.PeriodMonth != b.PeriodMonth {
			return a.PeriodMonth < b.PeriodMonth
		}
		return a.ID < b.ID
	})
	return ordered
}

// PlanAllocation distributes what is left of the payment over the candidates in priority order.
// A manual amount caps what its installment receives and must not exceed that installment's
// remaining due.
func PlanAllocation(
	payment domain.Payment,
	alreadyAllocated decimal.Decimal,
	candidates []domain.AllocationCandidate,
	manual map[string]decimal.Decimal,
	today time.Time,
) ([]domain.AllocationLine, error) {
	remaining := payment.Amount.Sub(alreadyAllocated)
	if !remaining.IsPositive() {
		return nil, domain.InvalidState(opAllocate, "already fully allocated")
	}
	if len(candidates) == 0 {
		return nil, domain.NotFound(opAllocate, "no installments")
	}

	byID := make(map[string]domain.AllocationCandidate, len(candidates))
	for _, c := range candidates {
		if c.Installment.Currency != "" && c.Installment.Currency != payment.Currency {
			return nil, domain.InvalidState(opAllocate, "installment "+c.Installment.ID+" is billed in "+c.Installment.Currency+", payment is "+payment.Currency)
		}
		byID[c.Installment.ID] = c
	}
	for id, amount := range manual {
		c, ok := byID[id]
		if !ok {
			return nil, domain.InvalidInput(opAllocate, "manual amount given for installment "+id+" outside the candidate set")
		}
		if amount.IsNegative() {
			return nil, domain.InvalidInput(opAllocate, "manual amount for installment "+id+" is negative")
		}
		if err := domain.CheckMoney(opAllocate, "manual amount for installment "+id, amount); err != nil {
			return nil, err
		}
		if amount.GreaterThan(RemainingDue(c)) {
			return nil, domain.InvalidState(opAllocate, "manual amount for installment "+id+" exceeds its remaining due")
		}
	}

	var lines []domain.AllocationLine
	for _, c := range PriorityOrder(candidates, today) {
		if !remaining.IsPositive() {
			break
		}
		due := RemainingDue(c)
		if !due.IsPositive() {
			continue
		}

		amount := decimal.Min(due, remaining)
		if m, ok := manual[c.Installment.ID]; ok {
			amount = decimal.Min(m, due, remaining)
		}
		if !amount.IsPositive() {
			continue
		}

		lines = append(lines, domain.AllocationLine{InstallmentID: c.Installment.ID, Amount: amount})
		remaining = remaining.Sub(amount)
	}

	if len(lines) == 0 {
		return nil, domain.InvalidState(opAllocate, "no allocation possible")
	}
	return lines, nil
}

// Planner binds the caller's manual amounts and the business date into a store callback.
func Planner(manual map[string]decimal.Decimal, today time.Time) domain.AllocationPlanner {
	return func(payment domain.Payment, alreadyAllocated decimal.Decimal, candidates []domain.AllocationCandidate) ([]domain.AllocationLine, error) {
		return PlanAllocation(payment, alreadyAllocated, candidates, manual, today)
	}
}

// RemainingDue is the installment's total due minus what is already allocated to it.
func RemainingDue(c domain.AllocationCandidate) decimal.Decimal {
	return c.Installment.TotalDue().Sub(c.Allocated)
}

// Settle recomputes amountPaid and status from the installment's allocation total.
// paidAt is stamped only on the transition into PAID.
func Settle(inst domain.Installment, totalAllocated decimal.Decimal, now time.Time) (domain.Installment, bool) {
	wasPaid := inst.Status == domain.InstallmentPaid
	inst.AmountPaid = totalAllocated

	switch {
	case totalAllocated.GreaterThanOrEqual(inst.TotalDue()):
		inst.Status = domain.InstallmentPaid
	case totalAllocated.IsPositive():
		inst.Status = domain.InstallmentPartial
	}

	becamePaid := !wasPaid && inst.Status == domain.InstallmentPaid
	if becamePaid {
		paidAt := now
		inst.PaidAt = &paidAt
	}
	return inst, becamePaid
}
