package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

// maxPeriods bounds a single expansion; 100 years of monthly billing.
const maxPeriods = 1200

// Period is one billing period of a lease.
type Period struct {
	Year    int
	Month   int
	Start   time.Time
	DueDate time.Time
}

// DueDateFor returns the due date of the period starting at periodStart.
// The due day is clamped to the month's last day and rolls into the next month
// when it would fall before the period start.
func DueDateFor(periodStart time.Time, dueDay int) time.Time {
	due := clampDay(periodStart.Year(), periodStart.Month(), dueDay)
	if due.Before(periodStart) {
		next := AddMonthsClamped(CivilDate(periodStart.Year(), periodStart.Month(), 1), 1)
		due = clampDay(next.Year(), next.Month(), dueDay)
	}
	return due
}

func clampDay(year int, month time.Month, day int) time.Time {
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return CivilDate(year, month, day)
}

// Schedule expands the lease into billing periods. Periods start at the lease start date and
// advance by the frequency in calendar months; a period is included while it starts before
// the end date (or horizon, for open-ended leases). The first period is always included.
func Schedule(lease domain.Lease, horizon time.Time) ([]Period, error) {
	if err := lease.ValidateBillingTerms(); err != nil {
		return nil, err
	}

	step := lease.BillingFrequency.Months()
	start := CivilDate(lease.StartDate.Year(), lease.StartDate.Month(), lease.StartDate.Day())

	end := CivilDate(horizon.Year(), horizon.Month(), horizon.Day())
	if lease.EndDate != nil {
		end = CivilDate(lease.EndDate.Year(), lease.EndDate.Month(), lease.EndDate.Day())
	}

	var periods []Period
	for i := 0; i < maxPeriods; i++ {
		periodStart := AddMonthsClamped(start, i*step)
		if i > 0 && !periodStart.Before(end) {
			break
		}
		periods = append(periods, Period{
			Year:    periodStart.Year(),
			Month:   int(periodStart.Month()),
			Start:   periodStart,
			DueDate: DueDateFor(periodStart, lease.DueDayOfMonth),
		})
	}
	return periods, nil
}

// BuildInstallments turns periods into new DUE installments carrying the lease amounts.
func BuildInstallments(lease domain.Lease, periods []Period) []domain.Installment {
	installments := make([]domain.Installment, 0, len(periods))
	for _, p := range periods {
		installments = append(installments, domain.Installment{
			TenantID:        lease.TenantID,
			LeaseID:         lease.ID,
			PeriodYear:      p.Year,
			PeriodMonth:     p.Month,
			DueDate:         p.DueDate,
			Status:          domain.InstallmentDue,
			Currency:        lease.Currency,
			AmountRent:      lease.RentAmount,
			AmountService:   lease.ServiceChargeAmount,
			AmountOtherFees: decimal.Zero,
			PenaltyAmount:   decimal.Zero,
			AmountPaid:      decimal.Zero,
		})
	}
	return installments
}
