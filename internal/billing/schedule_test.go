package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

func testLease(freq domain.BillingFrequency, dueDay int, start time.Time, end *time.Time) domain.Lease {
	return domain.Lease{
		ID:                  "lease-1",
		TenantID:            "tenant-1",
		StartDate:           start,
		EndDate:             end,
		BillingFrequency:    freq,
		DueDayOfMonth:       dueDay,
		Currency:            "XOF",
		RentAmount:          decimal.NewFromInt(100000),
		ServiceChargeAmount: decimal.NewFromInt(20000),
		PenaltyMode:         domain.PenaltyFixedAmount,
	}
}

func datePtr(t time.Time) *time.Time { return &t }

func TestSchedule_MonthlyYearProducesTwelvePeriods(t *testing.T) {
	lease := testLease(domain.FrequencyMonthly, 5, CivilDate(2025, 1, 1), datePtr(CivilDate(2025, 12, 31)))

	periods, err := Schedule(lease, time.Time{})
	require.NoError(t, err)
	require.Len(t, periods, 12)

	for i, p := range periods {
		assert.Equal(t, 2025, p.Year)
		assert.Equal(t, i+1, p.Month)
		assert.Equal(t, CivilDate(2025, time.Month(i+1), 5), p.DueDate)
	}
}

func TestSchedule_ClampsDueDayToMonthEnd(t *testing.T) {
	lease := testLease(domain.FrequencyMonthly, 31, CivilDate(2024, 1, 1), datePtr(CivilDate(2024, 4, 30)))

	periods, err := Schedule(lease, time.Time{})
	require.NoError(t, err)
	require.Len(t, periods, 4)

	want := []time.Time{
		CivilDate(2024, 1, 31),
		CivilDate(2024, 2, 29),
		CivilDate(2024, 3, 31),
		CivilDate(2024, 4, 30),
	}
	for i, p := range periods {
		assert.Equal(t, want[i], p.DueDate, "period %d", i)
	}
}

func TestSchedule_DueDateBeforePeriodStartRollsToNextMonth(t *testing.T) {
	lease := testLease(domain.FrequencyMonthly, 5, CivilDate(2025, 1, 15), datePtr(CivilDate(2025, 3, 14)))

	periods, err := Schedule(lease, time.Time{})
	require.NoError(t, err)
	require.Len(t, periods, 2)

	assert.Equal(t, 1, periods[0].Month)
	assert.Equal(t, CivilDate(2025, 2, 5), periods[0].DueDate)
	assert.Equal(t, 2, periods[1].Month)
	assert.Equal(t, CivilDate(2025, 3, 5), periods[1].DueDate)
}

func TestSchedule_PeriodLengthFollowsFrequency(t *testing.T) {
	end := datePtr(CivilDate(2025, 12, 31))
	tests := []struct {
		name   string
		freq   domain.BillingFrequency
		count  int
		months []int
	}{
		{name: "quarterly", freq: domain.FrequencyQuarterly, count: 4, months: []int{1, 4, 7, 10}},
		{name: "semiannual", freq: domain.FrequencySemiannual, count: 2, months: []int{1, 7}},
		{name: "annual", freq: domain.FrequencyAnnual, count: 1, months: []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			periods, err := Schedule(testLease(tt.freq, 1, CivilDate(2025, 1, 1), end), time.Time{})
			require.NoError(t, err)
			require.Len(t, periods, tt.count)
			for i, p := range periods {
				assert.Equal(t, tt.months[i], p.Month)
			}
		})
	}
}

func TestSchedule_OpenEndedLeaseStopsAtHorizon(t *testing.T) {
	lease := testLease(domain.FrequencyMonthly, 1, CivilDate(2025, 1, 1), nil)

	periods, err := Schedule(lease, CivilDate(2025, 6, 10))
	require.NoError(t, err)
	require.Len(t, periods, 6)
	assert.Equal(t, 6, periods[5].Month)
}

func TestSchedule_StartOnMonthEndKeepsClampedPeriods(t *testing.T) {
	lease := testLease(domain.FrequencyMonthly, 31, CivilDate(2025, 1, 31), datePtr(CivilDate(2025, 4, 30)))

	periods, err := Schedule(lease, time.Time{})
	require.NoError(t, err)
	require.Len(t, periods, 3)
	assert.Equal(t, CivilDate(2025, 2, 28), periods[1].Start)
	assert.Equal(t, CivilDate(2025, 3, 31), periods[2].Start)
	assert.Equal(t, CivilDate(2025, 2, 28), periods[1].DueDate)
}

func TestSchedule_RejectsMissingBillingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Lease)
	}{
		{name: "unsupported frequency", mutate: func(l *domain.Lease) { l.BillingFrequency = "WEEKLY" }},
		{name: "missing start", mutate: func(l *domain.Lease) { l.StartDate = time.Time{} }},
		{name: "due day out of range", mutate: func(l *domain.Lease) { l.DueDayOfMonth = 0 }},
		{name: "missing currency", mutate: func(l *domain.Lease) { l.Currency = "" }},
		{name: "zero rent", mutate: func(l *domain.Lease) { l.RentAmount = decimal.Zero }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lease := testLease(domain.FrequencyMonthly, 5, CivilDate(2025, 1, 1), nil)
			tt.mutate(&lease)

			_, err := Schedule(lease, CivilDate(2025, 6, 1))
			require.Error(t, err)
			assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
		})
	}
}

func TestBuildInstallments_CopiesLeaseAmounts(t *testing.T) {
	lease := testLease(domain.FrequencyMonthly, 5, CivilDate(2025, 1, 1), datePtr(CivilDate(2025, 1, 31)))
	periods, err := Schedule(lease, time.Time{})
	require.NoError(t, err)

	installments := BuildInstallments(lease, periods)
	require.Len(t, installments, 1)

	inst := installments[0]
	assert.Equal(t, domain.InstallmentDue, inst.Status)
	assert.True(t, inst.AmountRent.Equal(decimal.NewFromInt(100000)))
	assert.True(t, inst.AmountService.Equal(decimal.NewFromInt(20000)))
	assert.True(t, inst.AmountOtherFees.IsZero())
	assert.True(t, inst.PenaltyAmount.IsZero())
	assert.Equal(t, "XOF", inst.Currency)
}

func TestAddMonthsClamped(t *testing.T) {
	assert.Equal(t, CivilDate(2025, 2, 28), AddMonthsClamped(CivilDate(2025, 1, 31), 1))
	assert.Equal(t, CivilDate(2024, 2, 29), AddMonthsClamped(CivilDate(2024, 1, 31), 1))
	assert.Equal(t, CivilDate(2026, 1, 15), AddMonthsClamped(CivilDate(2025, 10, 15), 3))
}
