package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immotopia/rental-finance-service/internal/domain"
	"github.com/immotopia/rental-finance-service/internal/store/storetest"
)

const (
	testTenant = "agency-1"
	testActor  = "agent-7"
)

// fixedNow is 2025-01-10, five days after the first January due date.
var fixedNow = time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)

type rendererStub struct {
	err   error
	calls int
}

func (r *rendererStub) Render(ctx context.Context, req domain.RenderRequest) (*domain.RenderResult, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &domain.RenderResult{FileRef: "docs/" + req.Number + ".pdf", ContentHash: "hash-" + req.Number}, nil
}

func newTestService(t *testing.T, renderer DocumentRenderer, opts ...Option) (Service, *storetest.MemoryRepository) {
	t.Helper()
	repo := storetest.NewMemoryRepository()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(repo, renderer, "UTC", opts...), repo
}

func yearLeaseParams() domain.CreateLeaseParams {
	end := time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC)
	return domain.CreateLeaseParams{
		PropertyID:            "prop-1",
		RenterID:              "renter-1",
		OwnerID:               "owner-1",
		StartDate:             time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		EndDate:               &end,
		BillingFrequency:      domain.FrequencyMonthly,
		DueDayOfMonth:         5,
		Currency:              "xof",
		RentAmount:            decimal.NewFromInt(90000),
		ServiceChargeAmount:   decimal.Zero,
		SecurityDepositAmount: decimal.NewFromInt(180000),
		PenaltyGraceDays:      3,
		PenaltyMode:           domain.PenaltyFixedAmount,
		PenaltyRate:           decimal.NewFromInt(5000),
	}
}

func mustLease(t *testing.T, svc Service, params domain.CreateLeaseParams) *domain.Lease {
	t.Helper()
	lease, err := svc.CreateLease(context.Background(), testTenant, testActor, params)
	require.NoError(t, err)
	return lease
}

func mustGenerate(t *testing.T, svc Service, leaseID string) []domain.Installment {
	t.Helper()
	installments, err := svc.GenerateInstallments(context.Background(), testTenant, leaseID)
	require.NoError(t, err)
	return installments
}

func cashPayment(key string, leaseID string, amount int64) domain.CreatePaymentParams {
	return domain.CreatePaymentParams{
		LeaseID:        &leaseID,
		Method:         domain.MethodCash,
		Amount:         decimal.NewFromInt(amount),
		Currency:       "XOF",
		IdempotencyKey: key,
	}
}

func TestCreateLease_NormalizesAndCreatesEmptyDeposit(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	params := yearLeaseParams()
	params.StartDate = time.Date(2025, time.January, 1, 23, 30, 0, 0, time.FixedZone("WAT", 3600))
	lease := mustLease(t, svc, params)

	assert.Equal(t, "XOF", lease.Currency)
	assert.Equal(t, domain.LeaseActive, lease.Status)
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), lease.StartDate)

	deposit, err := svc.GetDeposit(ctx, testTenant, lease.ID)
	require.NoError(t, err)
	assert.True(t, deposit.TargetAmount.Equal(decimal.NewFromInt(180000)))
	assert.True(t, deposit.HeldAmount.IsZero())
}

func TestCreateLease_RejectsInvalidTerms(t *testing.T) {
	svc, _ := newTestService(t, nil)

	tests := []struct {
		name   string
		mutate func(*domain.CreateLeaseParams)
	}{
		{"zero rent", func(p *domain.CreateLeaseParams) { p.RentAmount = decimal.Zero }},
		{"due day out of range", func(p *domain.CreateLeaseParams) { p.DueDayOfMonth = 32 }},
		{"unknown frequency", func(p *domain.CreateLeaseParams) { p.BillingFrequency = "WEEKLY" }},
		{"end before start", func(p *domain.CreateLeaseParams) {
			end := time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC)
			p.EndDate = &end
		}},
		{"missing renter", func(p *domain.CreateLeaseParams) { p.RenterID = " " }},
		{"negative penalty rate", func(p *domain.CreateLeaseParams) { p.PenaltyRate = decimal.NewFromInt(-1) }},
		{"sub-cent rent", func(p *domain.CreateLeaseParams) { p.RentAmount = decimal.RequireFromString("90000.001") }},
		{"sub-cent deposit", func(p *domain.CreateLeaseParams) { p.SecurityDepositAmount = decimal.RequireFromString("0.005") }},
		{"sub-cent fixed penalty", func(p *domain.CreateLeaseParams) { p.PenaltyRate = decimal.RequireFromString("12.345") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := yearLeaseParams()
			tt.mutate(&params)
			_, err := svc.CreateLease(context.Background(), testTenant, testActor, params)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestCreateLease_LeaseNumberUniquePerTenant(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	params := yearLeaseParams()
	number := "BAIL-0001"
	params.LeaseNumber = &number
	mustLease(t, svc, params)

	_, err := svc.CreateLease(ctx, testTenant, testActor, params)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = svc.CreateLease(ctx, "agency-2", testActor, params)
	assert.NoError(t, err)
}

func TestGetLease_IsTenantScoped(t *testing.T) {
	svc, _ := newTestService(t, nil)
	lease := mustLease(t, svc, yearLeaseParams())

	_, err := svc.GetLease(context.Background(), "agency-2", lease.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.GetLease(context.Background(), "", lease.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestGenerateInstallments_TwelveMonthlyPeriods(t *testing.T) {
	svc, _ := newTestService(t, nil)
	lease := mustLease(t, svc, yearLeaseParams())

	installments := mustGenerate(t, svc, lease.ID)
	require.Len(t, installments, 12)

	for i, inst := range installments {
		assert.Equal(t, 2025, inst.PeriodYear)
		assert.Equal(t, i+1, inst.PeriodMonth)
		assert.Equal(t, time.Date(2025, time.Month(i+1), 5, 0, 0, 0, 0, time.UTC), inst.DueDate)
		assert.Equal(t, domain.InstallmentDue, inst.Status)
		assert.True(t, inst.TotalDue().Equal(decimal.NewFromInt(90000)))
		assert.Equal(t, "XOF", inst.Currency)
	}
}

func TestGenerateInstallments_SecondCallFailsWithoutSideEffects(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()
	lease := mustLease(t, svc, yearLeaseParams())
	mustGenerate(t, svc, lease.ID)
	eventsBefore := len(repo.Events())

	_, err := svc.GenerateInstallments(ctx, testTenant, lease.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	installments, err := svc.ListInstallments(ctx, testTenant, lease.ID, domain.InstallmentFilter{})
	require.NoError(t, err)
	assert.Len(t, installments, 12)
	assert.Len(t, repo.Events(), eventsBefore)
}

func TestGenerateInstallments_DraftLeaseIsNotBilled(t *testing.T) {
	svc, _ := newTestService(t, nil)
	params := yearLeaseParams()
	params.Status = domain.LeaseDraft
	lease := mustLease(t, svc, params)

	_, err := svc.GenerateInstallments(context.Background(), testTenant, lease.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestGenerateInstallments_ClampsDueDayToMonthEnd(t *testing.T) {
	svc, _ := newTestService(t, nil)
	params := yearLeaseParams()
	params.DueDayOfMonth = 31
	end := time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC)
	params.EndDate = &end
	lease := mustLease(t, svc, params)

	installments := mustGenerate(t, svc, lease.ID)
	require.Len(t, installments, 4)
	assert.Equal(t, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), installments[1].DueDate)
	assert.Equal(t, time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC), installments[3].DueDate)
}

func TestExtendOpenEndedLeases_TopsUpToHorizon(t *testing.T) {
	svc, _ := newTestService(t, nil, WithOpenEndedHorizon(3))
	ctx := context.Background()

	params := yearLeaseParams()
	params.EndDate = nil
	lease := mustLease(t, svc, params)

	// Horizon is 2025-04-10: January through April.
	require.Len(t, mustGenerate(t, svc, lease.ID), 4)

	result, err := svc.ExtendOpenEndedLeases(ctx, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, result.LeasesScanned)
	assert.Equal(t, 2, result.InstallmentsCreated)
	assert.Zero(t, result.Failed)

	again, err := svc.ExtendOpenEndedLeases(ctx, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, again.InstallmentsCreated)

	installments, err := svc.ListInstallments(ctx, testTenant, lease.ID, domain.InstallmentFilter{})
	require.NoError(t, err)
	require.Len(t, installments, 6)
	assert.Equal(t, 6, installments[5].PeriodMonth)
}

func TestListInstallments_UnknownLease(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.ListInstallments(context.Background(), testTenant, "missing", domain.InstallmentFilter{})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
