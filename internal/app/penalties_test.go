package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

func day(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 0, 0, 0, 0, time.UTC)
}

func TestRunPenalties_GraceBoundary(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	lease := mustLease(t, svc, yearLeaseParams())
	january := mustGenerate(t, svc, lease.ID)[0]

	// Three days late with three grace days: nothing is charged.
	result, err := svc.RunPenalties(ctx, day(time.January, 8))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Evaluated)
	assert.Zero(t, result.Updated)

	inst, err := svc.GetInstallment(ctx, testTenant, january.ID)
	require.NoError(t, err)
	assert.True(t, inst.PenaltyAmount.IsZero())
	assert.Equal(t, domain.InstallmentDue, inst.Status)

	result, err = svc.RunPenalties(ctx, day(time.January, 9))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.MarkedOverdue)

	inst, err = svc.GetInstallment(ctx, testTenant, january.ID)
	require.NoError(t, err)
	assert.True(t, inst.PenaltyAmount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, domain.InstallmentOverdue, inst.Status)
	assert.True(t, inst.TotalDue().Equal(decimal.NewFromInt(95000)))
}

func TestRunPenalties_RerunDoesNotCompound(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	lease := mustLease(t, svc, yearLeaseParams())
	january := mustGenerate(t, svc, lease.ID)[0]

	for i := 0; i < 3; i++ {
		_, err := svc.RunPenalties(ctx, day(time.January, 20))
		require.NoError(t, err)
	}
	again, err := svc.RunPenalties(ctx, day(time.January, 20))
	require.NoError(t, err)
	assert.Zero(t, again.Updated)
	assert.Zero(t, again.MarkedOverdue)

	inst, err := svc.GetInstallment(ctx, testTenant, january.ID)
	require.NoError(t, err)
	assert.True(t, inst.PenaltyAmount.Equal(decimal.NewFromInt(5000)))
}

func TestRunPenalties_PercentOfBalanceNeverDecreases(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	params := yearLeaseParams()
	params.PenaltyMode = domain.PenaltyPercentOfBalance
	params.PenaltyRate = decimal.RequireFromString("0.10")
	params.PenaltyCap = decimal.NewNullDecimal(decimal.NewFromInt(7000))
	lease := mustLease(t, svc, params)
	january := mustGenerate(t, svc, lease.ID)[0]

	p1, _, err := svc.CreatePayment(ctx, testTenant, testActor, cashPayment("bal-1", lease.ID, 30000))
	require.NoError(t, err)
	_, err = svc.AllocatePayment(ctx, testTenant, testActor, p1.ID, domain.AllocateParams{InstallmentIDs: []string{january.ID}})
	require.NoError(t, err)

	_, err = svc.RunPenalties(ctx, day(time.January, 15))
	require.NoError(t, err)
	inst, err := svc.GetInstallment(ctx, testTenant, january.ID)
	require.NoError(t, err)
	assert.True(t, inst.PenaltyAmount.Equal(decimal.NewFromInt(6000)), "got %s", inst.PenaltyAmount)
	assert.Equal(t, domain.InstallmentPartial, inst.Status)

	p2, _, err := svc.CreatePayment(ctx, testTenant, testActor, cashPayment("bal-2", lease.ID, 30000))
	require.NoError(t, err)
	_, err = svc.AllocatePayment(ctx, testTenant, testActor, p2.ID, domain.AllocateParams{InstallmentIDs: []string{january.ID}})
	require.NoError(t, err)

	_, err = svc.RunPenalties(ctx, day(time.January, 16))
	require.NoError(t, err)
	inst, err = svc.GetInstallment(ctx, testTenant, january.ID)
	require.NoError(t, err)
	assert.True(t, inst.PenaltyAmount.Equal(decimal.NewFromInt(6000)))
	assert.True(t, inst.Outstanding().Equal(decimal.NewFromInt(36000)))
}

func TestRunPenalties_SkipsPaidInstallments(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	lease := mustLease(t, svc, yearLeaseParams())
	january := mustGenerate(t, svc, lease.ID)[0]

	p, _, err := svc.CreatePayment(ctx, testTenant, testActor, cashPayment("paid", lease.ID, 90000))
	require.NoError(t, err)
	_, err = svc.AllocatePayment(ctx, testTenant, testActor, p.ID, domain.AllocateParams{})
	require.NoError(t, err)

	result, err := svc.RunPenalties(ctx, day(time.January, 20))
	require.NoError(t, err)
	assert.Zero(t, result.Evaluated)

	inst, err := svc.GetInstallment(ctx, testTenant, january.ID)
	require.NoError(t, err)
	assert.True(t, inst.PenaltyAmount.IsZero())
	assert.Equal(t, domain.InstallmentPaid, inst.Status)
}

func TestRunTenantPenalties_LeavesOtherTenantsAlone(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	lease := mustLease(t, svc, yearLeaseParams())
	january := mustGenerate(t, svc, lease.ID)[0]

	result, err := svc.RunTenantPenalties(ctx, "agency-2", day(time.January, 20))
	require.NoError(t, err)
	assert.Zero(t, result.Evaluated)

	inst, err := svc.GetInstallment(ctx, testTenant, january.ID)
	require.NoError(t, err)
	assert.True(t, inst.PenaltyAmount.IsZero())
}

func TestEvaluateInstallmentPenalty(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	lease := mustLease(t, svc, yearLeaseParams())
	january := mustGenerate(t, svc, lease.ID)[0]

	_, err := svc.EvaluateInstallmentPenalty(ctx, testTenant, january.ID, day(time.January, 7))
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	inst, err := svc.EvaluateInstallmentPenalty(ctx, testTenant, january.ID, day(time.January, 12))
	require.NoError(t, err)
	assert.True(t, inst.PenaltyAmount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, domain.InstallmentOverdue, inst.Status)

	_, err = svc.EvaluateInstallmentPenalty(ctx, testTenant, "missing", day(time.January, 12))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
