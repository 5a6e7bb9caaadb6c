package app

import (
	"context"
	"log"
	"time"

	"github.com/immotopia/rental-finance-service/internal/billing"
	"github.com/immotopia/rental-finance-service/internal/domain"
	"github.com/immotopia/rental-finance-service/internal/metrics"
)

// horizonFor is the last date an open-ended lease is billed up to when evaluated on asOf.
func (s Service) horizonFor(asOf time.Time) time.Time {
	return billing.AddMonthsClamped(asOf, s.horizonMonths)
}

// GenerateInstallments expands the lease into installments. The call is all-or-nothing: if
// any period already exists the whole batch fails with AlreadyExists.
func (s Service) GenerateInstallments(ctx context.Context, tenantID, leaseID string) ([]domain.Installment, error) {
	const op = "app.GenerateInstallments"
	if err := requireTenant(op, tenantID); err != nil {
		return nil, err
	}

	lease, err := s.repo.GetLease(ctx, tenantID, leaseID)
	if err != nil {
		return nil, err
	}
	if lease.Status == domain.LeaseDraft {
		return nil, domain.InvalidState(op, "draft leases are not billed")
	}

	periods, err := billing.Schedule(*lease, s.horizonFor(s.today()))
	if err != nil {
		return nil, err
	}

	created, err := s.repo.InsertInstallments(ctx, *lease, billing.BuildInstallments(*lease, periods), false)
	if err != nil {
		if domain.KindOf(err) == domain.KindFatal {
			log.Printf("level=error component=installments msg=\"generation failed\" tenant_id=%s lease_id=%s err=%v", tenantID, leaseID, err)
		}
		return nil, err
	}
	metrics.InstallmentsGenerated.Add(float64(len(created)))
	log.Printf("level=info component=installments msg=\"installments generated\" tenant_id=%s lease_id=%s count=%d", tenantID, leaseID, len(created))
	return created, nil
}

// ExtendOpenEndedLeases appends the missing periods of every active open-ended lease up to the
// billing horizon. Existing periods are skipped; one lease failing does not stop the run.
func (s Service) ExtendOpenEndedLeases(ctx context.Context, asOf time.Time) (*domain.ExtensionResult, error) {
	asOf = billing.Civil(asOf)
	horizon := s.horizonFor(asOf)
	result := &domain.ExtensionResult{}

	afterID := ""
	for {
		leases, err := s.repo.ListOpenEndedLeases(ctx, afterID, s.batchSize)
		if err != nil {
			return result, err
		}
		if len(leases) == 0 {
			return result, nil
		}

		for _, lease := range leases {
			afterID = lease.ID
			result.LeasesScanned++

			periods, err := billing.Schedule(lease, horizon)
			if err != nil {
				result.Failed++
				log.Printf("level=warn component=installments msg=\"open-ended lease has invalid terms\" tenant_id=%s lease_id=%s err=%v", lease.TenantID, lease.ID, err)
				continue
			}
			created, err := s.repo.InsertInstallments(ctx, lease, billing.BuildInstallments(lease, periods), true)
			if err != nil {
				result.Failed++
				log.Printf("level=error component=installments msg=\"top-up failed\" tenant_id=%s lease_id=%s err=%v", lease.TenantID, lease.ID, err)
				continue
			}
			result.InstallmentsCreated += len(created)
			metrics.InstallmentsGenerated.Add(float64(len(created)))
		}

		if len(leases) < s.batchSize {
			return result, nil
		}
	}
}

// GetInstallment returns one installment owned by the tenant.
func (s Service) GetInstallment(ctx context.Context, tenantID, installmentID string) (*domain.Installment, error) {
	if err := requireTenant("app.GetInstallment", tenantID); err != nil {
		return nil, err
	}
	return s.repo.GetInstallment(ctx, tenantID, installmentID)
}

// ListInstallments returns a lease's installments in period order.
func (s Service) ListInstallments(ctx context.Context, tenantID, leaseID string, filter domain.InstallmentFilter) ([]domain.Installment, error) {
	if err := requireTenant("app.ListInstallments", tenantID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetLease(ctx, tenantID, leaseID); err != nil {
		return nil, err
	}
	return s.repo.ListInstallments(ctx, tenantID, leaseID, filter)
}
