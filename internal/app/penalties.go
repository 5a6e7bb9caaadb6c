package app

import (
	"context"
	"log"
	"time"

	"github.com/immotopia/rental-finance-service/internal/billing"
	"github.com/immotopia/rental-finance-service/internal/domain"
	"github.com/immotopia/rental-finance-service/internal/metrics"
)

// RunPenalties recomputes penalties for every tenant as of the given civil date.
func (s Service) RunPenalties(ctx context.Context, asOf time.Time) (*domain.PenaltyRunResult, error) {
	return s.runPenalties(ctx, nil, asOf)
}

// RunTenantPenalties recomputes penalties for one tenant.
func (s Service) RunTenantPenalties(ctx context.Context, tenantID string, asOf time.Time) (*domain.PenaltyRunResult, error) {
	if err := requireTenant("app.RunTenantPenalties", tenantID); err != nil {
		return nil, err
	}
	return s.runPenalties(ctx, &tenantID, asOf)
}

// runPenalties pages through unpaid installments due before asOf. Reruns with the same asOf
// produce the same penalties because a penalty is only ever raised to the computed value.
func (s Service) runPenalties(ctx context.Context, tenantID *string, asOf time.Time) (*domain.PenaltyRunResult, error) {
	started := time.Now()
	defer func() { metrics.PenaltyRunDuration.Observe(time.Since(started).Seconds()) }()

	if asOf.IsZero() {
		asOf = s.today()
	}
	asOf = billing.Civil(asOf)
	result := &domain.PenaltyRunResult{AsOf: asOf}

	afterID := ""
	for {
		candidates, err := s.repo.ListPenaltyCandidates(ctx, tenantID, asOf, afterID, s.batchSize)
		if err != nil {
			return result, err
		}
		if len(candidates) == 0 {
			break
		}

		for _, c := range candidates {
			afterID = c.Installment.ID
			result.Evaluated++

			outcome := billing.EvaluatePenalty(c.Installment, c.Lease, asOf)
			if outcome.Skipped {
				result.Skipped++
				continue
			}

			raised, overdue, err := s.repo.UpdatePenalty(ctx, c.Installment.TenantID, c.Installment.ID, outcome.Penalty, asOf)
			if err != nil {
				log.Printf("level=error component=penalties msg=\"penalty update failed\" tenant_id=%s installment_id=%s err=%v", c.Installment.TenantID, c.Installment.ID, err)
				return result, err
			}
			if raised {
				result.Updated++
				metrics.PenaltiesUpdated.Inc()
			}
			if overdue {
				result.MarkedOverdue++
			}
		}

		if len(candidates) < s.batchSize {
			break
		}
	}

	log.Printf("level=info component=penalties msg=\"penalty run complete\" as_of=%s evaluated=%d updated=%d marked_overdue=%d skipped=%d",
		asOf.Format("2006-01-02"), result.Evaluated, result.Updated, result.MarkedOverdue, result.Skipped)
	return result, nil
}

// EvaluateInstallmentPenalty applies the penalty rule to a single installment and returns it.
// Inside the grace period it fails InvalidState and nothing changes.
func (s Service) EvaluateInstallmentPenalty(ctx context.Context, tenantID, installmentID string, asOf time.Time) (*domain.Installment, error) {
	const op = "app.EvaluateInstallmentPenalty"
	if err := requireTenant(op, tenantID); err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = s.today()
	}
	asOf = billing.Civil(asOf)

	inst, err := s.repo.GetInstallment(ctx, tenantID, installmentID)
	if err != nil {
		return nil, err
	}
	lease, err := s.repo.GetLease(ctx, tenantID, inst.LeaseID)
	if err != nil {
		return nil, err
	}

	outcome := billing.EvaluatePenalty(*inst, *lease, asOf)
	switch {
	case outcome.Skipped:
		return nil, domain.InvalidState(op, "installment has no outstanding balance")
	case outcome.WithinGrace:
		return nil, domain.InvalidState(op, "grace period active")
	}

	raised, _, err := s.repo.UpdatePenalty(ctx, tenantID, installmentID, outcome.Penalty, asOf)
	if err != nil {
		return nil, err
	}
	if raised {
		metrics.PenaltiesUpdated.Inc()
	}
	return s.repo.GetInstallment(ctx, tenantID, installmentID)
}
