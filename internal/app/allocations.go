package app

import (
	"context"
	"log"
	"strings"

	"github.com/immotopia/rental-finance-service/internal/billing"
	"github.com/immotopia/rental-finance-service/internal/domain"
	"github.com/immotopia/rental-finance-service/internal/metrics"
)

// AllocatePayment distributes the unallocated balance of a payment over installments in
// priority order. The whole call is one transaction in the repository.
func (s Service) AllocatePayment(ctx context.Context, tenantID, actorID, paymentID string, params domain.AllocateParams) (*domain.AllocationResult, error) {
	const op = "app.AllocatePayment"
	if err := requireTenant(op, tenantID); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(params.InstallmentIDs))
	seen := make(map[string]bool, len(params.InstallmentIDs))
	for _, id := range params.InstallmentIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for id := range params.Amounts {
		if len(ids) > 0 && !seen[id] {
			return nil, domain.InvalidInput(op, "manual amount given for installment "+id+" that was not selected")
		}
		if err := domain.CheckMoney(op, "manual amount for installment "+id, params.Amounts[id]); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	result, err := s.repo.AllocatePayment(ctx, tenantID, actorID, paymentID, ids, billing.Planner(params.Amounts, s.today()), now)
	if err != nil {
		metrics.AllocationsApplied.WithLabelValues(string(domain.KindOf(err))).Inc()
		if domain.KindOf(err) == domain.KindFatal {
			log.Printf("level=error component=allocations msg=\"allocation failed\" tenant_id=%s payment_id=%s err=%v", tenantID, paymentID, err)
		}
		return nil, err
	}

	metrics.AllocationsApplied.WithLabelValues("applied").Inc()
	metrics.InstallmentsPaid.Add(float64(len(result.NewlyPaid)))
	log.Printf("level=info component=allocations msg=\"payment allocated\" tenant_id=%s payment_id=%s total=%s unallocated=%s installments=%d",
		tenantID, paymentID, result.Total.String(), result.Unallocated.String(), len(result.Allocations))
	return result, nil
}

// ListAllocations returns allocations filtered by payment or installment.
func (s Service) ListAllocations(ctx context.Context, tenantID string, filter domain.AllocationFilter) ([]domain.PaymentAllocation, error) {
	if err := requireTenant("app.ListAllocations", tenantID); err != nil {
		return nil, err
	}
	return s.repo.ListAllocations(ctx, tenantID, filter)
}
