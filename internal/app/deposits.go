package app

import (
	"context"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/immotopia/rental-finance-service/internal/domain"
	"github.com/immotopia/rental-finance-service/internal/metrics"
)

// GetDeposit returns the lease's security deposit with its ledger.
func (s Service) GetDeposit(ctx context.Context, tenantID, leaseID string) (*domain.SecurityDeposit, error) {
	if err := requireTenant("app.GetDeposit", tenantID); err != nil {
		return nil, err
	}
	return s.repo.GetDeposit(ctx, tenantID, leaseID)
}

// CollectDeposit records the one-time collection of the deposit.
func (s Service) CollectDeposit(ctx context.Context, tenantID, actorID, leaseID string, amount decimal.Decimal) (*domain.SecurityDeposit, error) {
	const op = "app.CollectDeposit"
	if err := requireTenant(op, tenantID); err != nil {
		return nil, err
	}

	current, err := s.repo.GetDeposit(ctx, tenantID, leaseID)
	if err != nil {
		return nil, err
	}
	if !current.CollectedAmount.IsZero() {
		return nil, domain.AlreadyExists(op, "deposit already collected")
	}
	if !amount.IsPositive() {
		return nil, domain.InvalidInput(op, "collected amount must be positive")
	}
	if err := domain.CheckMoney(op, "collected amount", amount); err != nil {
		return nil, err
	}
	if amount.GreaterThan(current.TargetAmount) {
		return nil, domain.InvalidInput(op, "collected amount exceeds the deposit target of "+current.TargetAmount.String())
	}

	deposit, err := s.repo.CollectDeposit(ctx, tenantID, leaseID, actorID, amount, s.now().UTC())
	if err != nil {
		return nil, err
	}
	metrics.DepositMovements.WithLabelValues(string(domain.MovementCollect)).Inc()
	log.Printf("level=info component=deposits msg=\"deposit collected\" tenant_id=%s lease_id=%s amount=%s", tenantID, leaseID, amount.String())
	return deposit, nil
}

// RefundDeposit returns part or all of the held deposit to the renter.
func (s Service) RefundDeposit(ctx context.Context, tenantID, actorID, leaseID string, amount decimal.Decimal, reason string) (*domain.SecurityDeposit, error) {
	return s.recordOutflow(ctx, tenantID, actorID, leaseID, domain.MovementRefund, amount, reason)
}

// DeductDeposit keeps part of the held deposit, e.g. for damages.
func (s Service) DeductDeposit(ctx context.Context, tenantID, actorID, leaseID string, amount decimal.Decimal, reason string) (*domain.SecurityDeposit, error) {
	return s.recordOutflow(ctx, tenantID, actorID, leaseID, domain.MovementDeduction, amount, reason)
}

func (s Service) recordOutflow(ctx context.Context, tenantID, actorID, leaseID string, movementType domain.MovementType, amount decimal.Decimal, reason string) (*domain.SecurityDeposit, error) {
	const op = "app.recordOutflow"
	if err := requireTenant(op, tenantID); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, domain.InvalidInput(op, "amount must be positive")
	}
	if err := domain.CheckMoney(op, "amount", amount); err != nil {
		return nil, err
	}

	var reasonPtr *string
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		reasonPtr = &trimmed
	} else if movementType == domain.MovementDeduction {
		return nil, domain.InvalidInput(op, "a deduction needs a reason")
	}

	deposit, err := s.repo.RecordDepositOutflow(ctx, tenantID, leaseID, actorID, movementType, amount, reasonPtr, s.now().UTC())
	if err != nil {
		return nil, err
	}
	metrics.DepositMovements.WithLabelValues(string(movementType)).Inc()
	log.Printf("level=info component=deposits msg=\"deposit movement recorded\" tenant_id=%s lease_id=%s type=%s amount=%s held=%s",
		tenantID, leaseID, movementType, amount.String(), deposit.HeldAmount.String())
	return deposit, nil
}
