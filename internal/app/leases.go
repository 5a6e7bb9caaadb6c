package app

import (
	"context"
	"log"
	"strings"

	"github.com/immotopia/rental-finance-service/internal/billing"
	"github.com/immotopia/rental-finance-service/internal/domain"
)

// CreateLease registers a lease and its empty security deposit.
func (s Service) CreateLease(ctx context.Context, tenantID, actorID string, params domain.CreateLeaseParams) (*domain.Lease, error) {
	const op = "app.CreateLease"
	if err := requireTenant(op, tenantID); err != nil {
		return nil, err
	}

	status := params.Status
	if status == "" {
		status = domain.LeaseActive
	}
	if !status.Valid() {
		return nil, domain.InvalidInput(op, "unsupported lease status "+string(status))
	}
	penaltyMode := params.PenaltyMode
	if penaltyMode == "" {
		penaltyMode = domain.PenaltyFixedAmount
	}

	var leaseNumber *string
	if params.LeaseNumber != nil {
		if trimmed := strings.TrimSpace(*params.LeaseNumber); trimmed != "" {
			leaseNumber = &trimmed
		}
	}

	lease := domain.Lease{
		TenantID:              tenantID,
		PropertyID:            strings.TrimSpace(params.PropertyID),
		RenterID:              strings.TrimSpace(params.RenterID),
		OwnerID:               strings.TrimSpace(params.OwnerID),
		LeaseNumber:           leaseNumber,
		Status:                status,
		StartDate:             params.StartDate,
		BillingFrequency:      params.BillingFrequency,
		DueDayOfMonth:         params.DueDayOfMonth,
		Currency:              strings.ToUpper(strings.TrimSpace(params.Currency)),
		RentAmount:            params.RentAmount,
		ServiceChargeAmount:   params.ServiceChargeAmount,
		SecurityDepositAmount: params.SecurityDepositAmount,
		PenaltyGraceDays:      params.PenaltyGraceDays,
		PenaltyMode:           penaltyMode,
		PenaltyRate:           params.PenaltyRate,
		PenaltyCap:            params.PenaltyCap,
		MinBalanceThreshold:   params.MinBalanceThreshold,
		CreatedBy:             actorID,
	}
	if !params.StartDate.IsZero() {
		lease.StartDate = billing.Civil(params.StartDate)
	}
	if params.EndDate != nil {
		end := billing.Civil(*params.EndDate)
		lease.EndDate = &end
	}

	switch {
	case lease.PropertyID == "":
		return nil, domain.InvalidInput(op, "property id is required")
	case lease.RenterID == "":
		return nil, domain.InvalidInput(op, "renter id is required")
	case lease.OwnerID == "":
		return nil, domain.InvalidInput(op, "owner id is required")
	case lease.SecurityDepositAmount.IsNegative():
		return nil, domain.InvalidInput(op, "security deposit cannot be negative")
	}
	if err := lease.ValidateBillingTerms(); err != nil {
		return nil, err
	}
	if err := lease.ValidatePenaltyTerms(); err != nil {
		return nil, err
	}

	created, err := s.repo.CreateLease(ctx, lease)
	if err != nil {
		if domain.KindOf(err) == domain.KindFatal {
			log.Printf("level=error component=leases msg=\"create lease failed\" tenant_id=%s property_id=%s err=%v", tenantID, lease.PropertyID, err)
		}
		return nil, err
	}
	log.Printf("level=info component=leases msg=\"lease created\" tenant_id=%s lease_id=%s", tenantID, created.ID)
	return created, nil
}

// GetLease returns a lease owned by the tenant.
func (s Service) GetLease(ctx context.Context, tenantID, leaseID string) (*domain.Lease, error) {
	if err := requireTenant("app.GetLease", tenantID); err != nil {
		return nil, err
	}
	return s.repo.GetLease(ctx, tenantID, leaseID)
}

// ListLeases returns the tenant's leases, newest first.
func (s Service) ListLeases(ctx context.Context, tenantID string, filter domain.LeaseFilter, page domain.Page) ([]domain.Lease, error) {
	if err := requireTenant("app.ListLeases", tenantID); err != nil {
		return nil, err
	}
	return s.repo.ListLeases(ctx, tenantID, filter, page.Normalize())
}
