package app

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/immotopia/rental-finance-service/internal/domain"
	"github.com/immotopia/rental-finance-service/internal/metrics"
)

// CreatePayment records a payment at most once per idempotency key. A replayed key returns the
// stored payment unchanged with created=false and no side effects.
func (s Service) CreatePayment(ctx context.Context, tenantID, actorID string, params domain.CreatePaymentParams) (*domain.Payment, bool, error) {
	const op = "app.CreatePayment"
	if err := requireTenant(op, tenantID); err != nil {
		return nil, false, err
	}
	params.IdempotencyKey = strings.TrimSpace(params.IdempotencyKey)
	params.Currency = strings.ToUpper(strings.TrimSpace(params.Currency))
	if err := params.Validate(); err != nil {
		return nil, false, err
	}

	existing, err := s.repo.GetPaymentByIdempotencyKey(ctx, tenantID, params.IdempotencyKey)
	if err == nil {
		metrics.PaymentsRecorded.WithLabelValues(string(existing.Method), "true").Inc()
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	payment := domain.Payment{
		TenantID:       tenantID,
		LeaseID:        params.LeaseID,
		RenterID:       params.RenterID,
		Method:         params.Method,
		Details:        params.Details,
		Amount:         params.Amount,
		Currency:       params.Currency,
		IdempotencyKey: params.IdempotencyKey,
		Status:         domain.PaymentPending,
		RecordedBy:     actorID,
	}

	if params.LeaseID != nil {
		lease, err := s.repo.GetLease(ctx, tenantID, *params.LeaseID)
		if err != nil {
			return nil, false, err
		}
		if lease.Currency != payment.Currency {
			return nil, false, domain.InvalidInput(op, "payment currency "+payment.Currency+" does not match lease currency "+lease.Currency)
		}
		if payment.RenterID == nil {
			renterID := lease.RenterID
			payment.RenterID = &renterID
		}
	}

	now := s.now().UTC()
	payment.InitiatedAt = now
	status := params.Status
	if status == "" {
		status = domain.PaymentSuccess
	}
	payment.StampStatus(status, now)

	stored, created, err := s.repo.CreatePayment(ctx, payment)
	if err != nil {
		if domain.KindOf(err) == domain.KindFatal {
			log.Printf("level=error component=payments msg=\"record payment failed\" tenant_id=%s idempotency_key=%s err=%v", tenantID, params.IdempotencyKey, err)
		}
		return nil, false, err
	}
	metrics.PaymentsRecorded.WithLabelValues(string(stored.Method), strconv.FormatBool(!created)).Inc()
	if !created {
		return stored, false, nil
	}

	log.Printf("level=info component=payments msg=\"payment recorded\" tenant_id=%s payment_id=%s amount=%s currency=%s", tenantID, stored.ID, stored.Amount.String(), stored.Currency)
	if s.autoIssueReceipts && stored.Status == domain.PaymentSuccess {
		s.issueReceipt(ctx, tenantID, actorID, stored.ID)
	}
	return stored, true, nil
}

// issueReceipt runs after the payment committed; failures are logged and never surface.
func (s Service) issueReceipt(ctx context.Context, tenantID, actorID, paymentID string) {
	_, err := s.IssueDocument(ctx, tenantID, actorID, domain.IssueDocumentParams{DocType: domain.DocReceipt, SourceID: paymentID})
	if err != nil {
		log.Printf("level=warn component=payments msg=\"receipt issue failed\" tenant_id=%s payment_id=%s err=%v", tenantID, paymentID, err)
	}
}

// UpdatePaymentStatus moves a payment to status. The matching timestamp is stamped only on the
// first transition into that status; repeating the current status changes nothing.
func (s Service) UpdatePaymentStatus(ctx context.Context, tenantID, paymentID string, status domain.PaymentStatus) (*domain.Payment, error) {
	const op = "app.UpdatePaymentStatus"
	if err := requireTenant(op, tenantID); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, domain.InvalidInput(op, "unsupported payment status "+string(status))
	}

	payment, changed, err := s.repo.UpdatePaymentStatus(ctx, tenantID, paymentID, status, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.PaymentStatusChanges.WithLabelValues(string(status)).Inc()
		log.Printf("level=info component=payments msg=\"payment status changed\" tenant_id=%s payment_id=%s status=%s", tenantID, paymentID, status)
	}
	return payment, nil
}

// GetPayment returns one payment owned by the tenant.
func (s Service) GetPayment(ctx context.Context, tenantID, paymentID string) (*domain.Payment, error) {
	if err := requireTenant("app.GetPayment", tenantID); err != nil {
		return nil, err
	}
	return s.repo.GetPayment(ctx, tenantID, paymentID)
}

// ListPayments returns the tenant's payments newest first.
func (s Service) ListPayments(ctx context.Context, tenantID string, filter domain.PaymentFilter, page domain.Page) ([]domain.Payment, error) {
	const op = "app.ListPayments"
	if err := requireTenant(op, tenantID); err != nil {
		return nil, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, domain.InvalidInput(op, "date range end precedes its start")
	}
	return s.repo.ListPayments(ctx, tenantID, filter, page.Normalize())
}
