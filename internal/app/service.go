/**
 * @description
 * Core business logic for the rental-finance service. The `Service` struct orchestrates
 * lease registration, installment generation, payment recording and allocation, penalties,
 * security deposits and document numbering on top of a transactional repository.
 *
 * Key features:
 * - Every operation is scoped to a tenant and validated before it reaches the store.
 * - Calendar decisions are made in the business timezone and stored as civil dates.
 * - Domain events are written to the outbox by the repository in the same transaction.
 */
package app

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/immotopia/rental-finance-service/internal/billing"
	"github.com/immotopia/rental-finance-service/internal/domain"
)

// Repository defines the datastore operations the service needs. Each mutating method is
// atomic: it either commits every row and outbox event it touches or none of them.
type Repository interface {
	CreateLease(ctx context.Context, lease domain.Lease) (*domain.Lease, error)
	GetLease(ctx context.Context, tenantID, leaseID string) (*domain.Lease, error)
	ListLeases(ctx context.Context, tenantID string, filter domain.LeaseFilter, page domain.Page) ([]domain.Lease, error)
	ListOpenEndedLeases(ctx context.Context, afterID string, limit int) ([]domain.Lease, error)

	InsertInstallments(ctx context.Context, lease domain.Lease, installments []domain.Installment, skipExisting bool) ([]domain.Installment, error)
	GetInstallment(ctx context.Context, tenantID, installmentID string) (*domain.Installment, error)
	ListInstallments(ctx context.Context, tenantID, leaseID string, filter domain.InstallmentFilter) ([]domain.Installment, error)
	ListPenaltyCandidates(ctx context.Context, tenantID *string, asOf time.Time, afterID string, limit int) ([]domain.PenaltyCandidate, error)
	UpdatePenalty(ctx context.Context, tenantID, installmentID string, penalty decimal.Decimal, asOf time.Time) (raised bool, markedOverdue bool, err error)

	CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, bool, error)
	GetPaymentByIdempotencyKey(ctx context.Context, tenantID, key string) (*domain.Payment, error)
	GetPayment(ctx context.Context, tenantID, paymentID string) (*domain.Payment, error)
	ListPayments(ctx context.Context, tenantID string, filter domain.PaymentFilter, page domain.Page) ([]domain.Payment, error)
	UpdatePaymentStatus(ctx context.Context, tenantID, paymentID string, status domain.PaymentStatus, at time.Time) (*domain.Payment, bool, error)

	AllocatePayment(ctx context.Context, tenantID, actorID, paymentID string, installmentIDs []string, plan domain.AllocationPlanner, now time.Time) (*domain.AllocationResult, error)
	ListAllocations(ctx context.Context, tenantID string, filter domain.AllocationFilter) ([]domain.PaymentAllocation, error)

	GetDeposit(ctx context.Context, tenantID, leaseID string) (*domain.SecurityDeposit, error)
	CollectDeposit(ctx context.Context, tenantID, leaseID, actorID string, amount decimal.Decimal, at time.Time) (*domain.SecurityDeposit, error)
	RecordDepositOutflow(ctx context.Context, tenantID, leaseID, actorID string, movementType domain.MovementType, amount decimal.Decimal, reason *string, at time.Time) (*domain.SecurityDeposit, error)

	NextDocumentNumber(ctx context.Context, tenantID string, docType domain.DocumentType, periodKey string) (int64, error)
	CreateDocument(ctx context.Context, doc domain.Document, useCounter bool) (*domain.Document, bool, error)
	GetDocumentBySource(ctx context.Context, tenantID string, docType domain.DocumentType, sourceKey string) (*domain.Document, error)
	MarkDocumentRendered(ctx context.Context, tenantID, documentID string, result domain.RenderResult) (*domain.Document, error)
	MarkDocumentFailed(ctx context.Context, tenantID, documentID, reason string) (*domain.Document, error)
}

// DocumentRenderer turns an issued document into a stored file.
type DocumentRenderer interface {
	Render(ctx context.Context, req domain.RenderRequest) (*domain.RenderResult, error)
}

// Service provides the rental-finance business logic.
type Service struct {
	repo              Repository
	renderer          DocumentRenderer
	loc               *time.Location
	now               func() time.Time
	horizonMonths     int
	autoIssueReceipts bool
	batchSize         int
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithOpenEndedHorizon sets how many months ahead open-ended leases are billed.
func WithOpenEndedHorizon(months int) Option {
	return func(s *Service) {
		if months > 0 {
			s.horizonMonths = months
		}
	}
}

// WithAutoIssueReceipts issues a receipt for every newly recorded successful payment.
func WithAutoIssueReceipts(enabled bool) Option {
	return func(s *Service) { s.autoIssueReceipts = enabled }
}

// WithBatchSize sets the page size used by batch jobs.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewService creates a new rental-finance service. renderer may be nil, in which case
// issued documents stay PENDING.
func NewService(repo Repository, renderer DocumentRenderer, timezone string, opts ...Option) Service {
	s := Service{
		repo:          repo,
		renderer:      renderer,
		loc:           loadLocation(timezone),
		now:           time.Now,
		horizonMonths: 3,
		batchSize:     200,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func loadLocation(timezone string) *time.Location {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Printf("WARN: invalid timezone %q, defaulting to UTC", timezone)
		return time.UTC
	}
	return loc
}

// today is the current civil date in the business timezone.
func (s Service) today() time.Time {
	return billing.Date(s.now(), s.loc)
}

// Today exposes the business date used for penalty and allocation decisions.
func (s Service) Today() time.Time {
	return s.today()
}

func requireTenant(op, tenantID string) error {
	if tenantID == "" {
		return domain.InvalidInput(op, "tenant id is required")
	}
	return nil
}
