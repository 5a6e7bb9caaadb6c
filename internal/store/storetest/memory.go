/**
 * @description
 * In-memory repository with the same unique constraints, row-level atomicity and outbox
 * behaviour as the PostgreSQL store. Used by service and HTTP tests.
 */
package storetest

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/immotopia/rental-finance-service/internal/billing"
	"github.com/immotopia/rental-finance-service/internal/domain"
)

type periodKey struct {
	leaseID string
	year    int
	month   int
}

type counterKey struct {
	tenantID  string
	docType   domain.DocumentType
	periodKey string
}

// MemoryRepository is safe for concurrent use; every method runs under one lock, which
// gives each call the all-or-nothing behaviour of a database transaction.
type MemoryRepository struct {
	mu sync.Mutex

	leases       map[string]domain.Lease
	installments map[string]domain.Installment
	periods      map[periodKey]string
	payments     map[string]domain.Payment
	paymentKeys  map[string]string
	allocations  []domain.PaymentAllocation
	deposits     map[string]domain.SecurityDeposit
	counters     map[counterKey]int64
	documents    map[string]domain.Document
	outbox       []domain.OutboxMessage
	published    map[int64]bool
	nextOutboxID int64

	// FailNextAllocationInsert makes the next allocation fail after planning, to exercise rollback.
	FailNextAllocationInsert error
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		leases:       map[string]domain.Lease{},
		installments: map[string]domain.Installment{},
		periods:      map[periodKey]string{},
		payments:     map[string]domain.Payment{},
		paymentKeys:  map[string]string{},
		deposits:     map[string]domain.SecurityDeposit{},
		counters:     map[counterKey]int64{},
		documents:    map[string]domain.Document{},
		published:    map[int64]bool{},
	}
}

func (m *MemoryRepository) enqueue(routingKey string, payload interface{}) {
	m.nextOutboxID++
	m.outbox = append(m.outbox, domain.OutboxMessage{
		ID:         m.nextOutboxID,
		Exchange:   "immotopia.events",
		RoutingKey: routingKey,
		Payload:    mustJSON(payload),
	})
}

// Events returns the routing keys enqueued so far, in order.
func (m *MemoryRepository) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.outbox))
	for _, msg := range m.outbox {
		keys = append(keys, msg.RoutingKey)
	}
	return keys
}

// PaymentCount returns the number of stored payments for a tenant.
func (m *MemoryRepository) PaymentCount(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.payments {
		if p.TenantID == tenantID {
			n++
		}
	}
	return n
}

// SetInstallmentDueDate rewrites a due date, for tests that need past-due installments.
func (m *MemoryRepository) SetInstallmentDueDate(id string, due time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.installments[id]
	inst.DueDate = due
	m.installments[id] = inst
}

// ---- leases ----

func (m *MemoryRepository) CreateLease(ctx context.Context, lease domain.Lease) (*domain.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lease.LeaseNumber != nil {
		for _, existing := range m.leases {
			if existing.TenantID == lease.TenantID && existing.LeaseNumber != nil && *existing.LeaseNumber == *lease.LeaseNumber {
				return nil, domain.AlreadyExists("store.CreateLease", "lease number already in use")
			}
		}
	}

	now := time.Now().UTC()
	lease.ID = uuid.NewString()
	lease.CreatedAt, lease.UpdatedAt = now, now
	m.leases[lease.ID] = lease

	m.deposits[lease.ID] = domain.SecurityDeposit{
		ID:              uuid.NewString(),
		TenantID:        lease.TenantID,
		LeaseID:         lease.ID,
		Currency:        lease.Currency,
		TargetAmount:    lease.SecurityDepositAmount,
		CollectedAmount: decimal.Zero,
		HeldAmount:      decimal.Zero,
		Movements:       []domain.DepositMovement{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return &lease, nil
}

func (m *MemoryRepository) GetLease(ctx context.Context, tenantID, leaseID string) (*domain.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lease, ok := m.leases[leaseID]
	if !ok || lease.TenantID != tenantID {
		return nil, domain.NotFound("store.GetLease", "lease not found")
	}
	return &lease, nil
}

func (m *MemoryRepository) ListLeases(ctx context.Context, tenantID string, filter domain.LeaseFilter, page domain.Page) ([]domain.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	leases := []domain.Lease{}
	for _, l := range m.leases {
		if l.TenantID != tenantID {
			continue
		}
		if filter.Status != nil && l.Status != *filter.Status {
			continue
		}
		if filter.PropertyID != nil && l.PropertyID != *filter.PropertyID {
			continue
		}
		if filter.RenterID != nil && l.RenterID != *filter.RenterID {
			continue
		}
		leases = append(leases, l)
	}
	sort.Slice(leases, func(i, j int) bool {
		if !leases[i].CreatedAt.Equal(leases[j].CreatedAt) {
			return leases[i].CreatedAt.After(leases[j].CreatedAt)
		}
		return leases[i].ID > leases[j].ID
	})
	return paginate(leases, page), nil
}

func (m *MemoryRepository) ListOpenEndedLeases(ctx context.Context, afterID string, limit int) ([]domain.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	leases := []domain.Lease{}
	for _, l := range m.leases {
		if l.Status == domain.LeaseActive && l.EndDate == nil && l.ID > afterID {
			leases = append(leases, l)
		}
	}
	sort.Slice(leases, func(i, j int) bool { return leases[i].ID < leases[j].ID })
	if limit > 0 && len(leases) > limit {
		leases = leases[:limit]
	}
	return leases, nil
}

// ---- installments ----

func (m *MemoryRepository) InsertInstallments(ctx context.Context, lease domain.Lease, installments []domain.Installment, skipExisting bool) ([]domain.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !skipExisting {
		for _, inst := range installments {
			if _, taken := m.periods[periodKey{lease.ID, inst.PeriodYear, inst.PeriodMonth}]; taken {
				return nil, domain.AlreadyExists("store.InsertInstallments", "installment period already generated for lease "+lease.ID)
			}
		}
	}

	now := time.Now().UTC()
	created := []domain.Installment{}
	for _, inst := range installments {
		key := periodKey{lease.ID, inst.PeriodYear, inst.PeriodMonth}
		if _, taken := m.periods[key]; taken {
			continue
		}
		inst.ID = uuid.NewString()
		inst.TenantID = lease.TenantID
		inst.LeaseID = lease.ID
		inst.CreatedAt, inst.UpdatedAt = now, now
		m.installments[inst.ID] = inst
		m.periods[key] = inst.ID
		created = append(created, inst)
	}
	if len(created) > 0 {
		m.enqueue(domain.EventInstallmentsCreated, domain.InstallmentsGeneratedEvent{TenantID: lease.TenantID, LeaseID: lease.ID, Count: len(created)})
	}
	return created, nil
}

func (m *MemoryRepository) GetInstallment(ctx context.Context, tenantID, installmentID string) (*domain.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.installments[installmentID]
	if !ok || inst.TenantID != tenantID {
		return nil, domain.NotFound("store.GetInstallment", "installment not found")
	}
	return &inst, nil
}

func (m *MemoryRepository) ListInstallments(ctx context.Context, tenantID, leaseID string, filter domain.InstallmentFilter) ([]domain.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.Installment{}
	for _, inst := range m.installments {
		if inst.TenantID != tenantID || inst.LeaseID != leaseID {
			continue
		}
		if filter.Status != nil && inst.Status != *filter.Status {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodYear != out[j].PeriodYear {
			return out[i].PeriodYear < out[j].PeriodYear
		}
		return out[i].PeriodMonth < out[j].PeriodMonth
	})
	return out, nil
}

func (m *MemoryRepository) ListPenaltyCandidates(ctx context.Context, tenantID *string, asOf time.Time, afterID string, limit int) ([]domain.PenaltyCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.PenaltyCandidate{}
	for _, inst := range m.installments {
		if inst.Status == domain.InstallmentPaid || !inst.DueDate.Before(asOf) || inst.ID <= afterID {
			continue
		}
		if tenantID != nil && inst.TenantID != *tenantID {
			continue
		}
		out = append(out, domain.PenaltyCandidate{Installment: inst, Lease: m.leases[inst.LeaseID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Installment.ID < out[j].Installment.ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) UpdatePenalty(ctx context.Context, tenantID, installmentID string, penalty decimal.Decimal, asOf time.Time) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.installments[installmentID]
	if !ok || inst.TenantID != tenantID || inst.Status == domain.InstallmentPaid {
		return false, false, nil
	}
	raised := penalty.GreaterThan(inst.PenaltyAmount)
	overdue := inst.Status == domain.InstallmentDue && inst.DueDate.Before(asOf)
	if raised {
		inst.PenaltyAmount = penalty
	}
	if overdue {
		inst.Status = domain.InstallmentOverdue
	}
	if raised || overdue {
		inst.UpdatedAt = time.Now().UTC()
		m.installments[installmentID] = inst
	}
	return raised, overdue, nil
}

// ---- payments ----

func (m *MemoryRepository) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := payment.TenantID + "\x00" + payment.IdempotencyKey
	if id, taken := m.paymentKeys[key]; taken {
		winner := m.payments[id]
		return &winner, false, nil
	}

	now := time.Now().UTC()
	payment.ID = uuid.NewString()
	payment.CreatedAt, payment.UpdatedAt = now, now
	m.payments[payment.ID] = payment
	m.paymentKeys[key] = payment.ID

	m.enqueue(domain.EventPaymentRecorded, domain.PaymentRecordedEvent{
		TenantID:  payment.TenantID,
		PaymentID: payment.ID,
		LeaseID:   payment.LeaseID,
		Method:    payment.Method,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Status:    payment.Status,
		ActorID:   payment.RecordedBy,
	})
	return &payment, true, nil
}

func (m *MemoryRepository) GetPaymentByIdempotencyKey(ctx context.Context, tenantID, key string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.paymentKeys[tenantID+"\x00"+key]
	if !ok {
		return nil, domain.NotFound("store.GetPaymentByIdempotencyKey", "payment not found")
	}
	p := m.payments[id]
	return &p, nil
}

func (m *MemoryRepository) GetPayment(ctx context.Context, tenantID, paymentID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.TenantID != tenantID {
		return nil, domain.NotFound("store.GetPayment", "payment not found")
	}
	return &p, nil
}

func (m *MemoryRepository) ListPayments(ctx context.Context, tenantID string, filter domain.PaymentFilter, page domain.Page) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.Payment{}
	for _, p := range m.payments {
		if p.TenantID != tenantID {
			continue
		}
		if filter.LeaseID != nil && (p.LeaseID == nil || *p.LeaseID != *filter.LeaseID) {
			continue
		}
		if filter.RenterID != nil && (p.RenterID == nil || *p.RenterID != *filter.RenterID) {
			continue
		}
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.Method != nil && p.Method != *filter.Method {
			continue
		}
		if filter.From != nil && p.InitiatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !p.InitiatedAt.Before(*filter.To) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InitiatedAt.Equal(out[j].InitiatedAt) {
			return out[i].InitiatedAt.After(out[j].InitiatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, page), nil
}

func (m *MemoryRepository) UpdatePaymentStatus(ctx context.Context, tenantID, paymentID string, status domain.PaymentStatus, at time.Time) (*domain.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[paymentID]
	if !ok || p.TenantID != tenantID {
		return nil, false, domain.NotFound("store.UpdatePaymentStatus", "payment not found")
	}

	allocated := false
	for _, a := range m.allocations {
		if a.PaymentID == paymentID {
			allocated = true
			break
		}
	}
	noop, err := domain.CheckTransition(p.Status, status, allocated)
	if err != nil {
		return nil, false, err
	}
	if noop {
		return &p, false, nil
	}

	from := p.Status
	p.StampStatus(status, at)
	p.UpdatedAt = time.Now().UTC()
	m.payments[paymentID] = p
	m.enqueue(domain.EventPaymentStatusChanged, domain.PaymentStatusChangedEvent{TenantID: tenantID, PaymentID: paymentID, From: from, To: status, ChangedAt: at})
	return &p, true, nil
}

// ---- allocations ----

func (m *MemoryRepository) AllocatePayment(
	ctx context.Context,
	tenantID, actorID, paymentID string,
	installmentIDs []string,
	plan domain.AllocationPlanner,
	now time.Time,
) (*domain.AllocationResult, error) {
	const op = "store.AllocatePayment"
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[paymentID]
	if !ok || payment.TenantID != tenantID {
		return nil, domain.NotFound(op, "payment not found")
	}
	if payment.Status != domain.PaymentSuccess {
		return nil, domain.InvalidState(op, "only successful payments can be allocated, payment is "+string(payment.Status))
	}

	already := decimal.Zero
	for _, a := range m.allocations {
		if a.PaymentID == paymentID {
			already = already.Add(a.Amount)
		}
	}

	candidates := m.candidates(tenantID, payment.LeaseID, installmentIDs)
	lines, err := plan(payment, already, candidates)
	if err != nil {
		return nil, err
	}
	if m.FailNextAllocationInsert != nil {
		err := m.FailNextAllocationInsert
		m.FailNextAllocationInsert = nil
		return nil, domain.Fatal(op, err)
	}

	// Validate the whole plan before touching state so a bad line leaves nothing behind.
	byID := map[string]domain.AllocationCandidate{}
	for _, c := range candidates {
		byID[c.Installment.ID] = c
	}
	total := decimal.Zero
	for _, line := range lines {
		c, ok := byID[line.InstallmentID]
		if !ok || !line.Amount.IsPositive() || line.Amount.GreaterThan(billing.RemainingDue(c)) {
			return nil, domain.InvalidState(op, "planned allocation violates installment totals")
		}
		total = total.Add(line.Amount)
	}
	if total.GreaterThan(payment.Amount.Sub(already)) {
		return nil, domain.InvalidState(op, "planned allocation exceeds payment balance")
	}

	result := &domain.AllocationResult{PaymentID: paymentID, Total: total}
	var touched []string
	for _, line := range lines {
		a := domain.PaymentAllocation{
			ID:            uuid.NewString(),
			TenantID:      tenantID,
			PaymentID:     paymentID,
			InstallmentID: line.InstallmentID,
			Amount:        line.Amount,
			Currency:      payment.Currency,
			CreatedBy:     actorID,
			CreatedAt:     now,
		}
		m.allocations = append(m.allocations, a)
		result.Allocations = append(result.Allocations, a)
		touched = append(touched, line.InstallmentID)
	}

	for _, id := range touched {
		sum := decimal.Zero
		for _, a := range m.allocations {
			if a.InstallmentID == id {
				sum = sum.Add(a.Amount)
			}
		}
		settled, becamePaid := billing.Settle(m.installments[id], sum, now)
		settled.UpdatedAt = now
		m.installments[id] = settled
		result.Installments = append(result.Installments, settled)
		if becamePaid {
			result.NewlyPaid = append(result.NewlyPaid, id)
		}
	}
	result.Unallocated = payment.Amount.Sub(already).Sub(total)

	m.enqueue(domain.EventAllocationApplied, domain.AllocationAppliedEvent{TenantID: tenantID, PaymentID: paymentID, InstallmentIDs: touched, Total: total, Currency: payment.Currency})
	for _, id := range result.NewlyPaid {
		inst := m.installments[id]
		m.enqueue(domain.EventInstallmentPaid, domain.InstallmentPaidEvent{TenantID: tenantID, LeaseID: inst.LeaseID, InstallmentID: id, PeriodYear: inst.PeriodYear, PeriodMonth: inst.PeriodMonth, PaidAt: now})
	}
	return result, nil
}

func (m *MemoryRepository) candidates(tenantID string, leaseID *string, installmentIDs []string) []domain.AllocationCandidate {
	var selected []domain.Installment
	switch {
	case len(installmentIDs) > 0:
		for _, id := range installmentIDs {
			inst, ok := m.installments[id]
			if !ok || inst.TenantID != tenantID {
				continue
			}
			if leaseID != nil && inst.LeaseID != *leaseID {
				continue
			}
			selected = append(selected, inst)
		}
	case leaseID != nil:
		for _, inst := range m.installments {
			if inst.TenantID == tenantID && inst.LeaseID == *leaseID && inst.Status != domain.InstallmentPaid {
				selected = append(selected, inst)
			}
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].ID < selected[j].ID })

	out := make([]domain.AllocationCandidate, 0, len(selected))
	for _, inst := range selected {
		sum := decimal.Zero
		for _, a := range m.allocations {
			if a.InstallmentID == inst.ID {
				sum = sum.Add(a.Amount)
			}
		}
		out = append(out, domain.AllocationCandidate{Installment: inst, Allocated: sum})
	}
	return out
}

func (m *MemoryRepository) ListAllocations(ctx context.Context, tenantID string, filter domain.AllocationFilter) ([]domain.PaymentAllocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.PaymentAllocation{}
	for _, a := range m.allocations {
		if a.TenantID != tenantID {
			continue
		}
		if filter.PaymentID != nil && a.PaymentID != *filter.PaymentID {
			continue
		}
		if filter.InstallmentID != nil && a.InstallmentID != *filter.InstallmentID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ---- deposits ----

func (m *MemoryRepository) GetDeposit(ctx context.Context, tenantID, leaseID string) (*domain.SecurityDeposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deposits[leaseID]
	if !ok || d.TenantID != tenantID {
		return nil, domain.NotFound("store.GetDeposit", "security deposit not found")
	}
	d.Movements = append([]domain.DepositMovement{}, d.Movements...)
	return &d, nil
}

func (m *MemoryRepository) CollectDeposit(ctx context.Context, tenantID, leaseID, actorID string, amount decimal.Decimal, at time.Time) (*domain.SecurityDeposit, error) {
	const op = "store.CollectDeposit"
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deposits[leaseID]
	if !ok || d.TenantID != tenantID {
		return nil, domain.NotFound(op, "security deposit not found")
	}
	if !d.CollectedAmount.IsZero() {
		return nil, domain.AlreadyExists(op, "deposit already collected")
	}

	d.CollectedAmount = amount
	d.CollectedAt = &at
	d.Movements = append(d.Movements, domain.DepositMovement{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		DepositID: d.ID,
		Type:      domain.MovementCollect,
		Amount:    amount,
		ActorID:   actorID,
		CreatedAt: at,
	})
	d.HeldAmount = domain.HeldFromLedger(d.CollectedAmount, d.Movements)
	d.UpdatedAt = at
	m.deposits[leaseID] = d

	m.enqueue(domain.EventDepositCollected, domain.DepositMovementEvent{TenantID: tenantID, LeaseID: leaseID, DepositID: d.ID, Type: domain.MovementCollect, Amount: amount, Held: d.HeldAmount})
	out := d
	out.Movements = append([]domain.DepositMovement{}, d.Movements...)
	return &out, nil
}

func (m *MemoryRepository) RecordDepositOutflow(
	ctx context.Context,
	tenantID, leaseID, actorID string,
	movementType domain.MovementType,
	amount decimal.Decimal,
	reason *string,
	at time.Time,
) (*domain.SecurityDeposit, error) {
	const op = "store.RecordDepositOutflow"
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deposits[leaseID]
	if !ok || d.TenantID != tenantID {
		return nil, domain.NotFound(op, "security deposit not found")
	}
	if !d.CollectedAmount.IsPositive() {
		return nil, domain.InvalidState(op, "deposit has not been collected")
	}
	held := domain.HeldFromLedger(d.CollectedAmount, d.Movements)
	if amount.GreaterThan(held) {
		return nil, domain.InvalidState(op, "amount exceeds held deposit of "+held.String())
	}

	d.Movements = append(d.Movements, domain.DepositMovement{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		DepositID: d.ID,
		Type:      movementType,
		Amount:    amount,
		Reason:    reason,
		ActorID:   actorID,
		CreatedAt: at,
	})
	d.HeldAmount = domain.HeldFromLedger(d.CollectedAmount, d.Movements)
	d.UpdatedAt = at
	m.deposits[leaseID] = d

	m.enqueue(domain.EventDepositMovement, domain.DepositMovementEvent{TenantID: tenantID, LeaseID: leaseID, DepositID: d.ID, Type: movementType, Amount: amount, Held: d.HeldAmount})
	out := d
	out.Movements = append([]domain.DepositMovement{}, d.Movements...)
	return &out, nil
}

// ---- documents ----

func (m *MemoryRepository) NextDocumentNumber(ctx context.Context, tenantID string, docType domain.DocumentType, periodKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.increment(counterKey{tenantID, docType, periodKey}), nil
}

func (m *MemoryRepository) increment(key counterKey) int64 {
	m.counters[key]++
	return m.counters[key]
}

func documentKey(tenantID string, docType domain.DocumentType, sourceKey string) string {
	return strings.Join([]string{tenantID, string(docType), sourceKey}, "\x00")
}

func (m *MemoryRepository) CreateDocument(ctx context.Context, doc domain.Document, useCounter bool) (*domain.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := documentKey(doc.TenantID, doc.DocType, doc.SourceKey)
	if existing, ok := m.documents[key]; ok {
		return &existing, false, nil
	}
	if useCounter {
		n := m.increment(counterKey{doc.TenantID, doc.DocType, doc.PeriodKey})
		doc.Number = doc.DocType.FormatNumber(doc.PeriodKey, n)
	}
	doc.ID = uuid.NewString()
	doc.Status = domain.DocumentPending
	doc.UpdatedAt = doc.IssuedAt
	m.documents[key] = doc

	m.enqueue(domain.EventDocumentIssued, domain.DocumentIssuedEvent{TenantID: doc.TenantID, DocumentID: doc.ID, DocType: doc.DocType, SourceKey: doc.SourceKey, Number: doc.Number})
	return &doc, true, nil
}

func (m *MemoryRepository) GetDocumentBySource(ctx context.Context, tenantID string, docType domain.DocumentType, sourceKey string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentKey(tenantID, docType, sourceKey)]
	if !ok {
		return nil, domain.NotFound("store.GetDocumentBySource", "document not found")
	}
	return &doc, nil
}

func (m *MemoryRepository) updateDocument(tenantID, documentID string, mutate func(*domain.Document)) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, doc := range m.documents {
		if doc.ID == documentID && doc.TenantID == tenantID {
			mutate(&doc)
			doc.UpdatedAt = time.Now().UTC()
			m.documents[key] = doc
			return &doc, nil
		}
	}
	return nil, domain.NotFound("store.updateDocument", "document not found")
}

func (m *MemoryRepository) MarkDocumentRendered(ctx context.Context, tenantID, documentID string, result domain.RenderResult) (*domain.Document, error) {
	return m.updateDocument(tenantID, documentID, func(d *domain.Document) {
		d.Status = domain.DocumentRendered
		d.FileRef = &result.FileRef
		d.ContentHash = &result.ContentHash
		d.FailureReason = nil
	})
}

func (m *MemoryRepository) MarkDocumentFailed(ctx context.Context, tenantID, documentID, reason string) (*domain.Document, error) {
	return m.updateDocument(tenantID, documentID, func(d *domain.Document) {
		d.Status = domain.DocumentFailed
		d.FailureReason = &reason
	})
}

// ---- outbox ----

func (m *MemoryRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]domain.OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.OutboxMessage{}
	for i := range m.outbox {
		if m.published[m.outbox[i].ID] {
			continue
		}
		m.outbox[i].Attempts++
		out = append(out, m.outbox[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[id] = true
	return nil
}

func (m *MemoryRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	return nil
}

func paginate[T any](items []T, page domain.Page) []T {
	page = page.Normalize()
	if page.Offset >= len(items) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}

func mustJSON(v interface{}) []byte {
	blob, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return blob
}
