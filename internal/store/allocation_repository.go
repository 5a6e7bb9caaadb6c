package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/immotopia/rental-finance-service/internal/billing"
	"github.com/immotopia/rental-finance-service/internal/domain"
)

const allocationColumns = `id::text, tenant_id, payment_id::text, installment_id::text, amount, currency, created_by, created_at`

func scanAllocation(row rowScanner) (*domain.PaymentAllocation, error) {
	var a domain.PaymentAllocation
	if err := row.Scan(&a.ID, &a.TenantID, &a.PaymentID, &a.InstallmentID, &a.Amount, &a.Currency, &a.CreatedBy, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// AllocatePayment runs one allocation call as a single transaction. The payment row and the
// candidate installments are locked FOR UPDATE (installments in id order), totals are read
// from committed allocations, the planner decides the new lines, and every touched
// installment is settled from its full allocation sum before commit.
func (r *PostgresRepository) AllocatePayment(
	ctx context.Context,
	tenantID, actorID, paymentID string,
	installmentIDs []string,
	plan domain.AllocationPlanner,
	now time.Time,
) (*domain.AllocationResult, error) {
	const op = "store.AllocatePayment"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, domain.Fatal(op, err)
	}
	defer tx.Rollback(ctx)

	payment, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, paymentID))
	if err != nil {
		return nil, classify(op, "payment", err)
	}
	if payment.Status != domain.PaymentSuccess {
		return nil, domain.InvalidState(op, "only successful payments can be allocated, payment is "+string(payment.Status))
	}

	var alreadyAllocated decimal.Decimal
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payment_allocations WHERE payment_id = $1`, payment.ID).Scan(&alreadyAllocated); err != nil {
		return nil, domain.Fatal(op, err)
	}

	candidates, err := lockCandidates(ctx, tx, tenantID, payment.LeaseID, installmentIDs)
	if err != nil {
		return nil, classify(op, "installment", err)
	}

	lines, err := plan(*payment, alreadyAllocated, candidates)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.AllocationCandidate, len(candidates))
	for _, c := range candidates {
		byID[c.Installment.ID] = c
	}

	result := &domain.AllocationResult{PaymentID: payment.ID, Total: decimal.Zero}
	touched := make([]string, 0, len(lines))
	for _, line := range lines {
		allocation, err := scanAllocation(tx.QueryRow(ctx, `
			INSERT INTO payment_allocations (tenant_id, payment_id, installment_id, amount, currency, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+allocationColumns,
			tenantID, payment.ID, line.InstallmentID, line.Amount, payment.Currency, actorID,
		))
		if err != nil {
			return nil, classify(op, "allocation", err)
		}
		result.Allocations = append(result.Allocations, *allocation)
		result.Total = result.Total.Add(line.Amount)
		touched = append(touched, line.InstallmentID)
	}

	var events []domain.OutboxEvent
	for _, id := range touched {
		var totalAllocated decimal.Decimal
		if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payment_allocations WHERE installment_id = $1`, id).Scan(&totalAllocated); err != nil {
			return nil, domain.Fatal(op, err)
		}

		settled, becamePaid := billing.Settle(byID[id].Installment, totalAllocated, now)
		updated, err := scanInstallment(tx.QueryRow(ctx, `
			UPDATE installments AS i
			SET amount_paid = $2, status = $3, paid_at = $4, updated_at = NOW()
			WHERE i.id = $1
			RETURNING `+installmentColumns,
			id, settled.AmountPaid, settled.Status, settled.PaidAt,
		))
		if err != nil {
			return nil, classify(op, "installment", err)
		}
		result.Installments = append(result.Installments, *updated)

		if becamePaid {
			result.NewlyPaid = append(result.NewlyPaid, id)
			events = append(events, domain.OutboxEvent{RoutingKey: domain.EventInstallmentPaid, Payload: domain.InstallmentPaidEvent{
				TenantID:      tenantID,
				LeaseID:       updated.LeaseID,
				InstallmentID: updated.ID,
				PeriodYear:    updated.PeriodYear,
				PeriodMonth:   updated.PeriodMonth,
				PaidAt:        now,
			}})
		}
	}
	result.Unallocated = payment.Amount.Sub(alreadyAllocated).Sub(result.Total)

	events = append([]domain.OutboxEvent{{RoutingKey: domain.EventAllocationApplied, Payload: domain.AllocationAppliedEvent{
		TenantID:       tenantID,
		PaymentID:      payment.ID,
		InstallmentIDs: touched,
		Total:          result.Total,
		Currency:       payment.Currency,
	}}}, events...)
	if err := r.enqueue(ctx, tx, events...); err != nil {
		return nil, domain.Fatal(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.Fatal(op, err)
	}
	return result, nil
}

// lockCandidates locks the installments an allocation may touch, restricted to the tenant and,
// when the payment references one, to its lease. Explicit ids are locked even when PAID so the
// planner can report "no allocation possible"; an empty id list selects the lease's open ones.
func lockCandidates(ctx context.Context, tx pgx.Tx, tenantID string, leaseID *string, installmentIDs []string) ([]domain.AllocationCandidate, error) {
	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case len(installmentIDs) > 0:
		rows, err = tx.Query(ctx, `
			SELECT `+installmentColumns+`
			FROM installments i
			WHERE i.tenant_id = $1
			  AND i.id = ANY($2::uuid[])
			  AND ($3::uuid IS NULL OR i.lease_id = $3)
			ORDER BY i.id
			FOR UPDATE
		`, tenantID, installmentIDs, leaseID)
	case leaseID != nil:
		rows, err = tx.Query(ctx, `
			SELECT `+installmentColumns+`
			FROM installments i
			WHERE i.tenant_id = $1 AND i.lease_id = $2 AND i.status <> 'PAID'
			ORDER BY i.id
			FOR UPDATE
		`, tenantID, *leaseID)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var (
		candidates []domain.AllocationCandidate
		ids        []string
	)
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, domain.AllocationCandidate{Installment: *inst, Allocated: decimal.Zero})
		ids = append(ids, inst.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sums, err := tx.Query(ctx, `
		SELECT installment_id::text, SUM(amount)
		FROM payment_allocations
		WHERE installment_id = ANY($1::uuid[])
		GROUP BY installment_id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer sums.Close()

	allocated := make(map[string]decimal.Decimal, len(ids))
	for sums.Next() {
		var (
			id    string
			total decimal.Decimal
		)
		if err := sums.Scan(&id, &total); err != nil {
			return nil, err
		}
		allocated[id] = total
	}
	if err := sums.Err(); err != nil {
		return nil, err
	}

	for i := range candidates {
		if total, ok := allocated[candidates[i].Installment.ID]; ok {
			candidates[i].Allocated = total
		}
	}
	return candidates, nil
}

// ListAllocations returns allocations for a payment or an installment, oldest first.
func (r *PostgresRepository) ListAllocations(ctx context.Context, tenantID string, filter domain.AllocationFilter) ([]domain.PaymentAllocation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+allocationColumns+`
		FROM payment_allocations
		WHERE tenant_id = $1
		  AND ($2::text IS NULL OR payment_id::text = $2)
		  AND ($3::text IS NULL OR installment_id::text = $3)
		ORDER BY created_at, id
	`, tenantID, filter.PaymentID, filter.InstallmentID)
	if err != nil {
		return nil, classify("store.ListAllocations", "allocation", err)
	}
	defer rows.Close()

	allocations := []domain.PaymentAllocation{}
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, domain.Fatal("store.ListAllocations", err)
		}
		allocations = append(allocations, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Fatal("store.ListAllocations", err)
	}
	return allocations, nil
}
