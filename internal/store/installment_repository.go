package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

const installmentColumns = `
	i.id::text, i.tenant_id, i.lease_id::text, i.period_year, i.period_month, i.due_date, i.status,
	i.currency, i.amount_rent, i.amount_service, i.amount_other_fees, i.penalty_amount, i.amount_paid,
	i.paid_at, i.created_at, i.updated_at`

func scanInstallment(row rowScanner, extra ...any) (*domain.Installment, error) {
	var inst domain.Installment
	dest := []any{
		&inst.ID,
		&inst.TenantID,
		&inst.LeaseID,
		&inst.PeriodYear,
		&inst.PeriodMonth,
		&inst.DueDate,
		&inst.Status,
		&inst.Currency,
		&inst.AmountRent,
		&inst.AmountService,
		&inst.AmountOtherFees,
		&inst.PenaltyAmount,
		&inst.AmountPaid,
		&inst.PaidAt,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &inst, nil
}

// InsertInstallments stores generated installments for a lease. With skipExisting false any
// existing (lease, year, month) triple aborts the whole batch with AlreadyExists; with
// skipExisting true existing periods are left untouched and only new rows are returned.
func (r *PostgresRepository) InsertInstallments(ctx context.Context, lease domain.Lease, installments []domain.Installment, skipExisting bool) ([]domain.Installment, error) {
	const op = "store.InsertInstallments"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, domain.Fatal(op, err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO installments AS i (
			tenant_id, lease_id, period_year, period_month, due_date, status, currency,
			amount_rent, amount_service, amount_other_fees, penalty_amount, amount_paid
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if skipExisting {
		query += ` ON CONFLICT ON CONSTRAINT installments_lease_period_key DO NOTHING`
	}
	query += ` RETURNING ` + installmentColumns

	created := make([]domain.Installment, 0, len(installments))
	for _, inst := range installments {
		row, err := scanInstallment(tx.QueryRow(ctx, query,
			lease.TenantID,
			lease.ID,
			inst.PeriodYear,
			inst.PeriodMonth,
			inst.DueDate,
			inst.Status,
			inst.Currency,
			inst.AmountRent,
			inst.AmountService,
			inst.AmountOtherFees,
			inst.PenaltyAmount,
			inst.AmountPaid,
		))
		if err != nil {
			if skipExisting && err == pgx.ErrNoRows {
				continue
			}
			if isUniqueViolation(err) {
				return nil, domain.AlreadyExists(op, "installment period already generated for lease "+lease.ID)
			}
			return nil, classify(op, "installment", err)
		}
		created = append(created, *row)
	}

	if len(created) > 0 {
		event := domain.InstallmentsGeneratedEvent{TenantID: lease.TenantID, LeaseID: lease.ID, Count: len(created)}
		if err := r.enqueue(ctx, tx, domain.OutboxEvent{RoutingKey: domain.EventInstallmentsCreated, Payload: event}); err != nil {
			return nil, domain.Fatal(op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.Fatal(op, err)
	}
	return created, nil
}

// GetInstallment loads one installment scoped to its tenant.
func (r *PostgresRepository) GetInstallment(ctx context.Context, tenantID, installmentID string) (*domain.Installment, error) {
	inst, err := scanInstallment(r.db.QueryRow(ctx, `SELECT `+installmentColumns+` FROM installments i WHERE i.tenant_id = $1 AND i.id = $2`, tenantID, installmentID))
	if err != nil {
		return nil, classify("store.GetInstallment", "installment", err)
	}
	return inst, nil
}

// ListInstallments returns a lease's installments in period order.
func (r *PostgresRepository) ListInstallments(ctx context.Context, tenantID, leaseID string, filter domain.InstallmentFilter) ([]domain.Installment, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+installmentColumns+`
		FROM installments i
		WHERE i.tenant_id = $1 AND i.lease_id = $2 AND ($3::text IS NULL OR i.status = $3)
		ORDER BY i.period_year, i.period_month
	`, tenantID, leaseID, status)
	if err != nil {
		return nil, classify("store.ListInstallments", "installment", err)
	}
	defer rows.Close()

	installments := []domain.Installment{}
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, domain.Fatal("store.ListInstallments", err)
		}
		installments = append(installments, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Fatal("store.ListInstallments", err)
	}
	return installments, nil
}

// ListPenaltyCandidates pages through unpaid installments due before asOf, joined to their
// lease terms. A nil tenantID scans every tenant.
func (r *PostgresRepository) ListPenaltyCandidates(ctx context.Context, tenantID *string, asOf time.Time, afterID string, limit int) ([]domain.PenaltyCandidate, error) {
	const op = "store.ListPenaltyCandidates"
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+installmentColumns+`,
			l.penalty_grace_days, l.penalty_mode, l.penalty_rate, l.penalty_cap, l.min_balance_threshold,
			l.rent_amount, l.currency
		FROM installments i
		JOIN leases l ON l.id = i.lease_id
		WHERE i.status <> 'PAID'
		  AND i.due_date < $1::date
		  AND ($2::text IS NULL OR i.tenant_id = $2)
		  AND i.id::text > $3
		ORDER BY i.id::text
		LIMIT $4
	`, asOf, tenantID, afterID, limit)
	if err != nil {
		return nil, classify(op, "installment", err)
	}
	defer rows.Close()

	candidates := []domain.PenaltyCandidate{}
	for rows.Next() {
		var lease domain.Lease
		inst, err := scanInstallment(rows,
			&lease.PenaltyGraceDays,
			&lease.PenaltyMode,
			&lease.PenaltyRate,
			&lease.PenaltyCap,
			&lease.MinBalanceThreshold,
			&lease.RentAmount,
			&lease.Currency,
		)
		if err != nil {
			return nil, domain.Fatal(op, err)
		}
		lease.ID = inst.LeaseID
		lease.TenantID = inst.TenantID
		candidates = append(candidates, domain.PenaltyCandidate{Installment: *inst, Lease: lease})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Fatal(op, err)
	}
	return candidates, nil
}

// UpdatePenalty raises the penalty of an unpaid installment and moves DUE to OVERDUE once
// its due date is behind asOf. The guards make the update a no-op when an allocation has
// settled the installment in the meantime or a larger penalty is already stored.
func (r *PostgresRepository) UpdatePenalty(ctx context.Context, tenantID, installmentID string, penalty decimal.Decimal, asOf time.Time) (bool, bool, error) {
	const op = "store.UpdatePenalty"

	var penaltyRaised, markedOverdue bool
	err := r.db.QueryRow(ctx, `
		WITH target AS (
			SELECT id, status, penalty_amount
			FROM installments
			WHERE tenant_id = $1 AND id = $2 AND status <> 'PAID'
			FOR UPDATE
		)
		UPDATE installments AS i
		SET penalty_amount = GREATEST(t.penalty_amount, $3::numeric),
			status = CASE WHEN t.status = 'DUE' AND i.due_date < $4::date THEN 'OVERDUE' ELSE t.status END,
			updated_at = NOW()
		FROM target t
		WHERE i.id = t.id
		  AND ($3::numeric > t.penalty_amount OR (t.status = 'DUE' AND i.due_date < $4::date))
		RETURNING $3::numeric > t.penalty_amount, t.status = 'DUE' AND i.status = 'OVERDUE'
	`, tenantID, installmentID, penalty, asOf).Scan(&penaltyRaised, &markedOverdue)
	if err == pgx.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, classify(op, "installment", err)
	}
	return penaltyRaised, markedOverdue, nil
}
