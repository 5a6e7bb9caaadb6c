package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

const leaseColumns = `
	id::text, tenant_id, property_id, renter_id, owner_id, lease_number, status,
	start_date, end_date, billing_frequency, due_day_of_month, currency,
	rent_amount, service_charge_amount, security_deposit_amount,
	penalty_grace_days, penalty_mode, penalty_rate, penalty_cap, min_balance_threshold,
	created_by, created_at, updated_at`

func scanLease(row rowScanner) (*domain.Lease, error) {
	var lease domain.Lease
	if err := row.Scan(
		&lease.ID,
		&lease.TenantID,
		&lease.PropertyID,
		&lease.RenterID,
		&lease.OwnerID,
		&lease.LeaseNumber,
		&lease.Status,
		&lease.StartDate,
		&lease.EndDate,
		&lease.BillingFrequency,
		&lease.DueDayOfMonth,
		&lease.Currency,
		&lease.RentAmount,
		&lease.ServiceChargeAmount,
		&lease.SecurityDepositAmount,
		&lease.PenaltyGraceDays,
		&lease.PenaltyMode,
		&lease.PenaltyRate,
		&lease.PenaltyCap,
		&lease.MinBalanceThreshold,
		&lease.CreatedBy,
		&lease.CreatedAt,
		&lease.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &lease, nil
}

// CreateLease inserts the lease and its empty security deposit in one transaction.
func (r *PostgresRepository) CreateLease(ctx context.Context, lease domain.Lease) (*domain.Lease, error) {
	const op = "store.CreateLease"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, domain.Fatal(op, err)
	}
	defer tx.Rollback(ctx)

	created, err := scanLease(tx.QueryRow(ctx, `
		INSERT INTO leases (
			tenant_id, property_id, renter_id, owner_id, lease_number, status,
			start_date, end_date, billing_frequency, due_day_of_month, currency,
			rent_amount, service_charge_amount, security_deposit_amount,
			penalty_grace_days, penalty_mode, penalty_rate, penalty_cap, min_balance_threshold,
			created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING `+leaseColumns,
		lease.TenantID,
		lease.PropertyID,
		lease.RenterID,
		lease.OwnerID,
		lease.LeaseNumber,
		lease.Status,
		lease.StartDate,
		lease.EndDate,
		lease.BillingFrequency,
		lease.DueDayOfMonth,
		lease.Currency,
		lease.RentAmount,
		lease.ServiceChargeAmount,
		lease.SecurityDepositAmount,
		lease.PenaltyGraceDays,
		lease.PenaltyMode,
		lease.PenaltyRate,
		lease.PenaltyCap,
		lease.MinBalanceThreshold,
		lease.CreatedBy,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.AlreadyExists(op, "lease number already in use")
		}
		return nil, classify(op, "lease", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO security_deposits (tenant_id, lease_id, currency, target_amount)
		VALUES ($1, $2, $3, $4)
	`, created.TenantID, created.ID, created.Currency, created.SecurityDepositAmount); err != nil {
		return nil, classify(op, "security deposit", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.Fatal(op, err)
	}
	return created, nil
}

// GetLease loads a lease scoped to its tenant.
func (r *PostgresRepository) GetLease(ctx context.Context, tenantID, leaseID string) (*domain.Lease, error) {
	lease, err := scanLease(r.db.QueryRow(ctx, `SELECT `+leaseColumns+` FROM leases WHERE tenant_id = $1 AND id = $2`, tenantID, leaseID))
	if err != nil {
		return nil, classify("store.GetLease", "lease", err)
	}
	return lease, nil
}

// ListLeases returns a tenant's leases, newest first.
func (r *PostgresRepository) ListLeases(ctx context.Context, tenantID string, filter domain.LeaseFilter, page domain.Page) ([]domain.Lease, error) {
	page = page.Normalize()

	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.PropertyID != nil {
		add("property_id = $%d", *filter.PropertyID)
	}
	if filter.RenterID != nil {
		add("renter_id = $%d", *filter.RenterID)
	}
	args = append(args, page.Limit, page.Offset)

	query := fmt.Sprintf(`SELECT %s FROM leases WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		leaseColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("store.ListLeases", "lease", err)
	}
	return collectLeases(rows)
}

// ListOpenEndedLeases pages through active leases without an end date, across tenants.
func (r *PostgresRepository) ListOpenEndedLeases(ctx context.Context, afterID string, limit int) ([]domain.Lease, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+leaseColumns+`
		FROM leases
		WHERE status = 'ACTIVE' AND end_date IS NULL AND id::text > $1
		ORDER BY id::text
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, classify("store.ListOpenEndedLeases", "lease", err)
	}
	return collectLeases(rows)
}

func collectLeases(rows pgx.Rows) ([]domain.Lease, error) {
	defer rows.Close()

	leases := []domain.Lease{}
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, domain.Fatal("store.scanLease", err)
		}
		leases = append(leases, *lease)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Fatal("store.scanLease", err)
	}
	return leases, nil
}
