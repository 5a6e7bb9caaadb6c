package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

const depositColumns = `
	id::text, tenant_id, lease_id::text, currency, target_amount, collected_amount, held_amount,
	collected_at, created_at, updated_at`

func scanDeposit(row rowScanner) (*domain.SecurityDeposit, error) {
	var d domain.SecurityDeposit
	if err := row.Scan(
		&d.ID,
		&d.TenantID,
		&d.LeaseID,
		&d.Currency,
		&d.TargetAmount,
		&d.CollectedAmount,
		&d.HeldAmount,
		&d.CollectedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadMovements(ctx context.Context, q querier, depositID string) ([]domain.DepositMovement, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, tenant_id, deposit_id::text, type, amount, reason, actor_id, created_at
		FROM deposit_movements
		WHERE deposit_id = $1
		ORDER BY created_at, id
	`, depositID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := []domain.DepositMovement{}
	for rows.Next() {
		var m domain.DepositMovement
		if err := rows.Scan(&m.ID, &m.TenantID, &m.DepositID, &m.Type, &m.Amount, &m.Reason, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// GetDeposit returns the lease's deposit with its movement ledger.
func (r *PostgresRepository) GetDeposit(ctx context.Context, tenantID, leaseID string) (*domain.SecurityDeposit, error) {
	const op = "store.GetDeposit"

	deposit, err := scanDeposit(r.db.QueryRow(ctx, `SELECT `+depositColumns+` FROM security_deposits WHERE tenant_id = $1 AND lease_id = $2`, tenantID, leaseID))
	if err != nil {
		return nil, classify(op, "security deposit", err)
	}
	if deposit.Movements, err = loadMovements(ctx, r.db, deposit.ID); err != nil {
		return nil, domain.Fatal(op, err)
	}
	return deposit, nil
}

// CollectDeposit moves collectedAmount from 0 to amount. The conditional update is the
// serialization point; a second collect finds no zero row and fails AlreadyExists.
func (r *PostgresRepository) CollectDeposit(ctx context.Context, tenantID, leaseID, actorID string, amount decimal.Decimal, at time.Time) (*domain.SecurityDeposit, error) {
	const op = "store.CollectDeposit"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, domain.Fatal(op, err)
	}
	defer tx.Rollback(ctx)

	deposit, err := scanDeposit(tx.QueryRow(ctx, `
		UPDATE security_deposits
		SET collected_amount = $3, held_amount = $3, collected_at = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND lease_id = $2 AND collected_amount = 0
		RETURNING `+depositColumns,
		tenantID, leaseID, amount, at,
	))
	if err == pgx.ErrNoRows {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM security_deposits WHERE tenant_id = $1 AND lease_id = $2)`, tenantID, leaseID).Scan(&exists); err != nil {
			return nil, classify(op, "security deposit", err)
		}
		if exists {
			return nil, domain.AlreadyExists(op, "deposit already collected")
		}
		return nil, domain.NotFound(op, "security deposit not found")
	}
	if err != nil {
		return nil, classify(op, "security deposit", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO deposit_movements (tenant_id, deposit_id, type, amount, actor_id, created_at)
		VALUES ($1, $2, 'COLLECT', $3, $4, $5)
	`, tenantID, deposit.ID, amount, actorID, at); err != nil {
		if isUniqueViolation(err) {
			return nil, domain.AlreadyExists(op, "deposit already collected")
		}
		return nil, classify(op, "deposit movement", err)
	}

	event := domain.DepositMovementEvent{
		TenantID:  tenantID,
		LeaseID:   leaseID,
		DepositID: deposit.ID,
		Type:      domain.MovementCollect,
		Amount:    amount,
		Held:      deposit.HeldAmount,
	}
	if err := r.enqueue(ctx, tx, domain.OutboxEvent{RoutingKey: domain.EventDepositCollected, Payload: event}); err != nil {
		return nil, domain.Fatal(op, err)
	}

	if deposit.Movements, err = loadMovements(ctx, tx, deposit.ID); err != nil {
		return nil, domain.Fatal(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, domain.Fatal(op, err)
	}
	return deposit, nil
}

// RecordDepositOutflow appends a refund or deduction. The deposit row is locked, the held
// amount is derived from the ledger, and the cached held_amount is refreshed in the same
// transaction.
func (r *PostgresRepository) RecordDepositOutflow(
	ctx context.Context,
	tenantID, leaseID, actorID string,
	movementType domain.MovementType,
	amount decimal.Decimal,
	reason *string,
	at time.Time,
) (*domain.SecurityDeposit, error) {
	const op = "store.RecordDepositOutflow"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, domain.Fatal(op, err)
	}
	defer tx.Rollback(ctx)

	deposit, err := scanDeposit(tx.QueryRow(ctx, `SELECT `+depositColumns+` FROM security_deposits WHERE tenant_id = $1 AND lease_id = $2 FOR UPDATE`, tenantID, leaseID))
	if err != nil {
		return nil, classify(op, "security deposit", err)
	}
	if !deposit.CollectedAmount.IsPositive() {
		return nil, domain.InvalidState(op, "deposit has not been collected")
	}

	movements, err := loadMovements(ctx, tx, deposit.ID)
	if err != nil {
		return nil, domain.Fatal(op, err)
	}
	held := domain.HeldFromLedger(deposit.CollectedAmount, movements)
	if amount.GreaterThan(held) {
		return nil, domain.InvalidState(op, "amount exceeds held deposit of "+held.String())
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO deposit_movements (tenant_id, deposit_id, type, amount, reason, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tenantID, deposit.ID, movementType, amount, reason, actorID, at); err != nil {
		return nil, classify(op, "deposit movement", err)
	}

	held = held.Sub(amount)
	updated, err := scanDeposit(tx.QueryRow(ctx, `
		UPDATE security_deposits SET held_amount = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+depositColumns,
		deposit.ID, held,
	))
	if err != nil {
		return nil, classify(op, "security deposit", err)
	}

	event := domain.DepositMovementEvent{
		TenantID:  tenantID,
		LeaseID:   leaseID,
		DepositID: deposit.ID,
		Type:      movementType,
		Amount:    amount,
		Held:      held,
	}
	if err := r.enqueue(ctx, tx, domain.OutboxEvent{RoutingKey: domain.EventDepositMovement, Payload: event}); err != nil {
		return nil, domain.Fatal(op, err)
	}

	if updated.Movements, err = loadMovements(ctx, tx, deposit.ID); err != nil {
		return nil, domain.Fatal(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, domain.Fatal(op, err)
	}
	return updated, nil
}
