package store

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

const paymentColumns = `
	id::text, tenant_id, lease_id::text, renter_id, method,
	mobile_money_provider, mobile_money_phone, card_last4, psp_reference, bank_reference, received_by,
	amount, currency, idempotency_key, status, initiated_at, succeeded_at, failed_at, canceled_at,
	recorded_by, created_at, updated_at`

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	if err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.LeaseID,
		&p.RenterID,
		&p.Method,
		&p.Details.MobileMoneyProvider,
		&p.Details.MobileMoneyPhone,
		&p.Details.CardLast4,
		&p.Details.PSPReference,
		&p.Details.BankReference,
		&p.Details.ReceivedBy,
		&p.Amount,
		&p.Currency,
		&p.IdempotencyKey,
		&p.Status,
		&p.InitiatedAt,
		&p.SucceededAt,
		&p.FailedAt,
		&p.CanceledAt,
		&p.RecordedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment inserts a payment unless its idempotency key is already taken. When a
// concurrent request wins the unique constraint the winning row is fetched and returned
// with created=false.
func (r *PostgresRepository) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, bool, error) {
	const op = "store.CreatePayment"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, domain.Fatal(op, err)
	}
	defer tx.Rollback(ctx)

	created, err := scanPayment(tx.QueryRow(ctx, `
		INSERT INTO payments (
			tenant_id, lease_id, renter_id, method,
			mobile_money_provider, mobile_money_phone, card_last4, psp_reference, bank_reference, received_by,
			amount, currency, idempotency_key, status, initiated_at, succeeded_at, recorded_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT ON CONSTRAINT payments_tenant_idempotency_key DO NOTHING
		RETURNING `+paymentColumns,
		payment.TenantID,
		payment.LeaseID,
		payment.RenterID,
		payment.Method,
		payment.Details.MobileMoneyProvider,
		payment.Details.MobileMoneyPhone,
		payment.Details.CardLast4,
		payment.Details.PSPReference,
		payment.Details.BankReference,
		payment.Details.ReceivedBy,
		payment.Amount,
		payment.Currency,
		payment.IdempotencyKey,
		payment.Status,
		payment.InitiatedAt,
		payment.SucceededAt,
		payment.RecordedBy,
	))
	if err == pgx.ErrNoRows {
		tx.Rollback(ctx)
		log.Printf("level=info component=store msg=\"idempotency key race resolved by re-fetch\" tenant_id=%s key=%s", payment.TenantID, payment.IdempotencyKey)
		winner, err := r.GetPaymentByIdempotencyKey(ctx, payment.TenantID, payment.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, classify(op, "payment", err)
	}

	event := domain.PaymentRecordedEvent{
		TenantID:  created.TenantID,
		PaymentID: created.ID,
		LeaseID:   created.LeaseID,
		Method:    created.Method,
		Amount:    created.Amount,
		Currency:  created.Currency,
		Status:    created.Status,
		ActorID:   created.RecordedBy,
	}
	if err := r.enqueue(ctx, tx, domain.OutboxEvent{RoutingKey: domain.EventPaymentRecorded, Payload: event}); err != nil {
		return nil, false, domain.Fatal(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, domain.Fatal(op, err)
	}
	return created, true, nil
}

// GetPaymentByIdempotencyKey returns the payment recorded under key.
func (r *PostgresRepository) GetPaymentByIdempotencyKey(ctx context.Context, tenantID, key string) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tenant_id = $1 AND idempotency_key = $2`, tenantID, key))
	if err != nil {
		return nil, classify("store.GetPaymentByIdempotencyKey", "payment", err)
	}
	return p, nil
}

// GetPayment loads one payment scoped to its tenant.
func (r *PostgresRepository) GetPayment(ctx context.Context, tenantID, paymentID string) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tenant_id = $1 AND id = $2`, tenantID, paymentID))
	if err != nil {
		return nil, classify("store.GetPayment", "payment", err)
	}
	return p, nil
}

// ListPayments returns a tenant's payments newest first.
func (r *PostgresRepository) ListPayments(ctx context.Context, tenantID string, filter domain.PaymentFilter, page domain.Page) ([]domain.Payment, error) {
	page = page.Normalize()

	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.LeaseID != nil {
		add("lease_id = $%d", *filter.LeaseID)
	}
	if filter.RenterID != nil {
		add("renter_id = $%d", *filter.RenterID)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.Method != nil {
		add("method = $%d", *filter.Method)
	}
	if filter.From != nil {
		add("initiated_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("initiated_at < $%d", *filter.To)
	}
	args = append(args, page.Limit, page.Offset)

	query := fmt.Sprintf(`SELECT %s FROM payments WHERE %s ORDER BY initiated_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		paymentColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("store.ListPayments", "payment", err)
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.Fatal("store.ListPayments", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Fatal("store.ListPayments", err)
	}
	return payments, nil
}

// UpdatePaymentStatus locks the payment, validates the transition and stamps the matching
// timestamp only if it is still empty. A repeat of the current status changes nothing.
func (r *PostgresRepository) UpdatePaymentStatus(ctx context.Context, tenantID, paymentID string, status domain.PaymentStatus, at time.Time) (*domain.Payment, bool, error) {
	const op = "store.UpdatePaymentStatus"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, domain.Fatal(op, err)
	}
	defer tx.Rollback(ctx)

	current, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, paymentID))
	if err != nil {
		return nil, false, classify(op, "payment", err)
	}

	var allocated bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_allocations WHERE payment_id = $1)`, current.ID).Scan(&allocated); err != nil {
		return nil, false, domain.Fatal(op, err)
	}

	noop, err := domain.CheckTransition(current.Status, status, allocated)
	if err != nil {
		return nil, false, err
	}
	if noop {
		return current, false, nil
	}

	from := current.Status
	current.StampStatus(status, at)

	updated, err := scanPayment(tx.QueryRow(ctx, `
		UPDATE payments
		SET status = $3,
			succeeded_at = COALESCE(succeeded_at, $4),
			failed_at = COALESCE(failed_at, $5),
			canceled_at = COALESCE(canceled_at, $6),
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+paymentColumns,
		tenantID, paymentID, current.Status, current.SucceededAt, current.FailedAt, current.CanceledAt,
	))
	if err != nil {
		return nil, false, classify(op, "payment", err)
	}

	event := domain.PaymentStatusChangedEvent{TenantID: tenantID, PaymentID: paymentID, From: from, To: status, ChangedAt: at}
	if err := r.enqueue(ctx, tx, domain.OutboxEvent{RoutingKey: domain.EventPaymentStatusChanged, Payload: event}); err != nil {
		return nil, false, domain.Fatal(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, domain.Fatal(op, err)
	}
	return updated, true, nil
}
