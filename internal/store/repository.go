/**
 * @description
 * PostgreSQL data access layer for the rental-finance service.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

const (
	pgUniqueViolation    = "23505"
	pgInvalidTextFormat  = "22P02"
	pgCheckViolation     = "23514"
	pgSerialization      = "40001"
	pgDeadlock           = "40P01"
	defaultEventExchange = "immotopia.events"

	maxReasonBytes = 2000
)

// PostgresRepository implements the service repository on a pgx pool.
type PostgresRepository struct {
	db       *pgxpool.Pool
	exchange string
}

// NewPostgresRepository creates a repository that enqueues its events for the given exchange.
func NewPostgresRepository(db *pgxpool.Pool, exchange string) *PostgresRepository {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = defaultEventExchange
	}
	return &PostgresRepository{db: db, exchange: exchange}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func isUniqueViolation(err error) bool {
	code, _ := pgCode(err)
	return code == pgUniqueViolation
}

// truncateReason caps a failure reason at maxReasonBytes on a rune boundary. Invalid UTF-8 is
// dropped since Postgres rejects it in TEXT columns.
func truncateReason(reason string) string {
	reason = strings.ToValidUTF8(reason, "")
	if len(reason) <= maxReasonBytes {
		return reason
	}
	cut := maxReasonBytes
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// classify maps driver errors onto domain kinds. Anything unexpected is Fatal.
func classify(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFound(op, entity+" not found")
	}
	switch code, constraint := pgCode(err); code {
	case pgInvalidTextFormat:
		return domain.NotFound(op, entity+" not found")
	case pgCheckViolation:
		return domain.InvalidState(op, "constraint "+constraint+" rejected the change")
	case pgSerialization, pgDeadlock:
		return domain.Conflict(op, entity+" changed concurrently", err)
	}
	return domain.Fatal(op, err)
}

func enqueueEventTx(ctx context.Context, tx pgx.Tx, exchange, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO event_outbox (exchange, routing_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`, exchange, strings.TrimSpace(routingKey), string(blob))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) enqueue(ctx context.Context, tx pgx.Tx, events ...domain.OutboxEvent) error {
	for _, event := range events {
		if err := enqueueEventTx(ctx, tx, r.exchange, event.RoutingKey, event.Payload); err != nil {
			return err
		}
	}
	return nil
}
