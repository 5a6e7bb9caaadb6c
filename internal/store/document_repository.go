package store

import (
	"context"
	"encoding/json"
	"log"

	"github.com/jackc/pgx/v5"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

const documentColumns = `
	id::text, tenant_id, doc_type, source_key, period_key, number, status,
	file_ref, content_hash, failure_reason, context::text, issued_by, issued_at, updated_at`

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		d           domain.Document
		contextJSON string
	)
	if err := row.Scan(
		&d.ID,
		&d.TenantID,
		&d.DocType,
		&d.SourceKey,
		&d.PeriodKey,
		&d.Number,
		&d.Status,
		&d.FileRef,
		&d.ContentHash,
		&d.FailureReason,
		&contextJSON,
		&d.IssuedBy,
		&d.IssuedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if contextJSON != "" {
		if err := json.Unmarshal([]byte(contextJSON), &d.Context); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

const nextNumberSQL = `
	INSERT INTO document_counters (tenant_id, doc_type, period_key, last_number)
	VALUES ($1, $2, $3, 1)
	ON CONFLICT (tenant_id, doc_type, period_key)
	DO UPDATE SET last_number = document_counters.last_number + 1, updated_at = NOW()
	RETURNING last_number`

// NextDocumentNumber atomically increments the counter for the key, creating it at 1.
func (r *PostgresRepository) NextDocumentNumber(ctx context.Context, tenantID string, docType domain.DocumentType, periodKey string) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, nextNumberSQL, tenantID, docType, periodKey).Scan(&n); err != nil {
		return 0, classify("store.NextDocumentNumber", "document counter", err)
	}
	return n, nil
}

// CreateDocument records an issued document. An existing document for the same source is
// returned with created=false and no number is consumed. With useCounter the number is drawn
// from the counter inside the same transaction, so a rolled-back issue leaves no gap.
func (r *PostgresRepository) CreateDocument(ctx context.Context, doc domain.Document, useCounter bool) (*domain.Document, bool, error) {
	const op = "store.CreateDocument"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, domain.Fatal(op, err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanDocument(tx.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE tenant_id = $1 AND doc_type = $2 AND source_key = $3
	`, doc.TenantID, doc.DocType, doc.SourceKey))
	if err == nil {
		return existing, false, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, classify(op, "document", err)
	}

	if useCounter {
		var n int64
		if err := tx.QueryRow(ctx, nextNumberSQL, doc.TenantID, doc.DocType, doc.PeriodKey).Scan(&n); err != nil {
			return nil, false, classify(op, "document counter", err)
		}
		doc.Number = doc.DocType.FormatNumber(doc.PeriodKey, n)
	}

	contextJSON, err := json.Marshal(doc.Context)
	if err != nil {
		return nil, false, domain.Fatal(op, err)
	}

	created, err := scanDocument(tx.QueryRow(ctx, `
		INSERT INTO documents (tenant_id, doc_type, source_key, period_key, number, status, context, issued_by, issued_at)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', $6::jsonb, $7, $8)
		RETURNING `+documentColumns,
		doc.TenantID, doc.DocType, doc.SourceKey, doc.PeriodKey, doc.Number, string(contextJSON), doc.IssuedBy, doc.IssuedAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			tx.Rollback(ctx)
			log.Printf("level=info component=store msg=\"document issue race resolved by re-fetch\" tenant_id=%s source_key=%s", doc.TenantID, doc.SourceKey)
			winner, err := r.GetDocumentBySource(ctx, doc.TenantID, doc.DocType, doc.SourceKey)
			if err != nil {
				return nil, false, err
			}
			return winner, false, nil
		}
		return nil, false, classify(op, "document", err)
	}

	event := domain.DocumentIssuedEvent{
		TenantID:   created.TenantID,
		DocumentID: created.ID,
		DocType:    created.DocType,
		SourceKey:  created.SourceKey,
		Number:     created.Number,
	}
	if err := r.enqueue(ctx, tx, domain.OutboxEvent{RoutingKey: domain.EventDocumentIssued, Payload: event}); err != nil {
		return nil, false, domain.Fatal(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, domain.Fatal(op, err)
	}
	return created, true, nil
}

// GetDocumentBySource returns the document issued for a source.
func (r *PostgresRepository) GetDocumentBySource(ctx context.Context, tenantID string, docType domain.DocumentType, sourceKey string) (*domain.Document, error) {
	doc, err := scanDocument(r.db.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE tenant_id = $1 AND doc_type = $2 AND source_key = $3
	`, tenantID, docType, sourceKey))
	if err != nil {
		return nil, classify("store.GetDocumentBySource", "document", err)
	}
	return doc, nil
}

// MarkDocumentRendered stores the renderer's file reference and hash.
func (r *PostgresRepository) MarkDocumentRendered(ctx context.Context, tenantID, documentID string, result domain.RenderResult) (*domain.Document, error) {
	doc, err := scanDocument(r.db.QueryRow(ctx, `
		UPDATE documents
		SET status = 'RENDERED', file_ref = $3, content_hash = $4, failure_reason = NULL, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+documentColumns,
		tenantID, documentID, result.FileRef, result.ContentHash,
	))
	if err != nil {
		return nil, classify("store.MarkDocumentRendered", "document", err)
	}
	return doc, nil
}

// MarkDocumentFailed records a rendering failure; the number stays assigned.
func (r *PostgresRepository) MarkDocumentFailed(ctx context.Context, tenantID, documentID, reason string) (*domain.Document, error) {
	reason = truncateReason(reason)
	doc, err := scanDocument(r.db.QueryRow(ctx, `
		UPDATE documents
		SET status = 'FAILED', failure_reason = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+documentColumns,
		tenantID, documentID, reason,
	))
	if err != nil {
		return nil, classify("store.MarkDocumentFailed", "document", err)
	}
	return doc, nil
}
