package domain

import (
	"fmt"
	"time"
)

// DocumentType identifies a numbered document series.
type DocumentType string

const (
	DocLeaseContract DocumentType = "LEASE_CONTRACT"
	DocReceipt       DocumentType = "RECEIPT"
	DocStatement     DocumentType = "STATEMENT"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocLeaseContract, DocReceipt, DocStatement:
		return true
	}
	return false
}

// PeriodKey returns the counter period for t: "YYYY" for lease contracts, "YYYY-MM" otherwise.
func (t DocumentType) PeriodKey(at time.Time) string {
	if t == DocLeaseContract {
		return fmt.Sprintf("%04d", at.Year())
	}
	return fmt.Sprintf("%04d-%02d", at.Year(), int(at.Month()))
}

func (t DocumentType) prefix() string {
	switch t {
	case DocLeaseContract:
		return "LC"
	case DocReceipt:
		return "RCT"
	case DocStatement:
		return "STM"
	}
	return "DOC"
}

// FormatNumber renders a counter value as a document number, e.g. RCT-2025-01-000042.
func (t DocumentType) FormatNumber(periodKey string, n int64) string {
	return fmt.Sprintf("%s-%s-%06d", t.prefix(), periodKey, n)
}

// DocumentCounter is the per tenant/type/period sequence row.
type DocumentCounter struct {
	TenantID   string       `json:"tenant_id"`
	DocType    DocumentType `json:"doc_type"`
	PeriodKey  string       `json:"period_key"`
	LastNumber int64        `json:"last_number"`
}

// DocumentStatus is the rendering state of an issued document.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "PENDING"
	DocumentRendered DocumentStatus = "RENDERED"
	DocumentFailed   DocumentStatus = "FAILED"
)

// Document is an issued, numbered document. Rendering happens after the number is committed.
type Document struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	DocType       DocumentType      `json:"doc_type"`
	SourceKey     string            `json:"source_key"`
	PeriodKey     string            `json:"period_key"`
	Number        string            `json:"number"`
	Status        DocumentStatus    `json:"status"`
	FileRef       *string           `json:"file_ref,omitempty"`
	ContentHash   *string           `json:"content_hash,omitempty"`
	FailureReason *string           `json:"failure_reason,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
	IssuedBy      string            `json:"issued_by"`
	IssuedAt      time.Time         `json:"issued_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IssueDocumentParams identifies the document to issue.
type IssueDocumentParams struct {
	DocType DocumentType
	// SourceID is the lease id for contracts and statements, the payment id for receipts.
	SourceID string
	// Period is required for statements ("YYYY-MM").
	Period string
}

// RenderRequest is what the external renderer receives.
type RenderRequest struct {
	TenantID  string            `json:"tenant_id"`
	DocType   DocumentType      `json:"doc_type"`
	SourceKey string            `json:"source_key"`
	Number    string            `json:"number"`
	Context   map[string]string `json:"context"`
}

// RenderResult is what the external renderer returns.
type RenderResult struct {
	FileRef     string `json:"file_ref"`
	ContentHash string `json:"content_hash"`
}
