package app

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/immotopia/rental-finance-service/internal/domain"
	"github.com/immotopia/rental-finance-service/internal/metrics"
)

// ValidPeriodKey reports whether key has the counter period shape of docType.
func ValidPeriodKey(docType domain.DocumentType, key string) bool {
	layout := "2006-01"
	if docType == domain.DocLeaseContract {
		layout = "2006"
	}
	_, err := time.Parse(layout, key)
	return err == nil
}

// NextNumber draws the next number of a counter and returns it with its formatted form.
func (s Service) NextNumber(ctx context.Context, tenantID string, docType domain.DocumentType, periodKey string) (int64, string, error) {
	const op = "app.NextNumber"
	if err := requireTenant(op, tenantID); err != nil {
		return 0, "", err
	}
	if !docType.Valid() {
		return 0, "", domain.InvalidInput(op, "unsupported document type "+string(docType))
	}
	if periodKey == "" {
		periodKey = docType.PeriodKey(s.today())
	}
	if !ValidPeriodKey(docType, periodKey) {
		return 0, "", domain.InvalidInput(op, "malformed period key "+periodKey)
	}

	n, err := s.repo.NextDocumentNumber(ctx, tenantID, docType, periodKey)
	if err != nil {
		return 0, "", err
	}
	return n, docType.FormatNumber(periodKey, n), nil
}

// IssueDocument numbers a document for its source and then asks the renderer to produce it.
// The number is committed before rendering, so a render failure only marks the document
// FAILED. Issuing again for the same source returns the same document, re-rendering it if
// the earlier attempt did not complete.
func (s Service) IssueDocument(ctx context.Context, tenantID, actorID string, params domain.IssueDocumentParams) (*domain.Document, error) {
	const op = "app.IssueDocument"
	if err := requireTenant(op, tenantID); err != nil {
		return nil, err
	}
	if !params.DocType.Valid() {
		return nil, domain.InvalidInput(op, "unsupported document type "+string(params.DocType))
	}
	params.SourceID = strings.TrimSpace(params.SourceID)
	if params.SourceID == "" {
		return nil, domain.InvalidInput(op, "source id is required")
	}

	now := s.now().UTC()
	doc := domain.Document{
		TenantID:  tenantID,
		DocType:   params.DocType,
		PeriodKey: params.DocType.PeriodKey(s.today()),
		IssuedBy:  actorID,
		IssuedAt:  now,
	}
	useCounter := true

	switch params.DocType {
	case domain.DocLeaseContract:
		lease, err := s.repo.GetLease(ctx, tenantID, params.SourceID)
		if err != nil {
			return nil, err
		}
		doc.SourceKey = "lease:" + lease.ID
		doc.Context = leaseContext(*lease)
		if lease.LeaseNumber != nil {
			doc.Number = *lease.LeaseNumber
			useCounter = false
		}

	case domain.DocReceipt:
		payment, err := s.repo.GetPayment(ctx, tenantID, params.SourceID)
		if err != nil {
			return nil, err
		}
		if payment.Status != domain.PaymentSuccess {
			return nil, domain.InvalidState(op, "receipts are issued for successful payments only")
		}
		doc.SourceKey = "payment:" + payment.ID
		doc.Context = paymentContext(*payment)

	case domain.DocStatement:
		if !ValidPeriodKey(domain.DocStatement, params.Period) {
			return nil, domain.InvalidInput(op, "statement period must be YYYY-MM")
		}
		lease, err := s.repo.GetLease(ctx, tenantID, params.SourceID)
		if err != nil {
			return nil, err
		}
		statement, err := s.statementContext(ctx, *lease, params.Period)
		if err != nil {
			return nil, err
		}
		doc.SourceKey = "lease:" + lease.ID + ":" + params.Period
		doc.Context = statement
	}

	stored, created, err := s.repo.CreateDocument(ctx, doc, useCounter)
	if err != nil {
		if domain.KindOf(err) == domain.KindFatal {
			log.Printf("level=error component=documents msg=\"issue failed\" tenant_id=%s source=%s err=%v", tenantID, doc.SourceKey, err)
		}
		return nil, err
	}
	if created {
		log.Printf("level=info component=documents msg=\"document numbered\" tenant_id=%s document_id=%s number=%s", tenantID, stored.ID, stored.Number)
	}
	if stored.Status == domain.DocumentRendered {
		return stored, nil
	}
	return s.render(ctx, stored), nil
}

// render calls the external renderer; the returned document carries the outcome.
func (s Service) render(ctx context.Context, doc *domain.Document) *domain.Document {
	if s.renderer == nil {
		metrics.DocumentsIssued.WithLabelValues(string(doc.DocType), string(doc.Status)).Inc()
		return doc
	}

	result, err := s.renderer.Render(ctx, domain.RenderRequest{
		TenantID:  doc.TenantID,
		DocType:   doc.DocType,
		SourceKey: doc.SourceKey,
		Number:    doc.Number,
		Context:   doc.Context,
	})

	var updated *domain.Document
	var markErr error
	if err != nil {
		log.Printf("level=warn component=documents msg=\"render failed\" tenant_id=%s document_id=%s err=%v", doc.TenantID, doc.ID, err)
		updated, markErr = s.repo.MarkDocumentFailed(ctx, doc.TenantID, doc.ID, err.Error())
	} else {
		updated, markErr = s.repo.MarkDocumentRendered(ctx, doc.TenantID, doc.ID, *result)
	}
	if markErr != nil {
		log.Printf("level=error component=documents msg=\"render outcome not saved\" tenant_id=%s document_id=%s err=%v", doc.TenantID, doc.ID, markErr)
		return doc
	}
	metrics.DocumentsIssued.WithLabelValues(string(updated.DocType), string(updated.Status)).Inc()
	return updated
}

func leaseContext(lease domain.Lease) map[string]string {
	ctx := map[string]string{
		"lease_id":          lease.ID,
		"property_id":       lease.PropertyID,
		"renter_id":         lease.RenterID,
		"owner_id":          lease.OwnerID,
		"start_date":        lease.StartDate.Format("2006-01-02"),
		"billing_frequency": string(lease.BillingFrequency),
		"due_day_of_month":  strconv.Itoa(lease.DueDayOfMonth),
		"currency":          lease.Currency,
		"rent_amount":       lease.RentAmount.StringFixed(2),
		"service_charge":    lease.ServiceChargeAmount.StringFixed(2),
		"security_deposit":  lease.SecurityDepositAmount.StringFixed(2),
	}
	if lease.EndDate != nil {
		ctx["end_date"] = lease.EndDate.Format("2006-01-02")
	}
	return ctx
}

func paymentContext(payment domain.Payment) map[string]string {
	ctx := map[string]string{
		"payment_id":   payment.ID,
		"method":       string(payment.Method),
		"amount":       payment.Amount.StringFixed(2),
		"currency":     payment.Currency,
		"initiated_at": payment.InitiatedAt.Format(time.RFC3339),
	}
	if payment.LeaseID != nil {
		ctx["lease_id"] = *payment.LeaseID
	}
	if payment.RenterID != nil {
		ctx["renter_id"] = *payment.RenterID
	}
	if payment.SucceededAt != nil {
		ctx["paid_at"] = payment.SucceededAt.Format(time.RFC3339)
	}
	return ctx
}

// statementContext summarizes the installments of one billing month.
func (s Service) statementContext(ctx context.Context, lease domain.Lease, period string) (map[string]string, error) {
	month, _ := time.Parse("2006-01", period)
	installments, err := s.repo.ListInstallments(ctx, lease.TenantID, lease.ID, domain.InstallmentFilter{})
	if err != nil {
		return nil, err
	}

	due, paid, penalty := decimal.Zero, decimal.Zero, decimal.Zero
	count := 0
	for _, inst := range installments {
		if inst.PeriodYear != month.Year() || inst.PeriodMonth != int(month.Month()) {
			continue
		}
		count++
		due = due.Add(inst.TotalDue())
		paid = paid.Add(inst.AmountPaid)
		penalty = penalty.Add(inst.PenaltyAmount)
	}

	statement := leaseContext(lease)
	statement["period"] = period
	statement["installments"] = strconv.Itoa(count)
	statement["total_due"] = due.StringFixed(2)
	statement["total_paid"] = paid.StringFixed(2)
	statement["total_penalty"] = penalty.StringFixed(2)
	statement["balance"] = due.Sub(paid).StringFixed(2)
	return statement, nil
}
