package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

func TestNextNumber_SequentialPerPeriod(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	n, number, err := svc.NextNumber(ctx, testTenant, domain.DocReceipt, "2025-01")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, "RCT-2025-01-000001", number)

	_, number, err = svc.NextNumber(ctx, testTenant, domain.DocReceipt, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, "RCT-2025-01-000002", number)

	_, number, err = svc.NextNumber(ctx, testTenant, domain.DocReceipt, "2025-02")
	require.NoError(t, err)
	assert.Equal(t, "RCT-2025-02-000001", number)

	_, number, err = svc.NextNumber(ctx, "agency-2", domain.DocReceipt, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, "RCT-2025-01-000001", number)

	_, number, err = svc.NextNumber(ctx, testTenant, domain.DocLeaseContract, "")
	require.NoError(t, err)
	assert.Equal(t, "LC-2025-000001", number)

	_, _, err = svc.NextNumber(ctx, testTenant, domain.DocStatement, "2025")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, _, err = svc.NextNumber(ctx, testTenant, "INVOICE", "2025-01")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIssueDocument_ReceiptIsIssuedOncePerPayment(t *testing.T) {
	renderer := &rendererStub{}
	svc, _ := newTestService(t, renderer)
	ctx := context.Background()
	lease := mustLease(t, svc, yearLeaseParams())
	payment, _, err := svc.CreatePayment(ctx, testTenant, testActor, cashPayment("rcpt", lease.ID, 90000))
	require.NoError(t, err)

	doc, err := svc.IssueDocument(ctx, testTenant, testActor, domain.IssueDocumentParams{DocType: domain.DocReceipt, SourceID: payment.ID})
	require.NoError(t, err)
	assert.Equal(t, "RCT-2025-01-000001", doc.Number)
	assert.Equal(t, "payment:"+payment.ID, doc.SourceKey)
	assert.Equal(t, domain.DocumentRendered, doc.Status)
	require.NotNil(t, doc.FileRef)
	assert.Equal(t, "90000.00", doc.Context["amount"])

	again, err := svc.IssueDocument(ctx, testTenant, testActor, domain.IssueDocumentParams{DocType: domain.DocReceipt, SourceID: payment.ID})
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID)
	assert.Equal(t, doc.Number, again.Number)
	assert.Equal(t, 1, renderer.calls)
}

func TestIssueDocument_RenderFailureKeepsNumber(t *testing.T) {
	renderer := &rendererStub{err: errors.New("template missing")}
	svc, repo := newTestService(t, renderer)
	ctx := context.Background()
	lease := mustLease(t, svc, yearLeaseParams())

	doc, err := svc.IssueDocument(ctx, testTenant, testActor, domain.IssueDocumentParams{DocType: domain.DocLeaseContract, SourceID: lease.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentFailed, doc.Status)
	assert.Equal(t, "LC-2025-000001", doc.Number)
	require.NotNil(t, doc.FailureReason)
	assert.Contains(t, repo.Events(), domain.EventDocumentIssued)

	renderer.err = nil
	retried, err := svc.IssueDocument(ctx, testTenant, testActor, domain.IssueDocumentParams{DocType: domain.DocLeaseContract, SourceID: lease.ID})
	require.NoError(t, err)
	assert.Equal(t, doc.ID, retried.ID)
	assert.Equal(t, "LC-2025-000001", retried.Number)
	assert.Equal(t, domain.DocumentRendered, retried.Status)
	assert.Nil(t, retried.FailureReason)

	// The counter was not consumed by the retry.
	_, number, err := svc.NextNumber(ctx, testTenant, domain.DocLeaseContract, "2025")
	require.NoError(t, err)
	assert.Equal(t, "LC-2025-000002", number)
}

func TestIssueDocument_ContractUsesLeaseNumber(t *testing.T) {
	svc, _ := newTestService(t, nil)
	params := yearLeaseParams()
	number := "BAIL-2025-17"
	params.LeaseNumber = &number
	lease := mustLease(t, svc, params)

	doc, err := svc.IssueDocument(context.Background(), testTenant, testActor, domain.IssueDocumentParams{DocType: domain.DocLeaseContract, SourceID: lease.ID})
	require.NoError(t, err)
	assert.Equal(t, "BAIL-2025-17", doc.Number)
	assert.Equal(t, domain.DocumentPending, doc.Status)
}

func TestIssueDocument_Statement(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	lease := mustLease(t, svc, yearLeaseParams())
	mustGenerate(t, svc, lease.ID)

	_, err := svc.IssueDocument(ctx, testTenant, testActor, domain.IssueDocumentParams{DocType: domain.DocStatement, SourceID: lease.ID, Period: "January"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	doc, err := svc.IssueDocument(ctx, testTenant, testActor, domain.IssueDocumentParams{DocType: domain.DocStatement, SourceID: lease.ID, Period: "2025-01"})
	require.NoError(t, err)
	assert.Equal(t, "STM-2025-01-000001", doc.Number)
	assert.Equal(t, "lease:"+lease.ID+":2025-01", doc.SourceKey)
	assert.Equal(t, "90000.00", doc.Context["total_due"])
	assert.Equal(t, "90000.00", doc.Context["balance"])
	assert.Equal(t, "1", doc.Context["installments"])
}

func TestIssueDocument_ReceiptRequiresSuccessfulPayment(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	lease := mustLease(t, svc, yearLeaseParams())

	params := cashPayment("pending", lease.ID, 1000)
	params.Status = domain.PaymentPending
	payment, _, err := svc.CreatePayment(ctx, testTenant, testActor, params)
	require.NoError(t, err)

	_, err = svc.IssueDocument(ctx, testTenant, testActor, domain.IssueDocumentParams{DocType: domain.DocReceipt, SourceID: payment.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCreatePayment_AutoIssuesReceipt(t *testing.T) {
	renderer := &rendererStub{}
	svc, repo := newTestService(t, renderer, WithAutoIssueReceipts(true))
	ctx := context.Background()
	lease := mustLease(t, svc, yearLeaseParams())

	payment, _, err := svc.CreatePayment(ctx, testTenant, testActor, cashPayment("auto", lease.ID, 90000))
	require.NoError(t, err)

	doc, err := repo.GetDocumentBySource(ctx, testTenant, domain.DocReceipt, "payment:"+payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentRendered, doc.Status)
	assert.Equal(t, 1, renderer.calls)

	// Replays never issue a second receipt.
	_, _, err = svc.CreatePayment(ctx, testTenant, testActor, cashPayment("auto", lease.ID, 90000))
	require.NoError(t, err)
	assert.Equal(t, 1, renderer.calls)
}

func TestIssueDocument_ConcurrentIssuesShareOneNumber(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()
	lease := mustLease(t, svc, yearLeaseParams())
	payment, _, err := svc.CreatePayment(ctx, testTenant, testActor, cashPayment("rcpt-race", lease.ID, 90000))
	require.NoError(t, err)

	const callers = 8
	docs := make([]*domain.Document, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			docs[i], errs[i] = svc.IssueDocument(ctx, testTenant, testActor, domain.IssueDocumentParams{DocType: domain.DocReceipt, SourceID: payment.ID})
		}(i)
	}
	wg.Wait()

	for i := range docs {
		require.NoError(t, errs[i])
		assert.Equal(t, docs[0].ID, docs[i].ID)
		assert.Equal(t, "RCT-2025-01-000001", docs[i].Number)
	}
	issued := 0
	for _, key := range repo.Events() {
		if key == domain.EventDocumentIssued {
			issued++
		}
	}
	assert.Equal(t, 1, issued)

	_, number, err := svc.NextNumber(ctx, testTenant, domain.DocReceipt, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, "RCT-2025-01-000002", number)
}
