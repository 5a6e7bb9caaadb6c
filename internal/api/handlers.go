/**
 * @description
 * HTTP handlers for the rental-finance service. Handlers decode and validate requests,
 * resolve the tenant and actor from the authenticated context, call the application
 * service and map domain error kinds to HTTP statuses.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/go-playground/validator/v10: request DTO validation.
 * - github.com/google/uuid: identifier validation.
 * - github.com/shopspring/decimal: monetary amounts.
 */
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/immotopia/rental-finance-service/internal/app"
	"github.com/immotopia/rental-finance-service/internal/domain"
)

const dateLayout = "2006-01-02"

var validate = validator.New()

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	service app.Service
}

// NewHandler creates a new Handler.
func NewHandler(service app.Service) *Handler {
	return &Handler{service: service}
}

// principal returns the tenant and actor of the request. The auth middleware guarantees both.
func principal(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	tenantID, ok := TenantFromContext(r.Context())
	if !ok || tenantID == "" {
		writeError(w, http.StatusUnauthorized, "Tenant not found in context")
		return "", "", false
	}
	actorID, _ := ActorFromContext(r.Context())
	return tenantID, actorID, true
}

// pathID reads and validates a UUID path parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	if _, err := uuid.Parse(raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name)
		return "", false
	}
	return raw, true
}

// decodeAndValidate reads a JSON body into dst and runs its validation tags.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return decodeBody(w, r, dst, false)
}

// decodeOptional is decodeAndValidate for endpoints whose body may be empty.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return decodeBody(w, r, dst, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimSpace(raw))
}

func parsePage(r *http.Request) domain.Page {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return domain.Page{Limit: limit, Offset: offset}.Normalize()
}

func optionalQuery(r *http.Request, key string) *string {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return nil
	}
	return &value
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Leases ---

type createLeaseRequest struct {
	PropertyID            string              `json:"property_id" validate:"required"`
	RenterID              string              `json:"renter_id" validate:"required"`
	OwnerID               string              `json:"owner_id" validate:"required"`
	LeaseNumber           *string             `json:"lease_number,omitempty" validate:"omitempty,max=64"`
	Status                string              `json:"status,omitempty" validate:"omitempty,oneof=DRAFT ACTIVE ENDED TERMINATED"`
	StartDate             string              `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate               *string             `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	BillingFrequency      string              `json:"billing_frequency" validate:"required,oneof=MONTHLY QUARTERLY SEMIANNUAL ANNUAL"`
	DueDayOfMonth         int                 `json:"due_day_of_month" validate:"required,min=1,max=31"`
	Currency              string              `json:"currency" validate:"required,len=3"`
	RentAmount            decimal.Decimal     `json:"rent_amount"`
	ServiceChargeAmount   decimal.Decimal     `json:"service_charge_amount"`
	SecurityDepositAmount decimal.Decimal     `json:"security_deposit_amount"`
	PenaltyGraceDays      int                 `json:"penalty_grace_days" validate:"min=0"`
	PenaltyMode           string              `json:"penalty_mode,omitempty" validate:"omitempty,oneof=FIXED_AMOUNT PERCENT_OF_RENT PERCENT_OF_BALANCE"`
	PenaltyRate           decimal.Decimal     `json:"penalty_rate"`
	PenaltyCap            decimal.NullDecimal `json:"penalty_cap"`
	MinBalanceThreshold   decimal.NullDecimal `json:"min_balance_threshold"`
}

// CreateLease handles POST /leases.
func (h *Handler) CreateLease(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, ok := principal(w, r)
	if !ok {
		return
	}
	var req createLeaseRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date")
		return
	}
	params := domain.CreateLeaseParams{
		PropertyID:            req.PropertyID,
		RenterID:              req.RenterID,
		OwnerID:               req.OwnerID,
		LeaseNumber:           req.LeaseNumber,
		Status:                domain.LeaseStatus(req.Status),
		StartDate:             start,
		BillingFrequency:      domain.BillingFrequency(req.BillingFrequency),
		DueDayOfMonth:         req.DueDayOfMonth,
		Currency:              req.Currency,
		RentAmount:            req.RentAmount,
		ServiceChargeAmount:   req.ServiceChargeAmount,
		SecurityDepositAmount: req.SecurityDepositAmount,
		PenaltyGraceDays:      req.PenaltyGraceDays,
		PenaltyMode:           domain.PenaltyMode(req.PenaltyMode),
		PenaltyRate:           req.PenaltyRate,
		PenaltyCap:            req.PenaltyCap,
		MinBalanceThreshold:   req.MinBalanceThreshold,
	}
	if req.EndDate != nil {
		end, err := parseDate(*req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date")
			return
		}
		params.EndDate = &end
	}

	lease, err := h.service.CreateLease(r.Context(), tenantID, actorID, params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lease)
}

// ListLeases handles GET /leases.
func (h *Handler) ListLeases(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := principal(w, r)
	if !ok {
		return
	}
	filter := domain.LeaseFilter{
		PropertyID: optionalQuery(r, "property_id"),
		RenterID:   optionalQuery(r, "renter_id"),
	}
	if status := optionalQuery(r, "status"); status != nil {
		s := domain.LeaseStatus(strings.ToUpper(*status))
		if !s.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filter.Status = &s
	}

	leases, err := h.service.ListLeases(r.Context(), tenantID, filter, parsePage(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leases)
}

// GetLease handles GET /leases/{id}.
func (h *Handler) GetLease(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := principal(w, r)
	if !ok {
		return
	}
	leaseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	lease, err := h.service.GetLease(r.Context(), tenantID, leaseID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

// --- Installments ---

// GenerateInstallments handles POST /leases/{id}/installments/generate.
func (h *Handler) GenerateInstallments(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := principal(w, r)
	if !ok {
		return
	}
	leaseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	installments, err := h.service.GenerateInstallments(r.Context(), tenantID, leaseID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, installments)
}

// ListInstallments handles GET /leases/{id}/installments.
func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := principal(w, r)
	if !ok {
		return
	}
	leaseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var filter domain.InstallmentFilter
	if status := optionalQuery(r, "status"); status != nil {
		s := domain.InstallmentStatus(strings.ToUpper(*status))
		switch s {
		case domain.InstallmentDue, domain.InstallmentPartial, domain.InstallmentOverdue, domain.InstallmentPaid:
			filter.Status = &s
		default:
			writeError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
	}

	installments, err := h.service.ListInstallments(r.Context(), tenantID, leaseID, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, installments)
}

// GetInstallment handles GET /installments/{id}.
func (h *Handler) GetInstallment(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := principal(w, r)
	if !ok {
		return
	}
	installmentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	installment, err := h.service.GetInstallment(r.Context(), tenantID, installmentID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, installment)
}

type asOfRequest struct {
	AsOf string `json:"as_of,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// asOfDate reads an optional {"as_of": "YYYY-MM-DD"} body, defaulting to the business date.
func (h *Handler) asOfDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	var req asOfRequest
	if !decodeOptional(w, r, &req) {
		return time.Time{}, false
	}
	if req.AsOf == "" {
		return h.service.Today(), true
	}
	asOf, err := parseDate(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of")
		return time.Time{}, false
	}
	return asOf, true
}

// EvaluateInstallmentPenalty handles POST /installments/{id}/penalty/evaluate.
func (h *Handler) EvaluateInstallmentPenalty(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := principal(w, r)
	if !ok {
		return
	}
	installmentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	asOf, ok := h.asOfDate(w, r)
	if !ok {
		return
	}
	installment, err := h.service.EvaluateInstallmentPenalty(r.Context(), tenantID, installmentID, asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, installment)
}

// ListInstallmentAllocations handles GET /installments/{id}/allocations.
func (h *Handler) ListInstallmentAllocations(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := principal(w, r)
	if !ok {
		return
	}
	installmentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	allocations, err := h.service.ListAllocations(r.Context(), tenantID, domain.AllocationFilter{InstallmentID: &installmentID})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, allocations)
}

// --- Payments ---

type methodDetailsRequest struct {
	MobileMoneyProvider *string `json:"mobile_money_provider,omitempty"`
	MobileMoneyPhone    *string `json:"mobile_money_phone,omitempty"`
	CardLast4           *string `json:"card_last4,omitempty" validate:"omitempty,len=4,numeric"`
	PSPReference        *string `json:"psp_reference,omitempty"`
	BankReference       *string `json:"bank_reference,omitempty"`
	ReceivedBy          *string `json:"received_by,omitempty"`
}

type createPaymentRequest struct {
	LeaseID        *string              `json:"lease_id,omitempty" validate:"omitempty,uuid"`
	RenterID       *string              `json:"renter_id,omitempty"`
	Method         string               `json:"method" validate:"required,oneof=CASH MOBILE_MONEY CARD BANK_TRANSFER"`
	Details        methodDetailsRequest `json:"details"`
	Amount         decimal.Decimal      `json:"amount"`
	Currency       string               `json:"currency" validate:"required,len=3"`
	IdempotencyKey string               `json:"idempotency_key" validate:"max=128"`
	Status         string               `json:"status,omitempty" validate:"omitempty,oneof=SUCCESS PENDING"`
}

// CreatePayment handles POST /payments. A replayed idempotency key answers 200 with the
// stored payment.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, ok := principal(w, r)
	if !ok {
		return
	}
	var req createPaymentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	payment, created, err := h.service.CreatePayment(r.Context(), tenantID, actorID, domain.CreatePaymentParams{
		LeaseID:  req.LeaseID,
		RenterID: req.RenterID,
		Method:   domain.PaymentMethod(req.Method),
		Details: domain.MethodDetails{
			MobileMoneyProvider: req.Details.MobileMoneyProvider,
			MobileMoneyPhone:    req.Details.MobileMoneyPhone,
			CardLast4:           req.Details.CardLast4,
			PSPReference:        req.Details.PSPReference,
			BankReference:       req.Details.BankReference,
			ReceivedBy:          req.Details.ReceivedBy,
		},
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: key,
		Status:         domain.PaymentStatus(req.Status),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, payment)
}

// ListPayments handles GET /payments.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := principal(w, r)
	if !ok {
		return
	}
	filter := domain.PaymentFilter{
		LeaseID:  optionalQuery(r, "lease_id"),
		RenterID: optionalQuery(r, "renter_id"),
	}
	if filter.LeaseID != nil {
		if _, err := uuid.Parse(*filter.LeaseID); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid lease_id filter")
			return
		}
	}
	if status := optionalQuery(r, "status"); status != nil {
		s := domain.PaymentStatus(strings.ToUpper(*status))
		if !s.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filter.Status = &s
	}
	if method := optionalQuery(r, "method"); method != nil {
		m := domain.PaymentMethod(strings.ToUpper(*method))
		if !m.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid method filter")
			return
		}
		filter.Method = &m
	}
	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := optionalQuery(r, key)
		if raw == nil {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, *raw)
		if err != nil {
			if parsed, err = parseDate(*raw); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid "+key+" filter")
				return
			}
		}
		*dst = &parsed
	}

	payments, err := h.service.ListPayments(r.Context(), tenantID, filter, parsePage(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// GetPayment handles GET /payments/{id}.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := principal(w, r)
	if !ok {
		return
	}
	paymentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	payment, err := h.service.GetPayment(r.Context(), tenantID, paymentID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

type updatePaymentStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING SUCCESS FAILED CANCELED"`
}

// UpdatePaymentStatus handles PATCH /payments/{id}/status.
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := principal(w, r)
	if !ok {
		return
	}
	paymentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updatePaymentStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	payment, err := h.service.UpdatePaymentStatus(r.Context(), tenantID, paymentID, domain.PaymentStatus(req.Status))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

type allocatePaymentRequest struct {
	InstallmentIDs []string                   `json:"installment_ids" validate:"omitempty,dive,uuid"`
	Amounts        map[string]decimal.Decimal `json:"amounts,omitempty"`
}

// AllocatePayment handles POST /payments/{id}/allocations.
func (h *Handler) AllocatePayment(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, ok := principal(w, r)
	if !ok {
		return
	}
	paymentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req allocatePaymentRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	result, err := h.service.AllocatePayment(r.Context(), tenantID, actorID, paymentID, domain.AllocateParams{
		InstallmentIDs: req.InstallmentIDs,
		Amounts:        req.Amounts,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListPaymentAllocations handles GET /payments/{id}/allocations.
func (h *Handler) ListPaymentAllocations(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := principal(w, r)
	if !ok {
		return
	}
	paymentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	allocations, err := h.service.ListAllocations(r.Context(), tenantID, domain.AllocationFilter{PaymentID: &paymentID})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, allocations)
}

// --- Security deposits ---

type depositMovementRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason,omitempty" validate:"max=500"`
}

// GetDeposit handles GET /leases/{id}/deposit.
func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := principal(w, r)
	if !ok {
		return
	}
	leaseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	deposit, err := h.service.GetDeposit(r.Context(), tenantID, leaseID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deposit)
}

// CollectDeposit handles POST /leases/{id}/deposit/collect.
func (h *Handler) CollectDeposit(w http.ResponseWriter, r *http.Request) {
	h.depositMovement(w, r, domain.MovementCollect)
}

// RefundDeposit handles POST /leases/{id}/deposit/refund.
func (h *Handler) RefundDeposit(w http.ResponseWriter, r *http.Request) {
	h.depositMovement(w, r, domain.MovementRefund)
}

// DeductDeposit handles POST /leases/{id}/deposit/deduct.
func (h *Handler) DeductDeposit(w http.ResponseWriter, r *http.Request) {
	h.depositMovement(w, r, domain.MovementDeduction)
}

func (h *Handler) depositMovement(w http.ResponseWriter, r *http.Request, movementType domain.MovementType) {
	tenantID, actorID, ok := principal(w, r)
	if !ok {
		return
	}
	leaseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req depositMovementRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	var (
		deposit *domain.SecurityDeposit
		err     error
	)
	switch movementType {
	case domain.MovementCollect:
		deposit, err = h.service.CollectDeposit(r.Context(), tenantID, actorID, leaseID, req.Amount)
	case domain.MovementRefund:
		deposit, err = h.service.RefundDeposit(r.Context(), tenantID, actorID, leaseID, req.Amount, req.Reason)
	default:
		deposit, err = h.service.DeductDeposit(r.Context(), tenantID, actorID, leaseID, req.Amount, req.Reason)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deposit)
}

// --- Documents ---

type issueDocumentRequest struct {
	DocType  string `json:"doc_type" validate:"required,oneof=LEASE_CONTRACT RECEIPT STATEMENT"`
	SourceID string `json:"source_id" validate:"required,uuid"`
	Period   string `json:"period,omitempty" validate:"omitempty,datetime=2006-01"`
}

// IssueDocument handles POST /documents.
func (h *Handler) IssueDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, ok := principal(w, r)
	if !ok {
		return
	}
	var req issueDocumentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	doc, err := h.service.IssueDocument(r.Context(), tenantID, actorID, domain.IssueDocumentParams{
		DocType:  domain.DocumentType(req.DocType),
		SourceID: req.SourceID,
		Period:   req.Period,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
