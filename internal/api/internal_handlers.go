package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

// RunPenalties handles POST /internal/penalties/run for every tenant.
func (h *Handler) RunPenalties(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOfDate(w, r)
	if !ok {
		return
	}
	result, err := h.service.RunPenalties(r.Context(), asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RunTenantPenalties handles POST /internal/tenants/{tenantID}/penalties/run.
func (h *Handler) RunTenantPenalties(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenantID is required")
		return
	}
	asOf, ok := h.asOfDate(w, r)
	if !ok {
		return
	}
	result, err := h.service.RunTenantPenalties(r.Context(), tenantID, asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ExtendInstallments handles POST /internal/installments/extend.
func (h *Handler) ExtendInstallments(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOfDate(w, r)
	if !ok {
		return
	}
	result, err := h.service.ExtendOpenEndedLeases(r.Context(), asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type nextNumberRequest struct {
	TenantID  string `json:"tenant_id" validate:"required"`
	DocType   string `json:"doc_type" validate:"required,oneof=LEASE_CONTRACT RECEIPT STATEMENT"`
	PeriodKey string `json:"period_key,omitempty"`
}

type nextNumberResponse struct {
	Number    int64  `json:"number"`
	Formatted string `json:"formatted"`
}

// NextDocumentNumber handles POST /internal/document-counters/next for callers that number
// documents outside this service.
func (h *Handler) NextDocumentNumber(w http.ResponseWriter, r *http.Request) {
	var req nextNumberRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	n, formatted, err := h.service.NextNumber(r.Context(), req.TenantID, domain.DocumentType(req.DocType), req.PeriodKey)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nextNumberResponse{Number: n, Formatted: formatted})
}
