package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

// statusForKind maps an error kind to its HTTP status.
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAlreadyExists, domain.KindInvalidState, domain.KindConcurrencyConflict:
		return http.StatusConflict
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Kind   domain.Kind       `json:"kind,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeServiceError answers with the status of err's kind. Fatal details stay in the logs.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		log.Printf("level=error component=api msg=\"request failed\" method=%s path=%s err=%v", r.Method, r.URL.Path, err)
		writeJSON(w, status, errorResponse{Error: "Internal server error", Kind: domain.KindFatal})
		return
	}

	message := err.Error()
	var domainErr *domain.Error
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		message = domainErr.Message
	}
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// writeValidationError reports failing DTO fields by their validation tag.
func writeValidationError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request payload", Kind: domain.KindInvalidInput})
		return
	}

	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Validation failed", Kind: domain.KindInvalidInput, Fields: fields})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
