package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immotopia/rental-finance-service/internal/app"
	"github.com/immotopia/rental-finance-service/internal/domain"
	"github.com/immotopia/rental-finance-service/internal/store/storetest"
)

const (
	testSecret      = "test-signing-secret"
	testInternalKey = "internal-key"
)

func newTestRouter(t *testing.T, limiter RateLimiter, perMinute int) http.Handler {
	t.Helper()
	repo := storetest.NewMemoryRepository()
	now := func() time.Time { return time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC) }
	svc := app.NewService(repo, nil, "UTC", app.WithClock(now))
	return NewRouter(NewHandler(svc), RouterConfig{
		JWTSecret:                testSecret,
		InternalAPIKey:           testInternalKey,
		Limiter:                  limiter,
		TenantRateLimitPerMinute: perMinute,
	})
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func tenantToken(t *testing.T, tenantID string) string {
	return signToken(t, testSecret, jwt.MapClaims{"sub": "agent-7", "tenant_id": tenantID})
}

type requestOption func(*http.Request)

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body interface{}, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func leaseBody() map[string]interface{} {
	return map[string]interface{}{
		"property_id":             "prop-1",
		"renter_id":               "renter-1",
		"owner_id":                "owner-1",
		"start_date":              "2025-01-01",
		"end_date":                "2025-12-31",
		"billing_frequency":       "MONTHLY",
		"due_day_of_month":        5,
		"currency":                "XOF",
		"rent_amount":             "90000",
		"security_deposit_amount": "180000",
		"penalty_grace_days":      3,
		"penalty_mode":            "FIXED_AMOUNT",
		"penalty_rate":            "5000",
	}
}

func TestHealthCheck_NoAuth(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	rec := doRequest(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTenantAuthMiddleware(t *testing.T) {
	router := newTestRouter(t, nil, 0)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{name: "missing token", token: "", want: http.StatusUnauthorized},
		{name: "wrong secret", token: signToken(t, "other-secret", jwt.MapClaims{"sub": "a", "tenant_id": "t"}), want: http.StatusUnauthorized},
		{name: "expired", token: signToken(t, testSecret, jwt.MapClaims{"sub": "a", "tenant_id": "t", "exp": time.Now().Add(-time.Hour).Unix()}), want: http.StatusUnauthorized},
		{name: "no tenant", token: signToken(t, testSecret, jwt.MapClaims{"sub": "a"}), want: http.StatusForbidden},
		{name: "valid", token: tenantToken(t, "agency-1"), want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, "/leases", tt.token, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestLeasePaymentAllocationFlow(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := tenantToken(t, "agency-1")

	rec := doRequest(t, router, http.MethodPost, "/leases", token, leaseBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lease := decode[domain.Lease](t, rec)
	assert.Equal(t, "agent-7", lease.CreatedBy)

	rec = doRequest(t, router, http.MethodPost, "/leases/"+lease.ID+"/installments/generate", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	installments := decode[[]domain.Installment](t, rec)
	require.Len(t, installments, 12)

	rec = doRequest(t, router, http.MethodPost, "/leases/"+lease.ID+"/installments/generate", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	payment := map[string]interface{}{
		"lease_id": lease.ID,
		"method":   "CASH",
		"amount":   "90000",
		"currency": "XOF",
	}
	rec = doRequest(t, router, http.MethodPost, "/payments", token, payment, withHeader("Idempotency-Key", "cash-001"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Payment](t, rec)
	assert.Equal(t, "cash-001", created.IdempotencyKey)

	rec = doRequest(t, router, http.MethodPost, "/payments", token, payment, withHeader("Idempotency-Key", "cash-001"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, created.ID, decode[domain.Payment](t, rec).ID)

	rec = doRequest(t, router, http.MethodPost, "/payments/"+created.ID+"/allocations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[domain.AllocationResult](t, rec)
	require.Len(t, result.Allocations, 1)
	assert.Equal(t, installments[0].ID, result.Allocations[0].InstallmentID)
	assert.True(t, result.Unallocated.IsZero())

	rec = doRequest(t, router, http.MethodPost, "/payments/"+created.ID+"/allocations", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/installments/"+installments[0].ID+"/allocations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.PaymentAllocation](t, rec), 1)

	rec = doRequest(t, router, http.MethodGet, "/installments/"+installments[0].ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.InstallmentPaid, decode[domain.Installment](t, rec).Status)
}

func TestCreatePayment_ValidationErrors(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := tenantToken(t, "agency-1")

	rec := doRequest(t, router, http.MethodPost, "/payments", token, map[string]interface{}{
		"method":          "CHEQUE",
		"amount":          "100",
		"currency":        "XOF",
		"idempotency_key": "k-1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, "oneof", body.Fields["Method"])

	rec = doRequest(t, router, http.MethodPost, "/payments", token, map[string]interface{}{
		"method":   "CASH",
		"amount":   "100",
		"currency": "XOF",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.KindInvalidInput, decode[errorResponse](t, rec).Kind)

	rec = doRequest(t, router, http.MethodPost, "/payments", token, map[string]interface{}{
		"method":          "CASH",
		"amount":          "100.005",
		"currency":        "XOF",
		"idempotency_key": "k-2",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, decode[errorResponse](t, rec).Error, "decimal places")
}

func TestGetLease_TenantScopedAndValidatesID(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	owner := tenantToken(t, "agency-1")
	other := tenantToken(t, "agency-2")

	rec := doRequest(t, router, http.MethodPost, "/leases", owner, leaseBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lease := decode[domain.Lease](t, rec)

	rec = doRequest(t, router, http.MethodGet, "/leases/"+lease.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/leases/not-a-uuid", owner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDepositEndpoints(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := tenantToken(t, "agency-1")

	rec := doRequest(t, router, http.MethodPost, "/leases", token, leaseBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lease := decode[domain.Lease](t, rec)
	base := "/leases/" + lease.ID + "/deposit"

	rec = doRequest(t, router, http.MethodPost, base+"/collect", token, map[string]string{"amount": "180000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodPost, base+"/collect", token, map[string]string{"amount": "180000"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, http.MethodPost, base+"/deduct", token, map[string]string{"amount": "30000", "reason": "broken window"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodPost, base+"/refund", token, map[string]string{"amount": "200000"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deposit := decode[domain.SecurityDeposit](t, rec)
	assert.Equal(t, "150000", deposit.HeldAmount.String())
}

func TestInternalRoutes_RequireKey(t *testing.T) {
	router := newTestRouter(t, nil, 0)

	rec := doRequest(t, router, http.MethodPost, "/internal/penalties/run", "", map[string]string{"as_of": "2025-01-09"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/internal/penalties/run", "", map[string]string{"as_of": "2025-01-09"},
		withHeader("X-Internal-API-Key", testInternalKey))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodPost, "/internal/document-counters/next", "",
		map[string]string{"tenant_id": "agency-1", "doc_type": "RECEIPT", "period_key": "2025-01"},
		withHeader("X-Internal-API-Key", testInternalKey))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	next := decode[nextNumberResponse](t, rec)
	assert.Equal(t, int64(1), next.Number)
	assert.Equal(t, "RCT-2025-01-000001", next.Formatted)
}

type limiterStub struct {
	count int
	err   error
	calls int
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.calls++
	return l.count, 30, l.err
}

func TestTenantRateLimitMiddleware(t *testing.T) {
	limiter := &limiterStub{count: 2}
	router := newTestRouter(t, limiter, 1)
	token := tenantToken(t, "agency-1")

	rec := doRequest(t, router, http.MethodPost, "/leases", token, leaseBody())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	rec = doRequest(t, router, http.MethodGet, "/leases", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, limiter.calls)

	limiter.err = errors.New("redis unavailable")
	rec = doRequest(t, router, http.MethodPost, "/leases", token, leaseBody())
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestStatusForKind(t *testing.T) {
	tests := map[domain.Kind]int{
		domain.KindNotFound:            http.StatusNotFound,
		domain.KindAlreadyExists:       http.StatusConflict,
		domain.KindInvalidState:        http.StatusConflict,
		domain.KindInvalidInput:        http.StatusBadRequest,
		domain.KindConcurrencyConflict: http.StatusConflict,
		domain.KindFatal:               http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusForKind(kind), kind)
	}
}
