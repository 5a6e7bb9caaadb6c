/**
 * @description
 * HTTP router for the rental-finance service.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: routing and middleware.
 * - github.com/go-chi/cors: CORS handling.
 * - github.com/prometheus/client_golang: metrics endpoint.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the authentication and rate-limit settings of the router.
type RouterConfig struct {
	JWTSecret                string
	JWTIssuer                string
	InternalAPIKey           string
	Limiter                  RateLimiter
	TenantRateLimitPerMinute int
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Server-to-server routes for schedulers and sibling services.
	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/penalties/run", h.RunPenalties)
		r.Post("/tenants/{tenantID}/penalties/run", h.RunTenantPenalties)
		r.Post("/installments/extend", h.ExtendInstallments)
		r.Post("/document-counters/next", h.NextDocumentNumber)
	})

	r.Group(func(r chi.Router) {
		r.Use(TenantAuthMiddleware(cfg.JWTSecret, cfg.JWTIssuer))
		r.Use(TenantRateLimitMiddleware(cfg.Limiter, cfg.TenantRateLimitPerMinute))

		r.Route("/leases", func(r chi.Router) {
			r.Post("/", h.CreateLease)
			r.Get("/", h.ListLeases)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetLease)
				r.Post("/installments/generate", h.GenerateInstallments)
				r.Get("/installments", h.ListInstallments)
				r.Get("/deposit", h.GetDeposit)
				r.Post("/deposit/collect", h.CollectDeposit)
				r.Post("/deposit/refund", h.RefundDeposit)
				r.Post("/deposit/deduct", h.DeductDeposit)
			})
		})

		r.Route("/installments/{id}", func(r chi.Router) {
			r.Get("/", h.GetInstallment)
			r.Post("/penalty/evaluate", h.EvaluateInstallmentPenalty)
			r.Get("/allocations", h.ListInstallmentAllocations)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePayment)
			r.Get("/", h.ListPayments)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetPayment)
				r.Patch("/status", h.UpdatePaymentStatus)
				r.Post("/allocations", h.AllocatePayment)
				r.Get("/allocations", h.ListPaymentAllocations)
			})
		})

		r.Post("/documents", h.IssueDocument)
	})

	return r
}
