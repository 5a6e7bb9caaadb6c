/**
 * @description
 * Authentication, authorization and rate-limit middleware for the rental-finance API.
 *
 * The upstream authorization layer issues HS256 tokens carrying the tenant in `tenant_id`
 * and the acting user in `sub`. Server-to-server routes use the shared internal API key.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token verification.
 */
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/immotopia/rental-finance-service/internal/metrics"
)

type contextKey string

const (
	tenantIDContextKey = contextKey("tenantID")
	actorIDContextKey  = contextKey("actorID")
)

// TenantAuthMiddleware validates the bearer token and injects the tenant and actor into context.
func TenantAuthMiddleware(secret string, issuer string) func(http.Handler) http.Handler {
	key := []byte(secret)
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			tenantID, _ := claims["tenant_id"].(string)
			if strings.TrimSpace(tenantID) == "" {
				writeError(w, http.StatusForbidden, "Token carries no tenant")
				return
			}
			actorID, err := claims.GetSubject()
			if err != nil || actorID == "" {
				writeError(w, http.StatusUnauthorized, "Actor not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), tenantIDContextKey, tenantID)
			ctx = context.WithValue(ctx, actorIDContextKey, actorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || provided != requiredKey {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter counts requests in a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// TenantRateLimitMiddleware limits mutating requests per tenant. Limiter failures let the
// request through.
func TenantRateLimitMiddleware(limiter RateLimiter, perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			tenantID, ok := TenantFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), "tenant_writes", tenantID, perMinute, time.Minute)
			if err != nil {
				log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" tenant_id=%s err=%v", tenantID, err)
				next.ServeHTTP(w, r)
				return
			}
			if count > perMinute {
				metrics.RateLimited.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please retry later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TenantFromContext returns the authenticated tenant.
func TenantFromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantIDContextKey).(string)
	return tenantID, ok
}

// ActorFromContext returns the authenticated user.
func ActorFromContext(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(actorIDContextKey).(string)
	return actorID, ok
}
