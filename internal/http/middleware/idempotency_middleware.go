package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/http/response"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
)

const (
	idempotencyHeader       = "Idempotency-Key"
	maxIdempotencyKeyLength = 128
)

const idempotencyKeyContextKey contextKey = "idempotency_key"

// RequireIdempotencyKey enforces the Idempotency-Key header on mutation
// routes. Replay detection itself lives in the service layer, keyed by
// operation and payload hash; this guard only rejects requests that
// arrive without a usable key.
func RequireIdempotencyKey(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if key == "" {
				observability.RecordIdempotencyEvent(r.Context(), scope, "missing_key")
				response.Error(w, r, http.StatusBadRequest, domain.CodeValidation, "missing Idempotency-Key header", nil)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				observability.RecordIdempotencyEvent(r.Context(), scope, "invalid_key")
				response.Error(w, r, http.StatusBadRequest, domain.CodeValidation, "Idempotency-Key header exceeds 128 characters", nil)
				return
			}
			ctx := context.WithValue(r.Context(), idempotencyKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdempotencyKeyFromContext returns the key enforced by
// RequireIdempotencyKey, or "" on routes that do not require one.
func IdempotencyKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyContextKey).(string)
	return key
}
