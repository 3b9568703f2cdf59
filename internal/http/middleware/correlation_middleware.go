package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
)

const correlationHeader = "X-Correlation-ID"

// CorrelationID accepts the caller's correlation id or mints one, then
// carries it through the request context and echoes it on the response
// so clients can stitch their logs to ours.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		ctx := observability.WithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
