package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/http/response"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/security"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
	ActorContextKey  contextKey = "actor"
)

const actorHeader = "X-Actor"

// ActorMiddleware resolves the acting identity recorded against audit
// entries. A presented bearer token must verify; tokenless requests may
// name themselves through the X-Actor header. Anonymous requests pass
// through and are attributed downstream as the system actor.
func ActorMiddleware(parser *security.ActorTokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var raw string
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				raw = strings.TrimSpace(auth[7:])
			}

			ctx := r.Context()
			switch {
			case raw != "" && parser != nil:
				claims, err := parser.Parse(raw)
				if err != nil {
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid actor token", nil)
					return
				}
				ctx = context.WithValue(ctx, ClaimsContextKey, claims)
				ctx = context.WithValue(ctx, ActorContextKey, claims.Actor())
			case raw != "":
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "actor tokens are not enabled", nil)
				return
			default:
				if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
					ctx = context.WithValue(ctx, ActorContextKey, actor)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

// ActorFromContext returns the resolved actor, or "" when the request
// carried no identity.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(ActorContextKey).(string)
	return actor
}
