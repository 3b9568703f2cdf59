package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/security"
)

const actorTestSecret = "0123456789abcdef0123456789abcdef"

func signActorToken(t *testing.T, email, subject string) string {
	t.Helper()
	claims := &security.Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(actorTestSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func actorEcho(t *testing.T) (http.Handler, *string) {
	t.Helper()
	var seen string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return h, &seen
}

func TestActorMiddlewareResolvesTokenActor(t *testing.T) {
	parser := security.NewActorTokenParser(actorTestSecret)
	inner, seen := actorEcho(t)
	h := ActorMiddleware(parser)(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+signActorToken(t, "alice@example.test", "user-1"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if *seen != "alice@example.test" {
		t.Fatalf("expected email actor, got %q", *seen)
	}
}

func TestActorMiddlewareFallsBackToSubject(t *testing.T) {
	parser := security.NewActorTokenParser(actorTestSecret)
	inner, seen := actorEcho(t)
	h := ActorMiddleware(parser)(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+signActorToken(t, "", "service-7"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if *seen != "service-7" {
		t.Fatalf("expected subject actor, got %q", *seen)
	}
}

func TestActorMiddlewareRejectsBadToken(t *testing.T) {
	parser := security.NewActorTokenParser(actorTestSecret)
	h := ActorMiddleware(parser)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("expected rejected token to stop the chain")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestActorMiddlewareRejectsTokenWhenParserDisabled(t *testing.T) {
	h := ActorMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("expected token against disabled parser to stop the chain")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+strings.Repeat("x", 16))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when tokens are not enabled, got %d", rr.Code)
	}
}

func TestActorMiddlewareHeaderFallback(t *testing.T) {
	inner, seen := actorEcho(t)
	h := ActorMiddleware(nil)(inner)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", nil)
	req.Header.Set(actorHeader, "  ops@example.test  ")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if *seen != "ops@example.test" {
		t.Fatalf("expected trimmed header actor, got %q", *seen)
	}
}

func TestActorMiddlewareAnonymousPassthrough(t *testing.T) {
	inner, seen := actorEcho(t)
	h := ActorMiddleware(security.NewActorTokenParser(actorTestSecret))(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if *seen != "" {
		t.Fatalf("expected empty actor for anonymous request, got %q", *seen)
	}
}
