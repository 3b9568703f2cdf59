package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequireIdempotencyKeyRejectsMissingAndBlankKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		set  bool
	}{
		{name: "missing header"},
		{name: "blank header", key: "   ", set: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := RequireIdempotencyKey("user.register")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("expected request to be rejected before the handler")
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(`{"email":"u@example.test"}`))
			if tc.set {
				req.Header.Set(idempotencyHeader, tc.key)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			var body struct {
				Success bool `json:"success"`
				Error   struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Success || body.Error.Code != "VALIDATION_ERROR" {
				t.Fatalf("expected VALIDATION_ERROR envelope, got %s", rr.Body.String())
			}
		})
	}
}

func TestRequireIdempotencyKeyRejectsOversizedKey(t *testing.T) {
	h := RequireIdempotencyKey("user.register")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("expected request to be rejected before the handler")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", nil)
	req.Header.Set(idempotencyHeader, strings.Repeat("k", maxIdempotencyKeyLength+1))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized key, got %d", rr.Code)
	}
}

func TestRequireIdempotencyKeyStashesKeyInContext(t *testing.T) {
	var seen string
	h := RequireIdempotencyKey("user.register")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = IdempotencyKeyFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", nil)
	req.Header.Set(idempotencyHeader, "  req-42  ")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if seen != "req-42" {
		t.Fatalf("expected trimmed key req-42 in context, got %q", seen)
	}
}

func TestIdempotencyKeyFromContextDefaultsEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	if got := IdempotencyKeyFromContext(req.Context()); got != "" {
		t.Fatalf("expected empty key outside guarded routes, got %q", got)
	}
}
