// Package response writes the API's uniform JSON envelope. Every body
// is {"success": bool, "data": ..., "error": {...}} so clients can
// branch on one shape.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// JSON writes a success envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, r, status, envelope{Success: true, Data: data})
}

// Error writes a failure envelope with an explicit status and code.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	write(w, r, status, envelope{Success: false, Error: &errorBody{Code: code, Message: message, Details: details}})
}

// DomainError maps a service error onto the wire. Unrecognized errors
// become an opaque 500; their cause stays in the server logs.
func DomainError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		slog.ErrorContext(r.Context(), "request failed", "error", err)
		Error(w, r, http.StatusInternalServerError, domain.CodeInternal, "internal error", nil)
		return
	}
	Error(w, r, statusFor(de.Kind), de.Code, de.Message, de.Details)
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func write(w http.ResponseWriter, r *http.Request, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.WarnContext(r.Context(), "response encode failed", "error", err)
	}
}
