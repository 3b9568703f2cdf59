package domain

import "errors"

type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindConflict
	KindInternal
)

const (
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeInternal   = "INTERNAL_ERROR"
)

// Conflict reasons carried in the details payload so idempotency-key
// conflicts stay distinguishable from business conflicts.
const (
	ConflictEmailExists   = "email_exists"
	ConflictKeyReuse      = "idempotency_key_reuse"
	ConflictKeyInProgress = "idempotency_in_progress"
)

// Error is the caller-visible failure shape: a stable kind and code, a
// human-readable message, and structured details. Internal errors carry
// no backend diagnostics in Details; causes stay in logs.
type Error struct {
	Kind    ErrorKind      `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func NewValidation(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message}
}

func NewNotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: message}
}

func NewConflict(message, reason string) *Error {
	e := &Error{Kind: KindConflict, Code: CodeConflict, Message: message}
	return e.WithDetail("reason", reason)
}

func NewInternal(message string) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message}
}

// KindOf reports the taxonomy kind of err, or 0 when err is not a
// domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
