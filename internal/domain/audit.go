package domain

import (
	"fmt"
	"time"
)

type AuditAction string

const (
	ActionUserCreated   AuditAction = "USER_CREATED"
	ActionUserUpdated   AuditAction = "USER_UPDATED"
	ActionStatusChanged AuditAction = "STATUS_CHANGED"
	ActionRoleAssigned  AuditAction = "ROLE_ASSIGNED"
	ActionRoleRemoved   AuditAction = "ROLE_REMOVED"
)

func KnownAction(a AuditAction) bool {
	switch a {
	case ActionUserCreated, ActionUserUpdated, ActionStatusChanged, ActionRoleAssigned, ActionRoleRemoved:
		return true
	}
	return false
}

type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// AuditEntry is one immutable record of a state transition. (UserID, Seq)
// is its identity; Seq is assigned per user and strictly increases.
type AuditEntry struct {
	EventID       string                 `json:"eventId"`
	UserID        string                 `json:"userId"`
	Seq           uint64                 `json:"seq"`
	Timestamp     time.Time              `json:"timestamp"`
	Action        AuditAction            `json:"action"`
	Actor         string                 `json:"actor"`
	CorrelationID string                 `json:"correlationId"`
	Changes       map[string]FieldChange `json:"changes"`
}

func (e *AuditEntry) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("audit entry missing event id")
	}
	if e.UserID == "" {
		return fmt.Errorf("audit entry missing user id")
	}
	if e.Seq == 0 {
		return fmt.Errorf("audit entry missing sequence")
	}
	if !KnownAction(e.Action) {
		return fmt.Errorf("audit entry has unknown action %q", e.Action)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("audit entry missing timestamp")
	}
	return nil
}
