package events

import (
	"context"
	"strings"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
)

// Publisher fans audit events out to an external bus. Delivery is
// at-least-once and best-effort; callers must not fail the business
// operation when Publish returns an error.
type Publisher interface {
	Publish(ctx context.Context, entry domain.AuditEntry) error
	Name() string
	Close() error
}

// routingKey maps an audit action to a topic routing key,
// e.g. USER_CREATED -> user.created, STATUS_CHANGED -> user.status_changed.
func routingKey(action domain.AuditAction) string {
	key := strings.ToLower(string(action))
	key = strings.TrimPrefix(key, "user_")
	return "user." + key
}
