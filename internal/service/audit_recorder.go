package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/events"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/repository"
	"github.com/google/uuid"
)

// AuditRecorder derives the immutable change record for every mutation.
// The durable append must succeed before the mutating call may return
// success; delivery to the external bus is best effort and its failure
// is logged, never propagated.
type AuditRecorder struct {
	audits    repository.AuditRepository
	publisher events.Publisher
	logger    *slog.Logger

	now        func() time.Time
	newEventID func() string
}

func NewAuditRecorder(audits repository.AuditRepository, publisher events.Publisher, logger *slog.Logger) *AuditRecorder {
	return &AuditRecorder{
		audits:     audits,
		publisher:  publisher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newEventID: uuid.NewString,
	}
}

// Record diffs the pre and post images, appends the entry under the
// user's next sequence number, and fans it out.
func (r *AuditRecorder) Record(ctx context.Context, action domain.AuditAction, actor, correlationID string, before, after *domain.User) error {
	entry := &domain.AuditEntry{
		EventID:       r.newEventID(),
		UserID:        after.UserID,
		Timestamp:     r.now(),
		Action:        action,
		Actor:         actor,
		CorrelationID: correlationID,
		Changes:       diffChanges(action, before, after),
	}
	if err := r.audits.Append(ctx, entry); err != nil {
		observability.RecordAuditEntry(ctx, string(action), "error")
		return fmt.Errorf("append audit entry: %w", err)
	}
	observability.RecordAuditEntry(ctx, string(action), "success")

	if err := r.publisher.Publish(ctx, *entry); err != nil {
		observability.RecordAuditPublish(ctx, r.publisher.Name(), "error")
		r.logger.ErrorContext(ctx, "audit event publish failed",
			"event_id", entry.EventID,
			"user_id", entry.UserID,
			"action", string(action),
			"publisher", r.publisher.Name(),
			"error", err,
		)
		return nil
	}
	observability.RecordAuditPublish(ctx, r.publisher.Name(), "success")
	return nil
}

// diffChanges builds the changed-field map for one transition. Creation
// has no before image; its diff is the full initial state.
func diffChanges(action domain.AuditAction, before, after *domain.User) map[string]domain.FieldChange {
	switch action {
	case domain.ActionUserCreated:
		return map[string]domain.FieldChange{
			"user": {Before: nil, After: after.Clone()},
		}
	case domain.ActionUserUpdated:
		changes := map[string]domain.FieldChange{}
		if before.Name != after.Name {
			changes["name"] = domain.FieldChange{Before: before.Name, After: after.Name}
		}
		if !maps.Equal(before.Metadata, after.Metadata) {
			changes["metadata"] = domain.FieldChange{Before: before.Metadata, After: after.Metadata}
		}
		return changes
	case domain.ActionStatusChanged:
		return map[string]domain.FieldChange{
			"status": {Before: before.Status, After: after.Status},
		}
	case domain.ActionRoleAssigned:
		return map[string]domain.FieldChange{
			"role":  {Before: nil, After: firstRoleDiff(after.Roles, before.Roles)},
			"roles": {Before: slices.Clone(before.Roles), After: slices.Clone(after.Roles)},
		}
	case domain.ActionRoleRemoved:
		return map[string]domain.FieldChange{
			"role":  {Before: firstRoleDiff(before.Roles, after.Roles), After: nil},
			"roles": {Before: slices.Clone(before.Roles), After: slices.Clone(after.Roles)},
		}
	}
	return map[string]domain.FieldChange{}
}

// firstRoleDiff returns the role present in a but not in b.
func firstRoleDiff(a, b []string) string {
	for _, v := range a {
		if !slices.Contains(b, v) {
			return v
		}
	}
	return ""
}
