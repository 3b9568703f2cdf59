package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	eventsgomock "github.com/Madhan-droid/user-management-kiro-poc/internal/events/gomock"
	repogomock "github.com/Madhan-droid/user-management-kiro-poc/internal/repository/gomock"
	"go.uber.org/mock/gomock"
)

func newRecorderForTest(t *testing.T) (*AuditRecorder, *repogomock.MockAuditRepository, *eventsgomock.MockPublisher) {
	t.Helper()
	ctrl := gomock.NewController(t)
	audits := repogomock.NewMockAuditRepository(ctrl)
	publisher := eventsgomock.NewMockPublisher(ctrl)
	publisher.EXPECT().Name().AnyTimes().Return("test")

	recorder := NewAuditRecorder(audits, publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))
	recorder.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	recorder.newEventID = func() string { return "evt-1" }
	return recorder, audits, publisher
}

func auditTestUser() *domain.User {
	return &domain.User{
		UserID:   "u-1",
		Email:    "ada@example.com",
		Name:     "Ada",
		Status:   domain.StatusActive,
		Roles:    []string{"admin", "viewer"},
		Metadata: map[string]string{"team": "core"},
	}
}

func TestAuditRecorderAppendsAndPublishes(t *testing.T) {
	recorder, audits, publisher := newRecorderForTest(t)

	var appended *domain.AuditEntry
	audits.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, entry *domain.AuditEntry) error {
		entry.Seq = 7
		appended = entry
		return nil
	})
	var published domain.AuditEntry
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, entry domain.AuditEntry) error {
		published = entry
		return nil
	})

	after := auditTestUser()
	if err := recorder.Record(context.Background(), domain.ActionUserCreated, "admin@corp", "corr-1", nil, after); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if appended.EventID != "evt-1" || appended.UserID != "u-1" {
		t.Fatalf("unexpected identity fields: %+v", appended)
	}
	if appended.Actor != "admin@corp" || appended.CorrelationID != "corr-1" {
		t.Fatalf("caller context not carried: %+v", appended)
	}
	if appended.Timestamp != recorder.now() {
		t.Fatalf("expected injected timestamp, got %v", appended.Timestamp)
	}
	if err := appended.Validate(); err != nil {
		t.Fatalf("appended entry invalid: %v", err)
	}
	if published.Seq != 7 {
		t.Fatalf("published entry must carry the assigned sequence, got %d", published.Seq)
	}
}

func TestAuditRecorderDiffShapes(t *testing.T) {
	before := auditTestUser()

	tests := []struct {
		name   string
		action domain.AuditAction
		before *domain.User
		after  func() *domain.User
		check  func(t *testing.T, changes map[string]domain.FieldChange)
	}{
		{
			name:   "creation captures the full initial state",
			action: domain.ActionUserCreated,
			before: nil,
			after:  auditTestUser,
			check: func(t *testing.T, changes map[string]domain.FieldChange) {
				change, ok := changes["user"]
				if !ok {
					t.Fatalf("missing user change: %v", changes)
				}
				if change.Before != nil {
					t.Fatalf("creation has no before image, got %v", change.Before)
				}
				created, ok := change.After.(*domain.User)
				if !ok || created.UserID != "u-1" {
					t.Fatalf("unexpected after image: %v", change.After)
				}
			},
		},
		{
			name:   "profile update diffs only the changed fields",
			action: domain.ActionUserUpdated,
			before: before,
			after: func() *domain.User {
				u := auditTestUser()
				u.Name = "Ada Lovelace"
				return u
			},
			check: func(t *testing.T, changes map[string]domain.FieldChange) {
				if len(changes) != 1 {
					t.Fatalf("expected only the name diff, got %v", changes)
				}
				if changes["name"].Before != "Ada" || changes["name"].After != "Ada Lovelace" {
					t.Fatalf("unexpected name diff: %+v", changes["name"])
				}
			},
		},
		{
			name:   "metadata update diffs the map",
			action: domain.ActionUserUpdated,
			before: before,
			after: func() *domain.User {
				u := auditTestUser()
				u.Metadata = map[string]string{"team": "platform"}
				return u
			},
			check: func(t *testing.T, changes map[string]domain.FieldChange) {
				if _, ok := changes["name"]; ok {
					t.Fatalf("name did not change: %v", changes)
				}
				meta, ok := changes["metadata"]
				if !ok {
					t.Fatalf("missing metadata diff: %v", changes)
				}
				after, _ := meta.After.(map[string]string)
				if after["team"] != "platform" {
					t.Fatalf("unexpected metadata after image: %v", meta.After)
				}
			},
		},
		{
			name:   "status change records both states",
			action: domain.ActionStatusChanged,
			before: before,
			after: func() *domain.User {
				u := auditTestUser()
				u.Status = domain.StatusDisabled
				return u
			},
			check: func(t *testing.T, changes map[string]domain.FieldChange) {
				status := changes["status"]
				if status.Before != domain.StatusActive || status.After != domain.StatusDisabled {
					t.Fatalf("unexpected status diff: %+v", status)
				}
			},
		},
		{
			name:   "role assignment names the granted role",
			action: domain.ActionRoleAssigned,
			before: before,
			after: func() *domain.User {
				u := auditTestUser()
				u.Roles = []string{"admin", "auditor", "viewer"}
				return u
			},
			check: func(t *testing.T, changes map[string]domain.FieldChange) {
				if changes["role"].After != "auditor" || changes["role"].Before != nil {
					t.Fatalf("unexpected role diff: %+v", changes["role"])
				}
				roles, _ := changes["roles"].After.([]string)
				if len(roles) != 3 {
					t.Fatalf("unexpected roles after image: %v", changes["roles"].After)
				}
			},
		},
		{
			name:   "role removal names the revoked role",
			action: domain.ActionRoleRemoved,
			before: before,
			after: func() *domain.User {
				u := auditTestUser()
				u.Roles = []string{"admin"}
				return u
			},
			check: func(t *testing.T, changes map[string]domain.FieldChange) {
				if changes["role"].Before != "viewer" || changes["role"].After != nil {
					t.Fatalf("unexpected role diff: %+v", changes["role"])
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder, audits, publisher := newRecorderForTest(t)
			var appended *domain.AuditEntry
			audits.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, entry *domain.AuditEntry) error {
				entry.Seq = 1
				appended = entry
				return nil
			})
			publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

			if err := recorder.Record(context.Background(), tc.action, "system", "corr-1", tc.before, tc.after()); err != nil {
				t.Fatalf("Record: %v", err)
			}
			tc.check(t, appended.Changes)
		})
	}
}

func TestAuditRecorderAppendFailurePropagates(t *testing.T) {
	recorder, audits, _ := newRecorderForTest(t)
	boom := errors.New("sequence contention")
	audits.EXPECT().Append(gomock.Any(), gomock.Any()).Return(boom)

	err := recorder.Record(context.Background(), domain.ActionUserCreated, "system", "corr-1", nil, auditTestUser())
	if !errors.Is(err, boom) {
		t.Fatalf("expected append failure to propagate, got %v", err)
	}
	if !strings.Contains(err.Error(), "append audit entry") {
		t.Fatalf("expected wrapped append error, got %v", err)
	}
}

func TestAuditRecorderPublishFailureDoesNotFailRecord(t *testing.T) {
	recorder, audits, publisher := newRecorderForTest(t)
	audits.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, entry *domain.AuditEntry) error {
		entry.Seq = 1
		return nil
	})
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker unreachable"))

	if err := recorder.Record(context.Background(), domain.ActionUserCreated, "system", "corr-1", nil, auditTestUser()); err != nil {
		t.Fatalf("publish failure must not fail the mutation, got %v", err)
	}
}
