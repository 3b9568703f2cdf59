package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/repository"
)

type ListUsersQuery struct {
	Status string
	Limit  int
	Cursor string
}

type AuditLogQuery struct {
	UserID string
	Limit  int
	Cursor string
}

// QueryServiceImpl reads the status index and the audit trail directly;
// reads never pass through the idempotency guard.
type QueryServiceImpl struct {
	users  repository.UserRepository
	audits repository.AuditRepository
}

func NewQueryService(users repository.UserRepository, audits repository.AuditRepository) *QueryServiceImpl {
	return &QueryServiceImpl{users: users, audits: audits}
}

func (s *QueryServiceImpl) ListUsers(ctx context.Context, q ListUsersQuery) (repository.Page[domain.UserSummary], error) {
	start := time.Now()
	outcome := "success"
	defer func() { observability.RecordUserOperation(ctx, "list", outcome, time.Since(start)) }()

	raw := strings.ToLower(strings.TrimSpace(q.Status))
	if raw == "" {
		raw = string(domain.StatusActive)
	}
	if raw == string(domain.StatusDeleted) {
		outcome = "bad_request"
		return repository.Page[domain.UserSummary]{}, domain.NewValidation("deleted users cannot be listed")
	}
	status, ok := domain.ParseStatus(raw)
	if !ok {
		outcome = "bad_request"
		return repository.Page[domain.UserSummary]{}, domain.NewValidation("status filter must be active or disabled")
	}

	page, err := s.users.ListByStatus(ctx, status, q.Cursor, q.Limit)
	if err != nil {
		outcome = "error"
		return repository.Page[domain.UserSummary]{}, fmt.Errorf("list users by status %s: %w", status, err)
	}
	observability.RecordListPageSize(ctx, "users", len(page.Items))
	return page, nil
}

func (s *QueryServiceImpl) AuditLog(ctx context.Context, q AuditLogQuery) (repository.Page[domain.AuditEntry], error) {
	start := time.Now()
	outcome := "success"
	defer func() { observability.RecordUserOperation(ctx, "audit_log", outcome, time.Since(start)) }()

	userID := strings.TrimSpace(q.UserID)
	if userID == "" {
		outcome = "bad_request"
		return repository.Page[domain.AuditEntry]{}, domain.NewValidation("userId is required")
	}

	// The trail of a soft-deleted user stays readable; only a user id
	// that never existed is not found.
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			outcome = "not_found"
			return repository.Page[domain.AuditEntry]{}, notFoundUser(userID)
		}
		outcome = "error"
		return repository.Page[domain.AuditEntry]{}, fmt.Errorf("load user %s: %w", userID, err)
	}

	page, err := s.audits.ListByUser(ctx, userID, q.Cursor, q.Limit)
	if err != nil {
		outcome = "error"
		return repository.Page[domain.AuditEntry]{}, fmt.Errorf("list audit entries for user %s: %w", userID, err)
	}
	observability.RecordListPageSize(ctx, "audit", len(page.Items))
	return page, nil
}
