package service

import (
	"context"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/repository"
)

type UserServiceInterface interface {
	Register(ctx context.Context, cmd RegisterCommand) (*UserResult, error)
	GetByID(ctx context.Context, userID string) (*domain.User, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (*UserResult, error)
	UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (*UserResult, error)
	AssignRole(ctx context.Context, cmd RoleCommand) (*UserResult, error)
	RemoveRole(ctx context.Context, cmd RoleCommand) (*UserResult, error)
}

type QueryServiceInterface interface {
	ListUsers(ctx context.Context, q ListUsersQuery) (repository.Page[domain.UserSummary], error)
	AuditLog(ctx context.Context, q AuditLogQuery) (repository.Page[domain.AuditEntry], error)
}
