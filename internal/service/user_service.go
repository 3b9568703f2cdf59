package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/repository"
	"github.com/google/uuid"
)

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const (
	maxNameLength  = 256
	maxRoleLength  = 64
	maxEmailLength = 254
)

type RegisterCommand struct {
	IdempotencyKey string
	Actor          string
	CorrelationID  string
	Email          string
	Name           string
	Metadata       map[string]string
}

type UpdateProfileCommand struct {
	IdempotencyKey string
	Actor          string
	CorrelationID  string
	UserID         string
	Name           *string
	Metadata       map[string]string
	// Email and NewUserID carry fields the request tried to change that
	// this path does not allow; either being set fails validation.
	Email     *string
	NewUserID *string
}

type UpdateStatusCommand struct {
	IdempotencyKey string
	Actor          string
	CorrelationID  string
	UserID         string
	Status         string
}

type RoleCommand struct {
	IdempotencyKey string
	Actor          string
	CorrelationID  string
	UserID         string
	Role           string
}

// UserResult carries the post-mutation aggregate. Replayed marks a
// response served from the idempotency record instead of a fresh
// execution.
type UserResult struct {
	User     *domain.User
	Replayed bool
}

type UserServiceImpl struct {
	users    repository.UserRepository
	guard    *IdempotencyGuard
	recorder *AuditRecorder

	now   func() time.Time
	newID func() string
}

func NewUserService(users repository.UserRepository, guard *IdempotencyGuard, recorder *AuditRecorder) *UserServiceImpl {
	return &UserServiceImpl{
		users:    users,
		guard:    guard,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

func (s *UserServiceImpl) Register(ctx context.Context, cmd RegisterCommand) (*UserResult, error) {
	start := time.Now()
	outcome := "success"
	defer func() { observability.RecordUserOperation(ctx, "register", outcome, time.Since(start)) }()

	email, name, metadata, err := validateRegisterInput(cmd)
	if err != nil {
		outcome = "bad_request"
		return nil, err
	}
	actor, correlationID := callerDefaults(cmd.Actor, cmd.CorrelationID)

	payload := map[string]any{"email": email, "name": name, "metadata": metadata}
	result, err := s.runMutation(ctx, "register", cmd.IdempotencyKey, payload, func(ctx context.Context) (*domain.User, error) {
		prior, err := s.priorClaim(ctx, email)
		if err != nil {
			return nil, err
		}

		now := s.now()
		user := &domain.User{
			UserID:    s.newID(),
			Email:     email,
			Name:      name,
			Status:    domain.StatusActive,
			Roles:     []string{},
			Metadata:  metadata,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.users.Create(ctx, user, prior); err != nil {
			if errors.Is(err, repository.ErrEmailTaken) {
				return nil, emailConflict(email)
			}
			return nil, fmt.Errorf("create user: %w", err)
		}

		if err := s.recorder.Record(ctx, domain.ActionUserCreated, actor, correlationID, nil, user); err != nil {
			return nil, err
		}
		return user, nil
	})
	if err != nil {
		outcome = outcomeFor(err)
		return nil, err
	}
	return result, nil
}

func (s *UserServiceImpl) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	start := time.Now()
	outcome := "success"
	defer func() { observability.RecordUserOperation(ctx, "get_by_id", outcome, time.Since(start)) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		outcome = "bad_request"
		return nil, domain.NewValidation("userId is required")
	}
	user, err := s.loadVisible(ctx, userID)
	if err != nil {
		outcome = outcomeFor(err)
		return nil, err
	}
	return user, nil
}

func (s *UserServiceImpl) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (*UserResult, error) {
	start := time.Now()
	outcome := "success"
	defer func() { observability.RecordUserOperation(ctx, "update_profile", outcome, time.Since(start)) }()

	name, metadata, err := validateProfileInput(cmd)
	if err != nil {
		outcome = "bad_request"
		return nil, err
	}
	actor, correlationID := callerDefaults(cmd.Actor, cmd.CorrelationID)

	payload := map[string]any{"userId": cmd.UserID, "name": name, "metadata": metadata}
	result, err := s.runMutation(ctx, "update_profile", cmd.IdempotencyKey, payload, func(ctx context.Context) (*domain.User, error) {
		user, err := s.loadVisible(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}

		before := user.Clone()
		if name != nil && *name != user.Name {
			user.Name = *name
		}
		if metadata != nil && !maps.Equal(metadata, user.Metadata) {
			user.Metadata = metadata
		}
		if user.Name == before.Name && maps.Equal(user.Metadata, before.Metadata) {
			return user, nil
		}

		user.UpdatedAt = s.now()
		if err := s.users.Save(ctx, user); err != nil {
			return nil, fmt.Errorf("save user %s: %w", user.UserID, err)
		}
		if err := s.recorder.Record(ctx, domain.ActionUserUpdated, actor, correlationID, before, user); err != nil {
			return nil, err
		}
		return user, nil
	})
	if err != nil {
		outcome = outcomeFor(err)
		return nil, err
	}
	return result, nil
}

func (s *UserServiceImpl) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (*UserResult, error) {
	start := time.Now()
	outcome := "success"
	defer func() { observability.RecordUserOperation(ctx, "update_status", outcome, time.Since(start)) }()

	status, err := validateStatusInput(cmd)
	if err != nil {
		outcome = "bad_request"
		return nil, err
	}
	actor, correlationID := callerDefaults(cmd.Actor, cmd.CorrelationID)

	payload := map[string]any{"userId": cmd.UserID, "status": string(status)}
	result, err := s.runMutation(ctx, "update_status", cmd.IdempotencyKey, payload, func(ctx context.Context) (*domain.User, error) {
		// Status transitions apply to deleted users too; any of the
		// three statuses may move to any other.
		user, err := s.loadAny(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}
		if user.Status == status {
			return user, nil
		}

		// The claim rewrite below needs the current claim bytes; after a
		// soft delete the email may belong to someone else by now, and a
		// resurrection must not take it back.
		claim, err := s.statusClaim(ctx, user)
		if err != nil {
			return nil, err
		}

		before := user.Clone()
		user.Status = status
		user.UpdatedAt = s.now()
		if err := s.users.ChangeStatus(ctx, user, before.Status, claim); err != nil {
			if errors.Is(err, repository.ErrEmailTaken) {
				return nil, emailConflict(user.Email)
			}
			return nil, fmt.Errorf("change status for user %s: %w", user.UserID, err)
		}
		if err := s.recorder.Record(ctx, domain.ActionStatusChanged, actor, correlationID, before, user); err != nil {
			return nil, err
		}
		return user, nil
	})
	if err != nil {
		outcome = outcomeFor(err)
		return nil, err
	}
	return result, nil
}

func (s *UserServiceImpl) AssignRole(ctx context.Context, cmd RoleCommand) (*UserResult, error) {
	start := time.Now()
	outcome := "success"
	defer func() { observability.RecordUserOperation(ctx, "assign_role", outcome, time.Since(start)) }()

	role, err := validateRoleInput(cmd)
	if err != nil {
		outcome = "bad_request"
		return nil, err
	}
	actor, correlationID := callerDefaults(cmd.Actor, cmd.CorrelationID)

	payload := map[string]any{"userId": cmd.UserID, "role": role}
	result, err := s.runMutation(ctx, "assign_role", cmd.IdempotencyKey, payload, func(ctx context.Context) (*domain.User, error) {
		user, err := s.loadVisible(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}
		if user.HasRole(role) {
			return user, nil
		}

		before := user.Clone()
		user.Roles = domain.NormalizeRoles(append(user.Roles, role))
		user.UpdatedAt = s.now()
		if err := s.users.Save(ctx, user); err != nil {
			return nil, fmt.Errorf("save user %s: %w", user.UserID, err)
		}
		if err := s.recorder.Record(ctx, domain.ActionRoleAssigned, actor, correlationID, before, user); err != nil {
			return nil, err
		}
		return user, nil
	})
	if err != nil {
		outcome = outcomeFor(err)
		return nil, err
	}
	return result, nil
}

func (s *UserServiceImpl) RemoveRole(ctx context.Context, cmd RoleCommand) (*UserResult, error) {
	start := time.Now()
	outcome := "success"
	defer func() { observability.RecordUserOperation(ctx, "remove_role", outcome, time.Since(start)) }()

	role, err := validateRoleInput(cmd)
	if err != nil {
		outcome = "bad_request"
		return nil, err
	}
	actor, correlationID := callerDefaults(cmd.Actor, cmd.CorrelationID)

	payload := map[string]any{"userId": cmd.UserID, "role": role}
	result, err := s.runMutation(ctx, "remove_role", cmd.IdempotencyKey, payload, func(ctx context.Context) (*domain.User, error) {
		user, err := s.loadVisible(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}
		// Removing a role the user does not hold is a no-op success.
		if !user.HasRole(role) {
			return user, nil
		}

		before := user.Clone()
		user.Roles = slices.DeleteFunc(slices.Clone(user.Roles), func(r string) bool { return r == role })
		user.UpdatedAt = s.now()
		if err := s.users.Save(ctx, user); err != nil {
			return nil, fmt.Errorf("save user %s: %w", user.UserID, err)
		}
		if err := s.recorder.Record(ctx, domain.ActionRoleRemoved, actor, correlationID, before, user); err != nil {
			return nil, err
		}
		return user, nil
	})
	if err != nil {
		outcome = outcomeFor(err)
		return nil, err
	}
	return result, nil
}

// runMutation funnels every write through the idempotency guard and
// decodes replayed responses back into the aggregate shape.
func (s *UserServiceImpl) runMutation(ctx context.Context, operation, key string, payload any, fn func(ctx context.Context) (*domain.User, error)) (*UserResult, error) {
	var fresh *domain.User
	raw, replayed, err := s.guard.Execute(ctx, operation, key, payload, func(ctx context.Context) (any, error) {
		user, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		fresh = user
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		return &UserResult{User: fresh}, nil
	}

	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode replayed response: %w", err)
	}
	return &UserResult{User: &user, Replayed: true}, nil
}

// statusClaim resolves the claim a status change will rewrite. It
// normally references the user itself; when it references a live user
// with the same email the caller is a resurrection racing a completed
// re-registration, which loses with a conflict.
func (s *UserServiceImpl) statusClaim(ctx context.Context, user *domain.User) (*repository.EmailClaim, error) {
	claim, err := s.users.GetEmailClaim(ctx, user.Email)
	if errors.Is(err, repository.ErrEmailNotClaimed) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load email claim: %w", err)
	}
	if claim.UserID != user.UserID && claim.Status != domain.StatusDeleted {
		return nil, emailConflict(user.Email)
	}
	return claim, nil
}

// priorClaim resolves the email-uniqueness record for a registration.
// A claim held by a non-deleted user is a conflict; a claim left by a
// deleted user is returned so the create can take it over with a
// compare-and-swap against the exact bytes read here.
func (s *UserServiceImpl) priorClaim(ctx context.Context, email string) (*repository.EmailClaim, error) {
	claim, err := s.users.GetEmailClaim(ctx, email)
	if errors.Is(err, repository.ErrEmailNotClaimed) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load email claim: %w", err)
	}
	if claim.Status != domain.StatusDeleted {
		return nil, emailConflict(email)
	}
	return claim, nil
}

func (s *UserServiceImpl) loadVisible(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.loadAny(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Deleted() {
		return nil, notFoundUser(userID)
	}
	return user, nil
}

func (s *UserServiceImpl) loadAny(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, notFoundUser(userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return user, nil
}

func validateRegisterInput(cmd RegisterCommand) (email, name string, metadata map[string]string, err error) {
	email = strings.ToLower(strings.TrimSpace(cmd.Email))
	if email == "" {
		return "", "", nil, domain.NewValidation("email is required")
	}
	if len(email) > maxEmailLength || !emailRe.MatchString(email) {
		return "", "", nil, domain.NewValidation("email is not a valid address")
	}

	name = strings.TrimSpace(cmd.Name)
	if name == "" {
		return "", "", nil, domain.NewValidation("name is required")
	}
	if len(name) > maxNameLength {
		return "", "", nil, domain.NewValidation(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}

	metadata = cmd.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if err := validateMetadata(metadata); err != nil {
		return "", "", nil, err
	}
	return email, name, metadata, nil
}

func validateProfileInput(cmd UpdateProfileCommand) (*string, map[string]string, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return nil, nil, domain.NewValidation("userId is required")
	}
	if cmd.NewUserID != nil {
		return nil, nil, domain.NewValidation("userId is immutable")
	}
	if cmd.Email != nil {
		return nil, nil, domain.NewValidation("email cannot be changed through profile updates")
	}
	if cmd.Name == nil && cmd.Metadata == nil {
		return nil, nil, domain.NewValidation("no profile fields provided")
	}

	var name *string
	if cmd.Name != nil {
		trimmed := strings.TrimSpace(*cmd.Name)
		if trimmed == "" {
			return nil, nil, domain.NewValidation("name is required")
		}
		if len(trimmed) > maxNameLength {
			return nil, nil, domain.NewValidation(fmt.Sprintf("name must be at most %d characters", maxNameLength))
		}
		name = &trimmed
	}
	if cmd.Metadata != nil {
		if err := validateMetadata(cmd.Metadata); err != nil {
			return nil, nil, err
		}
	}
	return name, cmd.Metadata, nil
}

func validateStatusInput(cmd UpdateStatusCommand) (domain.Status, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return "", domain.NewValidation("userId is required")
	}
	status, ok := domain.ParseStatus(strings.ToLower(strings.TrimSpace(cmd.Status)))
	if !ok {
		return "", domain.NewValidation("status must be one of active, disabled, deleted")
	}
	return status, nil
}

func validateRoleInput(cmd RoleCommand) (string, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return "", domain.NewValidation("userId is required")
	}
	role := strings.TrimSpace(cmd.Role)
	if role == "" {
		return "", domain.NewValidation("role is required")
	}
	if len(role) > maxRoleLength {
		return "", domain.NewValidation(fmt.Sprintf("role must be at most %d characters", maxRoleLength))
	}
	return role, nil
}

func validateMetadata(metadata map[string]string) error {
	for key := range metadata {
		if strings.TrimSpace(key) == "" {
			return domain.NewValidation("metadata keys must be non-empty")
		}
	}
	return nil
}

func callerDefaults(actor, correlationID string) (string, string) {
	if strings.TrimSpace(actor) == "" {
		actor = "system"
	}
	if strings.TrimSpace(correlationID) == "" {
		correlationID = uuid.NewString()
	}
	return actor, correlationID
}

func notFoundUser(userID string) error {
	return domain.NewNotFound("user not found").WithDetail("userId", userID)
}

func emailConflict(email string) error {
	return domain.NewConflict("email is already registered", domain.ConflictEmailExists).WithDetail("email", email)
}

func outcomeFor(err error) string {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return "bad_request"
	case domain.KindNotFound:
		return "not_found"
	case domain.KindConflict:
		return "conflict"
	}
	return "error"
}
