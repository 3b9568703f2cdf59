package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/storage"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserIDExists    = errors.New("user id already exists")
	ErrEmailNotClaimed = errors.New("email not claimed")
	ErrEmailTaken      = errors.New("email already claimed")
)

// EmailClaim is the uniqueness record filed under USER_EMAIL#. Its raw
// stored bytes ride along so a later write can compare-and-swap against
// exactly what was read.
type EmailClaim struct {
	UserID string        `json:"userId"`
	Email  string        `json:"email"`
	Status domain.Status `json:"status"`

	raw []byte
}

type UserRepository interface {
	GetByID(ctx context.Context, userID string) (*domain.User, error)
	GetEmailClaim(ctx context.Context, email string) (*EmailClaim, error)
	Create(ctx context.Context, user *domain.User, prior *EmailClaim) error
	Save(ctx context.Context, user *domain.User) error
	ChangeStatus(ctx context.Context, user *domain.User, oldStatus domain.Status, prior *EmailClaim) error
	ListByStatus(ctx context.Context, status domain.Status, token string, limit int) (Page[domain.UserSummary], error)
}

type StoreUserRepository struct{ store storage.Store }

func NewUserRepository(store storage.Store) UserRepository {
	return &StoreUserRepository{store: store}
}

// GetByID reads the primary projection. Deleted users are returned as
// stored; visibility rules belong to the callers.
func (r *StoreUserRepository) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	rec, err := r.store.Get(ctx, userKey(userID))
	if errors.Is(err, storage.ErrNotFound) {
		observability.RecordRepositoryOperation(ctx, "user", "get_by_id", "not_found")
		return nil, ErrUserNotFound
	}
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "get_by_id", "error")
		return nil, err
	}
	var user domain.User
	if err := json.Unmarshal(rec.Value, &user); err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "get_by_id", "error")
		return nil, fmt.Errorf("decode user %s: %w", userID, err)
	}
	observability.RecordRepositoryOperation(ctx, "user", "get_by_id", "success")
	return &user, nil
}

func (r *StoreUserRepository) GetEmailClaim(ctx context.Context, email string) (*EmailClaim, error) {
	rec, err := r.store.Get(ctx, emailKey(email))
	if errors.Is(err, storage.ErrNotFound) {
		observability.RecordRepositoryOperation(ctx, "user", "get_email_claim", "not_found")
		return nil, ErrEmailNotClaimed
	}
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "get_email_claim", "error")
		return nil, err
	}
	var claim EmailClaim
	if err := json.Unmarshal(rec.Value, &claim); err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "get_email_claim", "error")
		return nil, fmt.Errorf("decode email claim %s: %w", email, err)
	}
	claim.raw = rec.Value
	observability.RecordRepositoryOperation(ctx, "user", "get_email_claim", "success")
	return &claim, nil
}

// Create writes all three projections in one transaction. The profile
// put is guarded against id collisions and the email claim against
// concurrent registration. When prior is set the claim belongs to a
// deleted user and is taken over with a compare-and-swap on the bytes
// that were read, so a concurrent resurrection of that user loses
// cleanly.
func (r *StoreUserRepository) Create(ctx context.Context, user *domain.User, prior *EmailClaim) error {
	profile, claim, summary, err := marshalProjections(user)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}

	claimCond := storage.IfAbsent()
	if prior != nil {
		claimCond = storage.ValueEquals(prior.raw)
	}
	writes := []storage.Write{
		storage.PutWrite(storage.Record{PK: userKey(user.UserID).PK, SK: userKey(user.UserID).SK, Value: profile}, storage.IfAbsent()),
		storage.PutWrite(storage.Record{PK: emailKey(user.Email).PK, SK: emailKey(user.Email).SK, Value: claim}, claimCond),
		storage.PutWrite(storage.Record{PK: statusKey(user.Status, user.UserID).PK, SK: statusKey(user.Status, user.UserID).SK, Value: summary}, storage.Condition{}),
	}

	err = r.store.TransactWrite(ctx, writes)
	var condErr *storage.ConditionError
	if errors.As(err, &condErr) {
		switch condErr.Index {
		case 0:
			observability.RecordRepositoryOperation(ctx, "user", "create", "id_exists")
			return ErrUserIDExists
		default:
			observability.RecordRepositoryOperation(ctx, "user", "create", "email_taken")
			return ErrEmailTaken
		}
	}
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

// Save rewrites the projections of a user whose status did not change.
func (r *StoreUserRepository) Save(ctx context.Context, user *domain.User) error {
	profile, claim, summary, err := marshalProjections(user)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "save", "error")
		return err
	}
	writes := []storage.Write{
		storage.PutWrite(storage.Record{PK: userKey(user.UserID).PK, SK: userKey(user.UserID).SK, Value: profile}, storage.Condition{}),
		storage.PutWrite(storage.Record{PK: emailKey(user.Email).PK, SK: emailKey(user.Email).SK, Value: claim}, storage.Condition{}),
		storage.PutWrite(storage.Record{PK: statusKey(user.Status, user.UserID).PK, SK: statusKey(user.Status, user.UserID).SK, Value: summary}, storage.Condition{}),
	}
	if err := r.store.TransactWrite(ctx, writes); err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "save", "success")
	return nil
}

// ChangeStatus moves the status copy between partitions in the same
// transaction that rewrites the profile and the email claim, so a
// listing never sees the user under two statuses or none. The claim
// write is a compare-and-swap against prior (create-only when prior is
// nil): a resurrection racing a re-registration of the same email
// loses cleanly instead of clobbering the new owner's claim.
func (r *StoreUserRepository) ChangeStatus(ctx context.Context, user *domain.User, oldStatus domain.Status, prior *EmailClaim) error {
	profile, claim, summary, err := marshalProjections(user)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "change_status", "error")
		return err
	}
	claimCond := storage.IfAbsent()
	if prior != nil {
		claimCond = storage.ValueEquals(prior.raw)
	}
	writes := []storage.Write{
		storage.PutWrite(storage.Record{PK: userKey(user.UserID).PK, SK: userKey(user.UserID).SK, Value: profile}, storage.Condition{}),
		storage.PutWrite(storage.Record{PK: emailKey(user.Email).PK, SK: emailKey(user.Email).SK, Value: claim}, claimCond),
		storage.DeleteWrite(statusKey(oldStatus, user.UserID)),
		storage.PutWrite(storage.Record{PK: statusKey(user.Status, user.UserID).PK, SK: statusKey(user.Status, user.UserID).SK, Value: summary}, storage.Condition{}),
	}
	err = r.store.TransactWrite(ctx, writes)
	var condErr *storage.ConditionError
	if errors.As(err, &condErr) {
		observability.RecordRepositoryOperation(ctx, "user", "change_status", "email_taken")
		return ErrEmailTaken
	}
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "change_status", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "change_status", "success")
	return nil
}

func (r *StoreUserRepository) ListByStatus(ctx context.Context, status domain.Status, token string, limit int) (Page[domain.UserSummary], error) {
	limit = normalizeLimit(limit)
	records, next, err := r.store.Query(ctx, statusPartition(status), decodeToken(token), limit)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "list_by_status", "error")
		return Page[domain.UserSummary]{}, err
	}

	items := make([]domain.UserSummary, 0, len(records))
	for _, rec := range records {
		var item domain.UserSummary
		if err := json.Unmarshal(rec.Value, &item); err != nil {
			observability.RecordRepositoryOperation(ctx, "user", "list_by_status", "error")
			return Page[domain.UserSummary]{}, fmt.Errorf("decode status row %s/%s: %w", rec.PK, rec.SK, err)
		}
		if item.Status == domain.StatusDeleted {
			continue
		}
		items = append(items, item)
	}
	observability.RecordRepositoryOperation(ctx, "user", "list_by_status", "success")
	return Page[domain.UserSummary]{Items: items, NextToken: encodeToken(next)}, nil
}

func marshalProjections(user *domain.User) (profile, claim, summary []byte, err error) {
	profile, err = json.Marshal(user)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode user %s: %w", user.UserID, err)
	}
	claim, err = json.Marshal(EmailClaim{UserID: user.UserID, Email: user.Email, Status: user.Status})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode email claim %s: %w", user.Email, err)
	}
	summary, err = json.Marshal(user.Summary())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode status row %s: %w", user.UserID, err)
	}
	return profile, claim, summary, nil
}
