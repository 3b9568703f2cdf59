package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/storage"
)

func newAuditEntry(userID string, action domain.AuditAction) *domain.AuditEntry {
	return &domain.AuditEntry{
		EventID:       uuid.NewString(),
		UserID:        userID,
		Timestamp:     time.Now().UTC(),
		Action:        action,
		Actor:         "tester",
		CorrelationID: uuid.NewString(),
		Changes: map[string]domain.FieldChange{
			"status": {Before: "active", After: "disabled"},
		},
	}
}

func TestAuditRepositoryAppendAssignsSequence(t *testing.T) {
	_, store := newRepositoryStoreForTest(t)
	repo := NewAuditRepository(store)
	ctx := context.Background()

	actions := []domain.AuditAction{domain.ActionUserCreated, domain.ActionStatusChanged, domain.ActionRoleAssigned}
	for i, action := range actions {
		entry := newAuditEntry("u1", action)
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if entry.Seq != uint64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, entry.Seq)
		}
	}

	page, err := repo.ListByUser(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(page.Items))
	}
	for i, entry := range page.Items {
		if entry.Seq != uint64(i+1) {
			t.Fatalf("entries out of order: %+v", page.Items)
		}
		if entry.Action != actions[i] {
			t.Fatalf("expected action %s at seq %d, got %s", actions[i], i+1, entry.Action)
		}
		if entry.Changes["status"].After != "disabled" {
			t.Fatalf("changes lost: %+v", entry.Changes)
		}
	}

	// Sequences are per user.
	other := newAuditEntry("u2", domain.ActionUserCreated)
	if err := repo.Append(ctx, other); err != nil {
		t.Fatalf("append other user: %v", err)
	}
	if other.Seq != 1 {
		t.Fatalf("expected fresh counter for u2, got %d", other.Seq)
	}
}

func TestAuditRepositoryListPagination(t *testing.T) {
	_, store := newRepositoryStoreForTest(t)
	repo := NewAuditRepository(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := repo.Append(ctx, newAuditEntry("u1", domain.ActionUserUpdated)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page1, err := repo.ListByUser(ctx, "u1", "", 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1.Items) != 2 || page1.Items[0].Seq != 1 || page1.Items[1].Seq != 2 {
		t.Fatalf("unexpected page 1: %+v", page1.Items)
	}
	if page1.NextToken == "" {
		t.Fatal("expected continuation token")
	}
	page2, err := repo.ListByUser(ctx, "u1", page1.NextToken, 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2.Items) != 1 || page2.Items[0].Seq != 3 || page2.NextToken != "" {
		t.Fatalf("unexpected page 2: %+v next=%q", page2.Items, page2.NextToken)
	}
}

// contendingStore makes the first n transactions lose their condition,
// as if another writer claimed the sequence slot in between.
type contendingStore struct {
	storage.Store
	failures int
}

func (s *contendingStore) TransactWrite(ctx context.Context, writes []storage.Write) error {
	if s.failures > 0 {
		s.failures--
		return &storage.ConditionError{Index: 0}
	}
	return s.Store.TransactWrite(ctx, writes)
}

func TestAuditRepositoryAppendRetriesOnCounterRace(t *testing.T) {
	_, store := newRepositoryStoreForTest(t)
	repo := NewAuditRepository(&contendingStore{Store: store, failures: 2})
	ctx := context.Background()

	entry := newAuditEntry("u1", domain.ActionUserCreated)
	if err := repo.Append(ctx, entry); err != nil {
		t.Fatalf("append with contention: %v", err)
	}
	if entry.Seq != 1 {
		t.Fatalf("expected seq 1 after retries, got %d", entry.Seq)
	}
}

func TestAuditRepositoryAppendGivesUpAfterRetries(t *testing.T) {
	_, store := newRepositoryStoreForTest(t)
	repo := NewAuditRepository(&contendingStore{Store: store, failures: auditSeqAttempts})
	ctx := context.Background()

	err := repo.Append(ctx, newAuditEntry("u1", domain.ActionUserCreated))
	if !errors.Is(err, ErrAuditSeqContention) {
		t.Fatalf("expected ErrAuditSeqContention, got %v", err)
	}
}
