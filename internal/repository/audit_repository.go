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

// Writers racing on the same user retry against the per-user counter a
// few times before giving up.
const auditSeqAttempts = 5

var ErrAuditSeqContention = errors.New("audit sequence contention")

type auditCounter struct {
	Seq uint64 `json:"seq"`
}

type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	ListByUser(ctx context.Context, userID, token string, limit int) (Page[domain.AuditEntry], error)
}

type StoreAuditRepository struct{ store storage.Store }

func NewAuditRepository(store storage.Store) AuditRepository {
	return &StoreAuditRepository{store: store}
}

// Append assigns the next per-user sequence number and writes the entry
// in the same transaction that advances the counter, so two concurrent
// writers can never claim the same slot. The losing writer re-reads and
// retries.
func (r *StoreAuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	for attempt := 0; attempt < auditSeqAttempts; attempt++ {
		current, raw, err := r.readCounter(ctx, entry.UserID)
		if err != nil {
			observability.RecordRepositoryOperation(ctx, "audit", "append", "error")
			return err
		}

		entry.Seq = current + 1
		if err := entry.Validate(); err != nil {
			observability.RecordRepositoryOperation(ctx, "audit", "append", "invalid")
			return err
		}
		value, err := json.Marshal(entry)
		if err != nil {
			observability.RecordRepositoryOperation(ctx, "audit", "append", "error")
			return fmt.Errorf("encode audit entry %s/%d: %w", entry.UserID, entry.Seq, err)
		}
		counterValue, err := json.Marshal(auditCounter{Seq: entry.Seq})
		if err != nil {
			observability.RecordRepositoryOperation(ctx, "audit", "append", "error")
			return fmt.Errorf("encode audit counter %s: %w", entry.UserID, err)
		}

		counterCond := storage.IfAbsent()
		if raw != nil {
			counterCond = storage.ValueEquals(raw)
		}
		counterKey := auditCounterKey(entry.UserID)
		entryKey := auditKey(entry.UserID, entry.Seq)
		err = r.store.TransactWrite(ctx, []storage.Write{
			storage.PutWrite(storage.Record{PK: counterKey.PK, SK: counterKey.SK, Value: counterValue}, counterCond),
			storage.PutWrite(storage.Record{PK: entryKey.PK, SK: entryKey.SK, Value: value}, storage.IfAbsent()),
		})
		if errors.Is(err, storage.ErrConditionFailed) {
			continue
		}
		if err != nil {
			observability.RecordRepositoryOperation(ctx, "audit", "append", "error")
			return err
		}
		observability.RecordRepositoryOperation(ctx, "audit", "append", "success")
		return nil
	}
	observability.RecordRepositoryOperation(ctx, "audit", "append", "contention")
	return fmt.Errorf("append audit entry for %s: %w", entry.UserID, ErrAuditSeqContention)
}

func (r *StoreAuditRepository) ListByUser(ctx context.Context, userID, token string, limit int) (Page[domain.AuditEntry], error) {
	limit = normalizeLimit(limit)
	records, next, err := r.store.Query(ctx, auditPartition(userID), decodeToken(token), limit)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "list_by_user", "error")
		return Page[domain.AuditEntry]{}, err
	}

	items := make([]domain.AuditEntry, 0, len(records))
	for _, rec := range records {
		var entry domain.AuditEntry
		if err := json.Unmarshal(rec.Value, &entry); err != nil {
			observability.RecordRepositoryOperation(ctx, "audit", "list_by_user", "error")
			return Page[domain.AuditEntry]{}, fmt.Errorf("decode audit entry %s/%s: %w", rec.PK, rec.SK, err)
		}
		items = append(items, entry)
	}
	observability.RecordRepositoryOperation(ctx, "audit", "list_by_user", "success")
	return Page[domain.AuditEntry]{Items: items, NextToken: encodeToken(next)}, nil
}

// readCounter returns the last assigned sequence and the raw bytes the
// compare-and-swap must match, nil bytes when no counter exists yet.
func (r *StoreAuditRepository) readCounter(ctx context.Context, userID string) (uint64, []byte, error) {
	rec, err := r.store.Get(ctx, auditCounterKey(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	var counter auditCounter
	if err := json.Unmarshal(rec.Value, &counter); err != nil {
		return 0, nil, fmt.Errorf("decode audit counter %s: %w", userID, err)
	}
	return counter.Seq, rec.Value, nil
}
