package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/storage"
)

var (
	ErrIdempotencyNotFound = errors.New("idempotency record not found")
	ErrIdempotencyReserved = errors.New("idempotency key already reserved")
)

type IdempotencyState string

const (
	IdempotencyInProgress IdempotencyState = "in_progress"
	IdempotencyCompleted  IdempotencyState = "completed"
)

// IdempotencyRecord tracks one admitted request. An in_progress record
// is the reservation that keeps concurrent duplicates out; a completed
// record carries the response to replay.
type IdempotencyRecord struct {
	Key         string           `json:"idempotencyKey"`
	State       IdempotencyState `json:"state"`
	RequestHash string           `json:"requestHash"`
	Response    json.RawMessage  `json:"response,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) error
	Complete(ctx context.Context, key, requestHash string, response []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type StoreIdempotencyRepository struct {
	store storage.Store
	now   func() time.Time
}

func NewIdempotencyRepository(store storage.Store) *StoreIdempotencyRepository {
	return &StoreIdempotencyRepository{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (r *StoreIdempotencyRepository) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	rec, err := r.store.Get(ctx, idempotencyKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		observability.RecordRepositoryOperation(ctx, "idempotency", "get", "not_found")
		return nil, ErrIdempotencyNotFound
	}
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "idempotency", "get", "error")
		return nil, err
	}
	var record IdempotencyRecord
	if err := json.Unmarshal(rec.Value, &record); err != nil {
		observability.RecordRepositoryOperation(ctx, "idempotency", "get", "error")
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "idempotency", "get", "success")
	return &record, nil
}

// Reserve creates the in_progress record if and only if no live record
// holds the key. The TTL bounds how long a crashed writer can block
// retries of the same key.
func (r *StoreIdempotencyRepository) Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) error {
	now := r.now()
	value, err := json.Marshal(IdempotencyRecord{
		Key:         key,
		State:       IdempotencyInProgress,
		RequestHash: requestHash,
		CreatedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	k := idempotencyKey(key)
	err = r.store.Put(ctx, storage.Record{PK: k.PK, SK: k.SK, Value: value, ExpiresAt: now.Add(ttl)}, storage.IfAbsent())
	if errors.Is(err, storage.ErrConditionFailed) {
		observability.RecordRepositoryOperation(ctx, "idempotency", "reserve", "taken")
		return ErrIdempotencyReserved
	}
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "idempotency", "reserve", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "idempotency", "reserve", "success")
	return nil
}

// Complete overwrites the reservation with the completed record and the
// response to hand back on replays.
func (r *StoreIdempotencyRepository) Complete(ctx context.Context, key, requestHash string, response []byte, ttl time.Duration) error {
	now := r.now()
	value, err := json.Marshal(IdempotencyRecord{
		Key:         key,
		State:       IdempotencyCompleted,
		RequestHash: requestHash,
		Response:    response,
		CreatedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	k := idempotencyKey(key)
	if err := r.store.Put(ctx, storage.Record{PK: k.PK, SK: k.SK, Value: value, ExpiresAt: now.Add(ttl)}, storage.Condition{}); err != nil {
		observability.RecordRepositoryOperation(ctx, "idempotency", "complete", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "idempotency", "complete", "success")
	return nil
}

// Release drops the reservation so a failed operation can be retried
// with the same key immediately.
func (r *StoreIdempotencyRepository) Release(ctx context.Context, key string) error {
	if err := r.store.TransactWrite(ctx, []storage.Write{storage.DeleteWrite(idempotencyKey(key))}); err != nil {
		observability.RecordRepositoryOperation(ctx, "idempotency", "release", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "idempotency", "release", "success")
	return nil
}
