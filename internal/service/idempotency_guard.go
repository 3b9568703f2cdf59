package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/repository"
)

const (
	defaultPendingTTL = 5 * time.Minute
	// Completed records must survive at least a day so late client
	// retries still replay instead of re-executing.
	minCompletedTTL = 24 * time.Hour
)

// admission is the guard's verdict for one (key, payload) pair.
type admission struct {
	fresh    bool
	response json.RawMessage
}

// IdempotencyGuard deduplicates write-class operations by client key.
// A fresh key reserves an in-progress record before any business logic
// runs; the reservation's conditional create is what guarantees that a
// racing duplicate never executes.
type IdempotencyGuard struct {
	records      repository.IdempotencyRepository
	logger       *slog.Logger
	pendingTTL   time.Duration
	completedTTL time.Duration
}

func NewIdempotencyGuard(records repository.IdempotencyRepository, logger *slog.Logger, pendingTTL, completedTTL time.Duration) *IdempotencyGuard {
	if pendingTTL <= 0 {
		pendingTTL = defaultPendingTTL
	}
	if completedTTL < minCompletedTTL {
		completedTTL = minCompletedTTL
	}
	return &IdempotencyGuard{
		records:      records,
		logger:       logger,
		pendingTTL:   pendingTTL,
		completedTTL: completedTTL,
	}
}

// Execute admits the request under its idempotency key, runs fn for
// fresh keys, and commits the marshaled result so retries replay it.
// The second return reports whether the response was replayed from a
// previously committed record.
func (g *IdempotencyGuard) Execute(ctx context.Context, operation, key string, payload any, fn func(ctx context.Context) (any, error)) (json.RawMessage, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, domain.NewValidation("idempotency key is required")
	}

	hash, err := canonicalHash(operation, payload)
	if err != nil {
		return nil, false, fmt.Errorf("hash request payload: %w", err)
	}

	adm, err := g.admit(ctx, operation, key, hash)
	if err != nil {
		return nil, false, err
	}
	if !adm.fresh {
		return adm.response, true, nil
	}

	result, err := fn(ctx)
	if err != nil {
		g.release(ctx, operation, key)
		return nil, false, err
	}

	body, err := json.Marshal(result)
	if err != nil {
		g.release(ctx, operation, key)
		return nil, false, fmt.Errorf("marshal response for replay: %w", err)
	}
	if err := g.records.Complete(ctx, key, hash, body, g.completedTTL); err != nil {
		observability.RecordIdempotencyEvent(ctx, operation, "commit_error")
		return nil, false, fmt.Errorf("commit idempotency record: %w", err)
	}
	observability.RecordIdempotencyEvent(ctx, operation, "committed")
	return body, false, nil
}

func (g *IdempotencyGuard) admit(ctx context.Context, operation, key, hash string) (admission, error) {
	err := g.records.Reserve(ctx, key, hash, g.pendingTTL)
	if err == nil {
		observability.RecordIdempotencyEvent(ctx, operation, "fresh")
		return admission{fresh: true}, nil
	}
	if !errors.Is(err, repository.ErrIdempotencyReserved) {
		observability.RecordIdempotencyEvent(ctx, operation, "error")
		return admission{}, fmt.Errorf("reserve idempotency key: %w", err)
	}

	rec, err := g.records.Get(ctx, key)
	if errors.Is(err, repository.ErrIdempotencyNotFound) {
		// The holder's record expired between the failed reserve and
		// this read; surface in-progress and let the client retry.
		observability.RecordIdempotencyEvent(ctx, operation, "conflict_in_progress")
		return admission{}, conflictInProgress(key)
	}
	if err != nil {
		observability.RecordIdempotencyEvent(ctx, operation, "error")
		return admission{}, fmt.Errorf("load idempotency record: %w", err)
	}

	if rec.RequestHash != hash {
		observability.RecordIdempotencyEvent(ctx, operation, "conflict_reuse")
		return admission{}, domain.NewConflict(
			"idempotency key was already used with a different payload",
			domain.ConflictKeyReuse,
		).WithDetail("idempotencyKey", key)
	}
	if rec.State == repository.IdempotencyCompleted {
		observability.RecordIdempotencyEvent(ctx, operation, "replay")
		return admission{response: rec.Response}, nil
	}
	observability.RecordIdempotencyEvent(ctx, operation, "conflict_in_progress")
	return admission{}, conflictInProgress(key)
}

// release frees a reservation after a failed execution so a corrected
// retry can run. Best effort: an orphaned reservation expires on its
// pending TTL anyway.
func (g *IdempotencyGuard) release(ctx context.Context, operation, key string) {
	if err := g.records.Release(ctx, key); err != nil {
		g.logger.WarnContext(ctx, "idempotency reservation release failed",
			"operation", operation,
			"error", err,
		)
	}
}

func conflictInProgress(key string) error {
	return domain.NewConflict(
		"a request with this idempotency key is still in progress",
		domain.ConflictKeyInProgress,
	).WithDetail("idempotencyKey", key)
}

// canonicalHash fingerprints the request. The payload round-trips
// through a generic value so object keys serialize in sorted order and
// the same logical payload always hashes identically. The operation
// name is part of the fingerprint: reusing a key across operations is
// a conflict, never a cross-operation replay.
func canonicalHash(operation string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(map[string]any{"operation": operation, "payload": generic})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
