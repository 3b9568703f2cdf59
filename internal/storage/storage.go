// Package storage defines the single-table key-value contract the
// identity store runs on: point reads, conditional puts, all-or-nothing
// multi-record transactions, and ordered partition scans with
// continuation keys. Implementations exist for Redis and SQL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("storage: record not found")
	ErrConditionFailed = errors.New("storage: condition failed")
)

// ConditionError reports which write of a transaction violated its
// condition. It unwraps to ErrConditionFailed.
type ConditionError struct {
	Index int
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("storage: condition failed for write %d", e.Index)
}

func (e *ConditionError) Unwrap() error { return ErrConditionFailed }

type Key struct {
	PK string
	SK string
}

// Record is one stored item. Value is an opaque JSON document owned by
// the repository layer. A non-zero ExpiresAt marks the record for
// passive eviction; an expired record behaves as absent everywhere.
// ExpiresAt is write-side metadata and is not populated on reads.
type Record struct {
	PK        string
	SK        string
	Value     []byte
	ExpiresAt time.Time
}

func (r Record) Key() Key { return Key{PK: r.PK, SK: r.SK} }

type ConditionKind int

const (
	CondNone ConditionKind = iota
	CondIfAbsent
	CondValueEquals
)

// Condition guards a put. CondIfAbsent succeeds only when no live
// record exists under the key; CondValueEquals only when the stored
// bytes equal Expected.
type Condition struct {
	Kind     ConditionKind
	Expected []byte
}

func IfAbsent() Condition { return Condition{Kind: CondIfAbsent} }

func ValueEquals(expected []byte) Condition {
	return Condition{Kind: CondValueEquals, Expected: expected}
}

// Write is one element of a transactional batch: exactly one of Put or
// Delete is set. Condition applies to puts only; deletes of absent
// records succeed.
type Write struct {
	Put       *Record
	Delete    *Key
	Condition Condition
}

func PutWrite(rec Record, cond Condition) Write {
	return Write{Put: &rec, Condition: cond}
}

func DeleteWrite(key Key) Write {
	return Write{Delete: &key}
}

// Store is the backend contract. Query scans one partition in ascending
// SK order starting after afterSK (exclusive; empty starts at the
// beginning) and returns a continuation SK only when more rows may
// follow. TransactWrite applies every write or none; a violated
// condition surfaces as a ConditionError carrying the write index.
type Store interface {
	Get(ctx context.Context, key Key) (*Record, error)
	Put(ctx context.Context, rec Record, cond Condition) error
	TransactWrite(ctx context.Context, writes []Write) error
	Query(ctx context.Context, partition, afterSK string, limit int) ([]Record, string, error)
	Ping(ctx context.Context) error
}
