package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreForTest(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return m, NewRedisStore(client)
}

func TestRedisStoreGetPut(t *testing.T) {
	_, store := newRedisStoreForTest(t)
	ctx := context.Background()
	key := Key{PK: "USER#1", SK: "PROFILE"}

	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing record, got %v", err)
	}
	if err := store.Put(ctx, Record{PK: key.PK, SK: key.SK, Value: []byte(`{"v":1}`)}, Condition{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after put: %v", err)
	}
	if string(rec.Value) != `{"v":1}` {
		t.Fatalf("unexpected value %q", rec.Value)
	}

	if err := store.Put(ctx, Record{PK: key.PK, SK: key.SK, Value: []byte(`{"v":2}`)}, Condition{}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	rec, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if string(rec.Value) != `{"v":2}` {
		t.Fatalf("expected overwritten value, got %q", rec.Value)
	}
}

func TestRedisStorePutIfAbsent(t *testing.T) {
	_, store := newRedisStoreForTest(t)
	ctx := context.Background()
	rec := Record{PK: "USER_EMAIL#a@example.com", SK: "USER", Value: []byte(`{"userId":"u1"}`)}

	if err := store.Put(ctx, rec, IfAbsent()); err != nil {
		t.Fatalf("first conditional put: %v", err)
	}
	rec.Value = []byte(`{"userId":"u2"}`)
	if err := store.Put(ctx, rec, IfAbsent()); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed on duplicate, got %v", err)
	}
	got, err := store.Get(ctx, rec.Key())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Value) != `{"userId":"u1"}` {
		t.Fatalf("losing put must not overwrite, got %q", got.Value)
	}
}

func TestRedisStorePutValueEquals(t *testing.T) {
	_, store := newRedisStoreForTest(t)
	ctx := context.Background()
	key := Key{PK: "USER_EMAIL#b@example.com", SK: "USER"}

	if err := store.Put(ctx, Record{PK: key.PK, SK: key.SK, Value: []byte("old")}, ValueEquals([]byte("old"))); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("value-match put against absent record must fail, got %v", err)
	}
	if err := store.Put(ctx, Record{PK: key.PK, SK: key.SK, Value: []byte("old")}, Condition{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Put(ctx, Record{PK: key.PK, SK: key.SK, Value: []byte("new")}, ValueEquals([]byte("other"))); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected mismatch to fail, got %v", err)
	}
	if err := store.Put(ctx, Record{PK: key.PK, SK: key.SK, Value: []byte("new")}, ValueEquals([]byte("old"))); err != nil {
		t.Fatalf("matching value-match put: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Value) != "new" {
		t.Fatalf("expected swapped value, got %q", got.Value)
	}
}

func TestRedisStoreTransactWriteAllOrNothing(t *testing.T) {
	_, store := newRedisStoreForTest(t)
	ctx := context.Background()

	taken := Record{PK: "USER_EMAIL#c@example.com", SK: "USER", Value: []byte(`{"userId":"u1"}`)}
	if err := store.Put(ctx, taken, IfAbsent()); err != nil {
		t.Fatalf("seed email claim: %v", err)
	}

	err := store.TransactWrite(ctx, []Write{
		PutWrite(Record{PK: "USER#u2", SK: "PROFILE", Value: []byte(`{"userId":"u2"}`)}, IfAbsent()),
		PutWrite(Record{PK: taken.PK, SK: taken.SK, Value: []byte(`{"userId":"u2"}`)}, IfAbsent()),
		PutWrite(Record{PK: "USER_STATUS#active", SK: "USER#u2", Value: []byte(`{"userId":"u2"}`)}, Condition{}),
	})
	var condErr *ConditionError
	if !errors.As(err, &condErr) {
		t.Fatalf("expected ConditionError, got %v", err)
	}
	if condErr.Index != 1 {
		t.Fatalf("expected failed index 1, got %d", condErr.Index)
	}
	if !errors.Is(err, ErrConditionFailed) {
		t.Fatal("ConditionError must unwrap to ErrConditionFailed")
	}

	if _, err := store.Get(ctx, Key{PK: "USER#u2", SK: "PROFILE"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed transaction must write nothing, got %v", err)
	}
	if _, err := store.Get(ctx, Key{PK: "USER_STATUS#active", SK: "USER#u2"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("later writes must be rolled back too, got %v", err)
	}
}

func TestRedisStoreTransactWriteAppliesBatch(t *testing.T) {
	_, store := newRedisStoreForTest(t)
	ctx := context.Background()

	old := Record{PK: "USER_STATUS#active", SK: "USER#u3", Value: []byte(`{"status":"active"}`)}
	if err := store.Put(ctx, old, Condition{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := store.TransactWrite(ctx, []Write{
		PutWrite(Record{PK: "USER#u3", SK: "PROFILE", Value: []byte(`{"status":"disabled"}`)}, Condition{}),
		DeleteWrite(old.Key()),
		PutWrite(Record{PK: "USER_STATUS#disabled", SK: "USER#u3", Value: []byte(`{"status":"disabled"}`)}, IfAbsent()),
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}

	if _, err := store.Get(ctx, old.Key()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old status row deleted, got %v", err)
	}
	moved, err := store.Get(ctx, Key{PK: "USER_STATUS#disabled", SK: "USER#u3"})
	if err != nil {
		t.Fatalf("get moved row: %v", err)
	}
	if string(moved.Value) != `{"status":"disabled"}` {
		t.Fatalf("unexpected moved value %q", moved.Value)
	}

	// Deleting an absent key is not a condition violation.
	if err := store.TransactWrite(ctx, []Write{DeleteWrite(Key{PK: "USER_STATUS#active", SK: "USER#none"})}); err != nil {
		t.Fatalf("delete of absent key: %v", err)
	}
}

func TestRedisStoreQueryPagination(t *testing.T) {
	_, store := newRedisStoreForTest(t)
	ctx := context.Background()

	for _, sk := range []string{"USER#a", "USER#b", "USER#c", "USER#d", "USER#e"} {
		rec := Record{PK: "USER_STATUS#active", SK: sk, Value: []byte(`{"sk":"` + sk + `"}`)}
		if err := store.Put(ctx, rec, Condition{}); err != nil {
			t.Fatalf("seed %s: %v", sk, err)
		}
	}

	page1, next, err := store.Query(ctx, "USER_STATUS#active", "", 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != 2 || page1[0].SK != "USER#a" || page1[1].SK != "USER#b" {
		t.Fatalf("unexpected page 1: %+v", page1)
	}
	if next != "USER#b" {
		t.Fatalf("expected continuation USER#b, got %q", next)
	}

	page2, next, err := store.Query(ctx, "USER_STATUS#active", next, 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 2 || page2[0].SK != "USER#c" || page2[1].SK != "USER#d" {
		t.Fatalf("continuation must be exclusive, got %+v", page2)
	}

	page3, next, err := store.Query(ctx, "USER_STATUS#active", next, 2)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3) != 1 || page3[0].SK != "USER#e" {
		t.Fatalf("unexpected final page: %+v", page3)
	}
	if next != "" {
		t.Fatalf("short page must end pagination, got %q", next)
	}

	empty, next, err := store.Query(ctx, "USER_STATUS#deleted", "", 10)
	if err != nil {
		t.Fatalf("empty partition: %v", err)
	}
	if len(empty) != 0 || next != "" {
		t.Fatalf("expected empty result, got %+v next=%q", empty, next)
	}
}

func TestRedisStoreTTLEviction(t *testing.T) {
	m, store := newRedisStoreForTest(t)
	ctx := context.Background()
	rec := Record{
		PK:        "IDEM#key-1",
		SK:        "IDEM",
		Value:     []byte(`{"state":"in_progress"}`),
		ExpiresAt: time.Now().Add(500 * time.Millisecond),
	}
	if err := store.Put(ctx, rec, IfAbsent()); err != nil {
		t.Fatalf("put with ttl: %v", err)
	}
	if _, err := store.Get(ctx, rec.Key()); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}
	if err := store.Put(ctx, rec, IfAbsent()); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("live record must block conditional put, got %v", err)
	}

	m.FastForward(time.Second)

	if _, err := store.Get(ctx, rec.Key()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected eviction after ttl, got %v", err)
	}
	if err := store.Put(ctx, rec, IfAbsent()); err != nil {
		t.Fatalf("conditional put must reclaim expired key: %v", err)
	}
}
