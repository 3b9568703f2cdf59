package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiterForTest(t *testing.T) (*miniredis.Miniredis, *RedisFixedWindowLimiter) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return m, NewRedisFixedWindowLimiter(client, "rl_test")
}

func TestRedisFixedWindowLimiterAllowsUpToLimit(t *testing.T) {
	_, limiter := newRedisLimiterForTest(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "ip:10.0.0.1", 2, time.Minute)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("expected request %d within limit to pass", i)
		}
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "ip:10.0.0.1", 2, time.Minute)
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if allowed {
		t.Fatal("expected third request in window to be denied")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("expected retry-after within window, got %v", retryAfter)
	}
}

func TestRedisFixedWindowLimiterWindowExpiry(t *testing.T) {
	m, limiter := newRedisLimiterForTest(t)
	ctx := context.Background()

	if allowed, _, _ := limiter.Allow(ctx, "ip:10.0.0.2", 1, time.Second); !allowed {
		t.Fatal("expected first request to pass")
	}
	if allowed, _, _ := limiter.Allow(ctx, "ip:10.0.0.2", 1, time.Second); allowed {
		t.Fatal("expected second request to be denied")
	}

	m.FastForward(2 * time.Second)

	if allowed, _, _ := limiter.Allow(ctx, "ip:10.0.0.2", 1, time.Second); !allowed {
		t.Fatal("expected request after window expiry to pass")
	}
}

func TestRedisFixedWindowLimiterDefaultsBlankKey(t *testing.T) {
	m, limiter := newRedisLimiterForTest(t)

	if allowed, _, err := limiter.Allow(context.Background(), "", 1, time.Minute); err != nil || !allowed {
		t.Fatalf("expected blank key to be bucketed, allowed=%v err=%v", allowed, err)
	}
	if !m.Exists("rl_test:unknown") {
		t.Fatal("expected blank key to land in the unknown bucket")
	}
}

func TestRedisFixedWindowLimiterBackendAndNilClientErrors(t *testing.T) {
	limiter := NewRedisFixedWindowLimiter(nil, "")
	if _, _, err := limiter.Allow(context.Background(), "k", 1, time.Minute); err == nil {
		t.Fatal("expected nil client error")
	}

	badClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 20 * time.Millisecond, ReadTimeout: 20 * time.Millisecond, WriteTimeout: 20 * time.Millisecond})
	t.Cleanup(func() { _ = badClient.Close() })
	limiter = NewRedisFixedWindowLimiter(badClient, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := limiter.Allow(ctx, "k", 1, time.Minute); err == nil {
		t.Fatal("expected backend error")
	}
}

func TestDecodeFixedWindowReply(t *testing.T) {
	hits, ttl, err := decodeFixedWindowReply([]any{int64(3), int64(1500)})
	if err != nil || hits != 3 || ttl != 1500 {
		t.Fatalf("decode mismatch hits=%d ttl=%d err=%v", hits, ttl, err)
	}
	if _, _, err := decodeFixedWindowReply([]any{int64(3)}); err == nil {
		t.Fatal("expected error for short reply")
	}
	if _, _, err := decodeFixedWindowReply("nope"); err == nil {
		t.Fatal("expected error for non-slice reply")
	}
	if _, _, err := decodeFixedWindowReply([]any{"3", int64(1)}); err == nil {
		t.Fatal("expected error for non-numeric hits")
	}
}

func TestRedisInt64Branches(t *testing.T) {
	if v, err := redisInt64(int64(4)); err != nil || v != 4 {
		t.Fatalf("int64 parse mismatch v=%d err=%v", v, err)
	}
	if v, err := redisInt64(int(3)); err != nil || v != 3 {
		t.Fatalf("int parse mismatch v=%d err=%v", v, err)
	}
	if v, err := redisInt64(uint64(9)); err != nil || v != 9 {
		t.Fatalf("uint64 parse mismatch v=%d err=%v", v, err)
	}
	if _, err := redisInt64("1"); err == nil {
		t.Fatal("expected string type error")
	}
	if _, err := redisInt64(errors.New("x")); err == nil {
		t.Fatal("expected unexpected type error")
	}
}
