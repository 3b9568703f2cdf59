package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record values live in plain string keys; each partition keeps an
// ordered index of its sort keys in a sorted set (all scores zero, so
// lex range scans walk the partition in byte order). The unit separator
// joins pk and sk inside value keys; validated identifiers never
// contain control characters.
const (
	redisKeyPrefix = "ums"
	redisKeySep    = "\x1f"
)

// Conditional put. Returns 1 when applied, 0 when the condition failed.
var redisPutScript = redis.NewScript(`
local cond = ARGV[1]
if cond == "absent" then
  if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
  end
elseif cond == "equals" then
  local cur = redis.call("GET", KEYS[1])
  if cur == false or cur ~= ARGV[5] then
    return 0
  end
end
redis.call("SET", KEYS[1], ARGV[2])
if ARGV[3] ~= "0" then
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
redis.call("ZADD", KEYS[2], 0, ARGV[4])
return 1
`)

// All-or-nothing batch. Writes are passed with a fixed stride: two keys
// per write (value key, partition index key) and five args per write
// (op, value, ttl_ms, sk, expected). Every condition is verified before
// any write is applied; the script is atomic, so a non-zero return
// means nothing was written. Returns the 1-based index of the write
// whose condition failed, or 0 on success.
var redisTransactScript = redis.NewScript(`
local n = #ARGV / 5
for i = 1, n do
  local op = ARGV[(i-1)*5 + 1]
  local vk = KEYS[(i-1)*2 + 1]
  if op == "putnx" then
    if redis.call("EXISTS", vk) == 1 then
      return i
    end
  elseif op == "puteq" then
    local cur = redis.call("GET", vk)
    if cur == false or cur ~= ARGV[(i-1)*5 + 5] then
      return i
    end
  end
end
for i = 1, n do
  local base = (i-1)*5
  local op = ARGV[base + 1]
  local vk = KEYS[(i-1)*2 + 1]
  local zk = KEYS[(i-1)*2 + 2]
  local sk = ARGV[base + 4]
  if op == "del" then
    redis.call("DEL", vk)
    redis.call("ZREM", zk, sk)
  else
    redis.call("SET", vk, ARGV[base + 2])
    if ARGV[base + 3] ~= "0" then
      redis.call("PEXPIRE", vk, ARGV[base + 3])
    end
    redis.call("ZADD", zk, 0, sk)
  end
end
return 0
`)

type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*Record, error) {
	val, err := s.client.Get(ctx, redisValueKey(key.PK, key.SK)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return &Record{PK: key.PK, SK: key.SK, Value: val}, nil
}

func (s *RedisStore) Put(ctx context.Context, rec Record, cond Condition) error {
	result, err := redisPutScript.Run(
		ctx,
		s.client,
		[]string{redisValueKey(rec.PK, rec.SK), redisPartitionKey(rec.PK)},
		condOpArg(cond), rec.Value, redisTTLArg(rec.ExpiresAt), rec.SK, string(cond.Expected),
	).Result()
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	applied, err := parseRedisInt64(result)
	if err != nil {
		return err
	}
	if applied == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (s *RedisStore) TransactWrite(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(writes)*2)
	args := make([]interface{}, 0, len(writes)*5)
	for _, w := range writes {
		switch {
		case w.Put != nil:
			op := "put"
			switch w.Condition.Kind {
			case CondIfAbsent:
				op = "putnx"
			case CondValueEquals:
				op = "puteq"
			}
			keys = append(keys, redisValueKey(w.Put.PK, w.Put.SK), redisPartitionKey(w.Put.PK))
			args = append(args, op, w.Put.Value, redisTTLArg(w.Put.ExpiresAt), w.Put.SK, string(w.Condition.Expected))
		case w.Delete != nil:
			keys = append(keys, redisValueKey(w.Delete.PK, w.Delete.SK), redisPartitionKey(w.Delete.PK))
			args = append(args, "del", "", "0", w.Delete.SK, "")
		default:
			return fmt.Errorf("storage: write has neither put nor delete")
		}
	}
	result, err := redisTransactScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return fmt.Errorf("redis transact: %w", err)
	}
	failed, err := parseRedisInt64(result)
	if err != nil {
		return err
	}
	if failed > 0 {
		return &ConditionError{Index: int(failed) - 1}
	}
	return nil
}

func (s *RedisStore) Query(ctx context.Context, partition, afterSK string, limit int) ([]Record, string, error) {
	if limit <= 0 {
		return nil, "", fmt.Errorf("storage: query limit must be positive")
	}
	min := "-"
	if afterSK != "" {
		min = "(" + afterSK
	}
	sks, err := s.client.ZRangeByLex(ctx, redisPartitionKey(partition), &redis.ZRangeBy{
		Min:    min,
		Max:    "+",
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis query index: %w", err)
	}
	if len(sks) == 0 {
		return nil, "", nil
	}

	valueKeys := make([]string, len(sks))
	for i, sk := range sks {
		valueKeys[i] = redisValueKey(partition, sk)
	}
	values, err := s.client.MGet(ctx, valueKeys...).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis query values: %w", err)
	}

	records := make([]Record, 0, len(sks))
	for i, v := range values {
		if v == nil {
			// Index member outlived an evicted value; drop it lazily.
			s.client.ZRem(ctx, redisPartitionKey(partition), sks[i])
			continue
		}
		str, ok := v.(string)
		if !ok {
			return nil, "", fmt.Errorf("redis query: unexpected value type %T", v)
		}
		records = append(records, Record{PK: partition, SK: sks[i], Value: []byte(str)})
	}

	next := ""
	if len(sks) == limit {
		next = sks[len(sks)-1]
	}
	return records, next, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func redisValueKey(pk, sk string) string {
	return redisKeyPrefix + ":rec:" + pk + redisKeySep + sk
}

func redisPartitionKey(pk string) string {
	return redisKeyPrefix + ":part:" + pk
}

func condOpArg(cond Condition) string {
	switch cond.Kind {
	case CondIfAbsent:
		return "absent"
	case CondValueEquals:
		return "equals"
	default:
		return "none"
	}
}

func redisTTLArg(expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return "0"
	}
	ms := time.Until(expiresAt).Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return fmt.Sprintf("%d", ms)
}

func parseRedisInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("redis response overflows int64")
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected redis response type %T", v)
	}
}
