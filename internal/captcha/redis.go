package captcha

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "parley:captcha:"
	indexKey  = "parley:captcha:index" // zset of ids scored by expiry (ms)
)

// verifyScript mirrors verifyEntry. Running it as one script keeps the
// read-check-mutate-delete sequence atomic across replicas.
//
// KEYS[1] entry hash, KEYS[2] index
// ARGV[1] now (unix ms), ARGV[2] upper-cased input, ARGV[3] id
var verifyScript = redis.NewScript(`
local e = redis.call('HMGET', KEYS[1], 'code', 'expires_at', 'max_attempts')
if not e[1] then
  return 'not_found'
end
if tonumber(ARGV[1]) > tonumber(e[2]) then
  redis.call('DEL', KEYS[1])
  redis.call('ZREM', KEYS[2], ARGV[3])
  return 'expired'
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if attempts > tonumber(e[3]) then
  redis.call('DEL', KEYS[1])
  redis.call('ZREM', KEYS[2], ARGV[3])
  return 'exhausted'
end
if e[1] == ARGV[2] then
  redis.call('DEL', KEYS[1])
  redis.call('ZREM', KEYS[2], ARGV[3])
  return 'ok'
end
return 'mismatch'
`)

// RedisStore shares challenges between API replicas. Keys also carry a
// server-side expiry so abandoned entries vanish without a sweep.
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func entryKey(id string) string { return keyPrefix + id }

func (s *RedisStore) Put(ctx context.Context, e Entry) error {
	key := entryKey(e.ID)
	expiresMs := e.ExpiresAt.UnixMilli()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"code", e.Code,
			"created_at", e.CreatedAt.UnixMilli(),
			"expires_at", expiresMs,
			"attempts", e.Attempts,
			"max_attempts", e.MaxAttempts,
		)
		pipe.PExpireAt(ctx, key, e.ExpiresAt.Add(time.Minute))
		pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(expiresMs), Member: e.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (s *RedisStore) Verify(ctx context.Context, id, input string, now time.Time) error {
	res, err := verifyScript.Run(ctx, s.rdb,
		[]string{entryKey(id), indexKey},
		now.UnixMilli(), input, id,
	).Text()
	if err != nil {
		return fmt.Errorf("redis verify: %w", err)
	}

	switch res {
	case "ok":
		return nil
	case "not_found":
		return ErrNotFound
	case "expired":
		return ErrExpired
	case "exhausted":
		return ErrExhausted
	case "mismatch":
		return ErrMismatch
	default:
		return fmt.Errorf("redis verify: unexpected result %q", res)
	}
}

func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	upper := "(" + strconv.FormatInt(now.UnixMilli(), 10)
	ids, err := s.rdb.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis sweep: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(id)
		members[i] = id
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, indexKey, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis sweep: %w", err)
	}
	return len(ids), nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	return int(n), nil
}
