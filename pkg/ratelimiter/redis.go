package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript runs the whole refill-and-consume step server-side so
// concurrent consumers on different nodes see one atomic bucket.
var consumeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local now_ms = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
  tokens = capacity
  last_refill = now_ms
end

local max_intervals = math.floor(capacity / refill_rate) + 1
local intervals = math.floor((now_ms - last_refill) / interval_ms)
if intervals > max_intervals then
  intervals = max_intervals
end
if intervals > 0 then
  tokens = math.min(tokens + intervals * refill_rate, capacity)
  last_refill = now_ms
end

-- An empty bucket denies without charging, so a flood never drives the
-- count below zero and recovery takes a single refill interval.
local remaining
if tokens < requested then
  remaining = tokens - requested
else
  tokens = tokens - requested
  remaining = tokens
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', last_refill)
redis.call('PEXPIRE', key, interval_ms * max_intervals * 2)

return {remaining, last_refill + interval_ms}
`)

// RedisStore shares bucket state across instances through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

func (s *RedisStore) ConsumeTokens(ctx context.Context, key string, n int, cfg Config) (int, time.Time, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.key(key)},
		cfg.Capacity,
		cfg.RefillRate,
		cfg.RefillInterval.Milliseconds(),
		n,
		time.Now().UnixMilli(),
	).Slice()
	if err != nil {
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, res)
	}

	remaining, ok := res[0].(int64)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected remaining type %T", ErrStoreUnavailable, res[0])
	}
	resetMs, ok := res[1].(int64)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected reset type %T", ErrStoreUnavailable, res[1])
	}

	return int(remaining), time.UnixMilli(resetMs), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
