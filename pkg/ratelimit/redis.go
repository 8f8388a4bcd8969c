package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript refills and takes one token atomically server-side. KEYS[1] is
// the bucket key; ARGV are rate, burst, now (unix micros) and a TTL that
// garbage-collects idle buckets.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil then
  tokens = burst
  last = now
end

local elapsed = (now - last) / 1000000.0
if elapsed > 0 then
  tokens = math.min(burst, tokens + elapsed * rate)
  last = now
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last', last)
redis.call('EXPIRE', key, ttl)
return allowed
`)

// RedisStore shares bucket state across processes.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore wraps a client. Idle buckets expire after ttl; zero means ten
// minutes.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Take implements Store via the atomic Lua script.
func (s *RedisStore) Take(ctx context.Context, key string, cfg Config, now time.Time) (bool, error) {
	res, err := takeScript.Run(ctx, s.client, []string{key},
		cfg.Rate, cfg.Burst, now.UnixMicro(), int(s.ttl.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis script: %w", err)
	}
	return res == 1, nil
}
