// Package ratelimit throttles evaluation requests per agent before they
// reach the decision pipeline. The bucket state lives behind a Store so a
// single-process deployment uses memory and a fleet shares Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited tags requests rejected at the front door.
var ErrRateLimited = errors.New("ratelimit: too many requests")

// Config sizes a token bucket.
type Config struct {
	// Rate is tokens added per second.
	Rate float64
	// Burst is the bucket capacity.
	Burst float64
}

// DefaultConfig allows 20 evaluations per second with a burst of 40.
func DefaultConfig() Config {
	return Config{Rate: 20, Burst: 40}
}

// Store implements the atomic take-one-token operation for a key.
type Store interface {
	// Take removes one token from the key's bucket, refilling first based on
	// elapsed time. Returns whether a token was available.
	Take(ctx context.Context, key string, cfg Config, now time.Time) (bool, error)
}

// Limiter fronts a store with per-agent keys.
type Limiter struct {
	store Store
	cfg   Config
	clock func() time.Time
}

// NewLimiter builds a limiter. Nil store gets an in-memory one; zero config
// gets the default.
func NewLimiter(store Store, cfg Config) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	if cfg.Rate <= 0 || cfg.Burst <= 0 {
		cfg = DefaultConfig()
	}
	return &Limiter{
		store: store,
		cfg:   cfg,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Allow consumes one token for the agent. Store errors fail closed: an
// unreachable store means no token.
func (l *Limiter) Allow(ctx context.Context, agentID string) error {
	ok, err := l.store.Take(ctx, "aegis:ratelimit:"+agentID, l.cfg, l.clock())
	if err != nil {
		return fmt.Errorf("ratelimit: store: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: agent %s", ErrRateLimited, agentID)
	}
	return nil
}

// bucket is the in-memory bucket state.
type bucket struct {
	tokens float64
	last   time.Time
}

// MemoryStore keeps buckets in a mutex-guarded map.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket)}
}

// Take implements Store.
func (s *MemoryStore) Take(_ context.Context, key string, cfg Config, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: cfg.Burst, last: now}
		s.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * cfg.Rate
		if b.tokens > cfg.Burst {
			b.tokens = cfg.Burst
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}
