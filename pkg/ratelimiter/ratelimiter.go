// Package ratelimiter provides a token bucket limiter with in-memory and
// Redis-backed stores. It guards the externally triggerable billing endpoints
// (manual sync, webhook ingress) against floods.
package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig    = errors.New("invalid rate limiter configuration")
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)

// Config defines one token bucket.
type Config struct {
	Capacity       int           // burst limit
	RefillRate     int           // tokens added per interval
	RefillInterval time.Duration
}

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.RefillRate <= 0 {
		return fmt.Errorf("%w: refill rate must be positive, got %d", ErrInvalidConfig, c.RefillRate)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("%w: refill interval must be positive, got %v", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}

// Result reports the outcome of a limit check.
type Result struct {
	Limit     int
	Remaining int // negative means denied
	ResetAt   time.Time
}

func (r *Result) Allowed() bool { return r.Remaining >= 0 }

// RetryAfter returns how long to wait before retrying, zero when allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return time.Until(r.ResetAt)
}

// Store holds bucket state. Implementations must apply refill and consume
// atomically per key.
type Store interface {
	// ConsumeTokens refills the bucket for elapsed time, removes n tokens,
	// and returns the remaining count (negative = denied) and next refill.
	ConsumeTokens(ctx context.Context, key string, n int, cfg Config) (remaining int, resetAt time.Time, err error)

	// Reset drops all state for the key.
	Reset(ctx context.Context, key string) error
}

// Bucket is a token bucket limiter over a Store.
type Bucket struct {
	store Store
	cfg   Config
}

func NewBucket(store Store, cfg Config) (*Bucket, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Bucket{store: store, cfg: cfg}, nil
}

// Allow consumes one token for the key.
func (b *Bucket) Allow(ctx context.Context, key string) (*Result, error) {
	remaining, resetAt, err := b.store.ConsumeTokens(ctx, key, 1, b.cfg)
	if err != nil {
		return nil, err
	}
	return &Result{Limit: b.cfg.Capacity, Remaining: remaining, ResetAt: resetAt}, nil
}

// Reset clears the key's bucket.
func (b *Bucket) Reset(ctx context.Context, key string) error {
	return b.store.Reset(ctx, key)
}
