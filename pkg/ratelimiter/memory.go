package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type memBucket struct {
	tokens     int
	lastRefill time.Time
	lastAccess time.Time
}

// MemoryStore keeps bucket state in process memory. Stale buckets are swept
// periodically so the map does not grow with distinct keys.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*memBucket

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewMemoryStore creates an in-memory store. sweepInterval 0 disables the
// background sweep.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		buckets:       make(map[string]*memBucket),
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweep()
	}
	return s
}

func (s *MemoryStore) ConsumeTokens(_ context.Context, key string, n int, cfg Config) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	b, ok := s.buckets[key]
	if !ok {
		b = &memBucket{tokens: cfg.Capacity, lastRefill: now}
		s.buckets[key] = b
	}

	// Cap refill intervals so a long-idle bucket cannot overflow int.
	maxIntervals := int64(cfg.Capacity/cfg.RefillRate + 1)
	intervals := min(int64(now.Sub(b.lastRefill)/cfg.RefillInterval), maxIntervals)
	if intervals > 0 {
		b.tokens = min(b.tokens+int(intervals)*cfg.RefillRate, cfg.Capacity)
		b.lastRefill = now
	}

	b.lastAccess = now
	resetAt := b.lastRefill.Add(cfg.RefillInterval)

	// An empty bucket denies without charging, so one refill interval is
	// enough to recover from a flood.
	if b.tokens < n {
		return b.tokens - n, resetAt, nil
	}
	b.tokens -= n

	return b.tokens, resetAt, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Close stops the background sweep.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * s.sweepInterval)
			s.mu.Lock()
			for key, b := range s.buckets {
				if b.lastAccess.Before(cutoff) {
					delete(s.buckets, key)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}
