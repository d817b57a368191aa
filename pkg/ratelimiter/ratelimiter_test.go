package ratelimiter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safedocs-io/safedocs/pkg/ratelimiter"
)

func TestBucket_MemoryStore(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(0)
	bucket, err := ratelimiter.NewBucket(store, ratelimiter.Config{
		Capacity:       3,
		RefillRate:     1,
		RefillInterval: time.Minute,
	})
	require.NoError(t, err)

	for i := range 3 {
		res, err := bucket.Allow(context.Background(), "user-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed(), "request %d within capacity", i)
	}

	res, err := bucket.Allow(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed())
	assert.Positive(t, res.RetryAfter())

	// Independent keys are unaffected.
	res, err = bucket.Allow(context.Background(), "user-2")
	require.NoError(t, err)
	assert.True(t, res.Allowed())

	require.NoError(t, bucket.Reset(context.Background(), "user-1"))
	res, err = bucket.Allow(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed())
}

func TestBucket_MemoryStore_DenialDoesNotCharge(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(0)
	bucket, err := ratelimiter.NewBucket(store, ratelimiter.Config{
		Capacity:       2,
		RefillRate:     2,
		RefillInterval: time.Minute,
	})
	require.NoError(t, err)

	for range 2 {
		res, err := bucket.Allow(context.Background(), "flood")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	}

	// A flood against the empty bucket must not push it further into debt;
	// each denial reports the same one-token shortfall.
	for range 50 {
		res, err := bucket.Allow(context.Background(), "flood")
		require.NoError(t, err)
		assert.False(t, res.Allowed())
		assert.Equal(t, -1, res.Remaining)
	}
}

func TestBucket_RedisStore_DenialDoesNotCharge(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := ratelimiter.NewRedisStore(client, "test")
	bucket, err := ratelimiter.NewBucket(store, ratelimiter.Config{
		Capacity:       1,
		RefillRate:     1,
		RefillInterval: time.Minute,
	})
	require.NoError(t, err)

	res, err := bucket.Allow(context.Background(), "flood")
	require.NoError(t, err)
	assert.True(t, res.Allowed())

	for range 50 {
		res, err = bucket.Allow(context.Background(), "flood")
		require.NoError(t, err)
		assert.False(t, res.Allowed())
		assert.Equal(t, -1, res.Remaining)
	}
}

func TestNewBucket_ConfigValidation(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(0)

	_, err := ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 0, RefillRate: 1, RefillInterval: time.Second})
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)

	_, err = ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 1, RefillRate: 0, RefillInterval: time.Second})
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)

	_, err = ratelimiter.NewBucket(nil, ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Second})
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
}

func TestBucket_RedisStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := ratelimiter.NewRedisStore(client, "test")
	bucket, err := ratelimiter.NewBucket(store, ratelimiter.Config{
		Capacity:       2,
		RefillRate:     2,
		RefillInterval: time.Minute,
	})
	require.NoError(t, err)

	res, err := bucket.Allow(context.Background(), "sync:user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed())
	assert.Equal(t, 1, res.Remaining)

	res, err = bucket.Allow(context.Background(), "sync:user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed())
	assert.Equal(t, 0, res.Remaining)

	res, err = bucket.Allow(context.Background(), "sync:user-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed())

	// Refill after the interval elapses.
	mr.FastForward(time.Minute) // expiry only; the script uses wall clock
	require.NoError(t, bucket.Reset(context.Background(), "sync:user-1"))
	res, err = bucket.Allow(context.Background(), "sync:user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed())
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(0)
	bucket, err := ratelimiter.NewBucket(store, ratelimiter.Config{
		Capacity:       1,
		RefillRate:     1,
		RefillInterval: time.Minute,
	})
	require.NoError(t, err)

	handler := ratelimiter.Middleware(bucket, func(r *http.Request) string {
		return r.Header.Get("X-User-ID")
	}, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/billing/sync", nil)
		if userID != "" {
			req.Header.Set("X-User-ID", userID)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	rr := do("u1")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))

	rr = do("u1")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// Unkeyed requests bypass the limiter.
	rr = do("")
	assert.Equal(t, http.StatusOK, rr.Code)
}
