package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	client := setupRedis(t)
	rl := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	}, "test")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, err := rl.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := rl.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestDistributedRateLimiter_Reset(t *testing.T) {
	client := setupRedis(t)
	rl := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "test")

	ctx := context.Background()
	_, err := rl.Allow(ctx, "k")
	require.NoError(t, err)

	allowed, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, allowed)

	require.NoError(t, rl.Reset(ctx, "k"))

	allowed, err = rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDistributedRateLimitMiddleware(t *testing.T) {
	client := setupRedis(t)
	m := &DistributedRateLimitMiddleware{
		redis:       client,
		userLimiter: NewDistributedRateLimiter(client, PerUserRateLimitConfig(), "u"),
		anonymousLimiter: NewDistributedRateLimiter(client, &RateLimitConfig{
			RequestsPerWindow: 1,
			WindowDuration:    time.Minute,
		}, "a"),
		failOpen: true,
	}

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/tasks", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestDistributedRateLimitMiddleware_FailOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	m := NewDistributedRateLimitMiddleware(client)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDistributedRateLimitMiddleware_FailClosed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	m := NewDistributedRateLimitMiddleware(client)
	m.SetFailOpen(false)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
