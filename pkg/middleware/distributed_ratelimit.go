package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/civitashq/civitas/pkg/observability"
)

// DistributedRateLimiter is a Redis-backed fixed-window limiter shared by
// all instances behind the same Redis.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a Redis-backed rate limiter.
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "civitas:ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Allow increments the window counter and reports whether the request is
// under the limit. Redis failures fail open with a non-nil error so the
// caller can count them.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the requests left in the current window.
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TTL returns the time until the window resets.
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Result()
}

// Reset clears the counter for a key.
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}

// DistributedRateLimitMiddleware is the Redis-backed variant of
// RateLimitMiddleware.
type DistributedRateLimitMiddleware struct {
	redis            *redis.Client
	userLimiter      *DistributedRateLimiter
	anonymousLimiter *DistributedRateLimiter
	failOpen         bool
}

// NewDistributedRateLimitMiddleware creates the middleware. It fails open on
// Redis errors; a broken Redis must not take the API down with it.
func NewDistributedRateLimitMiddleware(redisClient *redis.Client) *DistributedRateLimitMiddleware {
	return &DistributedRateLimitMiddleware{
		redis:            redisClient,
		userLimiter:      NewDistributedRateLimiter(redisClient, PerUserRateLimitConfig(), "civitas:ratelimit:user"),
		anonymousLimiter: NewDistributedRateLimiter(redisClient, DefaultRateLimitConfig(), "civitas:ratelimit:anon"),
		failOpen:         true,
	}
}

// SetFailOpen controls behavior on Redis errors: open admits the request,
// closed rejects with 503.
func (m *DistributedRateLimitMiddleware) SetFailOpen(enabled bool) {
	m.failOpen = enabled
}

// Handler wraps next with distributed rate limiting. Run after
// AuthMiddleware.
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var key string
		var limiter *DistributedRateLimiter
		if sess := SessionFromContext(r); sess != nil {
			key = "user:" + sess.UserID
			limiter = m.userLimiter
		} else {
			key = "ip:" + clientIP(r)
			limiter = m.anonymousLimiter
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			observability.FromContext(ctx).WithError(err).Warn("rate limiter backend unavailable")
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "service temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		if !allowed {
			observability.ObserveRateLimitRejection()
			retryAfter := limiter.config.WindowDuration.Seconds()
			if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
				retryAfter = ttl.Seconds()
			}
			writeRateLimited(w, retryAfter)
			return
		}

		if remaining, err := limiter.Remaining(ctx, key); err == nil {
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		}
		next.ServeHTTP(w, r)
	})
}

// HealthCheck verifies Redis connectivity.
func (m *DistributedRateLimitMiddleware) HealthCheck(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}
