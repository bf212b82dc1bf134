package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/civitashq/civitas/pkg/httputil"
	"github.com/civitashq/civitas/pkg/observability"
)

// RateLimitConfig defines a token bucket.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
	BurstSize         int
}

// DefaultRateLimitConfig is the anonymous caller budget.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerUserRateLimitConfig is the authenticated caller budget. Sync clients
// replaying a queue after reconnect burst hard, so this is generous.
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// RateLimiter is an in-memory token bucket limiter, suitable for a single
// instance. Multi-instance deployments use DistributedRateLimiter.
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates an in-memory rate limiter.
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether a request for the key may proceed, consuming one
// token when it may.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{
			tokens:     rl.config.RequestsPerWindow + rl.config.BurstSize,
			lastUpdate: time.Now(),
		}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastUpdate)

	tokensToAdd := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if tokensToAdd > 0 {
		b.tokens += tokensToAdd
		maxTokens := rl.config.RequestsPerWindow + rl.config.BurstSize
		if b.tokens > maxTokens {
			b.tokens = maxTokens
		}
		b.lastUpdate = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Remaining returns the tokens left for a key.
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return rl.config.RequestsPerWindow + rl.config.BurstSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Cleanup drops buckets idle for two windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup runs Cleanup once per window until the context is cancelled.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// RateLimitMiddleware limits requests per caller: authenticated callers are
// keyed by user id, anonymous callers by client IP.
type RateLimitMiddleware struct {
	userLimiter      *RateLimiter
	anonymousLimiter *RateLimiter
}

// NewRateLimitMiddleware creates the middleware with the default budgets.
func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		userLimiter:      NewRateLimiter(PerUserRateLimitConfig()),
		anonymousLimiter: NewRateLimiter(DefaultRateLimitConfig()),
	}
}

// Handler wraps next with rate limiting. Run after AuthMiddleware so
// authenticated callers get the per-user budget.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, limiter := m.keyFor(r)

		if !limiter.Allow(key) {
			observability.ObserveRateLimitRejection()
			writeRateLimited(w, limiter.config.WindowDuration.Seconds())
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", limiter.Remaining(key)))
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) keyFor(r *http.Request) (string, *RateLimiter) {
	if sess := SessionFromContext(r); sess != nil {
		return "user:" + sess.UserID, m.userLimiter
	}
	return "ip:" + clientIP(r), m.anonymousLimiter
}

func writeRateLimited(w http.ResponseWriter, retryAfter float64) {
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
	httputil.WriteTooManyRequests(w, "rate limit exceeded")
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
