package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// HealthChecker aggregates dependency probes for liveness/readiness.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]CheckFunc)}
}

// Register adds a named dependency check.
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Run executes all checks and returns per-dependency status.
func (h *HealthChecker) Run(ctx context.Context) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := check(cctx); err != nil {
			results[name] = err.Error()
		} else {
			results[name] = "ok"
		}
		cancel()
	}
	return results
}

// LivenessHandler always reports the process as alive.
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// ReadinessHandler reports 503 if any dependency check fails.
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := h.Run(r.Context())
		status := http.StatusOK
		for _, v := range results {
			if v != "ok" {
				status = http.StatusServiceUnavailable
				break
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(results)
	}
}

// DatabaseCheck probes a *sql.DB.
func DatabaseCheck(db *sql.DB) CheckFunc {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

// RedisCheck probes a redis client.
func RedisCheck(client *redis.Client) CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
