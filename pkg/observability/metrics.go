package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civitas_http_requests_total",
		Help: "Total HTTP requests by method, path and status.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "civitas_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	syncActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civitas_sync_push_actions_total",
		Help: "Push actions by outcome (applied, cached, conflict, rejected, error).",
	}, []string{"type", "outcome"})

	auditDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civitas_audit_events_dropped_total",
		Help: "Audit events dropped because the async queue was full.",
	})

	rateLimitRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civitas_ratelimit_rejected_total",
		Help: "Requests rejected by the rate limiter.",
	})
)

// ObserveHTTPRequest records one handled HTTP request.
func ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveSyncAction records the outcome of one push action.
func ObserveSyncAction(actionType, outcome string) {
	syncActionsTotal.WithLabelValues(actionType, outcome).Inc()
}

// ObserveAuditDrop records an audit event lost to queue overflow.
func ObserveAuditDrop() {
	auditDroppedTotal.Inc()
}

// ObserveRateLimitRejection records a 429 response.
func ObserveRateLimitRejection() {
	rateLimitRejectedTotal.Inc()
}

// MetricsHandler exposes the prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
