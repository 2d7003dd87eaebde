package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for comprehensive application monitoring.
// All metrics are registered in the default Prometheus registry and
// exposed via the /metrics endpoint.

var (
	// httpRequestsTotal counts all HTTP requests by method, path, and status.
	// Use for request rate monitoring and error rate calculation.
	//
	// Labels: method (GET, POST, etc.), path (/api/auth), status (200, 404, 500)
	// Type: Counter
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration measures request processing time for performance monitoring.
	// Use for latency analysis and SLO tracking (P50, P95, P99).
	//
	// Labels: method, path
	// Type: Histogram
	// Buckets: Default Prometheus buckets (0.005s to 10s)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// httpRequestSize tracks request body sizes for bandwidth and quota monitoring.
	//
	// Labels: method, path
	// Type: Histogram
	// Buckets: Exponential from 100 bytes to 100 MB
	httpRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// httpResponseSize tracks response body sizes for bandwidth monitoring.
	//
	// Labels: method, path
	// Type: Histogram
	// Buckets: Exponential from 100 bytes to 100 MB
	httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// authAttemptsTotal counts auth endpoint calls by action and outcome.
	// Use for security monitoring: a rise in unauthorized or too_many_requests
	// results on the login action usually means credential stuffing.
	//
	// Labels: action (login, register, google-login, ...), result (success, validation, unauthorized, ...)
	// Type: Counter
	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total number of auth endpoint calls by action and result",
		},
		[]string{"action", "result"},
	)

	// sessionRotationsTotal counts session identifier rotations.
	//
	// Type: Counter
	sessionRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_session_rotations_total",
			Help: "Total number of session identifier rotations",
		},
	)

	// activityLogFailuresTotal counts activity-log writes that were dropped.
	// Alert on any sustained increase: the audit trail is incomplete.
	//
	// Type: Counter
	activityLogFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_activity_log_failures_total",
			Help: "Total number of activity log entries that failed to persist",
		},
	)

	// rateLimitedTotal counts requests rejected by the per-IP rate limiter.
	//
	// Labels: action (login, check-session, ..., other)
	// Type: Counter
	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rate_limited_total",
			Help: "Total number of auth requests rejected by the rate limiter",
		},
		[]string{"action"},
	)

	// dbQueriesTotal counts database queries by database, operation, and status.
	// Use for query rate monitoring and error tracking.
	//
	// Labels: database (postgres, redis), operation (SELECT, INSERT, GET, SET), status (success, error)
	// Type: Counter
	dbQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"database", "operation", "status"},
	)

	// dbQueryDuration measures database query execution time.
	// Use for identifying slow queries and database performance issues.
	//
	// Labels: database (postgres, redis), operation (SELECT, INSERT, GET, SET)
	// Type: Histogram
	// Buckets: Default Prometheus buckets
	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)
)

// init registers all metrics with the Prometheus default registry.
// This is called automatically when the package is imported.
// Panics if any metric name conflicts with existing registrations.
func init() {
	// Register metrics with Prometheus
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestSize)
	prometheus.MustRegister(httpResponseSize)
	prometheus.MustRegister(authAttemptsTotal)
	prometheus.MustRegister(sessionRotationsTotal)
	prometheus.MustRegister(activityLogFailuresTotal)
	prometheus.MustRegister(rateLimitedTotal)
	prometheus.MustRegister(dbQueriesTotal)
	prometheus.MustRegister(dbQueryDuration)
}

// Metrics creates middleware for collecting HTTP metrics.
// Records request count, duration, request size, and response size
// for every HTTP request that passes through.
//
// Metrics collected per request:
//   - Request count (labeled by method, path, status)
//   - Request duration (labeled by method, path)
//   - Request size if Content-Length > 0 (labeled by method, path)
//   - Response size (labeled by method, path)
//
// The middleware wraps the response writer to capture status code
// and bytes written, which are not normally accessible.
//
// Performance impact: Negligible (<1ms per request overhead)
//
// Example Prometheus queries:
//
//	# Request rate by endpoint
//	rate(http_requests_total[5m])
//
//	# Error rate percentage
//	sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m]))
//
//	# P95 latency
//	histogram_quantile(0.95, rate(http_request_duration_seconds_bucket[5m]))
//
// Usage:
//
//	r.Use(middleware.Metrics())
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// Record request size
			requestSize := float64(r.ContentLength)
			if requestSize > 0 {
				httpRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(requestSize)
			}

			// Process request
			next.ServeHTTP(ww, r)

			// Record metrics
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(ww.Status())

			httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			httpResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(ww.BytesWritten()))
		})
	}
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
// Exposes all registered metrics in Prometheus text format for scraping.
//
// This endpoint should be exposed on a separate port or protected path
// for security. Never expose it publicly without authentication.
//
// Response format: Prometheus text-based exposition format
//
// Example metrics output:
//
//	# HELP http_requests_total Total number of HTTP requests
//	# TYPE http_requests_total counter
//	http_requests_total{method="GET",path="/api/auth",status="200"} 1234
//	auth_attempts_total{action="login",result="unauthorized"} 17
//
// Usage:
//
//	r.Get("/metrics", middleware.MetricsHandler().ServeHTTP)
//
// Prometheus scrape config:
//
//	scrape_configs:
//	  - job_name: 'storefront-auth'
//	    static_configs:
//	      - targets: ['localhost:8080']
//	    metrics_path: '/metrics'
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// IncrementAuthAttempts counts one auth endpoint call.
//
// Example:
//
//	middleware.IncrementAuthAttempts("login", "unauthorized")
func IncrementAuthAttempts(action, result string) {
	authAttemptsTotal.WithLabelValues(action, result).Inc()
}

// IncrementSessionRotations is passed to the session manager as its rotation hook.
func IncrementSessionRotations() {
	sessionRotationsTotal.Inc()
}

// IncrementActivityLogFailures is passed to the activity logger as its failure hook.
func IncrementActivityLogFailures() {
	activityLogFailuresTotal.Inc()
}

// IncrementRateLimited counts one request rejected with 429 by RateLimiter.
func IncrementRateLimited(action string) {
	rateLimitedTotal.WithLabelValues(action).Inc()
}

// RecordDBQuery records database query metrics including count and duration.
// It matches database.QueryObserver and is installed on both stores at startup.
//
// Parameters:
//   - database: Database type ("postgres" or "redis")
//   - operation: Operation type (e.g., "SELECT", "INSERT", "GET", "SET", "SCAN")
//   - status: Result status ("success" or "error")
//   - duration: How long the query took to execute
//
// Example:
//
//	pgDB.SetQueryObserver(middleware.RecordDBQuery)
//	redisDB.SetQueryObserver(middleware.RecordDBQuery)
func RecordDBQuery(database, operation, status string, duration time.Duration) {
	dbQueriesTotal.WithLabelValues(database, operation, status).Inc()
	dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}
