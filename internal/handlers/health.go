// Package handlers provides HTTP request handlers for the API endpoints.
// Handlers coordinate between the HTTP layer and service layer, handling
// request parsing and response formatting.
//
// This package includes handlers for:
//   - Health checks and readiness probes
//   - The auth endpoint: register, login, google-login, logout, check-session
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ieraasyl/StorefrontAuth/pkg/utils"
	"github.com/rs/zerolog/log"
)

// readyTimeout bounds the dependency pings of a readiness probe.
const readyTimeout = 5 * time.Second

// Pinger is a dependency that can report its reachability.
// *database.PostgresDB and *database.RedisDB implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints for monitoring and orchestration.
// Provides both simple liveness checks and detailed readiness checks that verify
// connectivity to dependent services (PostgreSQL and Redis).
type HealthHandler struct {
	postgres Pinger
	redis    Pinger
}

// NewHealthHandler creates a new health handler with database dependencies.
//
// Example:
//
//	healthHandler := handlers.NewHealthHandler(postgresDB, redisDB)
//	r.Get("/health", healthHandler.Health)
//	r.Get("/ready", healthHandler.Ready)
func NewHealthHandler(postgres, redis Pinger) *HealthHandler {
	return &HealthHandler{
		postgres: postgres,
		redis:    redis,
	}
}

// HealthResponse represents the health check response structure.
// Used by both the basic health check and detailed readiness check.
//
// JSON example:
//
//	{
//	  "status": "ok",
//	  "timestamp": "2024-01-20T14:30:00Z",
//	  "services": {
//	    "postgres": "healthy",
//	    "redis": "healthy"
//	  }
//	}
type HealthResponse struct {
	Status    string            `json:"status"`             // Overall status: "ok" or "degraded"
	Timestamp time.Time         `json:"timestamp"`          // Current server time
	Services  map[string]string `json:"services,omitempty"` // Individual service health (readiness only)
}

// Health returns a simple health check indicating the service is running.
// This is a liveness probe - it only checks if the application is alive,
// not if it's ready to serve traffic. Use Ready() for readiness checks.
//
// Always returns 200 OK with {"status": "ok"} unless the application
// is completely non-functional.
//
// Kubernetes liveness probe example:
//
//	livenessProbe:
//	  httpGet:
//	    path: /health
//	    port: 8080
//	  initialDelaySeconds: 10
//	  periodSeconds: 30
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	}

	utils.RespondWithJSON(w, r, http.StatusOK, response)
}

// Ready checks if the service is ready to accept traffic.
// This is a readiness probe that verifies connectivity to all dependent
// services (PostgreSQL and Redis). Returns 200 OK if all dependencies are
// healthy, or 503 Service Unavailable if any are down.
//
// Used by load balancers and orchestrators to determine if traffic should
// be routed to this instance. If this check fails, the instance is removed
// from the load balancer pool until it recovers.
//
// Health checks have a 5-second timeout to prevent hanging probes.
//
// Response status:
//   - "ok": All services healthy (200 OK)
//   - "degraded": One or more services unhealthy (503 Service Unavailable)
//
// Kubernetes readiness probe example:
//
//	readinessProbe:
//	  httpGet:
//	    path: /ready
//	    port: 8080
//	  initialDelaySeconds: 5
//	  periodSeconds: 10
//	  failureThreshold: 3
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	services := map[string]string{
		"postgres": probe(ctx, "postgres", h.postgres),
		"redis":    probe(ctx, "redis", h.redis),
	}

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Services:  services,
	}

	statusCode := http.StatusOK
	for _, state := range services {
		if state != "healthy" {
			response.Status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	utils.RespondWithJSON(w, r, statusCode, response)
}

func probe(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return "unhealthy"
	}
	if err := p.Ping(ctx); err != nil {
		log.Error().Err(err).Str("service", name).Msg("Health check failed")
		return "unhealthy"
	}
	return "healthy"
}
