package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status    ComponentStatus      `json:"status"`
	Message   string               `json:"message,omitempty"`
	LatencyMs float64              `json:"latency_ms,omitempty"`
	Breaker   *CircuitBreakerStats `json:"breaker,omitempty"`
}

// pinger is implemented by auditors backed by a database.
type pinger interface {
	Ping(ctx context.Context) error
}

// breakerReporter is implemented by replicators guarded by a circuit breaker.
type breakerReporter interface {
	BreakerStats() CircuitBreakerStats
}

// AdminHandler serves the operational endpoints on their own listener so the
// public surface stays limited to uploads and files.
func (s *Server) AdminHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /livez", handleLive)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	status := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  time.Now().UTC(),
		Components: map[string]ComponentHealth{"storage": s.checkStorageHealth()},
	}
	if p, ok := s.audit.auditor.(pinger); ok {
		health.Components["database"] = checkDatabaseHealth(ctx, p)
	}
	if b, ok := s.mirror.(breakerReporter); ok {
		health.Components["mirror"] = checkMirrorHealth(b)
	}
	health.Status = overallHealth(health.Components)
	return health
}

// checkStorageHealth proves the scratch directory is writable, which is the
// first thing every upload needs.
func (s *Server) checkStorageHealth() ComponentHealth {
	start := time.Now()
	f, err := os.CreateTemp(s.tempDir, "healthz-*")
	if err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "storage not writable: " + err.Error()}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	return ComponentHealth{
		Status:    ComponentStatusUp,
		Message:   "storage writable",
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
	}
}

func checkDatabaseHealth(ctx context.Context, p pinger) ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "database ping failed: " + err.Error()}
	}
	return ComponentHealth{
		Status:    ComponentStatusUp,
		Message:   "database healthy",
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
	}
}

func checkMirrorHealth(b breakerReporter) ComponentHealth {
	stats := b.BreakerStats()
	c := ComponentHealth{Message: "circuit " + stats.State.String(), Breaker: &stats}
	switch stats.State {
	case StateClosed:
		c.Status = ComponentStatusUp
	case StateHalfOpen:
		c.Status = ComponentStatusDegraded
	default:
		c.Status = ComponentStatusDown
	}
	return c
}

// overallHealth: storage down makes the service unhealthy. The audit
// database and the mirror are optional, so their failures only degrade it.
func overallHealth(components map[string]ComponentHealth) HealthStatus {
	status := HealthStatusHealthy
	for name, c := range components {
		if c.Status == ComponentStatusUp {
			continue
		}
		if name == "storage" && c.Status == ComponentStatusDown {
			return HealthStatusUnhealthy
		}
		status = HealthStatusDegraded
	}
	return status
}
