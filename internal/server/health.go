package server

import (
	"context"
	"errors"
	"net/http"
	"time"
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

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
	Details   any             `json:"details,omitempty"`
}

// healthHandler provides a detailed health check endpoint. Degraded still
// answers 200; unhealthy answers 503.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	statusCode := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, health)
}

// liveHandler provides a liveness probe (is the process running?)
func liveHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// checkHealth performs health checks on all configured components
func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  time.Now(),
		Version:    s.build.Version,
		Components: make(map[string]ComponentHealth),
	}

	health.Components["data_dir"] = s.checkDataDirHealth()

	if s.audit != nil {
		health.Components["database"] = checkRemote(ctx, s.audit.Ping, s.auditBreaker, "database")
	}
	if s.mirror != nil {
		health.Components["mirror"] = checkRemote(ctx, s.mirror.Ping, s.mirrorBreaker, "mirror")
	}

	health.Status = determineOverallHealth(health.Components)
	return health
}

// checkDataDirHealth checks the payload directory accepts writes. The data
// dir is the only component whose failure makes saves impossible.
func (s *Server) checkDataDirHealth() ComponentHealth {
	details := map[string]any{"path": s.store.Dir()}

	err := s.store.CheckWritable()
	switch {
	case err == nil:
		return ComponentHealth{Status: ComponentStatusUp, Message: "data dir writable", Details: details}
	case errors.Is(err, errDataDirMissing):
		return ComponentHealth{Status: ComponentStatusUp, Message: "data dir will be created on first save", Details: details}
	default:
		return ComponentHealth{Status: ComponentStatusDown, Message: "data dir not writable: " + err.Error(), Details: details}
	}
}

// checkRemote pings an optional side-effect target. Its failure only
// degrades the service since saves still commit locally.
func checkRemote(ctx context.Context, ping func(context.Context) error, cb *CircuitBreaker, name string) ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	details := map[string]any{"circuit": cb.Stats()}

	if err := ping(ctx); err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDegraded,
			Message: name + " unreachable: " + err.Error(),
			Details: details,
		}
	}

	latency := time.Since(start).Milliseconds()
	status := ComponentStatusUp
	message := name + " healthy"
	if latency > 2000 {
		status = ComponentStatusDegraded
		message = name + " latency high"
	}

	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(latency),
		Details:   details,
	}
}

// determineOverallHealth calculates overall health from component statuses
func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var (
		downCount     int
		degradedCount int
	)

	for _, component := range components {
		switch component.Status {
		case ComponentStatusDown:
			downCount++
		case ComponentStatusDegraded:
			degradedCount++
		}
	}

	if downCount > 0 {
		return HealthStatusUnhealthy
	}
	if degradedCount > 0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
