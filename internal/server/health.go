// Package server implements health check handlers.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// StatusOK is the component status reported when a component works.
const StatusOK = "ok"

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Health tracks the state of the pipeline components. The process is live
// until MarkDead is called and ready once SetReady(true) was called and every
// registered component reports StatusOK.
type Health struct {
	mu         sync.RWMutex
	dead       bool
	ready      bool
	components map[string]string
}

// NewHealth creates a tracker with no components.
func NewHealth() *Health {
	return &Health{components: make(map[string]string)}
}

// SetComponent records the status of one component. Anything other than
// StatusOK marks the component as failing.
func (h *Health) SetComponent(name, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = status
}

// SetReady flips overall readiness, independent of component state.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// MarkDead makes liveness fail so the orchestrator restarts the process.
func (h *Health) MarkDead() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dead = true
}

// Liveness reports whether the process should keep running.
func (h *Health) Liveness() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.dead
}

// Readiness reports whether the pipeline is consuming and writing.
func (h *Health) Readiness(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return h.IsHealthy()
}

// IsHealthy reports readiness without a request context.
func (h *Health) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.dead || !h.ready {
		return false
	}
	for _, status := range h.components {
		if status != StatusOK {
			return false
		}
	}
	return true
}

// GetStatus returns a copy of the component statuses.
func (h *Health) GetStatus() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	status := make(map[string]string, len(h.components))
	for k, v := range h.components {
		status[k] = v
	}
	return status
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, logger)
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// Readiness probes indicate if the application can handle traffic.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}, logger)
	}
}

func writeHealth(w http.ResponseWriter, statusCode int, response HealthResponse, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode health response", "error", err)
	}
}
