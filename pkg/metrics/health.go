package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/llamafarm/llamafarm/pkg/types"
)

var (
	healthChecker = &HealthChecker{
		components: make(map[string]types.ComponentHealth),
		startTime:  time.Now(),
	}
)

// HealthChecker manages health reporting for a service's components
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]types.ComponentHealth
	startTime  time.Time
	version    string
	critical   []string
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// SetCritical names the components readiness depends on
func SetCritical(names ...string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.critical = names
}

// RegisterComponent records a component's health
func RegisterComponent(name string, status types.HealthState, latency time.Duration, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = types.ComponentHealth{
		Status:    status,
		LatencyMs: latency.Milliseconds(),
		Message:   message,
	}
}

// UpdateComponent updates the health status of a component
func UpdateComponent(name string, status types.HealthState, latency time.Duration, message string) {
	RegisterComponent(name, status, latency, message)
}

// Reset clears all registered components. Test helper.
func Reset() {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.components = make(map[string]types.ComponentHealth)
	healthChecker.critical = nil
	healthChecker.startTime = time.Now()
}

// GetHealth returns the aggregated health report. The service is
// unhealthy if any component is unhealthy, degraded if any component
// is degraded, healthy otherwise.
func GetHealth() types.HealthReport {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := types.HealthHealthy
	components := make(map[string]types.ComponentHealth, len(healthChecker.components))

	for name, comp := range healthChecker.components {
		components[name] = comp
		switch comp.Status {
		case types.HealthUnhealthy:
			status = types.HealthUnhealthy
		case types.HealthDegraded:
			if status == types.HealthHealthy {
				status = types.HealthDegraded
			}
		}
	}

	return types.HealthReport{
		Status:     status,
		Components: components,
	}
}

// Uptime returns time since the health checker started
func Uptime() time.Duration {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()
	return time.Since(healthChecker.startTime)
}

// HealthHandler returns an HTTP handler for the /health endpoint.
// Degraded still answers 200 so pollers can distinguish a slow
// dependency from a dead service.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()

		w.Header().Set("Content-Type", "application/json")

		statusCode := http.StatusOK
		if health.Status == types.HealthUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler returns an HTTP handler for the /ready endpoint,
// checking only the components named via SetCritical.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthChecker.mu.RLock()
		ready := true
		detail := make(map[string]string)
		for _, name := range healthChecker.critical {
			comp, exists := healthChecker.components[name]
			if !exists {
				ready = false
				detail[name] = "not registered"
				continue
			}
			if comp.Status == types.HealthUnhealthy {
				ready = false
				detail[name] = "not ready: " + comp.Message
			} else {
				detail[name] = "ready"
			}
		}
		healthChecker.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		statusCode := http.StatusOK
		status := "ready"
		if !ready {
			statusCode = http.StatusServiceUnavailable
			status = "not_ready"
		}
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     status,
			"components": detail,
			"uptime":     Uptime().String(),
		})
	}
}

// LivenessHandler returns a liveness check that answers 200 whenever
// the process is running
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": Uptime().String(),
		})
	}
}
