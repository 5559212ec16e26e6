package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/llamafarm/llamafarm/pkg/health"
	"github.com/llamafarm/llamafarm/pkg/types"
)

// handleHealth aggregates component health into one report: the result
// store, the task queue, and the runtime. A missing runtime degrades
// the report (retrieval still works); a broken result store is fatal.
func (s *Server) handleHealth(c echo.Context) error {
	components := map[string]types.ComponentHealth{
		"result_store": s.checkResultStore(),
		"task_queue":   s.checkQueue(),
		"runtime":      s.checkRuntime(c),
	}

	status := types.HealthHealthy
	if components["runtime"].Status != types.HealthHealthy {
		status = types.HealthDegraded
	}
	if components["result_store"].Status == types.HealthUnhealthy ||
		components["task_queue"].Status == types.HealthUnhealthy {
		status = types.HealthUnhealthy
	}

	report := types.HealthReport{Status: status, Components: components}
	code := http.StatusOK
	if status == types.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

// checkResultStore verifies the store directory is writable
func (s *Server) checkResultStore() types.ComponentHealth {
	start := time.Now()
	probe := filepath.Join(s.broker.Store().Dir(), ".healthz")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return types.ComponentHealth{
			Status:    types.HealthUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Message:   err.Error(),
		}
	}
	_ = os.Remove(probe)
	return types.ComponentHealth{Status: types.HealthHealthy, LatencyMs: time.Since(start).Milliseconds()}
}

// checkQueue verifies the rag queue is listable and reports its depth
func (s *Server) checkQueue() types.ComponentHealth {
	start := time.Now()
	depth, err := s.broker.QueueDepth("rag")
	if err != nil {
		return types.ComponentHealth{
			Status:    types.HealthUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Message:   err.Error(),
		}
	}
	ch := types.ComponentHealth{Status: types.HealthHealthy, LatencyMs: time.Since(start).Milliseconds()}
	if depth > 100 {
		ch.Status = types.HealthDegraded
		ch.Message = "queue backlog"
	}
	return ch
}

// checkRuntime probes the Universal Runtime's health endpoint
func (s *Server) checkRuntime(c echo.Context) types.ComponentHealth {
	if s.cfg.RuntimeURL == "" {
		return types.ComponentHealth{Status: types.HealthDegraded, Message: "runtime not configured"}
	}

	checker := health.NewHTTPChecker(s.cfg.RuntimeURL + "/v1/health").WithTimeout(2 * time.Second)
	result := checker.Check(c.Request().Context())

	ch := types.ComponentHealth{
		LatencyMs: result.Duration.Milliseconds(),
		Message:   result.Message,
	}
	switch {
	case !result.Healthy:
		ch.Status = types.HealthUnhealthy
	case result.Degraded():
		ch.Status = types.HealthDegraded
	default:
		ch.Status = types.HealthHealthy
		ch.Message = ""
	}
	return ch
}
