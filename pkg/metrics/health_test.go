package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/llamafarm/llamafarm/pkg/types"
)

func TestRegisterComponent(t *testing.T) {
	Reset()

	RegisterComponent("result_store", types.HealthHealthy, 2*time.Millisecond, "")

	health := GetHealth()
	if len(health.Components) != 1 {
		t.Fatalf("expected 1 component, got %d", len(health.Components))
	}
	comp := health.Components["result_store"]
	if comp.Status != types.HealthHealthy {
		t.Errorf("expected healthy, got %s", comp.Status)
	}
	if comp.LatencyMs != 2 {
		t.Errorf("expected latency 2ms, got %d", comp.LatencyMs)
	}
}

func TestGetHealth_AllHealthy(t *testing.T) {
	Reset()

	RegisterComponent("broker", types.HealthHealthy, 0, "")
	RegisterComponent("vector_store", types.HealthHealthy, 0, "")

	health := GetHealth()
	if health.Status != types.HealthHealthy {
		t.Errorf("expected status healthy, got %s", health.Status)
	}
	if len(health.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(health.Components))
	}
}

func TestGetHealth_DegradedDependency(t *testing.T) {
	Reset()

	RegisterComponent("broker", types.HealthHealthy, 0, "")
	RegisterComponent("embedder", types.HealthDegraded, 1200*time.Millisecond, "slow responses")

	health := GetHealth()
	if health.Status != types.HealthDegraded {
		t.Errorf("expected status degraded, got %s", health.Status)
	}
}

func TestGetHealth_OneUnhealthy(t *testing.T) {
	Reset()

	RegisterComponent("broker", types.HealthHealthy, 0, "")
	RegisterComponent("runtime", types.HealthUnhealthy, 0, "connection refused")

	health := GetHealth()
	if health.Status != types.HealthUnhealthy {
		t.Errorf("expected status unhealthy, got %s", health.Status)
	}
	if health.Components["runtime"].Message != "connection refused" {
		t.Errorf("unexpected runtime message: %s", health.Components["runtime"].Message)
	}
}

func TestHealthHandler(t *testing.T) {
	Reset()

	RegisterComponent("broker", types.HealthHealthy, 0, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	HealthHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var report types.HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode health report: %v", err)
	}
	if report.Status != types.HealthHealthy {
		t.Errorf("expected healthy, got %s", report.Status)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	Reset()

	RegisterComponent("runtime", types.HealthUnhealthy, 0, "down")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	HealthHandler()(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestReadyHandler_MissingCritical(t *testing.T) {
	Reset()
	SetCritical("broker", "result_store")

	RegisterComponent("broker", types.HealthHealthy, 0, "")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	ReadyHandler()(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while result_store unregistered, got %d", rec.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
