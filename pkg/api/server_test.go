package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/llamafarm/llamafarm/pkg/broker"
	"github.com/llamafarm/llamafarm/pkg/manifest"
	"github.com/llamafarm/llamafarm/pkg/resultstore"
	"github.com/llamafarm/llamafarm/pkg/types"
)

func testServer(t *testing.T) (*Server, *broker.Broker) {
	t.Helper()

	store, err := resultstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create result store: %v", err)
	}
	b, err := broker.New(t.TempDir(), store, nil)
	if err != nil {
		t.Fatalf("failed to create broker: %v", err)
	}

	projectDir := t.TempDir()
	if err := manifest.Starter("default", "demo").Write(projectDir); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	s := NewServer(Config{
		Port:       0,
		ProjectDir: projectDir,
		TaskWait:   300 * time.Millisecond,
	}, b, nil, nil)
	return s, b
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestHealthDegradedWithoutRuntime(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var report types.HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if report.Status != types.HealthDegraded {
		t.Errorf("expected degraded without a runtime, got %s", report.Status)
	}
	if report.Components["result_store"].Status != types.HealthHealthy {
		t.Errorf("result store should be healthy: %+v", report.Components["result_store"])
	}
}

func TestIngestDispatches(t *testing.T) {
	s, b := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/projects/default/demo/datasets/main/ingest",
		map[string]string{"source_path": "/tmp/docs"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["task_id"] == "" {
		t.Fatal("no task_id in response")
	}

	task, err := b.Poll(resp["task_id"])
	if err != nil {
		t.Fatalf("task record missing: %v", err)
	}
	if task.State != types.TaskStatePending {
		t.Errorf("expected PENDING, got %s", task.State)
	}
	if task.Metadata["namespace"] != "default" || task.Metadata["database"] != "main" {
		t.Errorf("dispatch metadata lost: %v", task.Metadata)
	}
}

func TestIngestUsesConfiguredDataset(t *testing.T) {
	s, b := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/projects/default/demo/datasets/main/ingest", map[string]string{})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	task, _ := b.Poll(resp["task_id"])
	if task == nil || task.Name != "rag.ingest_file" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestIngestUnknownProject(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/projects/other/project/datasets/main/ingest",
		map[string]string{"source_path": "/tmp"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestIngestUnknownDatabase(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/projects/default/demo/datasets/missing/ingest",
		map[string]string{"source_path": "/tmp"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestTaskPollNotFound(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/v1/tasks/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestTaskFailureIsOK(t *testing.T) {
	s, b := testServer(t)

	sig, _ := broker.BuildSignature("rag.ingest_file", nil)
	handle, _ := b.Dispatch(sig)
	_ = b.Store().SetStarted(handle.TaskID)
	_ = b.Store().SetFailure(handle.TaskID, "embedder unreachable")

	rec := doJSON(t, s, http.MethodGet, "/v1/tasks/"+handle.TaskID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed jobs must be 200, got %d", rec.Code)
	}

	var resp taskResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.State != types.TaskStateFailure {
		t.Errorf("expected FAILURE, got %s", resp.State)
	}
	if resp.Error == nil || !strings.Contains(resp.Error.Message, "embedder unreachable") {
		t.Errorf("error payload missing: %+v", resp.Error)
	}
}

func TestTaskRevoke(t *testing.T) {
	s, b := testServer(t)

	sig, _ := broker.BuildSignature("rag.ingest_file", nil)
	handle, _ := b.Dispatch(sig)

	rec := doJSON(t, s, http.MethodDelete, "/v1/tasks/"+handle.TaskID+"?terminate=true", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if !b.Revoked(handle.TaskID) {
		t.Error("revocation flag not raised")
	}

	poll := doJSON(t, s, http.MethodGet, "/v1/tasks/"+handle.TaskID, nil)
	var resp taskResponse
	_ = json.Unmarshal(poll.Body.Bytes(), &resp)
	if resp.State != types.TaskStateRevoked {
		t.Errorf("expected REVOKED, got %s", resp.State)
	}
	if resp.Error == nil || resp.Error.Code != types.CodeRevoked {
		t.Errorf("expected revoked error payload: %+v", resp.Error)
	}
}

func TestQueryTimeoutIsOK(t *testing.T) {
	// No worker serving the queue: the wait must end in a timeout
	// payload, never a 5xx.
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/rag/main/query", map[string]interface{}{"query": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp taskResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != types.CodeTimeout {
		t.Errorf("expected timeout payload, got %+v", resp.Error)
	}
	if resp.TaskID == "" {
		t.Error("timeout payload must include the task id for later polling")
	}
}

func TestQueryRequiresText(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/rag/main/query", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestListDatasets(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/v1/projects/default/demo/datasets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "docs") {
		t.Errorf("starter dataset missing: %s", rec.Body.String())
	}
}

func TestDownloadRequiresModel(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/v1/models/download", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
