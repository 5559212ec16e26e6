package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/llamafarm/llamafarm/pkg/broker"
	"github.com/llamafarm/llamafarm/pkg/manifest"
	"github.com/llamafarm/llamafarm/pkg/resultstore"
	"github.com/llamafarm/llamafarm/pkg/types"
)

// fakeRuntime answers the embeddings endpoint with deterministic
// vectors derived from text length.
func fakeRuntime(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		for i, text := range req.Input {
			resp.Data = append(resp.Data, item{
				Embedding: []float32{float32(len(text)), 1, 0},
				Index:     i,
			})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func startWorker(t *testing.T) *broker.Broker {
	t.Helper()

	store, err := resultstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b, err := broker.New(t.TempDir(), store, nil)
	if err != nil {
		t.Fatal(err)
	}

	projectDir := t.TempDir()
	if err := manifest.Starter("default", "demo").Write(projectDir); err != nil {
		t.Fatal(err)
	}

	runtime := fakeRuntime(t)
	w := New(Config{
		ProjectDir:  projectDir,
		VectorRoot:  t.TempDir(),
		RuntimeURL:  runtime.URL,
		Concurrency: 1,
	}, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func TestWorkerIngestAndQuery(t *testing.T) {
	b := startWorker(t)

	docs := t.TempDir()
	if err := os.WriteFile(filepath.Join(docs, "notes.txt"), []byte("llamas are camelids native to south america"), 0644); err != nil {
		t.Fatal(err)
	}

	sig, _ := broker.BuildSignature("rag.ingest_file", map[string]string{
		"source_path": docs,
		"database":    "main",
	})
	handle, err := b.Dispatch(sig)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	rec, err := b.Await(handle.TaskID, 10*time.Second, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ingest task failed: %v", err)
	}
	if rec.State != types.TaskStateSuccess {
		t.Fatalf("expected SUCCESS, got %s: %s", rec.State, rec.Traceback)
	}

	var result types.IngestResult
	if err := json.Unmarshal(rec.Result, &result); err != nil {
		t.Fatalf("bad ingest result: %v", err)
	}
	if result.ProcessedFiles != 1 || result.StoredChunks == 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	// Query the same database through the worker.
	qsig, _ := broker.BuildSignature("rag.query", map[string]interface{}{
		"database": "main",
		"query":    "what are llamas",
		"top_k":    3,
	})
	qhandle, err := b.Dispatch(qsig)
	if err != nil {
		t.Fatalf("query dispatch failed: %v", err)
	}
	qrec, err := b.Await(qhandle.TaskID, 10*time.Second, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("query task failed: %v", err)
	}
	if qrec.State != types.TaskStateSuccess {
		t.Fatalf("expected SUCCESS, got %s: %s", qrec.State, qrec.Traceback)
	}

	var qresult struct {
		Hits []types.QueryHit `json:"hits"`
	}
	if err := json.Unmarshal(qrec.Result, &qresult); err != nil {
		t.Fatalf("bad query result: %v", err)
	}
	if len(qresult.Hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if qresult.Hits[0].Text == "" || qresult.Hits[0].SourcePath == "" {
		t.Errorf("hit missing fields: %+v", qresult.Hits[0])
	}
}

func TestWorkerStats(t *testing.T) {
	b := startWorker(t)

	sig, _ := broker.BuildSignature("rag.stats", map[string]string{"database": "main"})
	handle, _ := b.Dispatch(sig)
	rec, err := b.Await(handle.TaskID, 10*time.Second, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("stats task failed: %v", err)
	}
	if rec.State != types.TaskStateSuccess {
		t.Fatalf("expected SUCCESS, got %s: %s", rec.State, rec.Traceback)
	}

	var stats struct {
		Chunks    int `json:"chunks"`
		Documents int `json:"documents"`
	}
	if err := json.Unmarshal(rec.Result, &stats); err != nil {
		t.Fatalf("bad stats payload: %v", err)
	}
	if stats.Chunks != 0 {
		t.Errorf("fresh database should be empty: %+v", stats)
	}
}

func TestWorkerHealthTask(t *testing.T) {
	b := startWorker(t)

	sig, _ := broker.BuildSignature("orchestration.health", nil)
	handle, _ := b.Dispatch(sig)
	rec, err := b.Await(handle.TaskID, 10*time.Second, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("health task failed: %v", err)
	}

	var report types.HealthReport
	if err := json.Unmarshal(rec.Result, &report); err != nil {
		t.Fatalf("bad health payload: %v", err)
	}
	if report.Status != types.HealthHealthy {
		t.Errorf("expected healthy, got %s", report.Status)
	}
}

func TestWorkerIngestBadDatabase(t *testing.T) {
	b := startWorker(t)

	sig, _ := broker.BuildSignature("rag.ingest_file", map[string]string{
		"source_path": t.TempDir(),
		"database":    "missing",
	})
	handle, _ := b.Dispatch(sig)
	rec, err := b.Await(handle.TaskID, 10*time.Second, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if rec.State != types.TaskStateFailure {
		t.Fatalf("expected FAILURE, got %s", rec.State)
	}
}
