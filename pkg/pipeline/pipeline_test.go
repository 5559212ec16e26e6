package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/llamafarm/llamafarm/pkg/embedder"
	"github.com/llamafarm/llamafarm/pkg/manifest"
	"github.com/llamafarm/llamafarm/pkg/vectorstore"
)

// stubEmbedder returns a fixed-dimension vector per text, or a canned
// error; failOn makes only the Nth call fail.
type stubEmbedder struct {
	dim    int
	err    error
	failOn int
	calls  int
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil && (s.failOn == 0 || s.failOn == s.calls) {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, s.dim)
		v[0] = float32(len(texts[i]))
		vectors[i] = v
	}
	return vectors, nil
}

func testStrategy() *manifest.Strategy {
	return &manifest.Strategy{
		Name:   "test",
		Filter: manifest.DirectoryFilter{Recursive: true, Exclude: []string{".*"}},
		Parsers: []manifest.ParserConfig{
			{Type: "markdown", FileExtensions: []string{".md"}, ChunkSize: 500},
			{Type: "text", FileExtensions: []string{".txt"}, ChunkSize: 200, ChunkOverlap: 20},
		},
		Extractors: []string{"path"},
	}
}

func testJob(t *testing.T, strategy *manifest.Strategy, emb embedder.Embedder) (*Job, vectorstore.Store) {
	t.Helper()
	store, err := vectorstore.Open(t.TempDir(), "main")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewJob(Config{Database: "main", Strategy: strategy, BatchSize: 4}, store, emb), store
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestRunIngestsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello world, this is a test document with some content")
	writeFile(t, dir, "b.md", "# Title\n\nSome markdown body text here.")
	writeFile(t, dir, "c.bin", "no parser for this")

	job, store := testJob(t, testStrategy(), &stubEmbedder{dim: 4})
	result, err := job.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.ProcessedFiles != 2 {
		t.Errorf("expected 2 processed files, got %d", result.ProcessedFiles)
	}
	if result.StoredChunks == 0 {
		t.Error("expected stored chunks")
	}
	if len(result.Skipped) != 1 {
		t.Fatalf("expected 1 skipped file, got %d", len(result.Skipped))
	}
	if filepath.Base(result.Skipped[0].Path) != "c.bin" {
		t.Errorf("wrong skipped file: %s", result.Skipped[0].Path)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Chunks != result.StoredChunks {
		t.Errorf("store has %d chunks, result says %d", stats.Chunks, result.StoredChunks)
	}
	if stats.Dimension != 4 {
		t.Errorf("expected dimension 4, got %d", stats.Dimension)
	}
}

func TestRunEmptyDirectorySucceeds(t *testing.T) {
	job, _ := testJob(t, testStrategy(), &stubEmbedder{dim: 4})
	result, err := job.Run(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("empty directory should succeed: %v", err)
	}
	if result.ProcessedFiles != 0 || result.StoredChunks != 0 {
		t.Errorf("expected zero counts, got %d/%d", result.ProcessedFiles, result.StoredChunks)
	}
}

func TestRunSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", "just one file")

	job, _ := testJob(t, testStrategy(), &stubEmbedder{dim: 4})
	result, err := job.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ProcessedFiles != 1 {
		t.Errorf("expected 1 processed file, got %d", result.ProcessedFiles)
	}
}

func TestRunRerunDedups(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "stable content that hashes the same every run")

	emb := &stubEmbedder{dim: 4}
	job, _ := testJob(t, testStrategy(), emb)

	first, err := job.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.StoredChunks == 0 {
		t.Fatal("first run stored nothing")
	}
	callsAfterFirst := emb.calls

	second, err := job.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.StoredChunks != 0 {
		t.Errorf("re-run stored %d chunks, expected 0", second.StoredChunks)
	}
	if emb.calls != callsAfterFirst {
		t.Errorf("re-run called the embedder %d extra times", emb.calls-callsAfterFirst)
	}
}

func TestRunAllFilesFailed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.bin", "x")
	writeFile(t, dir, "b.bin", "y")

	job, _ := testJob(t, testStrategy(), &stubEmbedder{dim: 4})
	_, err := job.Run(context.Background(), dir)
	if err == nil {
		t.Fatal("expected failure when every file is skipped")
	}
}

func TestRunFailedEmbedBatchSkipsOnlyItsChunks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "0123456789012345678901234567890123456789")

	strategy := testStrategy()
	strategy.Parsers = []manifest.ParserConfig{
		{Type: "text", FileExtensions: []string{".txt"}, ChunkSize: 10},
	}

	// Four chunks, batch size two: the second batch fails with a
	// retryable-exhausted runtime error that is not fatal to the job.
	emb := &stubEmbedder{dim: 4, err: errors.New("runtime returned 400: bad input"), failOn: 2}
	store, err := vectorstore.Open(t.TempDir(), "main")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	job := NewJob(Config{Database: "main", Strategy: strategy, BatchSize: 2}, store, emb)
	result, err := job.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("partial embed failure must not fail the job: %v", err)
	}

	if result.StoredChunks != 2 {
		t.Errorf("expected 2 stored chunks from the good batch, got %d", result.StoredChunks)
	}
	if result.ProcessedFiles != 1 {
		t.Errorf("expected 1 processed file, got %d", result.ProcessedFiles)
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("expected 2 skipped chunks, got %d: %+v", len(result.Skipped), result.Skipped)
	}
	for _, skip := range result.Skipped {
		if !strings.Contains(skip.Reason, "embedding failed") {
			t.Errorf("skip reason should name the embed failure: %q", skip.Reason)
		}
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Chunks != result.StoredChunks {
		t.Errorf("store has %d chunks, result says %d", stats.Chunks, result.StoredChunks)
	}
}

func TestRunEmbedderUnreachableFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "some content")
	writeFile(t, dir, "b.txt", "more content")

	job, _ := testJob(t, testStrategy(), &stubEmbedder{err: embedder.ErrUnreachable})
	_, err := job.Run(context.Background(), dir)
	if !errors.Is(err, embedder.ErrUnreachable) {
		t.Errorf("expected ErrUnreachable, got %v", err)
	}
}

func TestRunRevoked(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "content")

	cfg := Config{
		Database: "main",
		Strategy: testStrategy(),
		Revoked:  func() bool { return true },
	}
	store, err := vectorstore.Open(t.TempDir(), "main")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	job := NewJob(cfg, store, &stubEmbedder{dim: 4})
	_, err = job.Run(context.Background(), dir)
	if !errors.Is(err, ErrRevoked) {
		t.Errorf("expected ErrRevoked, got %v", err)
	}
}

func TestRunReportsProgress(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "content to ingest")

	var stages []Stage
	cfg := Config{
		Database: "main",
		Strategy: testStrategy(),
		Progress: func(percent int, stage Stage, file string) {
			stages = append(stages, stage)
		},
	}
	store, err := vectorstore.Open(t.TempDir(), "main")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	job := NewJob(cfg, store, &stubEmbedder{dim: 4})
	if _, err := job.Run(context.Background(), dir); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stages[0] != StageDiscovering {
		t.Errorf("first stage was %s", stages[0])
	}
	if stages[len(stages)-1] != StageDone {
		t.Errorf("last stage was %s", stages[len(stages)-1])
	}
	seen := map[Stage]bool{}
	for _, s := range stages {
		seen[s] = true
	}
	for _, want := range []Stage{StageParsing, StageEmbedding, StageStoring} {
		if !seen[want] {
			t.Errorf("stage %s never reported", want)
		}
	}
}

func TestChunkIDStable(t *testing.T) {
	a := chunkID("hash", 0)
	b := chunkID("hash", 0)
	c := chunkID("hash", 1)
	if a != b {
		t.Error("same inputs produced different chunk ids")
	}
	if a == c {
		t.Error("different indexes produced the same chunk id")
	}
}
