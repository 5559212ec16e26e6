package vectorstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/llamafarm/llamafarm/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(t.TempDir(), "main")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testChunk(i int) *types.Chunk {
	return &types.Chunk{
		ChunkID:      fmt.Sprintf("chunk-%d", i),
		DocumentHash: "doc-hash",
		SourcePath:   "/p/a.txt",
		Text:         fmt.Sprintf("chunk text %d", i),
		Embedding:    []float32{float32(i), 1, 0},
	}
}

func TestUpsertAndSeen(t *testing.T) {
	s := newTestStore(t)

	stored, err := s.Upsert(testChunk(1))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if !stored {
		t.Error("first upsert should store")
	}

	seen, err := s.Seen("chunk-1")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("chunk-1 should be seen after upsert")
	}

	// Duplicate chunk id is skipped, not overwritten.
	stored, err = s.Upsert(testChunk(1))
	if err != nil {
		t.Fatal(err)
	}
	if stored {
		t.Error("duplicate upsert should be skipped")
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Chunks != 1 {
		t.Errorf("expected 1 chunk, got %d", stats.Chunks)
	}
}

func TestDimensionEnforcement(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Upsert(testChunk(1)); err != nil {
		t.Fatal(err)
	}

	bad := testChunk(2)
	bad.Embedding = []float32{1, 2, 3, 4} // wrong dimension
	_, err := s.Upsert(bad)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}

	dim, err := s.Dimension()
	if err != nil {
		t.Fatal(err)
	}
	if dim != 3 {
		t.Errorf("expected dimension 3, got %d", dim)
	}
}

func TestUpsertEmptyVector(t *testing.T) {
	s := newTestStore(t)

	c := testChunk(1)
	c.Embedding = nil
	_, err := s.Upsert(c)
	if !errors.Is(err, ErrEmptyVector) {
		t.Errorf("expected ErrEmptyVector, got %v", err)
	}
}

func TestQueryTopK(t *testing.T) {
	s := newTestStore(t)

	vectors := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	for i, v := range vectors {
		c := testChunk(i)
		c.Embedding = v
		if _, err := s.Upsert(c); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := s.Query([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != "chunk-0" {
		t.Errorf("expected chunk-0 first, got %s", hits[0].ChunkID)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits not sorted by descending score")
	}
}

func TestQueryDimensionMismatch(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Upsert(testChunk(1)); err != nil {
		t.Fatal(err)
	}
	_, err := s.Query([]float32{1, 0}, 5)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{name: "identical", a: []float32{1, 0}, b: []float32{1, 0}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosine(tt.a, tt.b)
			if got < tt.want-1e-6 || got > tt.want+1e-6 {
				t.Errorf("cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
