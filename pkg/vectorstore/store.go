package vectorstore

import (
	"errors"

	"github.com/llamafarm/llamafarm/pkg/types"
)

var (
	// ErrDimensionMismatch is returned when a vector's dimension does
	// not match the collection's established dimension
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyVector is returned for zero-length or all-zero vectors
	ErrEmptyVector = errors.New("empty embedding vector")
)

// Stats summarizes a database's contents
type Stats struct {
	Chunks    int `json:"chunks"`
	Documents int `json:"documents"`
	Dimension int `json:"dimension"`
}

// Store is the interface for a single database's vector storage.
// Implemented by BoltStore.
type Store interface {
	// Seen reports whether a chunk id is already stored. This is the
	// authoritative deduplication check.
	Seen(chunkID string) (bool, error)

	// Upsert writes a chunk with its embedding. Returns false when the
	// chunk id was already present (write skipped, dedup hit).
	Upsert(chunk *types.Chunk) (bool, error)

	// Query returns the k nearest chunks to the vector by cosine similarity
	Query(vector []float32, k int) ([]types.QueryHit, error)

	// Stats returns chunk/document counts and the collection dimension
	Stats() (Stats, error)

	// Dimension returns the established embedding dimension, 0 when empty
	Dimension() (int, error)

	// Close closes the store
	Close() error
}
