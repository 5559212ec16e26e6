package vectorstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/llamafarm/llamafarm/pkg/types"
)

var (
	// Bucket names
	bucketChunks = []byte("chunks")
	bucketDedup  = []byte("dedup")
	bucketDocs   = []byte("documents")
	bucketMeta   = []byte("meta")

	keyDimension = []byte("dimension")
)

// dedupCacheSize bounds the in-memory hot set of known chunk ids.
// The bbolt dedup bucket stays authoritative; the cache only spares a
// read transaction for recently seen ids.
const dedupCacheSize = 65536

// BoltStore implements Store using bbolt, one database file per
// configured vector database.
type BoltStore struct {
	db    *bolt.DB
	cache *lru.Cache[string, struct{}]
}

// Open opens (creating if needed) the vector store for a database name
// under the given root directory.
func Open(root, database string) (*BoltStore, error) {
	dir := filepath.Join(root, database)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector store directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, "vectors.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketChunks, bucketDedup, bucketDocs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	cache, err := lru.New[string, struct{}](dedupCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, cache: cache}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Seen reports whether a chunk id is already stored
func (s *BoltStore) Seen(chunkID string) (bool, error) {
	if s.cache.Contains(chunkID) {
		return true, nil
	}

	var seen bool
	err := s.db.View(func(tx *bolt.Tx) error {
		seen = tx.Bucket(bucketDedup).Get([]byte(chunkID)) != nil
		return nil
	})
	if err != nil {
		return false, err
	}
	if seen {
		s.cache.Add(chunkID, struct{}{})
	}
	return seen, nil
}

// Upsert writes a chunk with its embedding. The first stored vector
// establishes the collection dimension; later vectors must match.
// Returns false without writing when the chunk id already exists, so
// concurrent ingests of identical content store each chunk once.
func (s *BoltStore) Upsert(chunk *types.Chunk) (bool, error) {
	if len(chunk.Embedding) == 0 {
		return false, ErrEmptyVector
	}

	stored := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		dedup := tx.Bucket(bucketDedup)
		if dedup.Get([]byte(chunk.ChunkID)) != nil {
			return nil // already present
		}

		meta := tx.Bucket(bucketMeta)
		if dim := readDimension(meta); dim != 0 && dim != len(chunk.Embedding) {
			return fmt.Errorf("%w: collection has %d, got %d", ErrDimensionMismatch, dim, len(chunk.Embedding))
		} else if dim == 0 {
			if err := writeDimension(meta, len(chunk.Embedding)); err != nil {
				return err
			}
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk: %w", err)
		}
		if err := tx.Bucket(bucketChunks).Put([]byte(chunk.ChunkID), data); err != nil {
			return err
		}
		if err := dedup.Put([]byte(chunk.ChunkID), []byte(chunk.DocumentHash)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocs).Put([]byte(chunk.DocumentHash), []byte(chunk.SourcePath)); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		return false, err
	}

	s.cache.Add(chunk.ChunkID, struct{}{})
	return stored, nil
}

// Query scans all chunks and returns the top k by cosine similarity
func (s *BoltStore) Query(vector []float32, k int) ([]types.QueryHit, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	if k <= 0 {
		k = 5
	}

	var hits []types.QueryHit
	err := s.db.View(func(tx *bolt.Tx) error {
		if dim := readDimension(tx.Bucket(bucketMeta)); dim != 0 && dim != len(vector) {
			return fmt.Errorf("%w: collection has %d, got %d", ErrDimensionMismatch, dim, len(vector))
		}

		return tx.Bucket(bucketChunks).ForEach(func(key, value []byte) error {
			var chunk types.Chunk
			if err := json.Unmarshal(value, &chunk); err != nil {
				return nil // skip corrupt entries
			}
			score := cosine(vector, chunk.Embedding)
			if math.IsNaN(float64(score)) {
				return nil
			}
			hits = append(hits, types.QueryHit{
				ChunkID:    chunk.ChunkID,
				Score:      score,
				Text:       chunk.Text,
				SourcePath: chunk.SourcePath,
				Metadata:   chunk.Metadata,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Stats returns chunk/document counts and the collection dimension
func (s *BoltStore) Stats() (Stats, error) {
	var stats Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		stats.Chunks = tx.Bucket(bucketChunks).Stats().KeyN
		stats.Documents = tx.Bucket(bucketDocs).Stats().KeyN
		stats.Dimension = readDimension(tx.Bucket(bucketMeta))
		return nil
	})
	return stats, err
}

// Dimension returns the established embedding dimension, 0 when empty
func (s *BoltStore) Dimension() (int, error) {
	var dim int
	err := s.db.View(func(tx *bolt.Tx) error {
		dim = readDimension(tx.Bucket(bucketMeta))
		return nil
	})
	return dim, err
}

func readDimension(meta *bolt.Bucket) int {
	data := meta.Get(keyDimension)
	if len(data) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(data))
}

func writeDimension(meta *bolt.Bucket, dim int) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(dim))
	return meta.Put(keyDimension, buf[:])
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return float32(math.NaN())
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return float32(math.NaN())
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
