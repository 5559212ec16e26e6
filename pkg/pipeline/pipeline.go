package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/llamafarm/llamafarm/pkg/embedder"
	"github.com/llamafarm/llamafarm/pkg/log"
	"github.com/llamafarm/llamafarm/pkg/manifest"
	"github.com/llamafarm/llamafarm/pkg/metrics"
	"github.com/llamafarm/llamafarm/pkg/types"
	"github.com/llamafarm/llamafarm/pkg/vectorstore"
)

// Stage names the phase an ingest job is currently in
type Stage string

const (
	StageDiscovering Stage = "discovering"
	StageParsing     Stage = "parsing"
	StageExtracting  Stage = "extracting"
	StageEmbedding   Stage = "embedding"
	StageStoring     Stage = "storing"
	StageDone        Stage = "done"
)

// defaultBatchSize is how many chunks one embedding request carries
const defaultBatchSize = 32

// ErrRevoked is returned when the job observed a revocation signal
// between files or batches
var ErrRevoked = errors.New("ingest revoked")

// ProgressFunc receives coarse job progress. percent is 0-100 and
// monotonic; currentFile may be empty between files.
type ProgressFunc func(percent int, stage Stage, currentFile string)

// RevokedFunc reports whether the job should stop. Checked between
// files and between embedding batches, never mid-batch.
type RevokedFunc func() bool

// Config describes one ingest job
type Config struct {
	Database string
	Strategy *manifest.Strategy

	// BatchSize is chunks per embedding request
	BatchSize int

	// Progress and Revoked are optional callbacks
	Progress ProgressFunc
	Revoked  RevokedFunc
}

// Job runs a source path through discovery, parsing, extraction,
// embedding, and storage for one database.
type Job struct {
	cfg      Config
	store    vectorstore.Store
	embedder embedder.Embedder
}

// NewJob creates an ingest job over an open store and embedder. The
// caller owns both and closes the store after Run returns.
func NewJob(cfg Config, store vectorstore.Store, emb embedder.Embedder) *Job {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Job{cfg: cfg, store: store, embedder: emb}
}

// Run ingests sourcePath. Per-file and per-batch failures are
// tolerated: a run with at least one stored chunk succeeds and reports
// the rest as skipped. It fails outright when every file failed with
// nothing stored, the embedder is unreachable, or the store rejects
// the embedding dimension. An empty directory succeeds with zero
// counts.
func (j *Job) Run(ctx context.Context, sourcePath string) (*types.IngestResult, error) {
	start := time.Now()
	logger := log.WithComponent("pipeline").With().Str("database", j.cfg.Database).Logger()

	j.progress(0, StageDiscovering, "")

	files, skipped, err := Discover(sourcePath, j.cfg.Strategy.Filter)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("files", len(files)).Int("skipped", len(skipped)).Msg("discovery complete")

	extractors, err := j.resolveExtractors()
	if err != nil {
		return nil, err
	}

	result := &types.IngestResult{Skipped: skipped}
	failedFiles := 0

	for i, path := range files {
		if j.revoked() {
			return nil, ErrRevoked
		}

		percent := 0
		if len(files) > 0 {
			percent = i * 100 / len(files)
		}
		j.progress(percent, StageParsing, path)

		stored, chunkSkips, err := j.ingestFile(ctx, path, extractors)
		// Chunks stored before a later failure are already in the vector
		// store; the result must account for them either way.
		result.StoredChunks += stored
		result.Skipped = append(result.Skipped, chunkSkips...)
		if err != nil {
			if fatalIngestError(err) {
				return nil, err
			}
			failedFiles++
			result.Skipped = append(result.Skipped, types.SkippedFile{Path: path, Reason: err.Error()})
			metrics.ChunksSkipped.WithLabelValues("file_error").Inc()
			logger.Warn().Err(err).Str("file", path).Msg("file skipped")
			continue
		}

		result.ProcessedFiles++
	}

	if len(files) > 0 && failedFiles == len(files) && result.StoredChunks == 0 {
		return nil, fmt.Errorf("all %d discovered files failed", len(files))
	}

	result.DurationSeconds = time.Since(start).Seconds()
	j.progress(100, StageDone, "")
	logger.Info().
		Int("processed", result.ProcessedFiles).
		Int("stored", result.StoredChunks).
		Int("skipped", len(result.Skipped)).
		Float64("seconds", result.DurationSeconds).
		Msg("ingest complete")
	return result, nil
}

// ingestFile runs one file through the full stage sequence. It returns
// how many chunks it stored plus per-chunk skips from failed embed
// batches; err is non-nil only for file-level or fatal failures.
func (j *Job) ingestFile(ctx context.Context, path string, extractors []Extractor) (int, []types.SkippedFile, error) {
	logger := log.WithComponent("pipeline")

	parserCfg, ok := RouteParser(j.cfg.Strategy.Parsers, path)
	if !ok {
		return 0, nil, fmt.Errorf("no parser for extension")
	}
	parser, err := ParserFor(parserCfg.Type)
	if err != nil {
		return 0, nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, fmt.Errorf("read failed: %w", err)
	}
	docHash := hashBytes(data)

	parsed, err := parser.Parse(data, *parserCfg)
	if err != nil {
		return 0, nil, err
	}
	if len(parsed) == 0 {
		return 0, nil, nil
	}

	j.progress(-1, StageExtracting, path)
	chunks := make([]*types.Chunk, 0, len(parsed))
	for idx, pc := range parsed {
		chunkID := chunkID(docHash, idx)

		// Dedup before embedding: re-running the same source must not
		// re-pay the embedding cost.
		seen, err := j.store.Seen(chunkID)
		if err != nil {
			return 0, nil, fmt.Errorf("dedup lookup failed: %w", err)
		}
		if seen {
			metrics.ChunksSkipped.WithLabelValues("duplicate").Inc()
			continue
		}

		md := map[string]any{"source_path": path, "chunk_index": idx}
		for k, v := range pc.Metadata {
			md[k] = v
		}
		for _, ex := range extractors {
			extra, err := ex.Extract(pc.Text, md)
			if err != nil {
				logger.Warn().Err(err).Str("extractor", ex.Name()).Msg("extractor failed")
				continue
			}
			for k, v := range extra {
				md[k] = v
			}
		}

		chunks = append(chunks, &types.Chunk{
			ChunkID:      chunkID,
			DocumentID:   docHash,
			DocumentHash: docHash,
			SourcePath:   path,
			Text:         pc.Text,
			Metadata:     CleanMetadata(md),
		})
	}
	if len(chunks) == 0 {
		return 0, nil, nil
	}

	stored := 0
	var skipped []types.SkippedFile
	for start := 0; start < len(chunks); start += j.cfg.BatchSize {
		if j.revoked() {
			return stored, skipped, ErrRevoked
		}
		end := start + j.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		j.progress(-1, StageEmbedding, path)
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := j.embedder.Embed(ctx, texts)
		if err != nil {
			if fatalIngestError(err) {
				return stored, skipped, fmt.Errorf("embedding failed: %w", err)
			}
			// A failed batch fails only its chunks; later batches and
			// earlier stored chunks stand.
			for range batch {
				metrics.ChunksSkipped.WithLabelValues("embed_error").Inc()
			}
			for _, c := range batch {
				skipped = append(skipped, types.SkippedFile{
					Path:   path,
					Reason: fmt.Sprintf("chunk %s: embedding failed: %v", c.ChunkID[:8], err),
				})
			}
			logger.Warn().Err(err).Str("file", path).Int("chunks", len(batch)).Msg("embed batch skipped")
			continue
		}

		j.progress(-1, StageStoring, path)
		for i, c := range batch {
			c.Embedding = vectors[i]
			wrote, err := j.store.Upsert(c)
			if err != nil {
				return stored, skipped, fmt.Errorf("store write failed: %w", err)
			}
			if wrote {
				stored++
				metrics.ChunksStored.WithLabelValues(j.cfg.Database).Inc()
			} else {
				metrics.ChunksSkipped.WithLabelValues("duplicate").Inc()
			}
		}
	}
	return stored, skipped, nil
}

func (j *Job) resolveExtractors() ([]Extractor, error) {
	extractors := make([]Extractor, 0, len(j.cfg.Strategy.Extractors))
	for _, name := range j.cfg.Strategy.Extractors {
		ex, err := ExtractorFor(name)
		if err != nil {
			return nil, err
		}
		extractors = append(extractors, ex)
	}
	return extractors, nil
}

// progress forwards to the callback; percent -1 means "unchanged"
func (j *Job) progress(percent int, stage Stage, file string) {
	if j.cfg.Progress == nil {
		return
	}
	j.cfg.Progress(percent, stage, file)
}

func (j *Job) revoked() bool {
	return j.cfg.Revoked != nil && j.cfg.Revoked()
}

// fatalIngestError reports errors that abort the whole run instead of
// skipping the current file: revocation, an unreachable embedder, and
// a dimension mismatch (every later write would fail the same way).
func fatalIngestError(err error) bool {
	return errors.Is(err, ErrRevoked) ||
		errors.Is(err, embedder.ErrUnreachable) ||
		errors.Is(err, vectorstore.ErrDimensionMismatch)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// chunkID derives a stable chunk identifier from the document hash and
// the chunk's position, so identical content always dedups.
func chunkID(docHash string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", docHash, index)))
	return hex.EncodeToString(sum[:])
}
