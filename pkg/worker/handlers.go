package worker

import (
	"fmt"
	"os"
	"time"

	"github.com/llamafarm/llamafarm/pkg/broker"
	"github.com/llamafarm/llamafarm/pkg/pipeline"
	"github.com/llamafarm/llamafarm/pkg/types"
)

type ingestArgs struct {
	SourcePath string `json:"source_path"`
	Database   string `json:"database"`
}

// handleIngest runs the full ingestion pipeline for one source path.
// Re-delivery of the same message is safe: chunk ids are content
// derived and the store dedups on write.
func (w *Worker) handleIngest(tc *broker.TaskContext) (any, error) {
	var args ingestArgs
	if err := tc.UnmarshalArgs(&args); err != nil {
		return nil, err
	}
	if args.SourcePath == "" || args.Database == "" {
		return nil, fmt.Errorf("ingest requires source_path and database")
	}

	m, err := w.manifest()
	if err != nil {
		return nil, err
	}
	db, err := m.Database(args.Database)
	if err != nil {
		return nil, err
	}
	strategy, err := m.StrategyForDatabase(args.Database)
	if err != nil {
		return nil, err
	}
	store, err := w.store(args.Database)
	if err != nil {
		return nil, err
	}

	job := pipeline.NewJob(pipeline.Config{
		Database: args.Database,
		Strategy: strategy,
		Progress: func(percent int, stage pipeline.Stage, file string) {
			if percent >= 0 {
				tc.Progress(percent, string(stage), file)
			}
		},
		Revoked: tc.Revoked,
	}, store, w.embedderFor(db))

	result, err := job.Run(tc.Ctx, args.SourcePath)
	if err != nil {
		return nil, err
	}
	return result, nil
}

type queryArgs struct {
	Database string `json:"database"`
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
}

type queryResult struct {
	Hits []types.QueryHit `json:"hits"`
}

// handleQuery embeds the query text and scans the database for the
// nearest chunks.
func (w *Worker) handleQuery(tc *broker.TaskContext) (any, error) {
	var args queryArgs
	if err := tc.UnmarshalArgs(&args); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, fmt.Errorf("query text is required")
	}

	m, err := w.manifest()
	if err != nil {
		return nil, err
	}
	db, err := m.Database(args.Database)
	if err != nil {
		return nil, err
	}

	topK := args.TopK
	if topK <= 0 {
		topK = db.TopK
	}
	if topK <= 0 {
		topK = 5
	}

	vectors, err := w.embedderFor(db).Embed(tc.Ctx, []string{args.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	store, err := w.store(args.Database)
	if err != nil {
		return nil, err
	}
	hits, err := store.Query(vectors[0], topK)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []types.QueryHit{}
	}
	return queryResult{Hits: hits}, nil
}

type statsArgs struct {
	Database string `json:"database"`
}

func (w *Worker) handleStats(tc *broker.TaskContext) (any, error) {
	var args statsArgs
	if err := tc.UnmarshalArgs(&args); err != nil {
		return nil, err
	}
	store, err := w.store(args.Database)
	if err != nil {
		return nil, err
	}
	return store.Stats()
}

// handleHealth reports the worker's own component health: the vector
// root must be writable and the runtime reachable for ingest to work.
func (w *Worker) handleHealth(tc *broker.TaskContext) (any, error) {
	components := make(map[string]types.ComponentHealth)

	start := time.Now()
	probe := w.cfg.VectorRoot + "/.healthz"
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		components["vector_root"] = types.ComponentHealth{
			Status:    types.HealthUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Message:   err.Error(),
		}
	} else {
		_ = os.Remove(probe)
		components["vector_root"] = types.ComponentHealth{
			Status:    types.HealthHealthy,
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	status := types.HealthHealthy
	if components["vector_root"].Status == types.HealthUnhealthy {
		status = types.HealthUnhealthy
	}
	return types.HealthReport{Status: status, Components: components}, nil
}
