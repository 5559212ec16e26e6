package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/llamafarm/llamafarm/pkg/broker"
	"github.com/llamafarm/llamafarm/pkg/embedder"
	"github.com/llamafarm/llamafarm/pkg/log"
	"github.com/llamafarm/llamafarm/pkg/manifest"
	"github.com/llamafarm/llamafarm/pkg/vectorstore"
)

// Config for the task worker
type Config struct {
	// ProjectDir holds manifest.yaml
	ProjectDir string

	// VectorRoot is where per-database vector stores live
	VectorRoot string

	// RuntimeURL is the Universal Runtime base URL for embeddings
	RuntimeURL string

	// Concurrency is task-executing goroutines per queue
	Concurrency int
}

// Worker consumes the task queues and executes RAG jobs. It owns the
// vector store files; nothing else opens them while it runs.
type Worker struct {
	cfg    Config
	broker *broker.Broker
	logger zerolog.Logger

	mu     sync.Mutex
	stores map[string]*vectorstore.BoltStore
}

// New creates a worker
func New(cfg Config, b *broker.Broker) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Worker{
		cfg:    cfg,
		broker: b,
		logger: log.WithComponent("worker"),
		stores: make(map[string]*vectorstore.BoltStore),
	}
}

// Run registers the handlers and consumes the rag and server queues
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	reg := broker.NewRegistry()
	reg.Register("rag.ingest_file", w.handleIngest)
	reg.Register("rag.query", w.handleQuery)
	reg.Register("rag.stats", w.handleStats)
	reg.Register("orchestration.health", w.handleHealth)

	serveCfg := broker.DefaultServeConfig()
	serveCfg.Concurrency = w.cfg.Concurrency

	var wg sync.WaitGroup
	for _, queue := range []string{"rag", "server"} {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			if err := w.broker.Serve(ctx, queue, reg, serveCfg); err != nil && ctx.Err() == nil {
				w.logger.Error().Err(err).Str("queue", queue).Msg("queue consumer failed")
			}
		}(queue)
	}

	w.logger.Info().Int("concurrency", w.cfg.Concurrency).Msg("worker running")
	wg.Wait()
	w.closeStores()
	return ctx.Err()
}

// store returns the open vector store for a database, opening it on
// first use. Stores stay open for the worker's lifetime.
func (w *Worker) store(database string) (*vectorstore.BoltStore, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s, ok := w.stores[database]; ok {
		return s, nil
	}
	s, err := vectorstore.Open(w.cfg.VectorRoot, database)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store %s: %w", database, err)
	}
	w.stores[database] = s
	return s, nil
}

func (w *Worker) closeStores() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, s := range w.stores {
		if err := s.Close(); err != nil {
			w.logger.Warn().Err(err).Str("database", name).Msg("failed to close store")
		}
	}
	w.stores = make(map[string]*vectorstore.BoltStore)
}

// manifest loads the project manifest fresh per task, so edits between
// tasks take effect without a restart.
func (w *Worker) manifest() (*manifest.Manifest, error) {
	return manifest.Load(w.cfg.ProjectDir)
}

// embedderFor builds an embedding client for a database's configured model
func (w *Worker) embedderFor(db *manifest.Database) embedder.Embedder {
	return embedder.New(embedder.Config{
		BaseURL: w.cfg.RuntimeURL,
		Model:   db.EmbeddingModel,
	})
}
