package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/llamafarm/llamafarm/pkg/log"
	"github.com/llamafarm/llamafarm/pkg/metrics"
	"github.com/llamafarm/llamafarm/pkg/types"
)

// Handler executes one task. It returns a result payload to record as
// SUCCESS or an error recorded as FAILURE with the captured traceback.
// Handlers must tolerate duplicate delivery of identical arguments.
type Handler func(tc *TaskContext) (any, error)

// TaskContext is what a handler sees of its task: the args, a
// cooperative revocation check, and a progress sink writing into the
// task record's metadata.
type TaskContext struct {
	Ctx    context.Context
	TaskID string
	Name   string
	Args   json.RawMessage

	broker *Broker
}

// UnmarshalArgs decodes the task's args into v
func (tc *TaskContext) UnmarshalArgs(v any) error {
	if err := json.Unmarshal(tc.Args, v); err != nil {
		return fmt.Errorf("failed to decode args for %s: %w", tc.Name, err)
	}
	return nil
}

// Revoked reports whether the task has been cooperatively cancelled.
// Handlers check this between chunks and between batches; there is no
// hard kill.
func (tc *TaskContext) Revoked() bool {
	return tc.broker.Revoked(tc.TaskID)
}

// Progress records ingest progress into the task record's metadata so
// pollers can render it. Best effort; a failed write never fails the task.
func (tc *TaskContext) Progress(percent int, message, currentFile string) {
	kv := map[string]string{
		"progress": strconv.Itoa(percent),
		"message":  message,
	}
	if currentFile != "" {
		kv["current_file"] = currentFile
	}
	_ = tc.broker.store.UpdateMetadata(tc.TaskID, kv)
}

// Registry associates task names with handlers. Registration happens
// explicitly at worker startup, before Serve.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates a task name with a handler
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Registry) lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// ServeConfig tunes the consumer loop
type ServeConfig struct {
	// Concurrency is the number of task-executing goroutines
	Concurrency int

	// PollInterval is the tick fallback when filesystem notifications
	// are unavailable or dropped
	PollInterval time.Duration
}

// DefaultServeConfig returns sensible consumer defaults
func DefaultServeConfig() ServeConfig {
	return ServeConfig{
		Concurrency:  2,
		PollInterval: 2 * time.Second,
	}
}

// Serve consumes tasks from the named queue until ctx is done. Each
// claimed task is marked STARTED before its handler runs; the handler's
// return value or error (including panics, with the stack captured) is
// written to the result store as the terminal state. Handler errors
// never escape to this loop.
func (b *Broker) Serve(ctx context.Context, queueName string, reg *Registry, cfg ServeConfig) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	q, err := openQueue(b.root, queueName)
	if err != nil {
		return err
	}

	logger := log.WithComponent("broker").With().Str("queue", queueName).Logger()

	// Wake on directory events when possible; the ticker below covers
	// dropped events and platforms without inotify.
	var wake chan struct{}
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(q.dir); err == nil {
			wake = make(chan struct{}, 1)
			go func() {
				for {
					select {
					case ev, ok := <-watcher.Events:
						if !ok {
							return
						}
						if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
							select {
							case wake <- struct{}{}:
							default:
							}
						}
					case <-watcher.Errors:
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	} else {
		logger.Warn().Err(err).Msg("filesystem notifications unavailable, falling back to polling")
	}

	work := make(chan *Message)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range work {
				b.execute(ctx, q, reg, msg)
			}
		}()
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	logger.Info().Int("concurrency", cfg.Concurrency).Msg("serving queue")

	drain := func() {
		for {
			msg, err := q.Claim()
			if err != nil {
				logger.Error().Err(err).Msg("failed to claim message")
				return
			}
			if msg == nil {
				return
			}
			select {
			case work <- msg:
			case <-ctx.Done():
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			logger.Info().Msg("queue consumer stopped")
			return ctx.Err()
		case <-ticker.C:
			drain()
		case <-wake:
			drain()
		}
	}
}

func (b *Broker) execute(ctx context.Context, q *fsQueue, reg *Registry, msg *Message) {
	logger := log.WithTaskID(msg.TaskID)
	defer func() {
		q.Ack(msg)
		b.clearRevokeFlag(msg.TaskID)
	}()

	// Revoked before it ever ran: leave the record REVOKED, never start.
	if b.Revoked(msg.TaskID) {
		logger.Info().Str("name", msg.Name).Msg("skipping revoked task")
		return
	}

	handler, ok := reg.lookup(msg.Name)
	if !ok {
		_ = b.store.SetFailure(msg.TaskID, fmt.Sprintf("no handler registered for task: %s", msg.Name))
		metrics.TasksCompleted.WithLabelValues(msg.Name, string(types.TaskStateFailure)).Inc()
		return
	}

	if err := b.store.SetStarted(msg.TaskID); err != nil {
		// Terminal already (revoked or duplicate delivery of a finished
		// task); nothing to execute.
		logger.Debug().Err(err).Msg("task not startable")
		return
	}

	start := time.Now()
	result, err := b.runHandler(ctx, handler, msg)
	metrics.TaskDuration.WithLabelValues(msg.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Error().Err(err).Str("name", msg.Name).Msg("task failed")
		_ = b.store.SetFailure(msg.TaskID, err.Error())
		metrics.TasksCompleted.WithLabelValues(msg.Name, string(types.TaskStateFailure)).Inc()
		return
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		_ = b.store.SetFailure(msg.TaskID, fmt.Sprintf("failed to encode result: %v", merr))
		metrics.TasksCompleted.WithLabelValues(msg.Name, string(types.TaskStateFailure)).Inc()
		return
	}
	_ = b.store.SetSuccess(msg.TaskID, payload)
	metrics.TasksCompleted.WithLabelValues(msg.Name, string(types.TaskStateSuccess)).Inc()
	logger.Info().Str("name", msg.Name).Dur("duration", time.Since(start)).Msg("task completed")
}

// runHandler invokes the handler, converting panics into errors that
// carry the stack as the recorded traceback.
func (b *Broker) runHandler(ctx context.Context, handler Handler, msg *Message) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler %s: %v\n%s", msg.Name, r, debug.Stack())
		}
	}()

	tc := &TaskContext{
		Ctx:    ctx,
		TaskID: msg.TaskID,
		Name:   msg.Name,
		Args:   msg.Args,
		broker: b,
	}
	return handler(tc)
}
