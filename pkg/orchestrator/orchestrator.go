package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/llamafarm/llamafarm/pkg/events"
	"github.com/llamafarm/llamafarm/pkg/health"
	"github.com/llamafarm/llamafarm/pkg/log"
	"github.com/llamafarm/llamafarm/pkg/types"
)

// Spec describes one service the orchestrator should run
type Spec struct {
	ServiceID types.ServiceID
	Mode      types.OrchestrationMode

	// Command is the native-mode argv; Image the container-mode image
	Command []string
	Image   string

	Env  []string
	Port int

	// HealthPath defaults to /v1/health
	HealthPath string

	// StartDeadline bounds WaitHealthy; zero means the per-service default
	StartDeadline time.Duration
}

// Config for the orchestrator
type Config struct {
	// StateDir holds pidfiles and per-service logs
	StateDir string

	// Mode is the default orchestration mode when a spec says auto
	Mode types.OrchestrationMode
}

// Orchestrator owns the lifecycle of the managed services. Descriptors
// are mutated only under the lock; callers get copies.
type Orchestrator struct {
	cfg    Config
	events *events.Broker
	logger zerolog.Logger

	mu       sync.RWMutex
	services map[types.ServiceID]*types.ServiceDescriptor
}

// startDeadlines are the per-service WaitHealthy defaults. The runtime
// gets longer because model loading dominates its startup.
var startDeadlines = map[types.ServiceID]time.Duration{
	types.ServiceAPI:     30 * time.Second,
	types.ServiceWorker:  30 * time.Second,
	types.ServiceRuntime: 45 * time.Second,
}

// New creates an orchestrator, adopting any services still alive from a
// previous run via their pidfiles.
func New(cfg Config, broker *events.Broker) (*Orchestrator, error) {
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	for _, sub := range []string{"pids", "logs"} {
		if err := os.MkdirAll(filepath.Join(cfg.StateDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	if cfg.Mode == "" || cfg.Mode == types.ModeAuto {
		cfg.Mode = types.ModeNative
	}

	o := &Orchestrator{
		cfg:      cfg,
		events:   broker,
		logger:   log.WithComponent("orchestrator"),
		services: make(map[types.ServiceID]*types.ServiceDescriptor),
	}
	o.adoptRunning()
	return o, nil
}

// Start spawns a service and waits for it to report healthy. A service
// already running is left alone. A port conflict fails fast with
// recovery commands instead of spawning a process doomed to crash.
func (o *Orchestrator) Start(ctx context.Context, spec Spec) error {
	o.mu.Lock()
	if existing, ok := o.services[spec.ServiceID]; ok && existing.State == types.ServiceStateRunning {
		o.mu.Unlock()
		o.logger.Debug().Str("service_id", string(spec.ServiceID)).Msg("service already running")
		return nil
	}

	mode := spec.Mode
	if mode == "" || mode == types.ModeAuto {
		mode = o.cfg.Mode
	}
	healthPath := spec.HealthPath
	if healthPath == "" {
		healthPath = "/v1/health"
	}

	desc := &types.ServiceDescriptor{
		ServiceID:      spec.ServiceID,
		Mode:           mode,
		Command:        spec.Command,
		Image:          spec.Image,
		Env:            spec.Env,
		Port:           spec.Port,
		LogPath:        o.logPath(spec.ServiceID),
		HealthEndpoint: fmt.Sprintf("http://127.0.0.1:%d%s", spec.Port, healthPath),
		State:          types.ServiceStateStarting,
	}
	o.services[spec.ServiceID] = desc
	o.mu.Unlock()

	o.publish(events.EventServiceStarting, spec.ServiceID, "")

	if health.PortInUse(spec.Port) {
		o.fail(spec.ServiceID, fmt.Sprintf("port %d already in use", spec.Port))
		return &types.Failure{
			Code:    types.CodeDependency,
			Message: fmt.Sprintf("cannot start %s: port %d is already in use", spec.ServiceID, spec.Port),
			Recovery: []string{
				fmt.Sprintf("lsof -i :%d", spec.Port),
				"kill <pid>   # stop the conflicting process",
			},
		}
	}

	var err error
	switch mode {
	case types.ModeNative:
		err = o.startNative(desc)
	case types.ModeContainer:
		err = o.startContainer(desc)
	default:
		err = fmt.Errorf("unknown orchestration mode: %s", mode)
	}
	if err != nil {
		o.fail(spec.ServiceID, err.Error())
		return fmt.Errorf("failed to start %s: %w", spec.ServiceID, err)
	}

	deadline := spec.StartDeadline
	if deadline <= 0 {
		deadline = startDeadlines[spec.ServiceID]
		if deadline <= 0 {
			deadline = 30 * time.Second
		}
	}
	if err := o.WaitHealthy(ctx, spec.ServiceID, deadline); err != nil {
		o.logger.Error().Err(err).Str("service_id", string(spec.ServiceID)).Msg("service never became healthy")
		_ = o.Stop(spec.ServiceID)
		o.fail(spec.ServiceID, err.Error())
		return err
	}

	o.mu.Lock()
	desc.State = types.ServiceStateRunning
	desc.StartedAt = time.Now()
	o.mu.Unlock()

	o.publish(events.EventServiceRunning, spec.ServiceID, "")
	o.logger.Info().Str("service_id", string(spec.ServiceID)).Int("port", spec.Port).Str("mode", string(mode)).Msg("service started")
	return nil
}

// WaitHealthy polls the service's health endpoint with exponential
// backoff (250ms doubling to a 4s cap) until it answers healthy or the
// deadline elapses.
func (o *Orchestrator) WaitHealthy(ctx context.Context, id types.ServiceID, deadline time.Duration) error {
	o.mu.RLock()
	desc, ok := o.services[id]
	if !ok {
		o.mu.RUnlock()
		return fmt.Errorf("unknown service: %s", id)
	}
	endpoint := desc.HealthEndpoint
	o.mu.RUnlock()

	checker := health.NewHTTPChecker(endpoint).WithTimeout(3 * time.Second)

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	backoff := 250 * time.Millisecond
	var last health.Result
	for {
		last = checker.Check(ctx)
		if last.Healthy {
			if last.Degraded() {
				o.mu.Lock()
				desc.Degraded = true
				o.mu.Unlock()
				o.publish(events.EventServiceDegraded, id, last.Message)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not healthy after %s: %s", id, deadline, last.Message)
		case <-time.After(backoff):
		}
		if backoff < 4*time.Second {
			backoff *= 2
			if backoff > 4*time.Second {
				backoff = 4 * time.Second
			}
		}
	}
}

// Stop terminates a service: SIGTERM (or docker stop), a grace period,
// then SIGKILL. Stopping a stopped service is a no-op.
func (o *Orchestrator) Stop(id types.ServiceID) error {
	o.mu.Lock()
	desc, ok := o.services[id]
	if !ok || desc.State == types.ServiceStateStopped {
		o.mu.Unlock()
		return nil
	}
	desc.State = types.ServiceStateStopping
	mode := desc.Mode
	o.mu.Unlock()

	var err error
	switch mode {
	case types.ModeContainer:
		err = o.stopContainer(desc)
	default:
		err = o.stopNative(desc)
	}
	if err != nil {
		return fmt.Errorf("failed to stop %s: %w", id, err)
	}

	o.mu.Lock()
	desc.State = types.ServiceStateStopped
	desc.PID = 0
	desc.ContainerID = ""
	desc.StartedAt = time.Time{}
	o.mu.Unlock()

	o.publish(events.EventServiceStopped, id, "")
	o.logger.Info().Str("service_id", string(id)).Msg("service stopped")
	return nil
}

// StopAll stops every managed service, workers before the runtime so
// in-flight tasks are not cut off from their embedder mid-batch.
func (o *Orchestrator) StopAll() error {
	var firstErr error
	for _, id := range []types.ServiceID{types.ServiceWorker, types.ServiceAPI, types.ServiceRuntime} {
		if err := o.Stop(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Status returns a copy of one service's descriptor
func (o *Orchestrator) Status(id types.ServiceID) (*types.ServiceDescriptor, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	desc, ok := o.services[id]
	if !ok {
		return nil, fmt.Errorf("unknown service: %s", id)
	}
	copied := *desc
	return &copied, nil
}

// List returns copies of all descriptors in a stable order
func (o *Orchestrator) List() []*types.ServiceDescriptor {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*types.ServiceDescriptor, 0, len(o.services))
	for _, id := range []types.ServiceID{types.ServiceAPI, types.ServiceWorker, types.ServiceRuntime} {
		if desc, ok := o.services[id]; ok {
			copied := *desc
			out = append(out, &copied)
		}
	}
	return out
}

func (o *Orchestrator) fail(id types.ServiceID, message string) {
	o.mu.Lock()
	if desc, ok := o.services[id]; ok {
		desc.State = types.ServiceStateFailed
	}
	o.mu.Unlock()
	o.publish(events.EventServiceFailed, id, message)
}

func (o *Orchestrator) publish(t events.EventType, id types.ServiceID, message string) {
	if o.events == nil {
		return
	}
	o.events.Publish(&events.Event{Type: t, ServiceID: id, Message: message})
}

func (o *Orchestrator) logPath(id types.ServiceID) string {
	return filepath.Join(o.cfg.StateDir, "logs", string(id)+".log")
}

func (o *Orchestrator) pidPath(id types.ServiceID) string {
	return filepath.Join(o.cfg.StateDir, "pids", string(id)+".pid")
}
