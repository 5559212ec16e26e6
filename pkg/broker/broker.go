package broker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/llamafarm/llamafarm/pkg/log"
	"github.com/llamafarm/llamafarm/pkg/metrics"
	"github.com/llamafarm/llamafarm/pkg/resultstore"
	"github.com/llamafarm/llamafarm/pkg/types"
)

const revokedDir = "revoked"

// Broker decouples task producers from consumers. Producers dispatch
// signatures by name; consumers resolve the name against their handler
// registry at execution time. Neither side imports the other's code.
type Broker struct {
	root   string // queue root directory, one subdirectory per queue
	routes Routes
	store  *resultstore.Store
	logger zerolog.Logger
}

// New creates a broker over the given queue root and result store
func New(root string, store *resultstore.Store, routes Routes) (*Broker, error) {
	if routes == nil {
		routes = DefaultRoutes()
	}
	if err := os.MkdirAll(filepath.Join(root, revokedDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue root: %w", err)
	}
	return &Broker{
		root:   root,
		routes: routes,
		store:  store,
		logger: log.WithComponent("broker"),
	}, nil
}

// Store exposes the underlying result store
func (b *Broker) Store() *resultstore.Store {
	return b.store
}

// Dispatch enqueues a task and writes its PENDING record. Transport
// failures during dispatch surface as errors; after a successful
// dispatch all failures flow through the task record instead.
func (b *Broker) Dispatch(sig Signature) (*TaskHandle, error) {
	return b.dispatchWithMetadata(sig, nil)
}

// DispatchWithMetadata is Dispatch with initial record metadata
// (namespace, project, file hashes and the like).
func (b *Broker) DispatchWithMetadata(sig Signature, metadata map[string]string) (*TaskHandle, error) {
	return b.dispatchWithMetadata(sig, metadata)
}

func (b *Broker) dispatchWithMetadata(sig Signature, metadata map[string]string) (*TaskHandle, error) {
	queueName, err := b.routes.Resolve(sig.Name)
	if err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	if err := b.store.PutPending(taskID, sig.Name, metadata); err != nil {
		return nil, fmt.Errorf("failed to record pending task: %w", err)
	}

	if err := b.enqueue(queueName, taskID, sig); err != nil {
		// The record exists but the message never made it; fail it so
		// pollers are not left waiting on a task nobody will run.
		_ = b.store.SetFailure(taskID, fmt.Sprintf("dispatch failed: %v", err))
		return nil, err
	}

	metrics.TasksDispatched.WithLabelValues(sig.Name).Inc()
	b.logger.Debug().Str("task_id", taskID).Str("name", sig.Name).Str("queue", queueName).Msg("task dispatched")
	return &TaskHandle{TaskID: taskID}, nil
}

// DispatchGroup enqueues each child and writes one PENDING group parent
// whose children list is the authoritative source of derived state.
func (b *Broker) DispatchGroup(sigs []Signature, metadata map[string]string) (*GroupHandle, error) {
	if len(sigs) == 0 {
		return nil, fmt.Errorf("cannot dispatch an empty group")
	}

	children := make([]string, len(sigs))
	for i, sig := range sigs {
		if _, err := b.routes.Resolve(sig.Name); err != nil {
			return nil, err
		}
		children[i] = uuid.NewString()
	}

	// Children records go in before the parent so a poll racing the
	// dispatch never sees a parent whose children do not resolve.
	for i, sig := range sigs {
		if err := b.store.PutPending(children[i], sig.Name, nil); err != nil {
			return nil, fmt.Errorf("failed to record child task: %w", err)
		}
	}

	groupID := uuid.NewString()
	if err := b.store.PutPendingGroup(groupID, children, metadata); err != nil {
		return nil, fmt.Errorf("failed to record group: %w", err)
	}

	for i, sig := range sigs {
		queueName, _ := b.routes.Resolve(sig.Name)
		if err := b.enqueue(queueName, children[i], sig); err != nil {
			_ = b.store.SetFailure(children[i], fmt.Sprintf("dispatch failed: %v", err))
			return nil, err
		}
	}

	b.logger.Debug().Str("group_id", groupID).Int("children", len(children)).Msg("group dispatched")
	return &GroupHandle{GroupID: groupID, Children: children}, nil
}

func (b *Broker) enqueue(queueName, taskID string, sig Signature) error {
	q, err := openQueue(b.root, queueName)
	if err != nil {
		return err
	}
	return q.Enqueue(&Message{
		TaskID:     taskID,
		Name:       sig.Name,
		Args:       sig.Args,
		EnqueuedAt: time.Now(),
	})
}

// Poll reads a task record. For group parents the returned state is
// derived from the children: SUCCESS iff every child succeeded, FAILURE
// once any child failed and none are still running, REVOKED when the
// run was cancelled, STARTED otherwise. Side-effect free.
func (b *Broker) Poll(taskID string) (*types.TaskRecord, error) {
	rec, err := b.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if rec.Kind != types.TaskKindGroup {
		return rec, nil
	}

	derived, err := b.deriveGroupState(rec)
	if err != nil {
		return nil, err
	}
	rec.State = derived
	return rec, nil
}

func (b *Broker) deriveGroupState(parent *types.TaskRecord) (types.TaskState, error) {
	if parent.State == types.TaskStateRevoked {
		return types.TaskStateRevoked, nil
	}

	var anyFailure, anyRevoked, anyRunning bool
	allSuccess := true
	for _, childID := range parent.Children {
		child, err := b.store.Get(childID)
		if errors.Is(err, resultstore.ErrNotFound) {
			// Child record not visible yet; treat as still running.
			anyRunning = true
			allSuccess = false
			continue
		}
		if err != nil {
			return "", fmt.Errorf("group %s: %w", parent.TaskID, err)
		}
		switch child.State {
		case types.TaskStateSuccess:
		case types.TaskStateFailure:
			anyFailure = true
			allSuccess = false
		case types.TaskStateRevoked:
			anyRevoked = true
			allSuccess = false
		default:
			anyRunning = true
			allSuccess = false
		}
	}

	switch {
	case allSuccess:
		return types.TaskStateSuccess, nil
	case anyRunning:
		return types.TaskStateStarted, nil
	case anyFailure:
		return types.TaskStateFailure, nil
	case anyRevoked:
		return types.TaskStateRevoked, nil
	default:
		return types.TaskStateStarted, nil
	}
}

// Revoke marks a task REVOKED and raises the in-band flag executing
// handlers check at safe points. Revoking a group parent revokes every
// non-terminal child. Cooperative only; there is no hard kill.
func (b *Broker) Revoke(taskID string, terminate bool) error {
	rec, err := b.store.Get(taskID)
	if err != nil {
		return err
	}

	if rec.Kind == types.TaskKindGroup {
		for _, childID := range rec.Children {
			child, err := b.store.Get(childID)
			if err != nil {
				continue
			}
			if !child.State.Terminal() {
				_ = b.revokeSingle(childID, terminate)
			}
		}
		return b.store.Revoke(taskID)
	}
	return b.revokeSingle(taskID, terminate)
}

func (b *Broker) revokeSingle(taskID string, terminate bool) error {
	if terminate {
		if err := b.raiseRevokeFlag(taskID); err != nil {
			return err
		}
	}
	if err := b.store.Revoke(taskID); err != nil {
		return err
	}
	b.logger.Info().Str("task_id", taskID).Bool("terminate", terminate).Msg("task revoked")
	return nil
}

func (b *Broker) raiseRevokeFlag(taskID string) error {
	path := filepath.Join(b.root, revokedDir, taskID)
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return fmt.Errorf("failed to raise revoke flag: %w", err)
	}
	return nil
}

// clearRevokeFlag removes a task's revocation flag once the task is
// done; the record's REVOKED state remains the durable truth.
func (b *Broker) clearRevokeFlag(taskID string) {
	os.Remove(filepath.Join(b.root, revokedDir, taskID))
}

// Revoked reports whether a task's in-band revocation flag is raised or
// its record already reads REVOKED. Handlers call this between batches.
func (b *Broker) Revoked(taskID string) bool {
	if _, err := os.Stat(filepath.Join(b.root, revokedDir, taskID)); err == nil {
		return true
	}
	rec, err := b.store.Get(taskID)
	if err != nil {
		return false
	}
	return rec.State == types.TaskStateRevoked
}

// QueueDepth reports unclaimed messages in a queue
func (b *Broker) QueueDepth(queueName string) (int, error) {
	q, err := openQueue(b.root, queueName)
	if err != nil {
		return 0, err
	}
	return q.Len()
}
