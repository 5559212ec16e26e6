package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/llamafarm/llamafarm/pkg/types"
)

var (
	// ErrTimeout is returned when a poll wrapper's deadline elapses
	// before the task reaches a terminal state
	ErrTimeout = errors.New("timed out waiting for task")

	// ErrRevoked is returned when the awaited task was cancelled, so
	// callers can tell user cancellation from genuine failure
	ErrRevoked = errors.New("task revoked")
)

// Await blocks the calling goroutine until the task is terminal or the
// timeout elapses. For use from the worker's thread-pool handlers; the
// sleep is real, so never call this from the server's event loop.
func (b *Broker) Await(taskID string, timeout, interval time.Duration) (*types.TaskRecord, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		rec, err := b.Poll(taskID)
		if err != nil {
			return nil, err
		}
		if rec.State.Terminal() {
			return terminalResult(rec)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, taskID, timeout)
		}
		time.Sleep(interval)
	}
}

// AwaitCtx is the cooperative variant for the API server's handlers:
// it parks on the context and a timer instead of sleeping, so it is
// safe inside an event-loop scheduler. The deadline is the earlier of
// timeout and ctx's own deadline.
func (b *Broker) AwaitCtx(ctx context.Context, taskID string, timeout, interval time.Duration) (*types.TaskRecord, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, taskID, timeout)
			}
			return nil, ctx.Err()
		case <-timer.C:
		}

		rec, err := b.Poll(taskID)
		if err != nil {
			return nil, err
		}
		if rec.State.Terminal() {
			return terminalResult(rec)
		}
		timer.Reset(interval)
	}
}

// AwaitOrDefault is Await with an explicit opt-in fallback: when the
// deadline elapses the caller's default record is returned instead of
// ErrTimeout. Used for degraded health aggregation, never silently.
func (b *Broker) AwaitOrDefault(taskID string, timeout, interval time.Duration, fallback *types.TaskRecord) (*types.TaskRecord, error) {
	rec, err := b.Await(taskID, timeout, interval)
	if errors.Is(err, ErrTimeout) {
		return fallback, nil
	}
	return rec, err
}

func terminalResult(rec *types.TaskRecord) (*types.TaskRecord, error) {
	if rec.State == types.TaskStateRevoked {
		return rec, fmt.Errorf("%w: %s", ErrRevoked, rec.TaskID)
	}
	return rec, nil
}
