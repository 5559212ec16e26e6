package resultstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/llamafarm/llamafarm/pkg/log"
	"github.com/llamafarm/llamafarm/pkg/types"
)

var (
	// ErrNotFound is returned when no readable record exists for a task id
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyExists is returned when PutPending hits an existing task id
	ErrAlreadyExists = errors.New("task already exists")

	// ErrBadTransition is returned for transitions the state machine forbids
	ErrBadTransition = errors.New("invalid state transition")
)

// staleTempAge is how old a leftover temp file must be before the
// startup sweep removes it. Temps younger than this may belong to a
// concurrent writer mid-rename.
const staleTempAge = time.Hour

// Store is a file-per-task record store. One JSON file per task id,
// written via temp-then-rename so readers in other processes never see
// a partial record.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger zerolog.Logger
}

// New opens a store rooted at dir, creating it if needed and sweeping
// stale temp files left by crashed writers.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create result store directory: %w", err)
	}
	s := &Store{
		dir:    dir,
		logger: log.WithComponent("resultstore"),
	}
	s.sweepStaleTemps()
	return s, nil
}

// NewFromURL opens a store from a file:// URL, applying the platform
// normalization rules for drive letters and backslashes.
func NewFromURL(raw string) (*Store, error) {
	dir, err := ParseURL(raw)
	if err != nil {
		return nil, err
	}
	return New(dir)
}

// Dir returns the store's root directory
func (s *Store) Dir() string {
	return s.dir
}

// PutPending writes a fresh PENDING record for a single task
func (s *Store) PutPending(taskID, name string, metadata map[string]string) error {
	return s.putPending(&types.TaskRecord{
		TaskID:   taskID,
		Kind:     types.TaskKindSingle,
		Name:     name,
		Metadata: metadata,
	})
}

// PutPendingGroup writes a fresh PENDING group parent whose children
// list is authoritative for derived group state.
func (s *Store) PutPendingGroup(groupID string, children []string, metadata map[string]string) error {
	return s.putPending(&types.TaskRecord{
		TaskID:   groupID,
		Kind:     types.TaskKindGroup,
		Children: children,
		Metadata: metadata,
	})
}

func (s *Store) putPending(rec *types.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(rec.TaskID)); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.TaskID)
	}

	now := time.Now().UTC()
	rec.State = types.TaskStatePending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return s.write(rec)
}

// SetStarted transitions PENDING to STARTED. Idempotent when already
// STARTED; rejected once the record is terminal.
func (s *Store) SetStarted(taskID string) error {
	return s.transition(taskID, func(rec *types.TaskRecord) error {
		switch rec.State {
		case types.TaskStatePending:
			rec.State = types.TaskStateStarted
			return nil
		case types.TaskStateStarted:
			return nil // idempotent
		default:
			return fmt.Errorf("%w: %s -> STARTED", ErrBadTransition, rec.State)
		}
	})
}

// SetSuccess transitions a non-terminal record to SUCCESS with the
// given result payload. Retrying with an identical payload is a no-op.
// A REVOKED record stays REVOKED.
func (s *Store) SetSuccess(taskID string, result []byte) error {
	return s.transition(taskID, func(rec *types.TaskRecord) error {
		switch rec.State {
		case types.TaskStatePending, types.TaskStateStarted:
			rec.State = types.TaskStateSuccess
			rec.Result = result
			rec.Traceback = ""
			return nil
		case types.TaskStateSuccess:
			if bytes.Equal(rec.Result, result) {
				return errNoop
			}
			return fmt.Errorf("%w: SUCCESS already recorded with different result", ErrBadTransition)
		case types.TaskStateRevoked:
			return errNoop
		default:
			return fmt.Errorf("%w: %s -> SUCCESS", ErrBadTransition, rec.State)
		}
	})
}

// SetFailure transitions a non-terminal record to FAILURE with a
// captured traceback. Idempotent; a REVOKED record stays REVOKED.
func (s *Store) SetFailure(taskID, traceback string) error {
	return s.transition(taskID, func(rec *types.TaskRecord) error {
		switch rec.State {
		case types.TaskStatePending, types.TaskStateStarted:
			rec.State = types.TaskStateFailure
			rec.Traceback = traceback
			rec.Result = nil
			return nil
		case types.TaskStateFailure:
			return errNoop
		case types.TaskStateRevoked:
			return errNoop
		default:
			return fmt.Errorf("%w: %s -> FAILURE", ErrBadTransition, rec.State)
		}
	})
}

// Revoke transitions a non-terminal record to REVOKED. Idempotent.
func (s *Store) Revoke(taskID string) error {
	return s.transition(taskID, func(rec *types.TaskRecord) error {
		switch rec.State {
		case types.TaskStatePending, types.TaskStateStarted:
			rec.State = types.TaskStateRevoked
			return nil
		case types.TaskStateRevoked:
			return errNoop
		default:
			return fmt.Errorf("%w: %s -> REVOKED", ErrBadTransition, rec.State)
		}
	})
}

// UpdateMetadata merges keys into a non-terminal record's metadata.
// Used for in-flight progress reporting; silently skipped once the
// record is terminal so late progress writes cannot clobber results.
func (s *Store) UpdateMetadata(taskID string, kv map[string]string) error {
	err := s.transition(taskID, func(rec *types.TaskRecord) error {
		if rec.State.Terminal() {
			return errNoop
		}
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]string, len(kv))
		}
		for k, v := range kv {
			rec.Metadata[k] = v
		}
		return nil
	})
	return err
}

// Get reads a record. Side-effect free; corrupt or partially written
// records are reported as ErrNotFound.
func (s *Store) Get(taskID string) (*types.TaskRecord, error) {
	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to read task record: %w", err)
	}

	var rec types.TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn().Str("task_id", taskID).Err(err).Msg("corrupt task record")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return &rec, nil
}

// errNoop signals an idempotent transition that needs no write
var errNoop = errors.New("noop")

func (s *Store) transition(taskID string, apply func(*types.TaskRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Get(taskID)
	if err != nil {
		return err
	}

	if err := apply(rec); err != nil {
		if errors.Is(err, errNoop) {
			return nil
		}
		return err
	}

	rec.UpdatedAt = time.Now().UTC()
	return s.write(rec)
}

func (s *Store) write(rec *types.TaskRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal task record: %w", err)
	}

	tmp := filepath.Join(s.dir, fmt.Sprintf("%s.tmp-%s", rec.TaskID, uuid.NewString()[:8]))
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write task record: %w", err)
	}
	if err := os.Rename(tmp, s.path(rec.TaskID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit task record: %w", err)
	}
	return nil
}

func (s *Store) path(taskID string) string {
	return filepath.Join(s.dir, taskID)
}

// sweepStaleTemps removes temp files old enough that no live writer
// can still own them.
func (s *Store) sweepStaleTemps() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !strings.Contains(e.Name(), ".tmp-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > staleTempAge {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
				s.logger.Debug().Str("file", e.Name()).Msg("removed stale temp record")
			}
		}
	}
}
