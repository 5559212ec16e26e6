package broker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is one queued task on disk. Files are named
// <enqueue_nanos>-<task_id>.json so a directory listing yields rough
// FIFO order; claiming renames the file into the claimed/ subdirectory,
// which is atomic on a single filesystem and makes the rename winner
// the sole consumer.
type Message struct {
	TaskID     string          `json:"task_id"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

const claimedDir = "claimed"

// fsQueue is a filesystem-backed queue rooted at a per-queue directory
type fsQueue struct {
	dir string
}

func openQueue(root, name string) (*fsQueue, error) {
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Join(dir, claimedDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	return &fsQueue{dir: dir}, nil
}

// Enqueue writes a message via temp-then-rename so a consumer listing
// the directory never claims a half-written file.
func (q *fsQueue) Enqueue(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	name := fmt.Sprintf("%020d-%s.json", msg.EnqueuedAt.UnixNano(), msg.TaskID)
	tmp := filepath.Join(q.dir, claimedDir, ".enqueue-"+uuid.NewString()[:8])
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write queue message: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(q.dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

// Claim takes the oldest unclaimed message, or nil when the queue is
// empty. Losing a claim race to another consumer is not an error.
func (q *fsQueue) Claim() (*Message, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		src := filepath.Join(q.dir, name)
		dst := filepath.Join(q.dir, claimedDir, name)
		if err := os.Rename(src, dst); err != nil {
			// Another consumer won the rename.
			continue
		}

		data, err := os.ReadFile(dst)
		if err != nil {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			// Corrupt message; leave it in claimed/ for inspection.
			continue
		}
		return &msg, nil
	}
	return nil, nil
}

// Ack removes a claimed message once its task record is terminal
func (q *fsQueue) Ack(msg *Message) {
	name := fmt.Sprintf("%020d-%s.json", msg.EnqueuedAt.UnixNano(), msg.TaskID)
	os.Remove(filepath.Join(q.dir, claimedDir, name))
}

// Len reports the number of unclaimed messages
func (q *fsQueue) Len() (int, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n, nil
}
