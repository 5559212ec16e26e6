package broker

import (
	"encoding/json"
	"fmt"
)

// Signature names a task without executing it. Args are serialized at
// build time so a signature can cross the process boundary unchanged.
type Signature struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// BuildSignature constructs an unsent task reference
func BuildSignature(name string, args any) (Signature, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to marshal task args: %w", err)
	}
	return Signature{Name: name, Args: data}, nil
}

// TaskHandle is the producer's reference to a dispatched task
type TaskHandle struct {
	TaskID string
}

// GroupHandle is the producer's reference to a dispatched group.
// The group's own task id is what callers poll; Children are the
// individual child ids, revocable one by one.
type GroupHandle struct {
	GroupID  string
	Children []string
}
