package broker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownQueue is returned when a task name matches no configured route
var ErrUnknownQueue = errors.New("no queue configured for task name")

// Route maps a task-name prefix to a queue
type Route struct {
	Prefix string
	Queue  string
}

// Routes is an ordered routing table; the first matching prefix wins
type Routes []Route

// DefaultRoutes returns the standard routing table
func DefaultRoutes() Routes {
	return Routes{
		{Prefix: "rag.", Queue: "rag"},
		{Prefix: "orchestration.", Queue: "server"},
	}
}

// Resolve returns the queue for a task name
func (r Routes) Resolve(name string) (string, error) {
	for _, route := range r {
		if strings.HasPrefix(name, route.Prefix) {
			return route.Queue, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownQueue, name)
}
