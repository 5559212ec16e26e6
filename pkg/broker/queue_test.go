package broker

import (
	"encoding/json"
	"testing"
	"time"
)

func testQueue(t *testing.T) *fsQueue {
	t.Helper()
	q, err := openQueue(t.TempDir(), "rag")
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	return q
}

func TestQueueFIFO(t *testing.T) {
	q := testQueue(t)

	for i, id := range []string{"first", "second", "third"} {
		err := q.Enqueue(&Message{
			TaskID:     id,
			Name:       "rag.query",
			Args:       json.RawMessage(`{}`),
			EnqueuedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
		// File names order by enqueue nanos; keep them distinct.
		time.Sleep(time.Millisecond)
	}

	for _, want := range []string{"first", "second", "third"} {
		msg, err := q.Claim()
		if err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		if msg == nil {
			t.Fatal("queue drained early")
		}
		if msg.TaskID != want {
			t.Errorf("expected %s, got %s", want, msg.TaskID)
		}
		q.Ack(msg)
	}

	msg, err := q.Claim()
	if err != nil {
		t.Fatalf("Claim on empty queue failed: %v", err)
	}
	if msg != nil {
		t.Errorf("expected empty queue, got %s", msg.TaskID)
	}
}

func TestQueueClaimIsExclusive(t *testing.T) {
	q := testQueue(t)
	_ = q.Enqueue(&Message{TaskID: "only", Name: "rag.query", EnqueuedAt: time.Now()})

	first, err := q.Claim()
	if err != nil || first == nil {
		t.Fatalf("first claim failed: %v %v", first, err)
	}
	second, err := q.Claim()
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if second != nil {
		t.Error("claimed message was claimable again")
	}
}

func TestQueueLen(t *testing.T) {
	q := testQueue(t)
	if n, _ := q.Len(); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
	_ = q.Enqueue(&Message{TaskID: "a", Name: "rag.query", EnqueuedAt: time.Now()})
	_ = q.Enqueue(&Message{TaskID: "b", Name: "rag.query", EnqueuedAt: time.Now()})
	if n, _ := q.Len(); n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
	msg, _ := q.Claim()
	if n, _ := q.Len(); n != 1 {
		t.Errorf("expected 1 after claim, got %d", n)
	}
	q.Ack(msg)
}
