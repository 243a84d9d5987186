package core

import (
	"errors"
	"testing"
)

// TestWorkQueue_FIFO verifies runnables are popped in push order
func TestWorkQueue_FIFO(t *testing.T) {
	q := NewWorkQueue(0)
	items := []*testRunnable{newTestRunnable(nil), newTestRunnable(nil), newTestRunnable(nil)}
	for _, r := range items {
		if err := q.Push(r); err != nil {
			t.Fatalf("Push() = %v", err)
		}
	}

	for i, want := range items {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Errorf("Pop() #%d = %v, %v, want item %d", i, got, ok, i)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() on empty queue = true, want false")
	}
}

// TestWorkQueue_Capacity verifies bounded queues reject overflow
// Given: A queue with capacity 2 holding two runnables
// When: A third runnable is pushed
// Then: Push fails with ErrQueueFull, while pushForce still succeeds
func TestWorkQueue_Capacity(t *testing.T) {
	q := NewWorkQueue(2)
	_ = q.Push(newTestRunnable(nil))
	_ = q.Push(newTestRunnable(nil))

	if err := q.Push(newTestRunnable(nil)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Push() over capacity = %v, want ErrQueueFull", err)
	}
	q.pushForce(newTestRunnable(nil))
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}
}

// TestWorkQueue_RemoveAndSnapshot verifies removal keeps the remaining order
func TestWorkQueue_RemoveAndSnapshot(t *testing.T) {
	q := NewWorkQueue(0)
	a, b, c := newTestRunnable(nil), newTestRunnable(nil), newTestRunnable(nil)
	_ = q.Push(a)
	_ = q.Push(b)
	_ = q.Push(c)

	if !q.Remove(b) {
		t.Fatal("Remove(b) = false, want true")
	}
	if q.Remove(b) {
		t.Error("second Remove(b) = true, want false")
	}

	snap := q.Snapshot()
	if len(snap) != 2 || snap[0] != a || snap[1] != c {
		t.Errorf("Snapshot() = %v, want [a c]", snap)
	}

	drained := q.Drain()
	if len(drained) != 2 || !q.IsEmpty() {
		t.Errorf("Drain() returned %d items, IsEmpty() = %v", len(drained), q.IsEmpty())
	}
}

// TestWorkQueue_Compaction verifies the backing array shrinks after a burst
func TestWorkQueue_Compaction(t *testing.T) {
	q := NewWorkQueue(0)
	for range 1000 {
		_ = q.Push(newTestRunnable(nil))
	}
	for range 990 {
		q.Pop()
	}

	q.mu.Lock()
	c := cap(q.items)
	q.mu.Unlock()
	if c >= 1000 {
		t.Errorf("cap after draining = %d, want compacted below 1000", c)
	}
	if q.Len() != 10 {
		t.Errorf("Len() = %d, want 10", q.Len())
	}
}
