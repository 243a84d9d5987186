package core

import (
	"sync"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// =============================================================================
// WorkQueue: bounded FIFO of runnables waiting for a worker
// =============================================================================

// WorkQueue is the ready queue of a GoroutineWorkerPool.
// A capacity <= 0 means unbounded.
type WorkQueue struct {
	mu       sync.Mutex
	items    []Runnable
	capacity int
}

func NewWorkQueue(capacity int) *WorkQueue {
	return &WorkQueue{
		items:    make([]Runnable, 0, defaultQueueCap),
		capacity: capacity,
	}
}

// Push appends r, failing with ErrQueueFull when the queue is at capacity.
func (q *WorkQueue) Push(r Runnable) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, r)
	return nil
}

// pushForce appends r ignoring capacity. Used for delayed work that was
// already accepted by the pool.
func (q *WorkQueue) pushForce(r Runnable) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, r)
}

func (q *WorkQueue) Pop() (Runnable, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	item := q.items[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.items[0] = nil
	q.items = q.items[1:]
	q.maybeCompactLocked()

	return item, true
}

// Remove deletes the first occurrence of r. It reports whether r was queued.
func (q *WorkQueue) Remove(r Runnable) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item != r {
			continue
		}
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = nil
		q.items = q.items[:len(q.items)-1]
		q.maybeCompactLocked()
		return true
	}
	return false
}

// Snapshot returns a copy of the queued runnables in FIFO order.
func (q *WorkQueue) Snapshot() []Runnable {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Runnable, len(q.items))
	copy(out, q.items)
	return out
}

func (q *WorkQueue) maybeCompactLocked() {
	n := len(q.items)
	c := cap(q.items)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.items = make([]Runnable, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]Runnable, n, newCap)
	copy(newSlice, q.items)
	q.items = newSlice
}

func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *WorkQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Drain removes and returns every queued runnable.
func (q *WorkQueue) Drain() []Runnable {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	// Create a new slice to release all runnable references
	q.items = make([]Runnable, 0, defaultQueueCap)
	return out
}
