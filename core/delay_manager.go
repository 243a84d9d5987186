package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DelayedTask represents a runnable scheduled for the future
type DelayedTask struct {
	RunAt    time.Time
	Runnable Runnable
	index    int // for heap interface
}

// DelayedTaskHeap implements heap.Interface
type DelayedTaskHeap []*DelayedTask

func (h DelayedTaskHeap) Len() int           { return len(h) }
func (h DelayedTaskHeap) Less(i, j int) bool { return h[i].RunAt.Before(h[j].RunAt) }
func (h DelayedTaskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *DelayedTaskHeap) Push(x any) {
	n := len(*h)
	item := x.(*DelayedTask)
	item.index = n
	*h = append(*h, item)
}

func (h *DelayedTaskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *DelayedTaskHeap) Peek() *DelayedTask {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayManager holds delayed runnables and hands them to ready once they expire.
type DelayManager struct {
	pq     DelayedTaskHeap
	mu     sync.Mutex
	wakeup chan struct{}
	ready  func(Runnable)
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

// NewDelayManager starts the timer loop. ready is called with the manager's lock
// held, so an expired runnable is never invisible to both the heap and its target.
// ready must not call back into the DelayManager.
func NewDelayManager(ready func(Runnable)) *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		pq:     make(DelayedTaskHeap, 0),
		wakeup: make(chan struct{}, 1),
		ready:  ready,
		ctx:    ctx,
		cancel: cancel,
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// AddDelayedTask queues r to expire after delay. It returns ErrPoolShutdown
// once Stop has run.
func (dm *DelayManager) AddDelayedTask(r Runnable, delay time.Duration) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.stopped {
		return ErrPoolShutdown
	}

	item := &DelayedTask{
		RunAt:    time.Now().Add(delay),
		Runnable: r,
	}
	heap.Push(&dm.pq, item)

	if item.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Remove drops r from the heap. It reports whether r was still waiting.
func (dm *DelayManager) Remove(r Runnable) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	for _, item := range dm.pq {
		if item.Runnable == r {
			heap.Remove(&dm.pq, item.index)
			return true
		}
	}
	return false
}

// Snapshot returns the waiting runnables, earliest first.
func (dm *DelayManager) Snapshot() []Runnable {
	dm.mu.Lock()
	items := make([]*DelayedTask, len(dm.pq))
	copy(items, dm.pq)
	dm.mu.Unlock()

	// Sort a copy instead of popping the live heap.
	h := DelayedTaskHeap(items)
	for i, item := range h {
		h[i] = &DelayedTask{RunAt: item.RunAt, Runnable: item.Runnable, index: i}
	}
	heap.Init(&h)
	out := make([]Runnable, 0, len(h))
	for h.Len() > 0 {
		out = append(out, heap.Pop(&h).(*DelayedTask).Runnable)
	}
	return out
}

func (dm *DelayManager) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		// Calculate next run time
		nextRun := dm.calculateNextRun()
		if nextRun < 0 {
			// No tasks, wait indefinitely
			nextRun = 1000 * time.Hour
		}

		timer.Reset(nextRun)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			// Timer fired, process all expired tasks in one go
			dm.processExpiredTasks()
		case <-dm.wakeup:
			// New task added, need to recalculate
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// calculateNextRun determines how long to wait until the next task.
// Returns -1 if there are no tasks and 0 if the earliest one already expired.
func (dm *DelayManager) calculateNextRun() time.Duration {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.Peek()
	if item == nil {
		return -1
	}

	now := time.Now()
	if item.RunAt.Before(now) {
		return 0
	}
	return item.RunAt.Sub(now)
}

func (dm *DelayManager) processExpiredTasks() {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	now := time.Now()
	for dm.pq.Len() > 0 {
		item := dm.pq.Peek()
		if item.RunAt.After(now) {
			break // No more expired tasks
		}
		heap.Pop(&dm.pq)
		dm.ready(item.Runnable)
	}
}

// Stop ends the timer loop and returns the runnables that never expired.
func (dm *DelayManager) Stop() []Runnable {
	dm.cancel()

	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.stopped = true
	remaining := make([]Runnable, 0, len(dm.pq))
	for _, item := range dm.pq {
		remaining = append(remaining, item.Runnable)
	}
	// Clear pq to release all runnable references
	dm.pq = make(DelayedTaskHeap, 0)
	heap.Init(&dm.pq)
	return remaining
}

func (dm *DelayManager) TaskCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
