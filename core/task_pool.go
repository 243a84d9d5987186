package core

import (
	"sync"
	"sync/atomic"
)

// TaskPool recycles Task wrappers between submissions.
type TaskPool struct {
	mu    sync.Mutex
	tasks []*Task

	serial    atomic.Uint64
	allocated atomic.Int64
	reused    atomic.Int64
	rejected  atomic.Int64

	logger Logger
}

// NewTaskPool creates an empty TaskPool.
func NewTaskPool(logger Logger) *TaskPool {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &TaskPool{
		tasks:  make([]*Task, 0, defaultQueueCap),
		logger: logger,
	}
}

// Acquire pops a recycled task without blocking. ok is false when the pool is empty.
func (p *TaskPool) Acquire() (task *Task, ok bool) {
	p.mu.Lock()
	n := len(p.tasks)
	if n == 0 {
		p.mu.Unlock()
		return nil, false
	}
	task = p.tasks[n-1]
	p.tasks[n-1] = nil
	p.tasks = p.tasks[:n-1]
	task.pooled = false
	p.mu.Unlock()

	p.reused.Add(1)
	return task, true
}

// Allocate creates a fresh task; it is the fallback when Acquire comes back empty.
func (p *TaskPool) Allocate() *Task {
	p.allocated.Add(1)
	return p.newTask()
}

func (p *TaskPool) newTask() *Task {
	return &Task{serial: p.serial.Add(1)}
}

// Release resets task and offers it back for reuse. Releasing a task whose job
// has not reached a terminal state is rejected with ErrTaskNotTerminal.
func (p *TaskPool) Release(task *Task) error {
	if task == nil {
		return nil
	}
	if err := task.reset(); err != nil {
		p.rejected.Add(1)
		p.logger.Error("task release rejected", F("serial", task.serial), F("error", err))
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if task.pooled {
		p.rejected.Add(1)
		p.logger.Error("task release rejected", F("serial", task.serial), F("error", ErrTaskAlreadyReleased))
		return ErrTaskAlreadyReleased
	}
	task.pooled = true
	p.tasks = append(p.tasks, task)
	return nil
}

// Seed pre-allocates n idle tasks. Seeded tasks are not counted as allocations.
func (p *TaskPool) Seed(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for range n {
		t := p.newTask()
		t.pooled = true
		p.tasks = append(p.tasks, t)
	}
}

// Len returns the number of idle tasks.
func (p *TaskPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Reused returns how many Acquire calls were served from the pool.
func (p *TaskPool) Reused() int64 { return p.reused.Load() }

// Allocated returns how many tasks were created by Allocate.
func (p *TaskPool) Allocated() int64 { return p.allocated.Load() }

// RejectedReleases returns how many Release calls were refused.
func (p *TaskPool) RejectedReleases() int64 { return p.rejected.Load() }
