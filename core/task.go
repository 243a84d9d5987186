package core

import (
	"context"
	"sync"
	"time"
)

// Closure is a unit of work posted to a MainContext.
type Closure func(ctx context.Context)

// =============================================================================
// Task: recyclable wrapper binding a job to engine bookkeeping
// =============================================================================

// Task carries at most one live job at a time. Tasks are never freed by the
// engine; after a job's notifications have fired the wrapper is reset and
// offered back to the TaskPool.
type Task struct {
	serial uint64 // allocation order, stable across reuse
	pooled bool   // guarded by the owning TaskPool's mutex

	mu          sync.Mutex
	job         *JobState
	engine      *ExecutionEngine
	cancel      context.CancelFunc // non-nil while the job body runs
	interrupted bool
	uses        int
}

// Serial returns the allocation order of this wrapper.
func (t *Task) Serial() uint64 { return t.serial }

// Uses returns how many jobs this wrapper has carried.
func (t *Task) Uses() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uses
}

// Job returns the job currently bound to the task, or nil after reset.
func (t *Task) Job() *JobState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job
}

func (t *Task) bind(e *ExecutionEngine, job *JobState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job = job
	t.engine = e
	t.cancel = nil
	t.interrupted = false
	t.uses++
	job.task = t
}

// reset clears the job reference and interrupt state. It fails if the bound job
// has not reached a terminal state.
func (t *Task) reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job != nil && !t.job.Status().IsTerminal() {
		return ErrTaskNotTerminal
	}
	t.job = nil
	t.engine = nil
	t.cancel = nil
	t.interrupted = false
	return nil
}

// interrupt flags the task and cancels the running body, if any.
// It returns false if job is no longer the task's live job.
func (t *Task) interrupt(job *JobState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job != job || job.Status().IsTerminal() {
		return false
	}
	t.interrupted = true
	if t.cancel != nil {
		t.cancel()
	}
	return true
}

// Run executes the bound job. It is called by a worker of the WorkerPool.
func (t *Task) Run(ctx context.Context) {
	t.mu.Lock()
	job, e := t.job, t.engine
	if job == nil || e == nil || !job.transition(StatusPending, StatusRunning) {
		t.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(context.WithValue(ctx, jobStateKey, job))
	t.cancel = cancel
	interrupted := t.interrupted
	t.mu.Unlock()

	if interrupted {
		cancel()
	}

	worker := WorkerName(ctx)
	if worker == "" {
		worker = e.name
	}
	if job.logEnabled {
		e.logger.Debug("job started", F("task_id", job.id), F("worker", worker))
	}

	start := time.Now()
	res := e.invokeJob(runCtx, job, interrupted)
	res.worker = worker
	res.startedAt = start
	res.elapsed = time.Since(start)
	res.interrupted = runCtx.Err() != nil

	// Clear the cancel func before the terminal transition: once delivery runs,
	// the wrapper may be recycled and rebound to another job.
	t.mu.Lock()
	t.cancel = nil
	t.mu.Unlock()
	cancel()

	e.finishRun(t, job, res)
}

// =============================================================================
// TaskHandle
// =============================================================================

// TaskHandle refers to one submission. It stays valid after the underlying Task
// is recycled: operations on a stale handle are no-ops.
type TaskHandle struct {
	task *Task
	job  *JobState
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Valid reports whether the handle refers to a submission.
func (h TaskHandle) Valid() bool { return h.job != nil }

// ID returns the submission id, or 0 for an invalid handle.
func (h TaskHandle) ID() TaskID {
	if h.job == nil {
		return 0
	}
	return h.job.id
}

// Status returns the job's current status.
func (h TaskHandle) Status() JobStatus {
	if h.job == nil {
		return StatusFailed
	}
	return h.job.Status()
}

// Done is closed after the terminal notification (observers, callback, recycle)
// has completed.
func (h TaskHandle) Done() <-chan struct{} {
	if h.job == nil {
		return closedDone
	}
	return h.job.done
}

// Outcome returns the terminal outcome once the job has reached a terminal state.
func (h TaskHandle) Outcome() (Outcome, bool) {
	if h.job == nil || !h.job.Status().IsTerminal() {
		return Outcome{}, false
	}
	return h.job.outcome(), true
}
