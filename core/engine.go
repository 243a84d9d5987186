package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// minShutdownWait is the floor applied to the grace period passed to Shutdown.
const minShutdownWait = time.Second

// ExecutionEngine runs jobs on a WorkerPool, recycles their Task wrappers and
// delivers terminal outcomes to observers and callbacks, either on the
// finishing worker or on the main context.
type ExecutionEngine struct {
	name string
	kind PoolKind

	pool       WorkerPool
	tasks      *TaskPool
	observers  *ObserverRegistry
	dispatcher *MainContextDispatcher
	monitor    *PoolMonitor
	history    *executionHistory

	main      MainContextRunner
	ownedMain *SingleThreadTaskRunner

	// mu serializes cancellation and removal against the pool queue.
	mu sync.Mutex

	logger          Logger
	metrics         Metrics
	panicHandler    PanicHandler
	rejectedHandler RejectedTaskHandler

	logJobs  atomic.Bool
	nextID   atomic.Uint64
	shutdown atomic.Bool
}

// NewExecutionEngine creates an engine and starts its worker pool.
// A nil config is equivalent to DefaultEngineConfig().
func NewExecutionEngine(cfg *EngineConfig) *ExecutionEngine {
	c := cfg.withDefaults()

	e := &ExecutionEngine{
		name:            c.Name,
		kind:            c.PoolKind,
		logger:          c.Logger,
		metrics:         c.Metrics,
		panicHandler:    c.PanicHandler,
		rejectedHandler: c.RejectedTaskHandler,
	}
	e.logJobs.Store(c.LogJobs == nil || *c.LogJobs)
	e.history = newExecutionHistory(c.HistoryCapacity)

	e.tasks = NewTaskPool(c.Logger)
	e.tasks.Seed(c.PrewarmTasks)
	e.observers = NewObserverRegistry(c.Logger, e.onObserverFault)

	main := c.MainContext
	if main == nil {
		r := NewSingleThreadTaskRunner()
		r.SetName(c.Name + "-main")
		r.SetPanicHandler(c.PanicHandler)
		e.ownedMain = r
		main = r
	}
	e.main = main
	e.dispatcher = newMainContextDispatcher(main, e, c.Logger)

	e.pool = c.PoolFactory(PoolOptions{
		ID:            c.Name,
		Kind:          c.PoolKind,
		Workers:       c.Workers,
		QueueCapacity: c.QueueCapacity,
		PanicHandler:  c.PanicHandler,
	})
	e.pool.Start(context.Background())

	reporter := c.MonitorReporter
	if reporter == nil {
		reporter = NewLogReporter(c.Logger)
	}
	e.monitor = NewPoolMonitor(e, reporter)

	e.logger.Info("engine started",
		F("engine", e.name), F("kind", c.PoolKind.String()), F("workers", e.pool.WorkerCount()))
	return e
}

// =============================================================================
// Submission
// =============================================================================

func (e *ExecutionEngine) submit(req taskRequest) TaskHandle {
	var task *Task
	if req.recycle {
		task, _ = e.tasks.Acquire()
	}
	if task == nil {
		task = e.tasks.Allocate()
	}

	job := newJobState(TaskID(e.nextID.Add(1)), req)
	job.logEnabled = e.logJobs.Load()
	task.bind(e, job)

	var err error
	if req.delay > 0 && e.pool.SupportsScheduling() {
		job.startTime = time.Now()
		err = e.pool.Schedule(task, req.delay)
	} else {
		// Without a scheduler the job reads its own delay (see JobDelay).
		job.delay = req.delay
		err = e.pool.Execute(task)
	}

	if err != nil {
		e.reject(job, err)
	} else if job.logEnabled {
		e.logger.Debug("job submitted",
			F("task_id", job.id), F("delay", req.delay), F("dispatch", req.dispatch.String()))
	}
	e.metrics.RecordQueueDepth(e.name, e.pool.QueueDepth())

	return TaskHandle{task: task, job: job}
}

func (e *ExecutionEngine) reject(job *JobState, cause error) {
	reason := rejectReason(cause)
	e.rejectedHandler.HandleRejectedTask(e.name, reason)
	e.metrics.RecordTaskRejected(e.name, reason)
	e.logger.Warn("submission rejected", F("task_id", job.id), F("reason", reason))

	err := newExecutionError(KindRejected, e.name, cause)
	if job.finish(StatusPending, StatusFailed, nil, err, e.name) {
		e.metrics.RecordTaskFailure(e.name, KindRejected.String())
		e.history.Add(newExecutionRecord(e, job, runResult{}))
		e.onTerminal(job)
	}
}

// =============================================================================
// Execution
// =============================================================================

type runResult struct {
	value       any
	err         error
	panicked    bool
	interrupted bool
	worker      string
	startedAt   time.Time
	elapsed     time.Duration
}

func (e *ExecutionEngine) invokeJob(ctx context.Context, job *JobState, interrupted bool) runResult {
	if interrupted {
		return runResult{err: context.Canceled}
	}

	var res runResult
	var pc panics.Catcher
	pc.Try(func() { res.value, res.err = job.run(ctx) })
	if rec := pc.Recovered(); rec != nil {
		res.value = nil
		res.panicked = true
		res.err = rec.AsError()
		e.panicHandler.HandlePanic(ctx, e.name, -1, rec.Value, rec.Stack)
	}
	return res
}

// finishRun classifies the result of a job body and moves it Running -> terminal.
func (e *ExecutionEngine) finishRun(t *Task, job *JobState, res runResult) {
	status := StatusCompleted
	value := res.value
	var err error
	if res.err != nil {
		status = StatusFailed
		value = nil
		kind := KindJobFailure
		if !res.panicked && res.interrupted &&
			(errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded)) {
			kind = KindInterruptedExecution
		}
		err = newExecutionError(kind, res.worker, res.err)
	}

	if !job.finish(StatusRunning, status, value, err, res.worker) {
		return
	}

	e.metrics.RecordTaskDuration(e.name, job.dispatch, res.elapsed)
	if err != nil {
		var xerr *ExecutionError
		errors.As(err, &xerr)
		e.metrics.RecordTaskFailure(e.name, xerr.Kind.String())
		if job.logEnabled {
			e.logger.Warn("job failed",
				F("task_id", job.id), F("worker", res.worker), F("kind", xerr.Kind.String()), F("error", err))
		}
	} else if job.logEnabled {
		e.logger.Debug("job completed",
			F("task_id", job.id), F("worker", res.worker), F("elapsed", res.elapsed), F("task_serial", t.serial))
	}
	e.history.Add(newExecutionRecord(e, job, res))

	e.onTerminal(job)
}

// onTerminal routes a terminal job to its delivery context.
func (e *ExecutionEngine) onTerminal(job *JobState) {
	if job.dispatch == MainContext {
		e.dispatcher.Post(job)
		return
	}
	e.completeTask(job)
}

// completeTask notifies observers, invokes the callback and recycles the wrapper,
// in that order. It runs on the delivery context.
func (e *ExecutionEngine) completeTask(job *JobState) {
	o := job.outcome()
	switch {
	case o.Status == StatusCompleted && o.HasValue:
		_ = e.observers.NotifyCompleted(o)
	case o.Status == StatusFailed:
		_ = e.observers.NotifyError(o)
	}

	if job.callback != nil {
		_ = e.observers.invokeCallback(o.TaskID, func() { job.callback(o.Value, o.Err) })
	}

	if t := job.task; t != nil {
		if job.recycle {
			_ = e.tasks.Release(t)
		} else if err := t.reset(); err != nil {
			e.logger.Error("task reset failed", F("task_id", job.id), F("error", err))
		}
	}
	close(job.done)
}

func (e *ExecutionEngine) onObserverFault(f *ObserverFault) {
	e.metrics.RecordObserverFault(e.name)
	e.panicHandler.HandlePanic(context.Background(), e.name, -1, f.Value, f.Stack)
}

// =============================================================================
// Cancellation
// =============================================================================

// Cancel interrupts the job behind h. A queued or delayed job is removed and
// delivered as Failed with KindInterruptedExecution; a running job has its
// context cancelled. Cancel reports false when the job was already terminal or
// the handle is stale. Repeated calls are harmless.
func (e *ExecutionEngine) Cancel(h TaskHandle) bool {
	if !h.Valid() {
		return false
	}

	e.mu.Lock()
	if !h.task.interrupt(h.job) {
		e.mu.Unlock()
		return false
	}
	removed := e.pool.Remove(h.task)
	e.mu.Unlock()

	if removed {
		e.discard(h.job)
	}
	return true
}

// CancelAllPending removes every job that has not started yet and returns how
// many were removed. Running jobs are left alone.
func (e *ExecutionEngine) CancelAllPending() int {
	e.mu.Lock()
	var removed []*JobState
	for _, r := range e.pool.Queue() {
		t, ok := r.(*Task)
		if !ok {
			continue
		}
		job := t.Job()
		if job == nil || job.Status() != StatusPending {
			continue
		}
		if !t.interrupt(job) {
			continue
		}
		if e.pool.Remove(t) {
			removed = append(removed, job)
		}
	}
	e.mu.Unlock()

	for _, job := range removed {
		e.discard(job)
	}
	if len(removed) > 0 {
		e.logger.Info("pending jobs cancelled", F("engine", e.name), F("count", len(removed)))
	}
	return len(removed)
}

// discard fails a job that never started.
func (e *ExecutionEngine) discard(job *JobState) {
	err := newExecutionError(KindInterruptedExecution, e.name, ErrInterruptedExecution)
	if !job.finish(StatusPending, StatusFailed, nil, err, e.name) {
		return
	}
	e.metrics.RecordTaskFailure(e.name, KindInterruptedExecution.String())
	if job.logEnabled {
		e.logger.Debug("job discarded", F("task_id", job.id))
	}
	e.history.Add(newExecutionRecord(e, job, runResult{}))
	e.onTerminal(job)
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown cancels pending jobs, stops the pool from accepting work and waits at
// least one second (or minWait, if longer) for running jobs to finish. When the
// pool does not drain in time, running jobs are cancelled and
// ErrPoolExhaustionTimeout is returned. Shutdown blocks the caller.
func (e *ExecutionEngine) Shutdown(minWait time.Duration) error {
	if !e.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	wait := max(minWait, minShutdownWait)
	e.logger.Info("engine shutting down", F("engine", e.name), F("wait", wait))

	e.CancelAllPending()
	e.pool.Shutdown()
	// Catch submissions accepted between the first sweep and the pool refusing work.
	e.CancelAllPending()

	var err error
	if !e.pool.AwaitTermination(wait) {
		e.CancelAllPending()
		for _, r := range e.pool.ShutdownNow() {
			if t, ok := r.(*Task); ok {
				if job := t.Job(); job != nil {
					e.discard(job)
				}
			}
		}
		err = fmt.Errorf("%w after %v", ErrPoolExhaustionTimeout, wait)
		e.logger.Warn("engine forced shutdown", F("engine", e.name), F("error", err))
	}

	e.monitor.Stop()
	if e.ownedMain != nil {
		e.ownedMain.Shutdown()
	}
	e.logger.Info("engine stopped", F("engine", e.name), F("completed", e.CompletedCount()))
	return err
}

// IsShutdown reports whether Shutdown has been called.
func (e *ExecutionEngine) IsShutdown() bool { return e.shutdown.Load() }

// IsTerminated reports whether every pool worker has exited.
func (e *ExecutionEngine) IsTerminated() bool { return e.pool.IsTerminated() }

// =============================================================================
// Introspection
// =============================================================================

func (e *ExecutionEngine) Name() string                       { return e.name }
func (e *ExecutionEngine) Kind() PoolKind                     { return e.kind }
func (e *ExecutionEngine) Pool() WorkerPool                   { return e.pool }
func (e *ExecutionEngine) Tasks() *TaskPool                   { return e.tasks }
func (e *ExecutionEngine) Observers() *ObserverRegistry       { return e.observers }
func (e *ExecutionEngine) Dispatcher() *MainContextDispatcher { return e.dispatcher }
func (e *ExecutionEngine) Monitor() *PoolMonitor              { return e.monitor }
func (e *ExecutionEngine) MainContext() MainContextRunner     { return e.main }

// MainRunner returns the engine-owned main runner, or nil when a MainContext was supplied.
func (e *ExecutionEngine) MainRunner() *SingleThreadTaskRunner { return e.ownedMain }

func (e *ExecutionEngine) AddObserver(o Observer)         { e.observers.Add(o) }
func (e *ExecutionEngine) RemoveObserver(o Observer) bool { return e.observers.Remove(o) }

// SetLog toggles per-job debug logging for jobs submitted afterwards.
func (e *ExecutionEngine) SetLog(enabled bool) { e.logJobs.Store(enabled) }

// LogEnabled reports whether per-job logging is on.
func (e *ExecutionEngine) LogEnabled() bool { return e.logJobs.Load() }

// ActiveCount returns the number of jobs currently running.
func (e *ExecutionEngine) ActiveCount() int { return e.pool.ActiveCount() }

// CompletedCount returns the number of runnables the pool has finished.
func (e *ExecutionEngine) CompletedCount() int64 { return e.pool.CompletedTaskCount() }

// TotalCount returns the number of runnables the pool has accepted.
func (e *ExecutionEngine) TotalCount() int64 { return e.pool.TaskCount() }

// RecentExecutions returns up to limit terminal records, newest first.
func (e *ExecutionEngine) RecentExecutions(limit int) []ExecutionRecord { return e.history.Recent(limit) }

// LastExecution returns the most recent terminal record.
func (e *ExecutionEngine) LastExecution() (ExecutionRecord, bool) { return e.history.Last() }

// StartMonitor begins periodic snapshot reporting. It returns false if already running.
func (e *ExecutionEngine) StartMonitor(period time.Duration) bool { return e.monitor.Start(period) }

// StopMonitor halts snapshot reporting.
func (e *ExecutionEngine) StopMonitor() { e.monitor.Stop() }

// SetMonitorEnabled pauses or resumes snapshot reporting.
func (e *ExecutionEngine) SetMonitorEnabled(enabled bool) { e.monitor.SetEnabled(enabled) }

// Stats returns a point-in-time snapshot of the engine.
func (e *ExecutionEngine) Stats() PoolSnapshot {
	kind := PoolFixed
	if e.pool.SupportsScheduling() {
		kind = PoolScheduled
	}
	return PoolSnapshot{
		Engine:           e.name,
		PoolID:           e.pool.ID(),
		Kind:             kind,
		Workers:          e.pool.WorkerCount(),
		Active:           e.pool.ActiveCount(),
		Queued:           e.pool.QueueDepth(),
		Delayed:          e.pool.DelayedCount(),
		Completed:        e.pool.CompletedTaskCount(),
		Total:            e.pool.TaskCount(),
		IsShutdown:       e.shutdown.Load() || e.pool.IsShutdown(),
		IsTerminated:     e.pool.IsTerminated(),
		TasksReused:      e.tasks.Reused(),
		TasksAllocated:   e.tasks.Allocated(),
		PooledTasks:      e.tasks.Len(),
		Observers:        e.observers.Len(),
		PendingDispatch:  e.dispatcher.Pending(),
		MonitorEnabled:   e.monitor.Enabled(),
		RejectedReleases: e.tasks.RejectedReleases(),
		CapturedAt:       time.Now(),
	}
}
