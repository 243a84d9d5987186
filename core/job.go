package core

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Job: user supplied unit of work
// =============================================================================

// Job is a unit of work producing a result of type T.
//
// Run should watch ctx: the engine cancels it when the task is cancelled or the
// pool is forcibly shut down. A job returning ctx.Err() after cancellation ends
// as Failed with KindInterruptedExecution.
type Job[T any] interface {
	Run(ctx context.Context) (T, error)
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc[T any] func(ctx context.Context) (T, error)

// Run calls f(ctx).
func (f JobFunc[T]) Run(ctx context.Context) (T, error) {
	return f(ctx)
}

// Callback receives the typed result of a job once it reaches a terminal state.
// err is nil for Completed jobs and an *ExecutionError for Failed ones.
type Callback[T any] func(result T, err error)

// =============================================================================
// JobStatus / DispatchContext
// =============================================================================

type JobStatus int32

const (
	StatusPending JobStatus = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is Completed or Failed.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DispatchContext selects where completion notifications are delivered.
type DispatchContext int

const (
	// MainContext redirects delivery to the engine's MainContext.
	MainContext DispatchContext = iota
	// CurrentContext delivers on whichever goroutine finished the job.
	CurrentContext
)

func (d DispatchContext) String() string {
	if d == CurrentContext {
		return "current"
	}
	return "main"
}

// =============================================================================
// JobState: per-submission bookkeeping
// =============================================================================

// TaskID identifies one submission. It is never reused, even when the Task
// wrapper carrying it is recycled.
type TaskID uint64

// JobState holds everything the engine tracks for one submission.
// Status moves Pending -> Running -> {Completed|Failed}; a job removed from the
// queue before starting goes Pending -> Failed directly.
type JobState struct {
	id       TaskID
	name     string
	status   atomic.Int32
	run      func(ctx context.Context) (any, error)
	callback func(value any, err error)

	dispatch   DispatchContext
	delay      time.Duration
	startTime  time.Time
	logEnabled bool
	recycle    bool
	task       *Task

	done chan struct{}

	mu     sync.Mutex
	value  any
	err    error
	worker string
}

func newJobState(id TaskID, req taskRequest) *JobState {
	return &JobState{
		id:       id,
		name:     req.name,
		run:      req.run,
		callback: req.callback,
		dispatch: req.dispatch,
		recycle:  req.recycle,
		done:     make(chan struct{}),
	}
}

// ID returns the submission id.
func (j *JobState) ID() TaskID { return j.id }

// Name returns the display name used in logs and execution history.
func (j *JobState) Name() string { return j.name }

// Status returns the current lifecycle state.
func (j *JobState) Status() JobStatus { return JobStatus(j.status.Load()) }

// Dispatch returns the delivery context chosen at submission.
func (j *JobState) Dispatch() DispatchContext { return j.dispatch }

// Delay returns the delay stored for self-delaying jobs (FixedPool mode only).
func (j *JobState) Delay() time.Duration { return j.delay }

// StartTime returns the time the job was handed to a scheduling pool, or the zero time.
func (j *JobState) StartTime() time.Time { return j.startTime }

// Task returns the wrapper currently carrying this job.
func (j *JobState) Task() *Task { return j.task }

func (j *JobState) transition(from, to JobStatus) bool {
	return j.status.CompareAndSwap(int32(from), int32(to))
}

// finish moves the job from `from` to the terminal state `to` and records the result.
// It returns false if another party already moved the job out of `from`.
func (j *JobState) finish(from, to JobStatus, value any, err error, worker string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.transition(from, to) {
		return false
	}
	j.value = value
	j.err = err
	j.worker = worker
	return true
}

func (j *JobState) outcome() Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Outcome{
		TaskID:   j.id,
		Status:   j.Status(),
		Value:    j.value,
		Err:      j.err,
		Worker:   j.worker,
		HasValue: !isNilValue(j.value),
	}
}

// Outcome is the terminal result of a job as seen by observers.
type Outcome struct {
	TaskID TaskID
	Status JobStatus
	Value  any
	Err    error
	Worker string
	// HasValue is false when the job completed without a payload. Such outcomes
	// skip observer notification but still reach the task callback.
	HasValue bool
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// =============================================================================
// Context helpers
// =============================================================================

type jobStateKeyType struct{}

var jobStateKey jobStateKeyType

func jobFromContext(ctx context.Context) *JobState {
	if v, ok := ctx.Value(jobStateKey).(*JobState); ok {
		return v
	}
	return nil
}

// CurrentTaskID returns the id of the job running with ctx, or 0.
func CurrentTaskID(ctx context.Context) TaskID {
	if j := jobFromContext(ctx); j != nil {
		return j.id
	}
	return 0
}

// JobDelay returns the delay requested for the job running with ctx.
// It is non-zero only when the pool could not schedule the delay itself, in
// which case the job is expected to wait on its own (see SleepDelay).
func JobDelay(ctx context.Context) time.Duration {
	if j := jobFromContext(ctx); j != nil {
		return j.delay
	}
	return 0
}

// SleepDelay blocks for JobDelay(ctx), returning ctx.Err() if the job is interrupted first.
func SleepDelay(ctx context.Context) error {
	d := JobDelay(ctx)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
