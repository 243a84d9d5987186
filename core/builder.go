package core

import (
	"context"
	"sync"
	"time"
)

// taskRequest is the type-erased form of a builder ready to be submitted.
type taskRequest struct {
	name     string
	run      func(ctx context.Context) (any, error)
	callback func(value any, err error)
	delay    time.Duration
	dispatch DispatchContext
	recycle  bool
}

// TaskRequestBuilder configures one submission. It defaults to no delay, no
// callback, MainContext delivery and recycling enabled. A builder is single-use:
// after Start, further configuration is ignored and another Start returns an
// invalid handle.
type TaskRequestBuilder[T any] struct {
	engine *ExecutionEngine
	job    Job[T]

	mu       sync.Mutex
	started  bool
	name     string
	delay    time.Duration
	callback Callback[T]
	dispatch DispatchContext
	recycle  bool
}

// Submit starts configuring a submission of job on e.
func Submit[T any](e *ExecutionEngine, job Job[T]) *TaskRequestBuilder[T] {
	return &TaskRequestBuilder[T]{
		engine:   e,
		job:      job,
		dispatch: MainContext,
		recycle:  true,
	}
}

// Submit starts configuring an untyped submission.
func (e *ExecutionEngine) Submit(job Job[any]) *TaskRequestBuilder[any] {
	return Submit(e, job)
}

// SubmitFunc starts configuring a submission of fn.
func SubmitFunc[T any](e *ExecutionEngine, fn func(ctx context.Context) (T, error)) *TaskRequestBuilder[T] {
	return Submit[T](e, JobFunc[T](fn))
}

func (b *TaskRequestBuilder[T]) configure(name string, apply func()) *TaskRequestBuilder[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		b.engine.logger.Warn("builder option ignored after Start", F("option", name))
		return b
	}
	apply()
	return b
}

// WithName sets the name reported in logs and execution history.
func (b *TaskRequestBuilder[T]) WithName(name string) *TaskRequestBuilder[T] {
	return b.configure("name", func() { b.name = name })
}

// WithDelay postpones execution by d. Negative delays are treated as zero.
func (b *TaskRequestBuilder[T]) WithDelay(d time.Duration) *TaskRequestBuilder[T] {
	return b.configure("delay", func() { b.delay = max(d, 0) })
}

// WithCallback sets the callback invoked after observers have been notified.
func (b *TaskRequestBuilder[T]) WithCallback(cb Callback[T]) *TaskRequestBuilder[T] {
	return b.configure("callback", func() { b.callback = cb })
}

// WithDispatchContext selects where notifications are delivered.
func (b *TaskRequestBuilder[T]) WithDispatchContext(d DispatchContext) *TaskRequestBuilder[T] {
	return b.configure("dispatch", func() { b.dispatch = d })
}

// WithRecycle controls whether the Task wrapper is returned to the pool afterwards.
func (b *TaskRequestBuilder[T]) WithRecycle(recycle bool) *TaskRequestBuilder[T] {
	return b.configure("recycle", func() { b.recycle = recycle })
}

// Start submits the job. A nil job or a second Start yields an invalid handle.
func (b *TaskRequestBuilder[T]) Start() TaskHandle {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		b.engine.logger.Error("builder start rejected", F("error", ErrBuilderReused))
		return TaskHandle{}
	}
	b.started = true
	req := taskRequest{
		name:     b.name,
		delay:    b.delay,
		dispatch: b.dispatch,
		recycle:  b.recycle,
	}
	job, cb := b.job, b.callback
	b.mu.Unlock()

	if job == nil {
		b.engine.logger.Error("builder started without a job")
		return TaskHandle{}
	}

	req.name = resolveJobName(job, req.name)
	req.run = func(ctx context.Context) (any, error) {
		return job.Run(ctx)
	}
	if cb != nil {
		req.callback = func(value any, err error) {
			v, _ := value.(T)
			cb(v, err)
		}
	}
	return b.engine.submit(req)
}
