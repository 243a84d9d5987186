package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// ErrRunnerClosed is returned by WaitIdle once the runner has been shut down.
var ErrRunnerClosed = errors.New("runner is closed")

// MainContextRunner is the designated sequential context that receives
// MainContext deliveries. PostTask reports false when the closure was not accepted.
type MainContextRunner interface {
	PostTask(task Closure) bool
}

type taskRunnerKeyType struct{}

var taskRunnerKey taskRunnerKeyType

// GetCurrentTaskRunner returns the SingleThreadTaskRunner executing with ctx, or nil.
func GetCurrentTaskRunner(ctx context.Context) *SingleThreadTaskRunner {
	if r, ok := ctx.Value(taskRunnerKey).(*SingleThreadTaskRunner); ok {
		return r
	}
	return nil
}

// SingleThreadTaskRunner binds a dedicated goroutine to execute closures sequentially.
// Every closure posted to it runs on the same goroutine, in posting order, which
// makes it the engine's default main context.
//
// The queue is unbounded so posting never blocks a pool worker.
type SingleThreadTaskRunner struct {
	mu     sync.Mutex
	queue  []Closure
	closed bool
	wake   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopped      chan struct{}

	name         string
	panicHandler PanicHandler

	running    atomic.Int32
	executed   atomic.Int64
	rejected   atomic.Int64
	panicCount atomic.Int64
	lastTaskAt atomic.Int64
}

// NewSingleThreadTaskRunner creates and starts a new SingleThreadTaskRunner.
// It immediately spawns a dedicated goroutine for task execution.
func NewSingleThreadTaskRunner() *SingleThreadTaskRunner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &SingleThreadTaskRunner{
		queue:        make([]Closure, 0, defaultQueueCap),
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		shutdownChan: make(chan struct{}),
		stopped:      make(chan struct{}),
		name:         "main",
		panicHandler: &DefaultPanicHandler{},
	}

	go r.runLoop()

	return r
}

// Name returns the name of the task runner
func (r *SingleThreadTaskRunner) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// SetName sets the name of the task runner
func (r *SingleThreadTaskRunner) SetName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = name
}

// SetPanicHandler replaces the handler invoked when a posted closure panics.
func (r *SingleThreadTaskRunner) SetPanicHandler(h PanicHandler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panicHandler = h
}

// PostTask queues task for execution. It returns false once the runner is shut down.
func (r *SingleThreadTaskRunner) PostTask(task Closure) bool {
	if task == nil {
		return false
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.rejected.Add(1)
		return false
	}
	r.queue = append(r.queue, task)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// PostDelayedTask queues task after delay. The timer runs independently of any
// worker pool; a closure whose timer fires after shutdown is dropped.
func (r *SingleThreadTaskRunner) PostDelayedTask(task Closure, delay time.Duration) bool {
	if r.IsClosed() {
		r.rejected.Add(1)
		return false
	}
	if delay <= 0 {
		return r.PostTask(task)
	}
	time.AfterFunc(delay, func() {
		r.PostTask(task)
	})
	return true
}

// Shutdown stops accepting closures. Closures already queued still execute, after
// which the run loop exits. Shutdown does not block and may be called from a
// closure running on this runner.
func (r *SingleThreadTaskRunner) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.shutdownChan)
	})
}

// IsClosed returns true once Shutdown or Stop has been called.
func (r *SingleThreadTaskRunner) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Stop shuts the runner down and waits for the queued closures to finish.
// It must not be called from the runner's own goroutine.
func (r *SingleThreadTaskRunner) Stop() {
	r.Shutdown()
	<-r.stopped
	r.cancel()
}

// Done is closed when the run loop has exited.
func (r *SingleThreadTaskRunner) Done() <-chan struct{} {
	return r.stopped
}

// IsCurrent reports whether ctx belongs to a closure running on this runner.
func (r *SingleThreadTaskRunner) IsCurrent(ctx context.Context) bool {
	return GetCurrentTaskRunner(ctx) == r
}

// runLoop is the core of this runner, it occupies a dedicated goroutine
func (r *SingleThreadTaskRunner) runLoop() {
	defer close(r.stopped)

	runCtx := context.WithValue(r.ctx, taskRunnerKey, r)

	for {
		task, ok, closed := r.next()
		if ok {
			r.runTask(runCtx, task)
			continue
		}
		if closed {
			return
		}
		select {
		case <-r.wake:
		case <-r.shutdownChan:
		}
	}
}

// next pops the head of the queue. closed is reported under the same lock so the
// loop never exits with work still queued.
func (r *SingleThreadTaskRunner) next() (Closure, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		if cap(r.queue) > compactMinCap {
			r.queue = make([]Closure, 0, defaultQueueCap)
		}
		return nil, false, r.closed
	}
	task := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return task, true, r.closed
}

func (r *SingleThreadTaskRunner) runTask(ctx context.Context, task Closure) {
	r.running.Add(1)
	defer r.running.Add(-1)

	var pc panics.Catcher
	pc.Try(func() { task(ctx) })
	r.executed.Add(1)
	r.lastTaskAt.Store(time.Now().UnixNano())

	if rec := pc.Recovered(); rec != nil {
		r.panicCount.Add(1)
		r.mu.Lock()
		h, name := r.panicHandler, r.name
		r.mu.Unlock()
		h.HandlePanic(ctx, name, -1, rec.Value, rec.Stack)
	}
}

// =============================================================================
// Synchronization Methods
// =============================================================================

// WaitIdle blocks until all currently queued closures have completed execution.
// This is implemented by posting a barrier closure and waiting for it to execute.
//
// Closures posted after WaitIdle is called are not waited for.
func (r *SingleThreadTaskRunner) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	if !r.PostTask(func(context.Context) { close(done) }) {
		return ErrRunnerClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitShutdown blocks until Shutdown() is called on this runner.
func (r *SingleThreadTaskRunner) WaitShutdown(ctx context.Context) error {
	select {
	case <-r.shutdownChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a point-in-time view of the runner.
func (r *SingleThreadTaskRunner) Stats() RunnerStats {
	r.mu.Lock()
	pending := len(r.queue)
	name := r.name
	closed := r.closed
	r.mu.Unlock()

	var last time.Time
	if ns := r.lastTaskAt.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return RunnerStats{
		Name:       name,
		Type:       "single_thread",
		Pending:    pending,
		Running:    int(r.running.Load()),
		Executed:   r.executed.Load(),
		Rejected:   r.rejected.Load(),
		Panics:     r.panicCount.Load(),
		Closed:     closed,
		LastTaskAt: last,
	}
}
