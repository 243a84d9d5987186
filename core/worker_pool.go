package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// Runnable is work accepted by a WorkerPool. Implementations must be comparable
// (typically pointers) so the pool can remove them from its queues.
type Runnable interface {
	Run(ctx context.Context)
}

// PoolKind selects the worker pool flavor.
type PoolKind int

const (
	// PoolFixed runs work as soon as a worker is free; delays are left to the job.
	PoolFixed PoolKind = iota
	// PoolScheduled additionally supports delayed execution.
	PoolScheduled
)

func (k PoolKind) String() string {
	if k == PoolScheduled {
		return "scheduled"
	}
	return "fixed"
}

// ParsePoolKind maps "fixed"/"scheduled" to a PoolKind.
func ParsePoolKind(s string) (PoolKind, error) {
	switch s {
	case "", "fixed":
		return PoolFixed, nil
	case "scheduled":
		return PoolScheduled, nil
	default:
		return PoolFixed, fmt.Errorf("unknown pool kind %q", s)
	}
}

// WorkerPool is the execution backend of an ExecutionEngine.
type WorkerPool interface {
	Start(ctx context.Context)

	Execute(r Runnable) error
	Schedule(r Runnable, delay time.Duration) error
	SupportsScheduling() bool

	// Remove drops r from the ready queue or the delay heap before it starts.
	Remove(r Runnable) bool
	// Queue returns every runnable that has not started yet.
	Queue() []Runnable

	// Shutdown stops accepting work; queued and delayed work still runs.
	Shutdown()
	// ShutdownNow cancels running work and returns everything that never started.
	ShutdownNow() []Runnable
	AwaitTermination(timeout time.Duration) bool
	IsShutdown() bool
	IsTerminated() bool

	ID() string
	WorkerCount() int
	ActiveCount() int
	QueueDepth() int
	DelayedCount() int
	CompletedTaskCount() int64
	TaskCount() int64
}

// PoolOptions is passed to a PoolFactory.
type PoolOptions struct {
	ID            string
	Kind          PoolKind
	Workers       int
	QueueCapacity int
	PanicHandler  PanicHandler
}

// PoolFactory builds the worker pool for an engine.
type PoolFactory func(opts PoolOptions) WorkerPool

// DefaultPoolFactory builds a GoroutineWorkerPool.
func DefaultPoolFactory(opts PoolOptions) WorkerPool {
	return NewGoroutineWorkerPool(opts)
}

// =============================================================================
// Worker context helper
// =============================================================================

type workerKeyType struct{}

var workerKey workerKeyType

// WorkerName returns the name of the pool worker executing with ctx, or "".
func WorkerName(ctx context.Context) string {
	if v, ok := ctx.Value(workerKey).(string); ok {
		return v
	}
	return ""
}

// =============================================================================
// GoroutineWorkerPool
// =============================================================================

// GoroutineWorkerPool manages a set of worker goroutines pulling from a bounded
// FIFO queue. In PoolScheduled mode a DelayManager feeds expired work into the
// same queue.
type GoroutineWorkerPool struct {
	id           string
	kind         PoolKind
	workers      int
	queue        *WorkQueue
	delayManager *DelayManager
	signal       chan struct{}
	panicHandler PanicHandler

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.Mutex

	// submitMu orders enqueues against the shutdown flag: Execute and Schedule
	// hold it shared, Shutdown exclusive.
	submitMu     sync.RWMutex
	shuttingDown atomic.Bool
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	drained      chan struct{}
	drainedOnce  sync.Once
	terminated   chan struct{}
	termOnce     sync.Once

	metricActive atomic.Int32
	completed    atomic.Int64
	submitted    atomic.Int64
}

// NewGoroutineWorkerPool creates a pool. Call Start before submitting work.
func NewGoroutineWorkerPool(opts PoolOptions) *GoroutineWorkerPool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ID == "" {
		opts.ID = fmt.Sprintf("pool-%d", opts.Workers)
	}
	if opts.PanicHandler == nil {
		opts.PanicHandler = &DefaultPanicHandler{}
	}

	p := &GoroutineWorkerPool{
		id:           opts.ID,
		kind:         opts.Kind,
		workers:      opts.Workers,
		queue:        NewWorkQueue(opts.QueueCapacity),
		signal:       make(chan struct{}, opts.Workers*2),
		panicHandler: opts.PanicHandler,
		shutdownCh:   make(chan struct{}),
		drained:      make(chan struct{}),
		terminated:   make(chan struct{}),
	}
	if opts.Kind == PoolScheduled {
		p.delayManager = NewDelayManager(func(r Runnable) {
			p.queue.pushForce(r)
			p.wake()
		})
	}
	return p
}

// Start starts all worker goroutines
func (p *GoroutineWorkerPool) Start(ctx context.Context) {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()

	if p.running || p.shuttingDown.Load() {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		workerCtx := context.WithValue(p.ctx, workerKey, fmt.Sprintf("%s-worker-%d", p.id, i))
		go p.workerLoop(i, workerCtx)
	}

	go func() {
		p.wg.Wait()
		p.markTerminated()
	}()
}

func (p *GoroutineWorkerPool) Execute(r Runnable) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()
	return p.enqueueLocked(r)
}

func (p *GoroutineWorkerPool) enqueueLocked(r Runnable) error {
	if p.shuttingDown.Load() {
		return ErrPoolShutdown
	}
	if err := p.queue.Push(r); err != nil {
		return err
	}
	p.submitted.Add(1)
	p.wake()
	return nil
}

func (p *GoroutineWorkerPool) Schedule(r Runnable, delay time.Duration) error {
	if p.delayManager == nil {
		return ErrSchedulingUnsupported
	}
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()
	if delay <= 0 {
		return p.enqueueLocked(r)
	}
	if p.shuttingDown.Load() {
		return ErrPoolShutdown
	}
	if err := p.delayManager.AddDelayedTask(r, delay); err != nil {
		return err
	}
	p.submitted.Add(1)
	return nil
}

func (p *GoroutineWorkerPool) SupportsScheduling() bool {
	return p.delayManager != nil
}

func (p *GoroutineWorkerPool) Remove(r Runnable) bool {
	removed := p.queue.Remove(r)
	if !removed && p.delayManager != nil {
		removed = p.delayManager.Remove(r)
	}
	if removed && p.shuttingDown.Load() {
		// A waiting worker has to re-check whether the pool drained.
		p.wake()
	}
	return removed
}

func (p *GoroutineWorkerPool) Queue() []Runnable {
	items := p.queue.Snapshot()
	if p.delayManager != nil {
		items = append(items, p.delayManager.Snapshot()...)
	}
	return items
}

func (p *GoroutineWorkerPool) Shutdown() {
	// Once the flag is set under the write lock, every accepted runnable is
	// already visible to the workers' drain check.
	p.submitMu.Lock()
	p.shuttingDown.Store(true)
	p.submitMu.Unlock()
	p.shutdownOnce.Do(func() { close(p.shutdownCh) })

	p.runningMu.Lock()
	started := p.running
	p.runningMu.Unlock()
	if !started {
		p.markDrained()
		p.markTerminated()
	}
}

func (p *GoroutineWorkerPool) ShutdownNow() []Runnable {
	p.Shutdown()

	pending := p.queue.Drain()
	if p.delayManager != nil {
		pending = append(pending, p.delayManager.Stop()...)
	}
	p.markDrained()

	p.runningMu.Lock()
	cancel := p.cancel
	p.runningMu.Unlock()
	if cancel != nil {
		cancel()
	}
	return pending
}

func (p *GoroutineWorkerPool) AwaitTermination(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.terminated:
		return true
	case <-timer.C:
		return false
	}
}

func (p *GoroutineWorkerPool) IsShutdown() bool { return p.shuttingDown.Load() }

func (p *GoroutineWorkerPool) IsTerminated() bool {
	select {
	case <-p.terminated:
		return true
	default:
		return false
	}
}

// workerLoop is the main loop for each worker
func (p *GoroutineWorkerPool) workerLoop(id int, ctx context.Context) {
	defer p.wg.Done()
	stopCh := ctx.Done()

	for {
		r, ok := p.getWork(stopCh)
		if !ok {
			return
		}

		p.metricActive.Add(1)
		p.runSafely(ctx, id, r)
		p.metricActive.Add(-1)
		p.completed.Add(1)
	}
}

func (p *GoroutineWorkerPool) getWork(stopCh <-chan struct{}) (Runnable, bool) {
	for {
		if r, ok := p.queue.Pop(); ok {
			return r, true
		}

		var shutdownCh <-chan struct{}
		if p.shuttingDown.Load() {
			// Delayed count first: an expiring runnable moves into the queue
			// under the delay manager's lock.
			if p.DelayedCount() == 0 && p.queue.IsEmpty() {
				p.markDrained()
				return nil, false
			}
		} else {
			shutdownCh = p.shutdownCh
		}

		select {
		case <-p.signal:
		case <-shutdownCh:
		case <-p.drained:
			return nil, false
		case <-stopCh:
			return nil, false
		}
	}
}

func (p *GoroutineWorkerPool) runSafely(ctx context.Context, id int, r Runnable) {
	var pc panics.Catcher
	pc.Try(func() { r.Run(ctx) })
	if rec := pc.Recovered(); rec != nil {
		p.panicHandler.HandlePanic(ctx, p.id, id, rec.Value, rec.Stack)
	}
}

func (p *GoroutineWorkerPool) wake() {
	select {
	case p.signal <- struct{}{}:
	default:
		// Signal channel full, but work is already queued
	}
}

func (p *GoroutineWorkerPool) markDrained() {
	p.drainedOnce.Do(func() { close(p.drained) })
}

func (p *GoroutineWorkerPool) markTerminated() {
	p.termOnce.Do(func() {
		if p.delayManager != nil {
			p.delayManager.Stop()
		}
		close(p.terminated)
	})
}

func (p *GoroutineWorkerPool) ID() string           { return p.id }
func (p *GoroutineWorkerPool) Kind() PoolKind       { return p.kind }
func (p *GoroutineWorkerPool) WorkerCount() int     { return p.workers }
func (p *GoroutineWorkerPool) ActiveCount() int     { return int(p.metricActive.Load()) }
func (p *GoroutineWorkerPool) QueueDepth() int      { return p.queue.Len() }
func (p *GoroutineWorkerPool) TaskCount() int64     { return p.submitted.Load() }
func (p *GoroutineWorkerPool) CompletedTaskCount() int64 {
	return p.completed.Load()
}

func (p *GoroutineWorkerPool) DelayedCount() int {
	if p.delayManager == nil {
		return 0
	}
	return p.delayManager.TaskCount()
}
