package core

import (
	"context"
	"sync/atomic"
	"time"
	"weak"

	"github.com/sourcegraph/conc/panics"
)

// MainContextDispatcher re-posts terminal notifications of MainContext jobs onto
// the engine's MainContextRunner.
//
// It holds the engine weakly: a delivery that runs after the engine became
// unreachable still fires the job's callback, but skips observers and recycling.
type MainContextDispatcher struct {
	main    MainContextRunner
	engine  weak.Pointer[ExecutionEngine]
	pending atomic.Int64
	inline  atomic.Int64
	logger  Logger
}

func newMainContextDispatcher(main MainContextRunner, e *ExecutionEngine, logger Logger) *MainContextDispatcher {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &MainContextDispatcher{
		main:   main,
		engine: weak.Make(e),
		logger: logger,
	}
}

// Post hands job's delivery to the main context. If the main context refuses it
// (it was shut down) the delivery runs inline so no notification is lost.
func (d *MainContextDispatcher) Post(job *JobState) {
	d.pending.Add(1)
	if d.main != nil && d.main.PostTask(func(context.Context) { d.deliver(job) }) {
		return
	}
	d.inline.Add(1)
	d.logger.Warn("main context rejected delivery, delivering inline", F("task_id", job.id))
	d.deliver(job)
}

func (d *MainContextDispatcher) deliver(job *JobState) {
	defer d.pending.Add(-1)

	if e := d.engine.Value(); e != nil {
		e.completeTask(job)
		return
	}
	if job.callback != nil {
		o := job.outcome()
		if rec := panics.Try(func() { job.callback(o.Value, o.Err) }); rec != nil {
			d.logger.Error("callback panicked", F("task_id", job.id), F("panic", rec.Value))
		}
	}
	close(job.done)
}

// Pending returns deliveries posted to the main context that have not run yet.
func (d *MainContextDispatcher) Pending() int64 { return d.pending.Load() }

// InlineDeliveries returns how many deliveries fell back to the finishing goroutine.
func (d *MainContextDispatcher) InlineDeliveries() int64 { return d.inline.Load() }

// Flush waits until every posted delivery has run.
func (d *MainContextDispatcher) Flush(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for d.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
