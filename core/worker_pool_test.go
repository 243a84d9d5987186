package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startPool(t *testing.T, kind PoolKind, workers, capacity int) *GoroutineWorkerPool {
	t.Helper()
	p := NewGoroutineWorkerPool(PoolOptions{ID: "pool", Kind: kind, Workers: workers, QueueCapacity: capacity})
	p.Start(context.Background())
	t.Cleanup(func() {
		p.ShutdownNow()
		p.AwaitTermination(time.Second)
	})
	return p
}

// TestGoroutineWorkerPool_Execute verifies runnables run on a named worker
func TestGoroutineWorkerPool_Execute(t *testing.T) {
	p := startPool(t, PoolFixed, 2, 0)
	var worker atomic.Value

	r := newTestRunnable(func(ctx context.Context) { worker.Store(WorkerName(ctx)) })
	if err := p.Execute(r); err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	assertEventually(t, time.Second, r.hasRun)
	if name, _ := worker.Load().(string); !strings.HasPrefix(name, "pool-worker-") {
		t.Errorf("WorkerName() = %q, want pool-worker-*", name)
	}
	assertEventually(t, time.Second, func() bool { return p.CompletedTaskCount() == 1 })
	if p.TaskCount() != 1 {
		t.Errorf("TaskCount() = %d, want 1", p.TaskCount())
	}
}

// TestGoroutineWorkerPool_FixedRejectsSchedule verifies FixedPool has no scheduler
func TestGoroutineWorkerPool_FixedRejectsSchedule(t *testing.T) {
	p := startPool(t, PoolFixed, 1, 0)

	if p.SupportsScheduling() {
		t.Error("SupportsScheduling() = true for a fixed pool")
	}
	if err := p.Schedule(newTestRunnable(nil), time.Millisecond); !errors.Is(err, ErrSchedulingUnsupported) {
		t.Errorf("Schedule() = %v, want ErrSchedulingUnsupported", err)
	}
}

// TestGoroutineWorkerPool_ScheduleDelays verifies ScheduledPool honours the delay
func TestGoroutineWorkerPool_ScheduleDelays(t *testing.T) {
	p := startPool(t, PoolScheduled, 1, 0)
	var ranAt atomic.Int64
	start := time.Now()

	r := newTestRunnable(func(ctx context.Context) { ranAt.Store(time.Now().UnixNano()) })
	if err := p.Schedule(r, 80*time.Millisecond); err != nil {
		t.Fatalf("Schedule() = %v", err)
	}
	if p.DelayedCount() != 1 {
		t.Errorf("DelayedCount() = %d, want 1", p.DelayedCount())
	}

	assertEventually(t, time.Second, r.hasRun)
	if elapsed := time.Unix(0, ranAt.Load()).Sub(start); elapsed < 80*time.Millisecond {
		t.Errorf("ran after %v, want >= 80ms", elapsed)
	}
}

// TestGoroutineWorkerPool_ShutdownDrains verifies graceful shutdown runs queued and delayed work
// Given: A busy single-worker pool with one queued and one delayed runnable
// When: Shutdown is called
// Then: New work is refused, the queued and delayed runnables still run, and the pool terminates
func TestGoroutineWorkerPool_ShutdownDrains(t *testing.T) {
	p := startPool(t, PoolScheduled, 1, 0)
	release := make(chan struct{})
	_ = p.Execute(newTestRunnable(func(ctx context.Context) { <-release }))
	assertEventually(t, time.Second, func() bool { return p.ActiveCount() == 1 })

	queued := newTestRunnable(nil)
	delayed := newTestRunnable(nil)
	_ = p.Execute(queued)
	_ = p.Schedule(delayed, 50*time.Millisecond)

	p.Shutdown()
	if err := p.Execute(newTestRunnable(nil)); !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("Execute() after Shutdown = %v, want ErrPoolShutdown", err)
	}
	close(release)

	if !p.AwaitTermination(2 * time.Second) {
		t.Fatal("pool did not terminate")
	}
	if !queued.hasRun() || !delayed.hasRun() {
		t.Errorf("queued ran=%v delayed ran=%v, want both", queued.hasRun(), delayed.hasRun())
	}
	if !p.IsShutdown() || !p.IsTerminated() {
		t.Error("pool not reporting shutdown and terminated")
	}
}

// TestGoroutineWorkerPool_AcceptedWorkRunsDespiteShutdown verifies accepted work is never stranded
// Given: Producers calling Execute and Schedule on a ScheduledPool
// When: Shutdown races with them
// Then: Every runnable the pool accepted runs before the pool terminates
func TestGoroutineWorkerPool_AcceptedWorkRunsDespiteShutdown(t *testing.T) {
	for round := range 50 {
		p := NewGoroutineWorkerPool(PoolOptions{ID: "race", Kind: PoolScheduled, Workers: 2})
		p.Start(context.Background())

		var accepted, ran atomic.Int64
		var wg sync.WaitGroup
		for w := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 100 {
					r := newTestRunnable(func(ctx context.Context) { ran.Add(1) })
					var err error
					if (i+w)%2 == 0 {
						err = p.Execute(r)
					} else {
						err = p.Schedule(r, time.Millisecond)
					}
					if err == nil {
						accepted.Add(1)
					} else if !errors.Is(err, ErrPoolShutdown) {
						t.Errorf("submit error = %v, want nil or ErrPoolShutdown", err)
					}
				}
			}()
		}

		p.Shutdown()
		wg.Wait()
		if !p.AwaitTermination(2 * time.Second) {
			t.Fatalf("round %d: pool did not terminate", round)
		}
		if ran.Load() != accepted.Load() {
			t.Fatalf("round %d: ran %d of %d accepted runnables", round, ran.Load(), accepted.Load())
		}
	}
}

// TestGoroutineWorkerPool_ShutdownNow verifies forced shutdown returns unstarted work
func TestGoroutineWorkerPool_ShutdownNow(t *testing.T) {
	p := startPool(t, PoolScheduled, 1, 0)
	var cancelled atomic.Bool
	_ = p.Execute(newTestRunnable(func(ctx context.Context) {
		<-ctx.Done()
		cancelled.Store(true)
	}))
	assertEventually(t, time.Second, func() bool { return p.ActiveCount() == 1 })
	_ = p.Execute(newTestRunnable(nil))
	_ = p.Schedule(newTestRunnable(nil), time.Hour)

	pending := p.ShutdownNow()

	if len(pending) != 2 {
		t.Errorf("ShutdownNow() returned %d runnables, want 2", len(pending))
	}
	if !p.AwaitTermination(time.Second) {
		t.Fatal("pool did not terminate")
	}
	if !cancelled.Load() {
		t.Error("running runnable was not cancelled")
	}
}

// TestGoroutineWorkerPool_RemoveAfterShutdown verifies removing the last queued item lets workers exit
func TestGoroutineWorkerPool_RemoveAfterShutdown(t *testing.T) {
	p := startPool(t, PoolScheduled, 1, 0)
	r := newTestRunnable(nil)
	_ = p.Schedule(r, time.Hour)

	p.Shutdown()
	if got := p.Queue(); len(got) != 1 || got[0] != r {
		t.Errorf("Queue() = %v, want [r]", got)
	}
	if !p.Remove(r) {
		t.Fatal("Remove() = false, want true")
	}
	if !p.AwaitTermination(time.Second) {
		t.Error("pool did not terminate after its last delayed runnable was removed")
	}
}

// TestGoroutineWorkerPool_PanicRecovered verifies a panicking runnable does not kill the worker
func TestGoroutineWorkerPool_PanicRecovered(t *testing.T) {
	ph := &TestPanicHandler{}
	p := NewGoroutineWorkerPool(PoolOptions{ID: "pool", Workers: 1, PanicHandler: ph})
	p.Start(context.Background())
	defer p.ShutdownNow()

	_ = p.Execute(newTestRunnable(func(ctx context.Context) { panic("boom") }))
	after := newTestRunnable(nil)
	_ = p.Execute(after)

	assertEventually(t, time.Second, after.hasRun)
	if ph.CallCount() != 1 {
		t.Errorf("panic handler calls = %d, want 1", ph.CallCount())
	}
}

// TestGoroutineWorkerPool_ShutdownBeforeStart verifies an unstarted pool terminates immediately
func TestGoroutineWorkerPool_ShutdownBeforeStart(t *testing.T) {
	p := NewGoroutineWorkerPool(PoolOptions{Workers: 1})
	p.Shutdown()
	if !p.AwaitTermination(10 * time.Millisecond) {
		t.Error("unstarted pool did not terminate on Shutdown")
	}
}

func TestParsePoolKind(t *testing.T) {
	tests := []struct {
		in      string
		want    PoolKind
		wantErr bool
	}{
		{"", PoolFixed, false},
		{"fixed", PoolFixed, false},
		{"scheduled", PoolScheduled, false},
		{"cron", PoolFixed, true},
	}
	for _, tt := range tests {
		got, err := ParsePoolKind(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePoolKind(%q) = %v, %v", tt.in, got, err)
		}
	}
}
