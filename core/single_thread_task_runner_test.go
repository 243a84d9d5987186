package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestSingleThreadTaskRunner_ExecutionOrder tests execution order
// Main test items:
// 1. Submit multiple closures to SingleThreadTaskRunner
// 2. Verify closures execute in submission order (FIFO)
func TestSingleThreadTaskRunner_ExecutionOrder(t *testing.T) {
	runner := NewSingleThreadTaskRunner()
	defer runner.Stop()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		id := i
		runner.PostTask(func(ctx context.Context) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		})
	}

	if err := runner.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle() = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 10 {
		t.Fatalf("Expected 10 closures executed, got %d", len(order))
	}
	for i := 0; i < 10; i++ {
		if order[i] != i {
			t.Errorf("order[%d] = %d, want %d", i, order[i], i)
		}
	}
}

// TestSingleThreadTaskRunner_ThreadAffinity tests thread affinity
// Main test items:
// 1. Verify all closures execute on the same goroutine
// 2. Confirm thread affinity via goroutine ID and IsCurrent
func TestSingleThreadTaskRunner_ThreadAffinity(t *testing.T) {
	runner := NewSingleThreadTaskRunner()
	defer runner.Stop()

	var mu sync.Mutex
	ids := make(map[uint64]bool)
	var notCurrent atomic.Int32
	for i := 0; i < 20; i++ {
		runner.PostTask(func(ctx context.Context) {
			if !runner.IsCurrent(ctx) || GetCurrentTaskRunner(ctx) != runner {
				notCurrent.Add(1)
			}
			mu.Lock()
			ids[getGoroutineID()] = true
			mu.Unlock()
		})
	}
	_ = runner.WaitIdle(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 1 {
		t.Errorf("closures ran on %d goroutines, want 1", len(ids))
	}
	if notCurrent.Load() != 0 {
		t.Errorf("IsCurrent() false in %d closures", notCurrent.Load())
	}
	if runner.IsCurrent(context.Background()) {
		t.Error("IsCurrent(background) = true")
	}
}

// TestSingleThreadTaskRunner_ShutdownDrains verifies queued closures survive Shutdown
// Given: A runner with a blocked closure and three queued behind it
// When: Shutdown is called and the blocker is released
// Then: PostTask is refused, the three queued closures still run, and the loop exits
func TestSingleThreadTaskRunner_ShutdownDrains(t *testing.T) {
	runner := NewSingleThreadTaskRunner()
	release := make(chan struct{})
	runner.PostTask(func(ctx context.Context) { <-release })

	var ran atomic.Int32
	for range 3 {
		runner.PostTask(func(ctx context.Context) { ran.Add(1) })
	}

	runner.Shutdown()
	if runner.PostTask(func(ctx context.Context) { ran.Add(100) }) {
		t.Error("PostTask() after Shutdown = true, want false")
	}
	close(release)

	select {
	case <-runner.Done():
	case <-time.After(time.Second):
		t.Fatal("run loop did not exit")
	}
	if ran.Load() != 3 {
		t.Errorf("ran = %d, want 3", ran.Load())
	}
	if err := runner.WaitIdle(context.Background()); !errors.Is(err, ErrRunnerClosed) {
		t.Errorf("WaitIdle() after shutdown = %v, want ErrRunnerClosed", err)
	}
	if s := runner.Stats(); !s.Closed || s.Rejected != 2 || s.Executed != 4 {
		t.Errorf("Stats() = %+v, want closed with 2 rejected and 4 executed", s)
	}
}

// TestSingleThreadTaskRunner_ShutdownFromWithin verifies a closure may shut its own runner down
func TestSingleThreadTaskRunner_ShutdownFromWithin(t *testing.T) {
	runner := NewSingleThreadTaskRunner()
	runner.PostTask(func(ctx context.Context) {
		GetCurrentTaskRunner(ctx).Shutdown()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := runner.WaitShutdown(ctx); err != nil {
		t.Fatalf("WaitShutdown() = %v", err)
	}
	runner.Stop()
	if !runner.IsClosed() {
		t.Error("IsClosed() = false after Shutdown")
	}
}

// TestSingleThreadTaskRunner_DelayedTask verifies PostDelayedTask waits for the delay
func TestSingleThreadTaskRunner_DelayedTask(t *testing.T) {
	runner := NewSingleThreadTaskRunner()
	defer runner.Stop()

	start := time.Now()
	var ranAt atomic.Int64
	runner.PostDelayedTask(func(ctx context.Context) { ranAt.Store(time.Now().UnixNano()) }, 50*time.Millisecond)

	assertEventually(t, time.Second, func() bool { return ranAt.Load() != 0 })
	if elapsed := time.Unix(0, ranAt.Load()).Sub(start); elapsed < 50*time.Millisecond {
		t.Errorf("delayed closure ran after %v, want >= 50ms", elapsed)
	}
}

// TestSingleThreadTaskRunner_PanicIsolated verifies a panicking closure does not stop the loop
func TestSingleThreadTaskRunner_PanicIsolated(t *testing.T) {
	runner := NewSingleThreadTaskRunner()
	defer runner.Stop()
	ph := &TestPanicHandler{}
	runner.SetPanicHandler(ph)
	runner.SetName("ui")

	runner.PostTask(func(ctx context.Context) { panic("boom") })
	var after atomic.Bool
	runner.PostTask(func(ctx context.Context) { after.Store(true) })
	_ = runner.WaitIdle(context.Background())

	if !after.Load() {
		t.Error("closure after panic did not run")
	}
	if ph.CallCount() != 1 {
		t.Errorf("panic handler calls = %d, want 1", ph.CallCount())
	}
	if s := runner.Stats(); s.Panics != 1 || s.Name != "ui" {
		t.Errorf("Stats() = %+v, want 1 panic on runner ui", s)
	}
}
