package core

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type readyLog struct {
	mu    sync.Mutex
	items []Runnable
}

func (l *readyLog) ready(r Runnable) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, r)
}

func (l *readyLog) snapshot() []Runnable {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Runnable(nil), l.items...)
}

// TestDelayManager_ExpiresInOrder verifies runnables are released earliest first
// Given: Three runnables added with delays 60ms, 20ms and 40ms
// When: All delays have expired
// Then: They were handed to ready in deadline order
func TestDelayManager_ExpiresInOrder(t *testing.T) {
	var log readyLog
	dm := NewDelayManager(log.ready)
	defer dm.Stop()

	a, b, c := newTestRunnable(nil), newTestRunnable(nil), newTestRunnable(nil)
	dm.AddDelayedTask(a, 60*time.Millisecond)
	dm.AddDelayedTask(b, 20*time.Millisecond)
	dm.AddDelayedTask(c, 40*time.Millisecond)

	assertEventually(t, time.Second, func() bool { return len(log.snapshot()) == 3 })

	got := log.snapshot()
	if got[0] != b || got[1] != c || got[2] != a {
		t.Errorf("release order = %v, want [b c a]", got)
	}
	if dm.TaskCount() != 0 {
		t.Errorf("TaskCount() = %d, want 0", dm.TaskCount())
	}
}

// TestDelayManager_Remove verifies a removed runnable never expires
func TestDelayManager_Remove(t *testing.T) {
	var log readyLog
	dm := NewDelayManager(log.ready)
	defer dm.Stop()

	keep, drop := newTestRunnable(nil), newTestRunnable(nil)
	dm.AddDelayedTask(drop, 30*time.Millisecond)
	dm.AddDelayedTask(keep, 30*time.Millisecond)

	if !dm.Remove(drop) {
		t.Fatal("Remove() = false, want true")
	}
	if dm.Remove(drop) {
		t.Error("second Remove() = true, want false")
	}

	assertEventually(t, time.Second, func() bool { return len(log.snapshot()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := log.snapshot(); len(got) != 1 || got[0] != keep {
		t.Errorf("released = %v, want only keep", got)
	}
}

// TestDelayManager_SnapshotAndStop verifies pending runnables are reported and returned
func TestDelayManager_SnapshotAndStop(t *testing.T) {
	var log readyLog
	dm := NewDelayManager(log.ready)

	late, early := newTestRunnable(nil), newTestRunnable(nil)
	dm.AddDelayedTask(late, time.Hour)
	dm.AddDelayedTask(early, time.Minute)

	snap := dm.Snapshot()
	if len(snap) != 2 || snap[0] != early || snap[1] != late {
		t.Errorf("Snapshot() = %v, want [early late]", snap)
	}
	if dm.TaskCount() != 2 {
		t.Errorf("TaskCount() after Snapshot = %d, want 2", dm.TaskCount())
	}

	remaining := dm.Stop()
	if len(remaining) != 2 {
		t.Errorf("Stop() returned %d runnables, want 2", len(remaining))
	}
	if dm.TaskCount() != 0 {
		t.Errorf("TaskCount() after Stop = %d, want 0", dm.TaskCount())
	}
	if len(log.snapshot()) != 0 {
		t.Error("runnables released after Stop")
	}
	if err := dm.AddDelayedTask(newTestRunnable(nil), time.Millisecond); !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("AddDelayedTask() after Stop = %v, want ErrPoolShutdown", err)
	}
	if dm.TaskCount() != 0 {
		t.Errorf("TaskCount() after refused add = %d, want 0", dm.TaskCount())
	}
}
