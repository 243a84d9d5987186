package core

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"
)

// getGoroutineID parses "goroutine 123 [running]:" from the current stack.
func getGoroutineID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	var id uint64
	for i := len("goroutine "); i < len(b); i++ {
		if b[i] >= '0' && b[i] <= '9' {
			id = id*10 + uint64(b[i]-'0')
		} else {
			break
		}
	}
	return id
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func waitDone(t *testing.T, h TaskHandle) Outcome {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("task %d did not finish, status = %s", h.ID(), h.Status())
	}
	o, ok := h.Outcome()
	if !ok {
		t.Fatalf("task %d: Outcome() not available after Done", h.ID())
	}
	return o
}

func newTestEngine(t *testing.T, cfg *EngineConfig) *ExecutionEngine {
	t.Helper()
	if cfg == nil {
		cfg = &EngineConfig{}
	}
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	if cfg.RejectedTaskHandler == nil {
		cfg.RejectedTaskHandler = &TestRejectedTaskHandler{}
	}
	e := NewExecutionEngine(cfg)
	t.Cleanup(func() { _ = e.Shutdown(0) })
	return e
}

// =============================================================================
// Test doubles
// =============================================================================

type event struct {
	Observer int
	Kind     string
	Outcome  Outcome
}

// eventLog collects observer notifications from several observers in order.
type eventLog struct {
	mu     sync.Mutex
	events []event
}

func (l *eventLog) observer(idx int) *ObserverFuncs {
	return &ObserverFuncs{
		Completed: func(o Outcome) { l.add(event{Observer: idx, Kind: "completed", Outcome: o}) },
		Error:     func(o Outcome) { l.add(event{Observer: idx, Kind: "error", Outcome: o}) },
	}
}

func (l *eventLog) add(ev event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]event, len(l.events))
	copy(out, l.events)
	return out
}

// TestPanicHandler records panics.
type TestPanicHandler struct {
	mu    sync.Mutex
	calls []PanicCall
}

type PanicCall struct {
	RunnerName string
	WorkerID   int
	PanicInfo  any
}

func (h *TestPanicHandler) HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, PanicCall{RunnerName: runnerName, WorkerID: workerID, PanicInfo: panicInfo})
}

func (h *TestPanicHandler) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// TestRejectedTaskHandler records rejections.
type TestRejectedTaskHandler struct {
	mu      sync.Mutex
	reasons []string
}

func (h *TestRejectedTaskHandler) HandleRejectedTask(engineName string, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, reason)
}

func (h *TestRejectedTaskHandler) Reasons() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reasons...)
}

// TestMetrics counts metric calls.
type TestMetrics struct {
	mu        sync.Mutex
	durations int
	failures  map[string]int
	rejected  map[string]int
	faults    int
}

func NewTestMetrics() *TestMetrics {
	return &TestMetrics{failures: map[string]int{}, rejected: map[string]int{}}
}

func (m *TestMetrics) RecordTaskDuration(engineName string, dispatch DispatchContext, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations++
}

func (m *TestMetrics) RecordTaskFailure(engineName string, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[kind]++
}

func (m *TestMetrics) RecordQueueDepth(engineName string, depth int) {}

func (m *TestMetrics) RecordTaskRejected(engineName string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *TestMetrics) RecordObserverFault(engineName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults++
}

func (m *TestMetrics) Failures(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[kind]
}

func (m *TestMetrics) Faults() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.faults
}

// testRunnable counts runs.
type testRunnable struct {
	ran  chan struct{}
	once sync.Once
	fn   func(ctx context.Context)
}

func newTestRunnable(fn func(ctx context.Context)) *testRunnable {
	return &testRunnable{ran: make(chan struct{}), fn: fn}
}

func (r *testRunnable) Run(ctx context.Context) {
	if r.fn != nil {
		r.fn(ctx)
	}
	r.once.Do(func() { close(r.ran) })
}

func (r *testRunnable) hasRun() bool {
	select {
	case <-r.ran:
		return true
	default:
		return false
	}
}
