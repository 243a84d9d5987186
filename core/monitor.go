package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SnapshotProvider provides current engine snapshots.
type SnapshotProvider interface {
	Stats() PoolSnapshot
}

// SnapshotReporter receives snapshots from a PoolMonitor.
type SnapshotReporter interface {
	ReportSnapshot(s PoolSnapshot)
}

// SnapshotReporterFunc adapts a function to SnapshotReporter.
type SnapshotReporterFunc func(s PoolSnapshot)

func (f SnapshotReporterFunc) ReportSnapshot(s PoolSnapshot) { f(s) }

// LogReporter writes snapshots to a Logger at info level.
type LogReporter struct {
	logger Logger
}

func NewLogReporter(logger Logger) *LogReporter {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) ReportSnapshot(s PoolSnapshot) {
	r.logger.Info("pool monitor",
		F("engine", s.Engine),
		F("workers", s.Workers),
		F("active", s.Active),
		F("completed", s.Completed),
		F("total", s.Total),
		F("queued", s.Queued),
		F("delayed", s.Delayed),
		F("is_shutdown", s.IsShutdown),
		F("is_terminated", s.IsTerminated),
	)
}

// PoolMonitor periodically reports engine snapshots.
// Reporting can be paused with SetEnabled without stopping the ticker.
type PoolMonitor struct {
	provider SnapshotProvider
	reporter SnapshotReporter
	enabled  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoolMonitor(provider SnapshotProvider, reporter SnapshotReporter) *PoolMonitor {
	m := &PoolMonitor{provider: provider, reporter: reporter}
	m.enabled.Store(true)
	return m
}

// Start begins periodic reporting; it returns false if the monitor is already running.
func (m *PoolMonitor) Start(period time.Duration) bool {
	if period <= 0 {
		period = time.Second
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, period, m.done)
	return true
}

// Stop halts reporting and waits for the loop to exit; repeated calls are safe.
func (m *PoolMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Running reports whether the ticker loop is active.
func (m *PoolMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *PoolMonitor) SetEnabled(enabled bool) { m.enabled.Store(enabled) }
func (m *PoolMonitor) Enabled() bool           { return m.enabled.Load() }

// ReportNow emits one snapshot regardless of the ticker.
func (m *PoolMonitor) ReportNow() {
	if m.reporter != nil {
		m.reporter.ReportSnapshot(m.provider.Stats())
	}
}

func (m *PoolMonitor) loop(ctx context.Context, period time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.enabled.Load() {
				m.ReportNow()
			}
		}
	}
}
