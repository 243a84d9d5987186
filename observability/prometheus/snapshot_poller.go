package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-task-engine/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// RunnerSnapshotProvider provides current runner stats snapshots.
type RunnerSnapshotProvider interface {
	Stats() core.RunnerStats
}

// SnapshotPoller periodically exports runner and engine Stats() snapshots into
// Prometheus gauges. It also implements core.SnapshotReporter so an engine's
// PoolMonitor can push snapshots into the same gauges.
type SnapshotPoller struct {
	interval time.Duration

	runnersMu sync.RWMutex
	runners   map[string]RunnerSnapshotProvider

	enginesMu sync.RWMutex
	engines   map[string]core.SnapshotProvider

	runnerPending  *prom.GaugeVec
	runnerExecuted *prom.GaugeVec
	runnerRejected *prom.GaugeVec
	runnerClosed   *prom.GaugeVec

	engineQueued          *prom.GaugeVec
	engineActive          *prom.GaugeVec
	engineDelayed         *prom.GaugeVec
	engineWorkers         *prom.GaugeVec
	engineCompleted       *prom.GaugeVec
	enginePooledTasks     *prom.GaugeVec
	enginePendingDispatch *prom.GaugeVec
	engineShutdown        *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ core.SnapshotReporter = (*SnapshotPoller)(nil)

func newGauge(name, help string, labels ...string) *prom.GaugeVec {
	return prom.NewGaugeVec(prom.GaugeOpts{Namespace: "taskengine", Name: name, Help: help}, labels)
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	p := &SnapshotPoller{
		interval: interval,
		runners:  make(map[string]RunnerSnapshotProvider),
		engines:  make(map[string]core.SnapshotProvider),

		runnerPending:  newGauge("runner_pending", "Number of queued closures per runner.", "runner", "type"),
		runnerExecuted: newGauge("runner_executed", "Runner executed closure count snapshot.", "runner", "type"),
		runnerRejected: newGauge("runner_rejected", "Runner rejected closure count snapshot.", "runner", "type"),
		runnerClosed:   newGauge("runner_closed", "Runner closed state (1=closed, 0=open).", "runner", "type"),

		engineQueued:          newGauge("engine_queued", "Ready jobs per engine.", "engine", "kind"),
		engineActive:          newGauge("engine_active", "Running jobs per engine.", "engine", "kind"),
		engineDelayed:         newGauge("engine_delayed", "Delayed jobs per engine.", "engine", "kind"),
		engineWorkers:         newGauge("engine_workers", "Worker count per engine.", "engine", "kind"),
		engineCompleted:       newGauge("engine_completed", "Completed job count snapshot.", "engine", "kind"),
		enginePooledTasks:     newGauge("engine_pooled_tasks", "Idle task wrappers in the pool.", "engine", "kind"),
		enginePendingDispatch: newGauge("engine_pending_dispatch", "Deliveries waiting on the main context.", "engine", "kind"),
		engineShutdown:        newGauge("engine_shutdown", "Engine shutdown state (1=shut down, 0=running).", "engine", "kind"),
	}

	for _, g := range []**prom.GaugeVec{
		&p.runnerPending, &p.runnerExecuted, &p.runnerRejected, &p.runnerClosed,
		&p.engineQueued, &p.engineActive, &p.engineDelayed, &p.engineWorkers,
		&p.engineCompleted, &p.enginePooledTasks, &p.enginePendingDispatch, &p.engineShutdown,
	} {
		registered, err := registerCollector(reg, *g)
		if err != nil {
			return nil, err
		}
		*g = registered
	}
	return p, nil
}

// AddRunner adds or replaces a runner snapshot provider by name.
func (p *SnapshotPoller) AddRunner(name string, provider RunnerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "runner")
	p.runnersMu.Lock()
	p.runners[name] = provider
	p.runnersMu.Unlock()
}

// AddEngine adds or replaces an engine snapshot provider by name.
func (p *SnapshotPoller) AddEngine(name string, provider core.SnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "engine")
	p.enginesMu.Lock()
	p.engines[name] = provider
	p.enginesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

// ReportSnapshot records a pushed engine snapshot.
func (p *SnapshotPoller) ReportSnapshot(s core.PoolSnapshot) {
	if p == nil {
		return
	}
	p.setEngine(normalizeLabel(s.Engine, "engine"), s)
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.runnersMu.RLock()
	for name, provider := range p.runners {
		stats := provider.Stats()
		typeLabel := normalizeLabel(stats.Type, "unknown")
		p.runnerPending.WithLabelValues(name, typeLabel).Set(float64(stats.Pending))
		p.runnerExecuted.WithLabelValues(name, typeLabel).Set(float64(stats.Executed))
		p.runnerRejected.WithLabelValues(name, typeLabel).Set(float64(stats.Rejected))
		p.runnerClosed.WithLabelValues(name, typeLabel).Set(boolGauge(stats.Closed))
	}
	p.runnersMu.RUnlock()

	p.enginesMu.RLock()
	for name, provider := range p.engines {
		p.setEngine(name, provider.Stats())
	}
	p.enginesMu.RUnlock()
}

func (p *SnapshotPoller) setEngine(name string, s core.PoolSnapshot) {
	kind := s.Kind.String()
	p.engineQueued.WithLabelValues(name, kind).Set(float64(s.Queued))
	p.engineActive.WithLabelValues(name, kind).Set(float64(s.Active))
	p.engineDelayed.WithLabelValues(name, kind).Set(float64(s.Delayed))
	p.engineWorkers.WithLabelValues(name, kind).Set(float64(s.Workers))
	p.engineCompleted.WithLabelValues(name, kind).Set(float64(s.Completed))
	p.enginePooledTasks.WithLabelValues(name, kind).Set(float64(s.PooledTasks))
	p.enginePendingDispatch.WithLabelValues(name, kind).Set(float64(s.PendingDispatch))
	p.engineShutdown.WithLabelValues(name, kind).Set(boolGauge(s.IsShutdown))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
