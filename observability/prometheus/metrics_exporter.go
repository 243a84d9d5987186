package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-task-engine/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	jobDurationSeconds  *prom.HistogramVec
	jobFailuresTotal    *prom.CounterVec
	jobRejectedTotal    *prom.CounterVec
	observerFaultsTotal *prom.CounterVec
	queueDepth          *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "taskengine"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Job execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"engine", "dispatch"})
	failuresVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "job_failures_total",
		Help:      "Total number of failed jobs by error kind.",
	}, []string{"engine", "kind"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "job_rejected_total",
		Help:      "Total number of rejected submissions.",
	}, []string{"engine", "reason"})
	faultsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "observer_faults_total",
		Help:      "Total number of panics raised by observers and callbacks.",
	}, []string{"engine"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Ready queue depth observed at submission.",
	}, []string{"engine"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if failuresVec, err = registerCollector(reg, failuresVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if faultsVec, err = registerCollector(reg, faultsVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		jobDurationSeconds:  durationVec,
		jobFailuresTotal:    failuresVec,
		jobRejectedTotal:    rejectedVec,
		observerFaultsTotal: faultsVec,
		queueDepth:          queueDepthVec,
	}, nil
}

// RecordTaskDuration records job execution duration.
func (m *MetricsExporter) RecordTaskDuration(engineName string, dispatch core.DispatchContext, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDurationSeconds.WithLabelValues(normalizeLabel(engineName, "unknown"), dispatch.String()).Observe(duration.Seconds())
}

// RecordTaskFailure records a failed job by error kind.
func (m *MetricsExporter) RecordTaskFailure(engineName string, kind string) {
	if m == nil {
		return
	}
	m.jobFailuresTotal.WithLabelValues(normalizeLabel(engineName, "unknown"), normalizeLabel(kind, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(engineName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(engineName, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records submission rejection events.
func (m *MetricsExporter) RecordTaskRejected(engineName string, reason string) {
	if m == nil {
		return
	}
	m.jobRejectedTotal.WithLabelValues(normalizeLabel(engineName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordObserverFault records an isolated observer or callback panic.
func (m *MetricsExporter) RecordObserverFault(engineName string) {
	if m == nil {
		return
	}
	m.observerFaultsTotal.WithLabelValues(normalizeLabel(engineName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
