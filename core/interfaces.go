package core

import (
	"context"
	"fmt"
	"os"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a job, an observer or a posted closure panics.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context from the panicked task (may carry the worker name)
	// - runnerName: The engine, pool or main runner where the panic occurred
	// - workerID: The ID of the worker (-1 for the main runner and observer delivery)
	// - panicInfo: The recovered panic value
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler writes panic information to stderr.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stderr.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte) {
	if workerID >= 0 {
		fmt.Fprintf(os.Stderr, "[Worker %d @ %s] Panic: %v\nStack trace:\n%s",
			workerID, runnerName, panicInfo, stackTrace)
	} else {
		fmt.Fprintf(os.Stderr, "[Runner %s] Panic: %v\nStack trace:\n%s",
			runnerName, panicInfo, stackTrace)
	}
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting job execution metrics.
//
// Methods should be non-blocking and fast to avoid impacting job execution.
type Metrics interface {
	// RecordTaskDuration records how long a job body took to execute.
	RecordTaskDuration(engineName string, dispatch DispatchContext, duration time.Duration)

	// RecordTaskFailure records a job that ended Failed.
	// kind is the ErrorKind string ("failure", "interrupted", "rejected").
	RecordTaskFailure(engineName string, kind string)

	// RecordQueueDepth records the current ready queue depth.
	RecordQueueDepth(engineName string, depth int)

	// RecordTaskRejected records that the worker pool refused a submission.
	RecordTaskRejected(engineName string, reason string)

	// RecordObserverFault records a panic raised during notification delivery.
	RecordObserverFault(engineName string)
}

// NilMetrics provides a no-op metrics implementation.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(engineName string, dispatch DispatchContext, duration time.Duration) {
}
func (m *NilMetrics) RecordTaskFailure(engineName string, kind string)    {}
func (m *NilMetrics) RecordQueueDepth(engineName string, depth int)       {}
func (m *NilMetrics) RecordTaskRejected(engineName string, reason string) {}
func (m *NilMetrics) RecordObserverFault(engineName string)               {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected submissions
// =============================================================================

// RejectedTaskHandler is called when the worker pool refuses a submission:
// the pool is shutting down, or its bounded queue is full.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	// HandleRejectedTask is called when a submission is rejected.
	//
	// Parameters:
	// - engineName: The name of the engine
	// - reason: Why the task was rejected (e.g., "shutdown", "queue_full")
	HandleRejectedTask(engineName string, reason string)
}

// DefaultRejectedTaskHandler writes rejected submissions to stderr.
type DefaultRejectedTaskHandler struct{}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(engineName string, reason string) {
	fmt.Fprintf(os.Stderr, "[Engine %s] Task rejected: %s\n", engineName, reason)
}

// rejectReason maps a pool submission error onto a metrics label.
func rejectReason(err error) string {
	switch err {
	case ErrPoolShutdown:
		return "shutdown"
	case ErrQueueFull:
		return "queue_full"
	case ErrSchedulingUnsupported:
		return "scheduling_unsupported"
	default:
		return "error"
	}
}

// =============================================================================
// EngineConfig: Configuration for ExecutionEngine
// =============================================================================

// EngineConfig holds configuration options for an ExecutionEngine.
// All handlers are optional; if not provided, default implementations will be used.
type EngineConfig struct {
	// Name identifies the engine in logs, metrics and error payloads.
	Name string

	// Workers is the number of pool workers. Defaults to 4.
	Workers int

	// QueueCapacity bounds the ready queue. 0 means unbounded.
	QueueCapacity int

	// PoolKind selects FixedPool or ScheduledPool behavior.
	PoolKind PoolKind

	// PoolFactory builds the worker pool. Defaults to DefaultPoolFactory.
	PoolFactory PoolFactory

	// MainContext receives MainContext deliveries. When nil the engine starts
	// and owns a SingleThreadTaskRunner.
	MainContext MainContextRunner

	// Logger defaults to NoOpLogger.
	Logger Logger

	// Metrics defaults to NilMetrics.
	Metrics Metrics

	// PanicHandler defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// RejectedTaskHandler defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// MonitorReporter receives periodic pool snapshots. Defaults to a LogReporter.
	MonitorReporter SnapshotReporter

	// LogJobs toggles per-job debug logging. Defaults to true.
	LogJobs *bool

	// PrewarmTasks seeds the task pool with idle wrappers.
	PrewarmTasks int

	// HistoryCapacity bounds the execution history ring. Defaults to 100.
	HistoryCapacity int
}

// DefaultEngineConfig returns a config with default handlers.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Name:                "engine",
		Workers:             4,
		PoolKind:            PoolFixed,
		PoolFactory:         DefaultPoolFactory,
		Logger:              NewNoOpLogger(),
		Metrics:             &NilMetrics{},
		PanicHandler:        &DefaultPanicHandler{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{},
	}
}

func (c *EngineConfig) withDefaults() EngineConfig {
	out := *DefaultEngineConfig()
	if c == nil {
		return out
	}
	if c.Name != "" {
		out.Name = c.Name
	}
	if c.Workers > 0 {
		out.Workers = c.Workers
	}
	out.QueueCapacity = c.QueueCapacity
	out.PoolKind = c.PoolKind
	if c.PoolFactory != nil {
		out.PoolFactory = c.PoolFactory
	}
	out.MainContext = c.MainContext
	if c.Logger != nil {
		out.Logger = c.Logger
	}
	if c.Metrics != nil {
		out.Metrics = c.Metrics
	}
	if c.PanicHandler != nil {
		out.PanicHandler = c.PanicHandler
	}
	if c.RejectedTaskHandler != nil {
		out.RejectedTaskHandler = c.RejectedTaskHandler
	}
	out.MonitorReporter = c.MonitorReporter
	out.LogJobs = c.LogJobs
	out.PrewarmTasks = c.PrewarmTasks
	out.HistoryCapacity = c.HistoryCapacity
	return out
}
