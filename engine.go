package taskengine

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-task-engine/core"
)

// NewEngine creates a FixedPool engine with the given number of workers.
func NewEngine(name string, workers int) *ExecutionEngine {
	return core.NewExecutionEngine(&core.EngineConfig{Name: name, Workers: workers, PoolKind: core.PoolFixed})
}

// NewScheduledEngine creates a ScheduledPool engine with the given number of workers.
func NewScheduledEngine(name string, workers int) *ExecutionEngine {
	return core.NewExecutionEngine(&core.EngineConfig{Name: name, Workers: workers, PoolKind: core.PoolScheduled})
}

// NewEngineWithConfig creates an engine from a full configuration.
func NewEngineWithConfig(cfg *EngineConfig) *ExecutionEngine {
	return core.NewExecutionEngine(cfg)
}

// Submit starts configuring a submission of job on e.
func Submit[T any](e *ExecutionEngine, job Job[T]) *TaskRequestBuilder[T] {
	return core.Submit(e, job)
}

// SubmitFunc starts configuring a submission of fn on e.
func SubmitFunc[T any](e *ExecutionEngine, fn func(ctx context.Context) (T, error)) *TaskRequestBuilder[T] {
	return core.SubmitFunc(e, fn)
}

// SleepDelay waits out the submission delay of the running job. FixedPool jobs
// call it to honor WithDelay.
func SleepDelay(ctx context.Context) error {
	return core.SleepDelay(ctx)
}

// CurrentTaskID returns the id of the job running on ctx, or 0.
func CurrentTaskID(ctx context.Context) TaskID {
	return core.CurrentTaskID(ctx)
}

// =============================================================================
// Global Engine Helper (Singleton)
// =============================================================================

// globalShutdownWait is the minimum wait ShutdownGlobalEngine grants running jobs.
const globalShutdownWait = 5 * time.Second

var (
	globalEngine *ExecutionEngine
	globalMu     sync.Mutex
)

// The global engine is a convenience wrapper for small programs. Libraries and
// services should own their engines through NewEngine or NewEngineWithConfig.

// InitGlobalEngine initializes the global engine with the specified number of
// workers. It is a no-op if the engine already exists.
func InitGlobalEngine(workers int) {
	InitGlobalEngineWithConfig(&core.EngineConfig{Name: "global-engine", Workers: workers})
}

// InitGlobalEngineWithConfig initializes the global engine from cfg.
func InitGlobalEngineWithConfig(cfg *EngineConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalEngine != nil {
		return // Already initialized
	}
	globalEngine = core.NewExecutionEngine(cfg)
}

// GetGlobalEngine returns the global engine instance. Prefer passing an
// engine-owned *ExecutionEngine explicitly. It panics if InitGlobalEngine has not been called.
func GetGlobalEngine() *ExecutionEngine {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalEngine == nil {
		panic("GlobalEngine not initialized. Call InitGlobalEngine() first.")
	}
	return globalEngine
}

// ShutdownGlobalEngine shuts the global engine down and clears it.
func ShutdownGlobalEngine() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalEngine == nil {
		return nil
	}
	err := globalEngine.Shutdown(globalShutdownWait)
	globalEngine = nil
	return err
}
