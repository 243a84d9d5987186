package taskengine

import "github.com/Swind/go-task-engine/core"

// Re-export core types for convenience

// Engine
type (
	ExecutionEngine = core.ExecutionEngine
	EngineConfig    = core.EngineConfig
	TaskHandle      = core.TaskHandle
	TaskID          = core.TaskID
	Outcome         = core.Outcome
	JobStatus       = core.JobStatus
	DispatchContext = core.DispatchContext
	ExecutionRecord = core.ExecutionRecord
	PoolSnapshot    = core.PoolSnapshot
)

// Jobs
type (
	Job[T any]                = core.Job[T]
	JobFunc[T any]            = core.JobFunc[T]
	Callback[T any]           = core.Callback[T]
	TaskRequestBuilder[T any] = core.TaskRequestBuilder[T]
)

// Observers and handlers
type (
	Observer            = core.Observer
	ObserverFuncs       = core.ObserverFuncs
	ObserverFault       = core.ObserverFault
	ExecutionError      = core.ExecutionError
	ErrorKind           = core.ErrorKind
	Logger              = core.Logger
	Metrics             = core.Metrics
	PanicHandler        = core.PanicHandler
	RejectedTaskHandler = core.RejectedTaskHandler
	SnapshotReporter    = core.SnapshotReporter
)

// Pools and runners
type (
	PoolKind               = core.PoolKind
	PoolOptions            = core.PoolOptions
	WorkerPool             = core.WorkerPool
	MainContextRunner      = core.MainContextRunner
	SingleThreadTaskRunner = core.SingleThreadTaskRunner
	Closure                = core.Closure
)

const (
	MainContext    = core.MainContext
	CurrentContext = core.CurrentContext

	PoolFixed     = core.PoolFixed
	PoolScheduled = core.PoolScheduled

	StatusPending   = core.StatusPending
	StatusRunning   = core.StatusRunning
	StatusCompleted = core.StatusCompleted
	StatusFailed    = core.StatusFailed

	KindJobFailure           = core.KindJobFailure
	KindInterruptedExecution = core.KindInterruptedExecution
	KindRejected             = core.KindRejected
)

var (
	ErrInterruptedExecution  = core.ErrInterruptedExecution
	ErrJobFailed             = core.ErrJobFailed
	ErrSubmissionRejected    = core.ErrSubmissionRejected
	ErrObserverDeliveryFault = core.ErrObserverDeliveryFault
	ErrPoolExhaustionTimeout = core.ErrPoolExhaustionTimeout
	ErrPoolShutdown          = core.ErrPoolShutdown
	ErrQueueFull             = core.ErrQueueFull
)

// F creates a log field.
var F = core.F
