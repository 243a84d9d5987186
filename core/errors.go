package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInterruptedExecution marks a job whose worker was interrupted, or that was
	// discarded from the queue before it could start.
	ErrInterruptedExecution = errors.New("interrupted execution")

	// ErrJobFailed marks a job whose body returned an error or panicked.
	ErrJobFailed = errors.New("job failed")

	// ErrSubmissionRejected marks a job the worker pool refused to accept.
	ErrSubmissionRejected = errors.New("submission rejected")

	// ErrObserverDeliveryFault is wrapped by every ObserverFault.
	ErrObserverDeliveryFault = errors.New("observer delivery fault")

	// ErrPoolExhaustionTimeout is returned by Shutdown when the grace period elapsed
	// before the pool drained.
	ErrPoolExhaustionTimeout = errors.New("pool exhaustion timeout")

	ErrTaskNotTerminal       = errors.New("task released before its job reached a terminal state")
	ErrTaskAlreadyReleased   = errors.New("task already released to the pool")
	ErrPoolShutdown          = errors.New("worker pool is shut down")
	ErrQueueFull             = errors.New("worker pool queue is full")
	ErrSchedulingUnsupported = errors.New("worker pool does not support scheduled execution")
	ErrBuilderReused         = errors.New("task request builder already started")
)

// ErrorKind classifies terminal job failures.
type ErrorKind int

const (
	KindJobFailure ErrorKind = iota
	KindInterruptedExecution
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindInterruptedExecution:
		return "interrupted"
	case KindRejected:
		return "rejected"
	default:
		return "failure"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInterruptedExecution:
		return ErrInterruptedExecution
	case KindRejected:
		return ErrSubmissionRejected
	default:
		return ErrJobFailed
	}
}

// ExecutionError is the payload carried by every Failed outcome.
// It names the worker the job was running on (or the engine, for jobs that never started).
type ExecutionError struct {
	Kind   ErrorKind
	Worker string
	Cause  error
}

func newExecutionError(kind ErrorKind, worker string, cause error) *ExecutionError {
	return &ExecutionError{Kind: kind, Worker: worker, Cause: cause}
}

func (e *ExecutionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s got exception: %s", e.Worker, e.Kind.sentinel())
	}
	return fmt.Sprintf("%s got exception: %v", e.Worker, e.Cause)
}

// Is matches the sentinel for the error kind, so errors.Is(err, ErrInterruptedExecution) works.
func (e *ExecutionError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// ObserverFault describes a panic raised by an observer or a task callback during delivery.
type ObserverFault struct {
	TaskID   TaskID
	Index    int // position in the registry, -1 for the task callback
	Observer string
	Value    any
	Stack    []byte
}

func (f *ObserverFault) Error() string {
	if f.Index < 0 {
		return fmt.Sprintf("%s: callback for task %d panicked: %v", ErrObserverDeliveryFault, f.TaskID, f.Value)
	}
	return fmt.Sprintf("%s: observer #%d (%s) panicked on task %d: %v",
		ErrObserverDeliveryFault, f.Index, f.Observer, f.TaskID, f.Value)
}

func (f *ObserverFault) Unwrap() error {
	return ErrObserverDeliveryFault
}
