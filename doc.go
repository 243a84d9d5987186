// Package taskengine provides an asynchronous job execution engine for Go.
//
// Jobs are submitted to an ExecutionEngine, run on a bounded pool of worker
// goroutines, and their outcome is delivered to registered observers and an
// optional per-job callback. Delivery happens either on the worker that ran the
// job (CurrentContext) or on a designated main context (MainContext), which by
// default is a SingleThreadTaskRunner owned by the engine.
//
// # Quick Start
//
// Create an engine and shut it down when done:
//
//	engine := taskengine.NewEngine("app", 4)
//	defer engine.Shutdown(5 * time.Second)
//
// Small programs can use the global engine helpers instead:
//
//	taskengine.InitGlobalEngine(4) // 4 workers
//	defer taskengine.ShutdownGlobalEngine()
//
// Submit a job and receive its result:
//
//	h := taskengine.SubmitFunc(engine, func(ctx context.Context) (int, error) {
//		return 42, nil
//	}).WithCallback(func(v int, err error) {
//		fmt.Println(v, err)
//	}).Start()
//	<-h.Done()
//
// # Key Concepts
//
// Job: a unit of work returning a value or an error. JobFunc adapts a plain
// function.
//
// TaskRequestBuilder: configures one submission (delay, callback, dispatch
// context, recycling). Builders are single-use.
//
// Observer: receives OnCompleted for every successful job with a non-nil value
// and OnError for every failed job, in registration order. A panicking observer
// is isolated from the others and from the engine.
//
// Pool kinds: a ScheduledPool holds delayed jobs in a timer queue until they
// are due; a FixedPool hands them to a worker immediately and the job itself
// waits out the delay (see SleepDelay).
//
// # Shutdown
//
// Shutdown discards every job that has not started, waits at least one second
// for running jobs, and then interrupts whatever is still running:
//
//	if err := engine.Shutdown(5 * time.Second); err != nil {
//		// errors.Is(err, taskengine.ErrPoolExhaustionTimeout)
//	}
//
// # Observability
//
// Package observability/prometheus exports engine metrics and snapshot gauges.
// The cmd/taskengine binary wires the engine to viper configuration, a cobra
// CLI, and a Prometheus endpoint.
package taskengine
