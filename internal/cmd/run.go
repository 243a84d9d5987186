package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Swind/go-task-engine/core"
	"github.com/Swind/go-task-engine/internal/config"
	obs "github.com/Swind/go-task-engine/observability/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// runOptions describes the generated workload.
type runOptions struct {
	Jobs      int
	FailEvery int
	Work      time.Duration
	Delay     time.Duration
	Dispatch  string
	Producers int
	Rate      float64
	Burst     int
	History   int
}

func newRunCommand(a *app) *cobra.Command {
	opts := runOptions{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a generated workload through an engine",
		Long: `Run submits a generated workload to a new engine, waits for every job
to be delivered, shuts the engine down and prints a summary.

Example:
  taskengine run --jobs 500 --producers 8 --rate 200 --fail-every 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			s, err := runWorkload(cmd.Context(), cfg, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(s))
			return nil
		},
	}

	f := runCmd.Flags()
	f.IntVar(&opts.Jobs, "jobs", 100, "number of jobs to submit")
	f.IntVar(&opts.FailEvery, "fail-every", 0, "make every Nth job fail (0 = never)")
	f.DurationVar(&opts.Work, "work", 10*time.Millisecond, "simulated work per job")
	f.DurationVar(&opts.Delay, "delay", 0, "submission delay per job")
	f.StringVar(&opts.Dispatch, "dispatch", "main", "delivery context (main, current)")
	f.IntVar(&opts.Producers, "producers", 4, "concurrent submitting goroutines")
	f.Float64Var(&opts.Rate, "rate", 0, "submissions per second across producers (0 = unlimited)")
	f.IntVar(&opts.Burst, "burst", 1, "rate limiter burst")
	f.IntVar(&opts.History, "history", 5, "recent executions to print")

	// Engine overrides, bound to configuration keys in initConfig.
	f.String("name", "", "engine name")
	f.Int("workers", 0, "number of workers")
	f.String("pool-kind", "", "pool kind (fixed, scheduled)")
	f.Int("queue-capacity", 0, "ready queue bound (0 = unbounded)")
	f.Int("prewarm", 0, "task wrappers to seed")
	f.Bool("log-jobs", true, "log per-job events at debug level")
	f.Duration("shutdown-wait", 0, "grace period for running jobs at shutdown")
	f.Bool("monitor", true, "enable the pool monitor")
	f.Duration("monitor-period", 0, "pool monitor period")
	f.Bool("metrics", false, "serve Prometheus metrics")
	f.String("metrics-addr", "", "Prometheus listen address")

	return runCmd
}

// summary is the result of one workload run.
type summary struct {
	Engine      string
	Kind        core.PoolKind
	Dispatch    core.DispatchContext
	Submitted   int
	Completed   int
	Failed      map[string]int
	Elapsed     time.Duration
	Snapshot    core.PoolSnapshot
	Recent      []core.ExecutionRecord
	ShutdownErr error
}

func parseDispatch(s string) (core.DispatchContext, error) {
	switch s {
	case "", "main":
		return core.MainContext, nil
	case "current":
		return core.CurrentContext, nil
	default:
		return core.MainContext, fmt.Errorf("unknown dispatch context %q", s)
	}
}

// workloadJob sleeps for the configured work and fails every Nth index.
func workloadJob(i int, opts runOptions) core.JobFunc[int] {
	return func(ctx context.Context) (int, error) {
		if err := core.SleepDelay(ctx); err != nil {
			return 0, err
		}
		if opts.Work > 0 {
			t := time.NewTimer(opts.Work)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-t.C:
			}
		}
		if opts.FailEvery > 0 && (i+1)%opts.FailEvery == 0 {
			return 0, fmt.Errorf("job %d: simulated failure", i)
		}
		return i, nil
	}
}

func runWorkload(ctx context.Context, cfg *config.Config, opts runOptions, logOut io.Writer) (summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dispatch, err := parseDispatch(opts.Dispatch)
	if err != nil {
		return summary{}, err
	}
	if opts.Producers < 1 {
		opts.Producers = 1
	}

	logger := cfg.NewLogger(logOut)
	ec := cfg.EngineConfig(logger)
	ec.MonitorReporter = core.NewLogReporter(logger)

	var (
		poller *obs.SnapshotPoller
		server *http.Server
	)
	if cfg.Metrics.Enabled {
		reg := prom.NewRegistry()
		exporter, err := obs.NewMetricsExporter(cfg.Metrics.Namespace, reg, obs.ExporterOptions{})
		if err != nil {
			return summary{}, err
		}
		poller, err = obs.NewSnapshotPoller(reg, cfg.Monitor.Period)
		if err != nil {
			return summary{}, err
		}
		ec.Metrics = exporter
		logReporter := ec.MonitorReporter
		ec.MonitorReporter = core.SnapshotReporterFunc(func(s core.PoolSnapshot) {
			poller.ReportSnapshot(s)
			logReporter.ReportSnapshot(s)
		})

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", core.F("addr", cfg.Metrics.Address), core.F("error", err))
			}
		}()
		logger.Info("serving metrics", core.F("addr", cfg.Metrics.Address))
	}

	engine := core.NewExecutionEngine(ec)
	if poller != nil {
		if r := engine.MainRunner(); r != nil {
			poller.AddRunner(r.Name(), r)
		}
		poller.AddEngine(engine.Name(), engine)
		poller.Start(ctx)
	}
	if cfg.Monitor.Enabled {
		engine.StartMonitor(cfg.Monitor.Period)
	}

	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	limiter := rate.NewLimiter(limit, max(opts.Burst, 1))

	var (
		mu        sync.Mutex
		handles   = make([]core.TaskHandle, 0, opts.Jobs)
		completed int
		failed    = make(map[string]int)
	)
	onResult := func(_ int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			completed++
			return
		}
		kind := "failure"
		var xerr *core.ExecutionError
		if errors.As(err, &xerr) {
			kind = xerr.Kind.String()
		}
		failed[kind]++
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for p := range opts.Producers {
		g.Go(func() error {
			for i := p; i < opts.Jobs; i += opts.Producers {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				h := core.Submit[int](engine, workloadJob(i, opts)).
					WithName(fmt.Sprintf("job-%d", i)).
					WithDelay(opts.Delay).
					WithDispatchContext(dispatch).
					WithCallback(onResult).
					Start()
				mu.Lock()
				handles = append(handles, h)
				mu.Unlock()
			}
			return nil
		})
	}
	submitErr := g.Wait()

	mu.Lock()
	pending := append([]core.TaskHandle(nil), handles...)
	mu.Unlock()
wait:
	for _, h := range pending {
		select {
		case <-h.Done():
		case <-ctx.Done():
			break wait
		}
	}
	elapsed := time.Since(start)

	s := summary{
		Engine:    engine.Name(),
		Kind:      engine.Kind(),
		Dispatch:  dispatch,
		Submitted: len(pending),
		Elapsed:   elapsed,
		Snapshot:  engine.Stats(),
		Recent:    engine.RecentExecutions(opts.History),
	}
	s.ShutdownErr = engine.Shutdown(cfg.Engine.ShutdownWait)

	if poller != nil {
		poller.Stop()
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = server.Shutdown(shutdownCtx)
		cancel()
	}

	mu.Lock()
	s.Completed = completed
	s.Failed = failed
	mu.Unlock()

	if submitErr != nil {
		return s, fmt.Errorf("submit workload: %w", submitErr)
	}
	return s, nil
}
