// Package kernel wires every component of the daemon together. It is
// the Go replacement for a DI container with lazy singleton factories:
// one function, constructing concrete components leaf-first, returning
// an aggregate with an explicit Start/Stop pair.
package kernel

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/taskd/internal/config"
	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/handlers"
	"github.com/haasonsaas/taskd/internal/kernelstore"
	"github.com/haasonsaas/taskd/internal/metrics"
	"github.com/haasonsaas/taskd/internal/obs"
	"github.com/haasonsaas/taskd/internal/output"
	"github.com/haasonsaas/taskd/internal/recovery"
	"github.com/haasonsaas/taskd/internal/resources"
	"github.com/haasonsaas/taskd/internal/scheduleexec"
	"github.com/haasonsaas/taskd/internal/spawner"
	"github.com/haasonsaas/taskd/internal/taskmanager"
	"github.com/haasonsaas/taskd/internal/taskqueue"
	"github.com/haasonsaas/taskd/internal/workerpool"
	"github.com/haasonsaas/taskd/internal/worktree"
)

// Kernel is every running component of the daemon, wired against one
// shared bus and store. TaskManager is the only field external callers
// (cmd/taskd, or a future in-process RPC adapter) should use to submit
// work; everything else is started/stopped as a unit.
type Kernel struct {
	Store       *kernelstore.Store
	Bus         *eventbus.Bus
	Queue       *taskqueue.Queue
	Output      *output.Manager
	Resources   *resources.Monitor
	WorkerPool  *workerpool.Pool
	Scheduler   *scheduleexec.Executor
	Metrics     *metrics.Metrics
	TaskManager *taskmanager.Manager
	Logger      *obs.Logger

	cfg           *config.Config
	metricsServer *http.Server
}

// New constructs every component and wires their bus subscriptions, but
// starts nothing: Start begins recovery, sampling, admission, the
// schedule tick loop, and the metrics listener.
func New(cfg *config.Config) (*Kernel, error) {
	logger := obs.NewLogger(obs.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	store, err := kernelstore.Open(cfg.Database.Path, kernelstore.Config{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New(eventbus.DefaultOptions())
	queue := taskqueue.New()
	outputMgr := output.NewManager(cfg.Output.MaxBytesPerStream, cfg.Output.RetainCompletedTasks)

	monitor := resources.New(resources.Config{
		MaxConcurrentWorkers:   cfg.Resources.MaxConcurrentWorkers,
		CPUThresholdPercent:    cfg.Resources.CPUThresholdPercent,
		MemoryThresholdPercent: cfg.Resources.MemoryThresholdPercent,
		SampleInterval:         cfg.Resources.SampleInterval,
		SpawnSettleWindow:      cfg.Resources.SpawnSettleWindow,
	}, nil)
	monitor.SetBus(bus)

	sp := spawner.New(cfg.Worker.Binary)
	pool := workerpool.New(queue, monitor, sp, outputMgr, bus, worktree.NoopManager{}, cfg.Worker.KillGrace)

	m := metrics.NewMetrics()
	if err := m.Subscribe(bus, queue); err != nil {
		return nil, fmt.Errorf("subscribe metrics: %w", err)
	}
	pool.SetMetrics(m)

	if err := pool.Subscribe(context.Background()); err != nil {
		return nil, fmt.Errorf("subscribe worker pool: %w", err)
	}

	if err := handlers.RegisterPersistence(bus, store, outputMgr); err != nil {
		return nil, fmt.Errorf("register persistence handler: %w", err)
	}
	if err := handlers.RegisterQueue(bus, store, queue); err != nil {
		return nil, fmt.Errorf("register queue handler: %w", err)
	}
	if err := handlers.RegisterDependency(bus, store); err != nil {
		return nil, fmt.Errorf("register dependency handler: %w", err)
	}
	if err := handlers.RegisterQuery(bus, store, outputMgr); err != nil {
		return nil, fmt.Errorf("register query handler: %w", err)
	}
	if err := handlers.RegisterCheckpoint(bus, store, outputMgr); err != nil {
		return nil, fmt.Errorf("register checkpoint handler: %w", err)
	}

	schedCfg := scheduleexec.DefaultConfig()
	if cfg.Scheduler.TickInterval > 0 {
		schedCfg.CheckInterval = cfg.Scheduler.TickInterval
	}
	executor := scheduleexec.New(store, bus, schedCfg, logger)
	if err := handlers.RegisterSchedule(bus, store, executor, logger); err != nil {
		return nil, fmt.Errorf("register schedule handler: %w", err)
	}

	mgr := taskmanager.New(bus)

	return &Kernel{
		Store:       store,
		Bus:         bus,
		Queue:       queue,
		Output:      outputMgr,
		Resources:   monitor,
		WorkerPool:  pool,
		Scheduler:   executor,
		Metrics:     m,
		TaskManager: mgr,
		Logger:      logger,
		cfg:         cfg,
	}, nil
}

// Start runs startup recovery, then begins resource sampling, the
// schedule tick loop (if enabled), and the metrics HTTP listener (if
// MetricsPort is nonzero). It never blocks past startup; the caller
// (cmd/taskd's serve command) owns the run-until-signal loop.
func (k *Kernel) Start(ctx context.Context) error {
	recovery.Run(ctx, k.Bus, k.Store, k.Queue, k.Logger)

	k.Resources.Start(ctx)

	if k.cfg.Scheduler.Enabled {
		if err := k.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start schedule executor: %w", err)
		}
	}

	if k.cfg.Server.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		k.metricsServer = &http.Server{
			Addr:    ":" + strconv.Itoa(k.cfg.Server.MetricsPort),
			Handler: mux,
		}
		go func() {
			if err := k.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				k.Logger.Error(ctx, "metrics listener failed", "error", err)
			}
		}()
	}

	return nil
}

// Stop tears the kernel down in reverse dependency order: the metrics
// listener and schedule ticker first (nothing new should be admitted or
// triggered), then resource sampling, then the store.
func (k *Kernel) Stop(ctx context.Context) error {
	if k.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = k.metricsServer.Shutdown(shutdownCtx)
	}

	if k.cfg.Scheduler.Enabled {
		k.Scheduler.Stop()
	}
	k.Resources.Stop()

	return k.Store.Close()
}
