package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aristath/mofagent/internal/config"
	"github.com/aristath/mofagent/internal/events"
	"github.com/aristath/mofagent/internal/metrics"
	"github.com/aristath/mofagent/internal/persistence"
	"github.com/aristath/mofagent/internal/planner"
	"github.com/aristath/mofagent/internal/task"
	"github.com/aristath/mofagent/internal/tools"
	"github.com/aristath/mofagent/internal/workspace"
)

// app holds the wired collaborators shared by serve and run.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *events.EventBus
	registry *tools.Registry
	store    persistence.Store
	prom     *prometheus.Registry
	manager  *task.Manager
}

// openStore opens the configured persistence backend.
func openStore(ctx context.Context, cfg *config.Config, ws *workspace.Manager) (persistence.Store, error) {
	switch cfg.Store.Backend {
	case "file":
		return persistence.NewFileStore(ws), nil
	case "sqlite":
		return persistence.NewSQLiteStore(ctx, cfg.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q (want file or sqlite)", cfg.Store.Backend)
	}
}

// newApp wires the registry, planner, store and task manager from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	registry, err := tools.NewDefaultRegistry(cfg.Services, tools.RetryPolicyFromConfig(cfg.Retry), logger)
	if err != nil {
		return nil, fmt.Errorf("building tool registry: %w", err)
	}

	pl, err := planner.NewLLMPlanner(cfg.Planner, registry.Definitions(), planner.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("building planner: %w", err)
	}

	workspaces := workspace.NewManager(workspace.Config{TasksDir: cfg.Workspace.TasksDir})
	store, err := openStore(ctx, cfg, workspaces)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bus := events.NewEventBus()
	manager, err := task.NewManager(task.Config{
		Registry:      registry,
		Planner:       pl,
		Store:         store,
		Workspaces:    workspaces,
		Bus:           bus,
		Metrics:       metrics.MustNewMetrics(prom),
		Logger:        logger,
		MaxConcurrent: cfg.ConcurrencyLimit(),
	})
	if err != nil {
		bus.Close()
		store.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		registry: registry,
		store:    store,
		prom:     prom,
		manager:  manager,
	}, nil
}

// close drains running tasks, then releases the bus and store.
func (a *app) close(ctx context.Context) error {
	err := a.manager.Shutdown(ctx)
	a.bus.Close()
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}
