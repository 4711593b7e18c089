package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/mofagent/internal/engine"
	"github.com/aristath/mofagent/internal/events"
	"github.com/aristath/mofagent/internal/logging"
	"github.com/aristath/mofagent/internal/persistence"
	"github.com/aristath/mofagent/internal/plan"
	"github.com/aristath/mofagent/internal/planner"
	"github.com/aristath/mofagent/internal/workspace"
)

// Manager accepts tasks and runs each one in the background, bounded by a
// worker pool. Every phase is persisted before it becomes visible, and a
// task's state only ever moves forward.
type Manager struct {
	cfg    Config
	engine *engine.Engine
	sem    *semaphore.Weighted
	group  errgroup.Group
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	states map[string]persistence.State // Last persisted state of tasks still running
	closed bool
}

// NewManager creates a task manager.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("task manager needs a tool registry")
	case cfg.Planner == nil:
		return nil, errors.New("task manager needs a planner")
	case cfg.Store == nil:
		return nil, errors.New("task manager needs a store")
	case cfg.Workspaces == nil:
		return nil, errors.New("task manager needs a workspace manager")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	m := &Manager{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger: logging.OrNop(cfg.Logger).With("component", "task"),
		now:    cfg.Clock,
		states: make(map[string]persistence.State),
	}
	m.engine = engine.New(cfg.Registry,
		engine.WithLogger(cfg.Logger),
		engine.WithClock(cfg.Clock),
		engine.WithObserver(m),
	)
	return m, nil
}

// Submit validates the request, creates the task's workspace, stores the
// uploads and records the created state. The task body is scheduled in the
// background; Submit does not wait for it.
func (m *Manager) Submit(ctx context.Context, query string, files []InputFile) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("%w: query is required", ErrInvalidSubmission)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w: at least one file is required", ErrInvalidSubmission)
	}
	if m.isClosed() {
		return "", ErrShuttingDown
	}

	id := uuid.NewString()
	ws, err := m.cfg.Workspaces.Create(id)
	if err != nil {
		return "", err
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		p, err := ws.SaveInput(f.Name, f.Content)
		if err != nil {
			m.discard(id)
			return "", err
		}
		paths = append(paths, p)
	}

	if err := m.transition(ctx, id, persistence.StateCreated, detailsCreated, ""); err != nil {
		m.discard(id)
		return "", err
	}

	m.cfg.Metrics.TaskSubmitted()
	m.publish(events.TaskSubmittedEvent{ID: id, Query: query, Files: paths, Timestamp: m.now()})
	m.logger.Info("task submitted", "task_id", id, "files", len(paths))

	// The body outlives the request that submitted it
	bodyCtx := context.WithoutCancel(ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.fail(bodyCtx, id, ErrShuttingDown.Error())
		return id, nil
	}
	m.group.Go(func() error {
		m.run(bodyCtx, id, ws, query, paths)
		return nil
	})
	m.mu.Unlock()
	return id, nil
}

// GetStatus returns the persisted record for id. It never blocks on a
// running task.
func (m *Manager) GetStatus(ctx context.Context, id string) (*persistence.Record, error) {
	return m.cfg.Store.Load(ctx, id)
}

// List returns the status of every known task.
func (m *Manager) List(ctx context.Context) ([]persistence.Status, error) {
	return m.cfg.Store.List(ctx)
}

// Wait polls until id reaches a terminal state or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (*persistence.Record, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		rec, err := m.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Status != nil && rec.Status.State.Terminal() {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown stops accepting submissions and waits for running bodies to
// finish or ctx to end. Started tasks are not cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running tasks: %w", ctx.Err())
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// run is the task body.
func (m *Manager) run(ctx context.Context, id string, ws *workspace.Workspace, query string, paths []string) {
	logger := m.logger.With("task_id", id)
	defer m.forget(id)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task body panicked", "panic", r)
			m.fail(ctx, id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.fail(ctx, id, fmt.Sprintf("waiting for a worker: %v", err))
		return
	}
	defer m.sem.Release(1)

	m.cfg.Metrics.TaskStarted()
	defer m.cfg.Metrics.TaskFinished()

	if err := m.transition(ctx, id, persistence.StatePlanning, detailsPlanning, ""); err != nil {
		m.abort(ctx, logger, id, err)
		return
	}

	p, ok := m.plan(ctx, logger, id, query, paths[0])
	if !ok {
		return
	}

	for _, w := range p.Lint() {
		logger.Warn("plan lint", "warning", w)
	}

	if err := m.transition(ctx, id, persistence.StateExecuting, fmt.Sprintf(detailsExecuting, len(p.Steps)), ""); err != nil {
		m.abort(ctx, logger, id, err)
		return
	}

	filePaths := make([]any, len(paths))
	for i, path := range paths {
		filePaths[i] = path
	}
	initial := map[string]any{
		"file_path":  paths[0],
		"file_paths": filePaths,
		"query":      query,
		"input_dir":  ws.InputDir(),
	}

	log, err := m.engine.Execute(ctx, id, p, ws, initial)
	if err != nil {
		m.fail(ctx, id, err.Error())
		return
	}

	if err := m.cfg.Store.SaveLog(ctx, id, log); err != nil {
		m.abort(ctx, logger, id, err)
		return
	}

	if !log.Completed() {
		m.fail(ctx, id, log.FinalStatus.Reason)
		return
	}
	if err := m.transition(ctx, id, persistence.StateCompleted, fmt.Sprintf(detailsCompleted, len(log.Steps)), ""); err != nil {
		m.abort(ctx, logger, id, err)
	}
}

// plan asks the planner for a plan and stores the snapshot, whether or
// not planning succeeded. It returns false once the task has been failed.
func (m *Manager) plan(ctx context.Context, logger *slog.Logger, id, query, firstFile string) (*plan.Plan, bool) {
	start := time.Now()
	p, err := m.cfg.Planner.CreatePlan(ctx, query, firstFile)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		m.cfg.Metrics.ObservePlanner("error", time.Since(start))

		var pe *planner.PlanningError
		snapshot := planner.ErrorSnapshot(err.Error())
		reason := err.Error()
		if errors.As(err, &pe) {
			snapshot = pe.Snapshot
		} else if !strings.HasPrefix(reason, "Failed to create execution plan") {
			reason = "Failed to create execution plan: " + reason
		}

		if saveErr := m.cfg.Store.SavePlan(ctx, id, snapshot); saveErr != nil {
			logger.Error("failed to save plan snapshot", "error", saveErr)
		}
		m.fail(ctx, id, reason)
		return nil, false
	}
	m.cfg.Metrics.ObservePlanner("ok", time.Since(start))

	if err := m.cfg.Store.SavePlan(ctx, id, p.Snapshot()); err != nil {
		m.abort(ctx, logger, id, err)
		return nil, false
	}
	return p, true
}

// transition persists a move to state and then announces it. Moves that do
// not advance the lifecycle are rejected without touching the store.
func (m *Manager) transition(ctx context.Context, id string, state persistence.State, details, errMsg string) error {
	m.mu.Lock()
	cur, tracked := m.states[id]
	m.mu.Unlock()
	if !tracked && state != persistence.StateCreated {
		cur = m.persistedState(ctx, id)
	}
	if state.Rank() <= cur.Rank() {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur, state)
	}

	status := persistence.Status{
		TaskID:    id,
		State:     state,
		Details:   details,
		Error:     errMsg,
		UpdatedAt: m.now(),
	}
	if err := m.cfg.Store.SaveStatus(ctx, id, status); err != nil {
		return fmt.Errorf("persisting %s state: %w", state, err)
	}

	m.mu.Lock()
	if state.Terminal() {
		delete(m.states, id)
	} else {
		m.states[id] = state
	}
	m.mu.Unlock()

	m.cfg.Metrics.PhaseEntered(string(state))
	m.publish(events.TaskPhaseEvent{
		ID:        id,
		Phase:     string(state),
		Details:   details,
		Err:       errMsg,
		Timestamp: status.UpdatedAt,
	})
	return nil
}

// persistedState is the stored state of a task the manager no longer
// tracks. A task whose status cannot be read counts as not yet created.
func (m *Manager) persistedState(ctx context.Context, id string) persistence.State {
	rec, err := m.cfg.Store.Load(ctx, id)
	if err != nil || rec.Status == nil {
		return ""
	}
	return rec.Status.State
}

// forget drops the in-memory state of a task whose body has ended.
func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.states, id)
	m.mu.Unlock()
}

func (m *Manager) publish(e events.Event) {
	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(e)
	}
}

// fail moves id to failed with reason. It is best effort: a task already
// in a terminal state keeps it.
func (m *Manager) fail(ctx context.Context, id, reason string) {
	err := m.transition(ctx, id, persistence.StateFailed, "", reason)
	if errors.Is(err, ErrIllegalTransition) {
		return
	}
	if err != nil {
		m.logger.Error("failed to record task failure", "task_id", id, "error", err)
		return
	}
	m.logger.Warn("task failed", "task_id", id, "reason", reason)
}

// abort ends a body whose own persistence failed. Earlier records stay as
// they were; a failed status is attempted once.
func (m *Manager) abort(ctx context.Context, logger *slog.Logger, id string, err error) {
	logger.Error("persistence failure, aborting task", "error", err)
	m.fail(ctx, id, err.Error())
}

// discard removes a workspace whose submission did not go through.
func (m *Manager) discard(id string) {
	if err := m.cfg.Workspaces.Remove(id); err != nil {
		m.logger.Warn("failed to remove abandoned workspace", "task_id", id, "error", err)
	}
}

// StepStarted implements engine.Observer.
func (m *Manager) StepStarted(taskID string, index int, toolName string) {
	m.publish(events.StepStartedEvent{ID: taskID, Index: index, ToolName: toolName, Timestamp: m.now()})
}

// StepFinished implements engine.Observer.
func (m *Manager) StepFinished(taskID string, result engine.StepResult) {
	elapsed := time.Duration(result.ElapsedMS) * time.Millisecond
	m.cfg.Metrics.ObserveStep(result.ToolName, string(result.Status), elapsed)
	m.publish(events.StepFinishedEvent{
		ID:        taskID,
		Index:     result.Index,
		ToolName:  result.ToolName,
		Status:    string(result.Status),
		Err:       result.Error,
		Elapsed:   elapsed,
		Timestamp: m.now(),
	})
}
