// Package engine executes a plan: steps run strictly in declared order, each
// step's inputs are resolved against the outputs of earlier steps, and the
// first failing step ends the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aristath/mofagent/internal/logging"
	"github.com/aristath/mofagent/internal/plan"
	"github.com/aristath/mofagent/internal/tools"
)

// ErrMalformedPlan is returned when a plan cannot be executed at all. It is
// distinct from a run that ended with a failed step, which is reported in
// the ExecutionLog's FinalStatus.
var ErrMalformedPlan = errors.New("malformed plan")

// Observer is notified as steps start and finish.
type Observer interface {
	StepStarted(taskID string, index int, toolName string)
	StepFinished(taskID string, result StepResult)
}

// Engine runs plans against a tool registry.
type Engine struct {
	registry *tools.Registry
	logger   *slog.Logger
	now      func() time.Time
	observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the wall clock used for step timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver registers a step observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New creates an Engine.
func New(registry *tools.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger).With("component", "engine")
	return e
}

// Execute runs p in order against a fresh Context seeded with initial.
//
// Tool failures, unknown tools, invalid input and unresolved references all
// end the run with a failed FinalStatus; they are never returned as errors.
// The only error is ErrMalformedPlan, returned with a nil log.
func (e *Engine) Execute(ctx context.Context, taskID string, p *plan.Plan, ws tools.Workspace, initial map[string]any) (*ExecutionLog, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}

	logger := e.logger.With("task_id", taskID)
	c := NewContext(initial)
	log := &ExecutionLog{
		TaskID:    taskID,
		Steps:     make([]StepResult, 0, len(p.Steps)),
		StartedAt: e.now(),
	}

	for i, step := range p.Steps {
		if e.observer != nil {
			e.observer.StepStarted(taskID, i, step.ToolName)
		}

		result := e.runStep(ctx, i, step, c, ws)

		if result.Status == StepSuccess {
			if err := c.Merge(plan.StepNamespace(i), result.Output); err != nil {
				result.Status = StepFailed
				result.Error = err.Error()
			}
		}

		log.Steps = append(log.Steps, result)
		if e.observer != nil {
			e.observer.StepFinished(taskID, result)
		}

		if result.Status == StepFailed {
			at := i
			log.FinalStatus = FinalStatus{
				Status: FinalFailed,
				Reason: fmt.Sprintf("step %d (%s) failed: %s", i, step.ToolName, result.Error),
				AtStep: &at,
			}
			logger.Warn("plan stopped at failed step", "step", i, "tool", step.ToolName, "error", result.Error)
			break
		}

		logger.Info("step completed", "step", i, "tool", step.ToolName, "elapsed_ms", result.ElapsedMS)
	}

	if log.FinalStatus.Status == "" {
		log.FinalStatus = FinalStatus{Status: FinalCompleted}
	}
	log.ContextKeys = c.Keys()
	log.FinishedAt = e.now()
	return log, nil
}

// runStep resolves, dispatches and executes one step. Panics from the tool
// (construction, validation or execution) become a failed result.
func (e *Engine) runStep(ctx context.Context, index int, step plan.Step, c *Context, ws tools.Workspace) (result StepResult) {
	start := time.Now()
	result = StepResult{
		Index:     index,
		ToolName:  step.ToolName,
		StartedAt: e.now(),
	}

	defer func() {
		if r := recover(); r != nil {
			result.Status = StepFailed
			result.Output = nil
			result.Error = fmt.Sprintf("tool %q panicked: %v", step.ToolName, r)
		}
		result.FinishedAt = e.now()
		result.ElapsedMS = time.Since(start).Milliseconds()
	}()

	resolved, err := Resolve(index, step, c)
	if err != nil {
		result.Status = StepFailed
		result.Error = err.Error()
		return result
	}
	result.Input = resolved

	tool, err := e.registry.Resolve(step.ToolName, ws)
	if err != nil {
		result.Status = StepFailed
		result.Error = err.Error()
		return result
	}

	input, err := tool.Validate(resolved)
	if err != nil {
		result.Status = StepFailed
		result.Error = err.Error()
		return result
	}

	outcome := tool.Execute(ctx, input)
	if !outcome.OK() {
		result.Status = StepFailed
		result.Error = outcome.Message
		if result.Error == "" {
			result.Error = "tool reported failure without a message"
		}
		return result
	}

	result.Status = StepSuccess
	result.Output = outcome.Data
	return result
}
