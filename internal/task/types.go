// Package task owns the task lifecycle: accepting a request, planning it,
// executing the plan and recording every phase.
package task

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/aristath/mofagent/internal/events"
	"github.com/aristath/mofagent/internal/metrics"
	"github.com/aristath/mofagent/internal/persistence"
	"github.com/aristath/mofagent/internal/planner"
	"github.com/aristath/mofagent/internal/tools"
	"github.com/aristath/mofagent/internal/workspace"
)

var (
	// ErrInvalidSubmission is returned by Submit for a request without a
	// query or without files.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrShuttingDown is returned by Submit after Shutdown has begun.
	ErrShuttingDown = errors.New("task manager is shutting down")

	// ErrIllegalTransition is returned when a state change would move a
	// task backwards or out of a terminal state.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrNotFound is returned for unknown task ids.
	ErrNotFound = persistence.ErrNotFound
)

// InputFile is one uploaded file.
type InputFile struct {
	Name    string
	Content io.Reader
}

// Config wires the manager's collaborators. Bus, Metrics and Logger are
// optional.
type Config struct {
	Registry      *tools.Registry
	Planner       planner.Planner
	Store         persistence.Store
	Workspaces    *workspace.Manager
	Bus           events.Publisher
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	MaxConcurrent int              // Task bodies running at once (default 4)
	Clock         func() time.Time // Status timestamps (default time.Now)
}

// Phase detail messages recorded with each transition.
const (
	detailsCreated   = "Task accepted, waiting to start."
	detailsPlanning  = "Generating execution plan..."
	detailsExecuting = "Executing %d-step plan."
	detailsCompleted = "All %d steps completed."
)
