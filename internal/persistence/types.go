package persistence

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/aristath/mofagent/internal/engine"
)

// ErrNotFound is returned by Load for a task the store has never seen.
var ErrNotFound = errors.New("task not found")

// State is a task lifecycle state.
type State string

const (
	StateCreated   State = "created"
	StatePlanning  State = "planning"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Rank orders states along the lifecycle. Both terminal states share the
// highest rank; an unknown state ranks below created.
func (s State) Rank() int {
	switch s {
	case StateCreated:
		return 1
	case StatePlanning:
		return 2
	case StateExecuting:
		return 3
	case StateCompleted, StateFailed:
		return 4
	}
	return 0
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Status is the externally visible state record of one task.
type Status struct {
	TaskID    string    `json:"task_id"`
	State     State     `json:"status"`
	Details   string    `json:"details,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is everything persisted for one task. Plan and Log are nil until
// they have been written (or when what was written cannot be decoded).
type Record struct {
	Status *Status              `json:"status"`
	Plan   json.RawMessage      `json:"llm_plan"`
	Log    *engine.ExecutionLog `json:"execution_log"`
}
