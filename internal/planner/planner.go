// Package planner turns a natural-language request into an execution plan.
package planner

import (
	"context"
	"encoding/json"

	"github.com/aristath/mofagent/internal/plan"
)

// Planner produces a plan for query, whose first input file is
// initialFilePath.
type Planner interface {
	CreatePlan(ctx context.Context, query, initialFilePath string) (*plan.Plan, error)
}

// Func adapts a function to the Planner interface.
type Func func(ctx context.Context, query, initialFilePath string) (*plan.Plan, error)

// CreatePlan calls f.
func (f Func) CreatePlan(ctx context.Context, query, initialFilePath string) (*plan.Plan, error) {
	return f(ctx, query, initialFilePath)
}

// PlanningError reports that no usable plan was produced. Snapshot is what
// should be stored as the task's plan record: the planner's own output when
// there was any, otherwise an error envelope.
type PlanningError struct {
	Message  string
	Snapshot json.RawMessage
	Err      error
}

func (e *PlanningError) Error() string {
	return "Failed to create execution plan: " + e.Message
}

func (e *PlanningError) Unwrap() error { return e.Err }

func newPlanningError(err error, raw []byte) *PlanningError {
	pe := &PlanningError{Message: err.Error(), Err: err}
	if len(raw) > 0 && json.Valid(raw) {
		pe.Snapshot = append(json.RawMessage(nil), raw...)
	} else {
		pe.Snapshot = ErrorSnapshot(pe.Error())
	}
	return pe
}

// ErrorSnapshot renders the planner error envelope
// {"status":"error","message":...}.
func ErrorSnapshot(message string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"status": "error", "message": message})
	return data
}
