// Package plan defines the planner's output: an ordered list of tool-call
// steps whose inputs may reference earlier results.
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPlan is returned for plans that are structurally unusable:
// no steps, a step without a tool name, or an undecodable body.
var ErrInvalidPlan = errors.New("invalid plan")

// ErrPlannerRejected is returned when the planner reports an error status
// instead of a plan.
var ErrPlannerRejected = errors.New("planner returned an error")

// Step is one tool invocation. Input values are literals or references
// (see ParseReference).
type Step struct {
	ToolName    string         `json:"tool_name"`
	Input       map[string]any `json:"tool_input"`
	Description string         `json:"description,omitempty"`
}

// Plan is an ordered sequence of steps. It is not modified after Parse.
type Plan struct {
	Steps []Step          `json:"steps"`
	Raw   json.RawMessage `json:"-"` // Planner output exactly as received
}

// envelope is the planner response shape. Older planner prompts emitted the
// step list under "plan" instead of "steps".
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Steps   json.RawMessage `json:"steps"`
	Plan    json.RawMessage `json:"plan"`
}

// Parse decodes a planner response into a validated Plan.
// Any status other than "ok", a missing one included, yields
// ErrPlannerRejected; a missing step list or invalid step yields
// ErrInvalidPlan.
func Parse(raw []byte) (*Plan, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding planner output: %v", ErrInvalidPlan, err)
	}

	if env.Status != "ok" {
		msg := env.Message
		switch {
		case msg != "":
		case env.Status == "":
			msg = "planner output has no status"
		default:
			msg = "status " + env.Status
		}
		return nil, fmt.Errorf("%w: %s", ErrPlannerRejected, msg)
	}

	list := env.Steps
	if isAbsent(list) {
		list = env.Plan
	}
	if isAbsent(list) {
		return nil, fmt.Errorf("%w: planner output has no steps", ErrInvalidPlan)
	}

	var steps []Step
	if err := json.Unmarshal(list, &steps); err != nil {
		return nil, fmt.Errorf("%w: decoding steps: %v", ErrInvalidPlan, err)
	}

	p := &Plan{Steps: steps, Raw: append(json.RawMessage(nil), raw...)}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func isAbsent(m json.RawMessage) bool {
	t := bytes.TrimSpace(m)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Validate checks the plan's structure. Tool names are not checked against
// any registry here; that happens when each step runs.
func (p *Plan) Validate() error {
	if p == nil || len(p.Steps) == 0 {
		return fmt.Errorf("%w: plan has no steps", ErrInvalidPlan)
	}
	for i, s := range p.Steps {
		if strings.TrimSpace(s.ToolName) == "" {
			return fmt.Errorf("%w: step %d has no tool_name", ErrInvalidPlan, i)
		}
	}
	return nil
}

// Snapshot returns the bytes to persist as the plan snapshot: the planner's
// raw output when available, otherwise the re-encoded steps.
func (p *Plan) Snapshot() json.RawMessage {
	if len(p.Raw) > 0 && json.Valid(p.Raw) {
		return p.Raw
	}
	data, err := json.Marshal(struct {
		Status string `json:"status"`
		Steps  []Step `json:"steps"`
	}{Status: "ok", Steps: p.Steps})
	if err != nil {
		return nil
	}
	return data
}
