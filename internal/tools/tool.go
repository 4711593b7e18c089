// Package tools holds the tool registry and the adapters that call the
// remote chemistry services (format conversion, geometry optimisation, pore
// analysis).
package tools

import (
	"context"
	"fmt"
)

// Workspace is the task-scoped storage a tool handle is bound to.
type Workspace interface {
	// Root is the task's workspace directory.
	Root() string
	// TempDir creates a new unique directory for one tool invocation.
	TempDir(prefix string) (string, error)
}

// Input is a tool input that passed Validate: defaults applied, types coerced.
type Input map[string]any

// Tool is one executable capability bound to a task workspace.
//
// Execute must report every failure through the returned Outcome. The engine
// recovers panics from Execute and treats them as failures.
type Tool interface {
	Definition() Definition
	Validate(input map[string]any) (Input, error)
	Execute(ctx context.Context, input Input) Outcome
}

// Outcome is the tagged result of Execute: success with data, or failure
// with a message.
type Outcome struct {
	ok      bool
	Data    map[string]any
	Message string
}

// Success returns a successful outcome carrying data.
func Success(data map[string]any) Outcome {
	if data == nil {
		data = map[string]any{}
	}
	return Outcome{ok: true, Data: data}
}

// Failure returns a failed outcome.
func Failure(format string, args ...any) Outcome {
	return Outcome{Message: fmt.Sprintf(format, args...)}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.ok }

// OutcomeFromMap converts the uniform adapter result shape
// {"status": "success", ...fields} / {"status": "failed", "error": "..."}
// into an Outcome. The status key is not part of the success data.
func OutcomeFromMap(m map[string]any) Outcome {
	status, _ := m["status"].(string)
	if status == "success" {
		data := make(map[string]any, len(m))
		for k, v := range m {
			if k != "status" {
				data[k] = v
			}
		}
		return Success(data)
	}

	msg, _ := m["error"].(string)
	if msg == "" {
		msg, _ = m["message"].(string)
	}
	if msg == "" {
		msg = fmt.Sprintf("tool reported status %q", status)
	}
	return Failure("%s", msg)
}
