package engine

import (
	"fmt"
	"sort"

	"github.com/aristath/mofagent/internal/plan"
)

// UnresolvedReferenceError is returned when a step input references a path
// that has no value in the Context at the time the step runs.
type UnresolvedReferenceError struct {
	StepIndex int
	Param     string
	Path      string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("step %d: parameter %q references $%s, which is not available", e.StepIndex, e.Param, e.Path)
}

// Resolve returns the step's input with every reference replaced by its
// Context value. Literals pass through ("$$" escapes are unescaped).
// Parameters are visited in name order, so the first missing reference
// reported is deterministic. Resolve does not modify the step or the Context.
func Resolve(stepIndex int, step plan.Step, c *Context) (map[string]any, error) {
	names := make([]string, 0, len(step.Input))
	for name := range step.Input {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[string]any, len(step.Input))
	for _, name := range names {
		v := step.Input[name]

		ref, isRef := plan.ParseReference(v)
		if !isRef {
			resolved[name] = cloneValue(plan.Unescape(v))
			continue
		}

		val, ok := c.Lookup(ref.Path)
		if !ok {
			return nil, &UnresolvedReferenceError{StepIndex: stepIndex, Param: name, Path: ref.Path}
		}
		resolved[name] = cloneValue(val)
	}
	return resolved, nil
}
