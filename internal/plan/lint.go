package plan

import (
	"fmt"
	"sort"

	"github.com/gammazero/toposort"
)

// Lint reports references that cannot resolve when the plan runs in order:
// references to later steps, to the referencing step itself, to steps past
// the end of the plan, and to unknown namespaces. It also reports reference
// cycles between steps.
//
// Warnings are advisory. Execution order is always the declared order, and
// a bad reference fails its step at run time regardless of what Lint says.
func (p *Plan) Lint() []string {
	if p == nil {
		return nil
	}

	var warnings []string
	var edges []toposort.Edge

	for i, s := range p.Steps {
		node := StepNamespace(i)
		// Include every step even when it references nothing
		edges = append(edges, toposort.Edge{nil, node})

		refs := s.References()
		names := make([]string, 0, len(refs))
		for name := range refs {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			r := refs[name]
			switch {
			case r.Namespace() == InitialNamespace:
				continue
			case r.StepIndex < 0:
				warnings = append(warnings, fmt.Sprintf("step %d parameter %q: unknown namespace in $%s", i, name, r.Path))
				continue
			case r.StepIndex >= len(p.Steps):
				warnings = append(warnings, fmt.Sprintf("step %d parameter %q: $%s refers past the last step", i, name, r.Path))
				continue
			case r.StepIndex >= i:
				warnings = append(warnings, fmt.Sprintf("step %d parameter %q: $%s is not produced before step %d runs", i, name, r.Path, i))
			}
			if r.StepIndex != i {
				// Edge (producer, consumer): the producer must run first
				edges = append(edges, toposort.Edge{StepNamespace(r.StepIndex), node})
			}
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		warnings = append(warnings, fmt.Sprintf("step references form a cycle: %v", err))
	}

	return warnings
}
