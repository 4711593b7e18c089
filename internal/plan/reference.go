package plan

import (
	"strconv"
	"strings"
)

// Namespaces used in reference paths.
const (
	InitialNamespace = "initial"
	stepPrefix       = "step"
)

// Reference is a parsed "$path" input value.
//
//	$initial.file_path          a value supplied at submission
//	$step0.output_file_path     a value produced by step 0
//	$step2.detailed_results.x   descends into a nested mapping
//
// A leading "$$" escapes a literal "$".
type Reference struct {
	Path string // Without the leading "$"

	// StepIndex is the referenced step, or -1 for the initial namespace and
	// for paths whose namespace is not recognised.
	StepIndex int
}

// StepNamespace returns the context namespace for the step at index i.
func StepNamespace(i int) string {
	return stepPrefix + strconv.Itoa(i)
}

// ParseReference reports whether v is a reference and parses it.
func ParseReference(v any) (Reference, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "$") || strings.HasPrefix(s, "$$") {
		return Reference{}, false
	}
	path := s[1:]
	return Reference{Path: path, StepIndex: stepIndexOf(path)}, true
}

// Unescape returns the literal value of a non-reference input: "$$x" becomes "$x".
// Other values are returned unchanged.
func Unescape(v any) any {
	if s, ok := v.(string); ok && strings.HasPrefix(s, "$$") {
		return s[1:]
	}
	return v
}

// Namespace returns the first path segment.
func (r Reference) Namespace() string {
	ns, _, _ := strings.Cut(r.Path, ".")
	return ns
}

func stepIndexOf(path string) int {
	ns, _, _ := strings.Cut(path, ".")
	if !strings.HasPrefix(ns, stepPrefix) {
		return -1
	}
	n, err := strconv.Atoi(ns[len(stepPrefix):])
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// References returns the references in a step's input, keyed by parameter name.
func (s Step) References() map[string]Reference {
	refs := make(map[string]Reference)
	for name, v := range s.Input {
		if r, ok := ParseReference(v); ok {
			refs[name] = r
		}
	}
	return refs
}
