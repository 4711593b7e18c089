package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/aristath/mofagent/internal/plan"
)

func TestContextMergeAndLookup(t *testing.T) {
	c := NewContext(map[string]any{"file_path": "/in/a.cif"})

	if err := c.Merge("step0", map[string]any{
		"output_file_path": "/tmp/a.xyz",
		"detailed_results": map[string]any{
			"summary": map[string]any{"convergence_status": "YES"},
			"frames":  []any{1.0, 2.0},
		},
	}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	tests := []struct {
		path  string
		want  any
		found bool
	}{
		{"initial.file_path", "/in/a.cif", true},
		{"step0.output_file_path", "/tmp/a.xyz", true},
		{"step0.detailed_results.summary.convergence_status", "YES", true},
		{"step0.detailed_results.frames.1", 2.0, true},
		{"step0.detailed_results.frames.7", nil, false},
		{"step0.detailed_results.missing", nil, false},
		{"step0.output_file_path.deeper", nil, false},
		{"step1.output_file_path", nil, false},
		{"initial", nil, false},
	}

	for _, tt := range tests {
		got, ok := c.Lookup(tt.path)
		if ok != tt.found {
			t.Errorf("Lookup(%q): expected found=%v, got %v", tt.path, tt.found, ok)
			continue
		}
		if ok && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Lookup(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestContextNeverOverwrites(t *testing.T) {
	c := NewContext(nil)
	if err := c.Merge("step0", map[string]any{"a": 1.0, "b": 2.0}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if err := c.Merge("step0", map[string]any{"c": 3.0, "a": 9.0}); err == nil {
		t.Fatal("Expected error merging an existing key")
	}

	if v, _ := c.Lookup("step0.a"); v != 1.0 {
		t.Errorf("Existing value was overwritten: %v", v)
	}
	if _, ok := c.Lookup("step0.c"); ok {
		t.Error("A failed merge must not add any keys")
	}
}

func TestContextKeysInsertionOrder(t *testing.T) {
	c := NewContext(map[string]any{"query": "q", "file_path": "f"})
	_ = c.Merge("step0", map[string]any{"z": 1, "a": 2})

	want := []string{"initial.file_path", "initial.query", "step0.a", "step0.z"}
	if got := c.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if c.Len() != 4 {
		t.Errorf("Len() = %d, want 4", c.Len())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewContext(map[string]any{"nested": map[string]any{"k": "v"}})
	snap := c.Snapshot()
	snap["initial.nested"].(map[string]any)["k"] = "changed"

	if v, _ := c.Lookup("initial.nested.k"); v != "v" {
		t.Errorf("Snapshot mutation leaked into context: %v", v)
	}
}

func TestResolve(t *testing.T) {
	c := NewContext(map[string]any{"file_path": "/in/a.cif"})
	_ = c.Merge("step0", map[string]any{"output_file_path": "/tmp/a.xyz"})

	step := plan.Step{ToolName: "x", Input: map[string]any{
		"input_file_path": "$step0.output_file_path",
		"original":        "$initial.file_path",
		"fmax":            0.05,
		"label":           "$$literal",
	}}

	got, err := Resolve(1, step, c)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := map[string]any{
		"input_file_path": "/tmp/a.xyz",
		"original":        "/in/a.cif",
		"fmax":            0.05,
		"label":           "$literal",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve() = %v, want %v", got, want)
	}
	if step.Input["label"] != "$$literal" {
		t.Error("Resolve modified the step")
	}
}

func TestResolveUnresolvedReference(t *testing.T) {
	c := NewContext(map[string]any{"file_path": "/in/a.cif"})
	step := plan.Step{ToolName: "x", Input: map[string]any{
		"b": "$step3.output_file_path",
		"a": "$initial.nope",
	}}

	_, err := Resolve(2, step, c)
	var ure *UnresolvedReferenceError
	if !errors.As(err, &ure) {
		t.Fatalf("Expected UnresolvedReferenceError, got %v", err)
	}
	// Parameters are checked in name order
	if ure.StepIndex != 2 || ure.Param != "a" || ure.Path != "initial.nope" {
		t.Errorf("Unexpected error fields: %+v", ure)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	c := NewContext(map[string]any{"file_path": "/in/a.cif"})
	_ = c.Merge("step0", map[string]any{"res": map[string]any{"x": 1.0}})

	step := plan.Step{ToolName: "x", Input: map[string]any{"r": "$step0.res", "f": "$initial.file_path"}}

	first, err := Resolve(1, step, c)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// Mutating the first result must not affect the second
	first["r"].(map[string]any)["x"] = 99.0

	second, err := Resolve(1, step, c)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if second["r"].(map[string]any)["x"] != 1.0 {
		t.Errorf("Resolution is not repeatable: %v", second)
	}
	keysBefore := c.Len()
	_, _ = Resolve(1, step, c)
	if c.Len() != keysBefore {
		t.Error("Resolve changed the context")
	}
}
