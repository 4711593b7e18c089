package tools

import (
	"context"
	"errors"
	"os"
	"testing"
)

type testWorkspace struct{ root string }

func (w testWorkspace) Root() string { return w.root }
func (w testWorkspace) TempDir(prefix string) (string, error) {
	return os.MkdirTemp(w.root, prefix)
}

type stubTool struct{ def Definition }

func (s *stubTool) Definition() Definition                         { return s.def }
func (s *stubTool) Validate(in map[string]any) (Input, error)      { return s.def.Validate(in) }
func (s *stubTool) Execute(ctx context.Context, in Input) Outcome { return Success(map[string]any(in)) }

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	def := Definition{Name: "stub"}

	var boundTo []string
	err := r.Register(def, func(ws Workspace) (Tool, error) {
		boundTo = append(boundTo, ws.Root())
		return &stubTool{def: def}, nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	a, err := r.Resolve("stub", testWorkspace{"/ws/a"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	b, err := r.Resolve("stub", testWorkspace{"/ws/b"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if a == b {
		t.Error("Each Resolve must build a new handle")
	}
	if len(boundTo) != 2 || boundTo[0] != "/ws/a" || boundTo[1] != "/ws/b" {
		t.Errorf("Handles not bound to their workspaces: %v", boundTo)
	}
	if !r.Has("stub") || r.Has("other") {
		t.Error("Has() returned wrong result")
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("nope", testWorkspace{t.TempDir()})

	var ute *UnknownToolError
	if !errors.As(err, &ute) {
		t.Fatalf("Expected UnknownToolError, got %v", err)
	}
	if ute.Name != "nope" {
		t.Errorf("Expected name 'nope', got %q", ute.Name)
	}
}

func TestRegistryRejectsDuplicatesAndBadInput(t *testing.T) {
	r := NewRegistry()
	f := func(ws Workspace) (Tool, error) { return &stubTool{}, nil }

	if err := r.Register(Definition{Name: "x"}, f); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(Definition{Name: "x"}, f); err == nil {
		t.Error("Expected duplicate registration error")
	}
	if err := r.Register(Definition{}, f); err == nil {
		t.Error("Expected error for unnamed tool")
	}
	if err := r.Register(Definition{Name: "y"}, nil); err == nil {
		t.Error("Expected error for nil factory")
	}
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Definition{Name: "broken"}, func(ws Workspace) (Tool, error) {
		return nil, errors.New("no base URL")
	})

	_, err := r.Resolve("broken", testWorkspace{t.TempDir()})
	if err == nil {
		t.Fatal("Expected factory error")
	}
	var ute *UnknownToolError
	if errors.As(err, &ute) {
		t.Error("Factory error must not look like an unknown tool")
	}
}

func TestDefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	f := func(ws Workspace) (Tool, error) { return &stubTool{}, nil }
	for _, n := range []string{"c", "a", "b"} {
		_ = r.Register(Definition{Name: n}, f)
	}

	defs := r.Definitions()
	if len(defs) != 3 || defs[0].Name != "a" || defs[2].Name != "c" {
		t.Errorf("Unexpected definitions order: %+v", defs)
	}
}

func TestDefinitionValidate(t *testing.T) {
	def := Definition{
		Name: "t",
		Params: []Param{
			{Name: "path", Type: TypeString, Required: true},
			{Name: "fmax", Type: TypeNumber, Default: 0.1},
			{Name: "samples", Type: TypeInteger},
			{Name: "ha", Type: TypeBoolean, Default: true},
			{Name: "method", Type: TypeString, Enum: []string{"GFN1-xTB", "GFN2-xTB"}},
		},
	}

	tests := []struct {
		name      string
		input     map[string]any
		expectErr bool
		check     func(t *testing.T, in Input)
	}{
		{
			name:  "defaults applied",
			input: map[string]any{"path": "/a.cif"},
			check: func(t *testing.T, in Input) {
				if in.Float("fmax") != 0.1 || !in.Bool("ha") {
					t.Errorf("Defaults not applied: %v", in)
				}
				if _, ok := in["samples"]; ok {
					t.Error("Optional parameter without default should stay absent")
				}
			},
		},
		{
			name:  "coercion from strings",
			input: map[string]any{"path": "/a.cif", "fmax": "0.05", "samples": "5000", "ha": "false"},
			check: func(t *testing.T, in Input) {
				if in.Float("fmax") != 0.05 || in.Int("samples") != 5000 || in.Bool("ha") {
					t.Errorf("Unexpected coercion result: %v", in)
				}
			},
		},
		{
			name:  "unknown parameters dropped",
			input: map[string]any{"path": "/a.cif", "extra": 1},
			check: func(t *testing.T, in Input) {
				if _, ok := in["extra"]; ok {
					t.Error("Unknown parameter should be dropped")
				}
			},
		},
		{name: "missing required", input: map[string]any{"fmax": 0.1}, expectErr: true},
		{name: "bad number", input: map[string]any{"path": "/a", "fmax": "fast"}, expectErr: true},
		{name: "fractional integer", input: map[string]any{"path": "/a", "samples": 1.5}, expectErr: true},
		{name: "integer overflow", input: map[string]any{"path": "/a", "samples": 1e300}, expectErr: true},
		{name: "integer underflow", input: map[string]any{"path": "/a", "samples": "-1e19"}, expectErr: true},
		{name: "infinite integer", input: map[string]any{"path": "/a", "samples": "Inf"}, expectErr: true},
		{name: "enum violation", input: map[string]any{"path": "/a", "method": "GFN3"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := def.Validate(tt.input)
			if tt.expectErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			tt.check(t, in)
		})
	}
}

func TestOutcomeFromMap(t *testing.T) {
	ok := OutcomeFromMap(map[string]any{"status": "success", "output_file_path": "/x"})
	if !ok.OK() || ok.Data["output_file_path"] != "/x" {
		t.Errorf("Unexpected success outcome: %+v", ok)
	}
	if _, has := ok.Data["status"]; has {
		t.Error("status must not be merged into data")
	}

	failed := OutcomeFromMap(map[string]any{"status": "failed", "error": "boom"})
	if failed.OK() || failed.Message != "boom" {
		t.Errorf("Unexpected failed outcome: %+v", failed)
	}

	odd := OutcomeFromMap(map[string]any{"status": "pending"})
	if odd.OK() || odd.Message == "" {
		t.Errorf("Non-success status must fail with a message: %+v", odd)
	}
}
