package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"

	"github.com/aristath/mofagent/internal/config"
	"github.com/aristath/mofagent/internal/persistence"
	"github.com/aristath/mofagent/internal/workspace"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("mofagent"))
	if err != nil {
		t.Fatal(err)
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return &cli, kctx
}

// testRunContext returns a run context whose config keeps all state in dir.
func testRunContext(t *testing.T, dir string) (*runContext, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return &runContext{
		ctx:    context.Background(),
		stdout: &out,
		stderr: &bytes.Buffer{},
		load: func() (*config.Config, error) {
			cfg := config.DefaultConfig()
			cfg.Workspace.TasksDir = filepath.Join(dir, "tasks")
			cfg.Store.SQLitePath = filepath.Join(dir, "mofagent.db")
			return cfg, nil
		},
	}, &out
}

func TestParseCommands(t *testing.T) {
	cli, kctx := parse(t, "serve", "--tui", "--addr", ":9000")
	if kctx.Command() != "serve" || !cli.Serve.TUI || cli.Serve.Addr != ":9000" {
		t.Errorf("Unexpected serve parse: %s %+v", kctx.Command(), cli.Serve)
	}

	cli, kctx = parse(t, "status", "abc")
	if kctx.Command() != "status <task-id>" || cli.Status.TaskID != "abc" {
		t.Errorf("Unexpected status parse: %s %+v", kctx.Command(), cli.Status)
	}

	cli, _ = parse(t, "config", "init")
	if cli.Config.Init.Path != ".mofagent/config.json" {
		t.Errorf("Expected default config path, got %q", cli.Config.Init.Path)
	}
}

func TestParseRunRequiresQuery(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mof.cif")
	os.WriteFile(file, []byte("data"), 0644)

	cli, _ := parse(t, "run", "-q", "optimize", file)
	if cli.Run.Query != "optimize" || len(cli.Run.Files) != 1 {
		t.Errorf("Unexpected run parse: %+v", cli.Run)
	}

	var bare CLI
	parser, _ := kong.New(&bare)
	if _, err := parser.Parse([]string{"run", file}); err == nil {
		t.Error("Expected error without --query")
	}
	if _, err := parser.Parse([]string{"run", "-q", "x", filepath.Join(dir, "missing.cif")}); err == nil {
		t.Error("Expected error for a missing input file")
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "config.json")
	rc, out := testRunContext(t, dir)

	cmd := &ConfigInitCmd{Path: path}
	if err := cmd.Run(rc); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("Expected path in output, got %q", out.String())
	}

	cfg, err := config.Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":8000" {
		t.Errorf("Expected default addr, got %q", cfg.Server.Addr)
	}

	if err := cmd.Run(rc); err == nil {
		t.Error("Expected error when the file exists")
	}
	cmd.Force = true
	if err := cmd.Run(rc); err != nil {
		t.Errorf("Expected --force to overwrite, got %v", err)
	}
}

func TestToolsCommand(t *testing.T) {
	rc, out := testRunContext(t, t.TempDir())

	if err := (&ToolsCmd{}).Run(rc); err != nil {
		t.Fatalf("tools failed: %v", err)
	}
	if !strings.Contains(out.String(), "optimize_structure_with_mace") || !strings.Contains(out.String(), "fmax?") {
		t.Errorf("Unexpected table output:\n%s", out.String())
	}

	out.Reset()
	if err := (&ToolsCmd{JSON: true}).Run(rc); err != nil {
		t.Fatalf("tools --json failed: %v", err)
	}
	var defs []map[string]any
	if err := json.Unmarshal(out.Bytes(), &defs); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if len(defs) != 9 {
		t.Errorf("Expected 9 tools, got %d", len(defs))
	}
}

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()
	rc, out := testRunContext(t, dir)

	ws := workspace.NewManager(workspace.Config{TasksDir: filepath.Join(dir, "tasks")})
	if _, err := ws.Create("task-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	store := persistence.NewFileStore(ws)
	err := store.SaveStatus(context.Background(), "task-1", persistence.Status{
		TaskID:    "task-1",
		State:     persistence.StateCompleted,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveStatus failed: %v", err)
	}

	if err := (&StatusCmd{TaskID: "task-1"}).Run(rc); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out.String(), `"status": "completed"`) {
		t.Errorf("Unexpected status output:\n%s", out.String())
	}

	if err := (&StatusCmd{TaskID: "nope"}).Run(rc); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "redis"
	if _, err := openStore(context.Background(), cfg, workspace.NewManager(workspace.Config{})); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestNewAppWiresSQLiteStore(t *testing.T) {
	dir := t.TempDir()
	rc, _ := testRunContext(t, dir)
	cfg, _ := rc.load()
	cfg.Store.Backend = "sqlite"

	a, err := newApp(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	if _, ok := a.store.(*persistence.SQLiteStore); !ok {
		t.Errorf("Expected SQLite store, got %T", a.store)
	}
	if err := a.close(context.Background()); err != nil {
		t.Errorf("close failed: %v", err)
	}
}
