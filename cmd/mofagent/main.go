// Command mofagent serves the MOF tool-calling agent and runs tasks locally.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/aristath/mofagent/internal/config"
	"github.com/aristath/mofagent/internal/logging"
	"github.com/aristath/mofagent/internal/persistence"
	"github.com/aristath/mofagent/internal/server"
	"github.com/aristath/mofagent/internal/task"
	"github.com/aristath/mofagent/internal/tools"
	"github.com/aristath/mofagent/internal/tui"
	"github.com/aristath/mofagent/internal/workspace"
)

// shutdownTimeout bounds how long running tasks may take to drain.
const shutdownTimeout = 30 * time.Second

// runContext is bound into every command's Run method.
type runContext struct {
	ctx         context.Context
	stdout      io.Writer
	stderr      io.Writer
	load        func() (*config.Config, error)
	interactive bool // stdin and stdout are a terminal
	ask         func(ctx context.Context, cfg *config.Config, a *setupAnswers) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("mofagent"),
		kong.Description("Plans and executes MOF simulation workflows through remote compute services."),
		kong.UsageOnError(),
	)

	err := kctx.Run(&runContext{
		ctx:         ctx,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		load:        config.LoadDefault,
		interactive: term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())),
		ask:         runSetupForm,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Run serves the API until interrupted.
func (c *ServeCmd) Run(rc *runContext) error {
	cfg, err := rc.load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	logOut := rc.stderr
	logFile := c.LogFile
	if logFile == "" && c.TUI {
		logFile = "mofagent.log"
	}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := logging.New(cfg.Logging, logOut)

	a, err := newApp(rc.ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:      cfg.Server.Addr,
		APIPrefix: cfg.Server.APIPrefix,
		Tools:     a.registry.Definitions(),
		Bus:       a.bus,
		Gatherer:  a.prom,
		Logger:    logger,
	}, a.manager)

	ctx, cancel := context.WithCancel(rc.ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if c.TUI {
		p := tea.NewProgram(tui.New(a.bus, cfg.Server.Addr), tea.WithAltScreen(), tea.WithContext(gctx))
		g.Go(func() error {
			_, err := p.Run()
			// Quitting the dashboard stops the server too.
			cancel()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	}

	runErr := g.Wait()
	logger.Info("shutting down, waiting for running tasks")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := a.close(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return runErr
}

// Run submits the files, waits for the task and prints its record.
func (c *RunCmd) Run(rc *runContext) error {
	if len(c.Files) == 0 {
		return fmt.Errorf("at least one input file is required")
	}

	cfg, err := rc.load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Logging, rc.stderr)

	a, err := newApp(rc.ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
	}()

	inputs := make([]task.InputFile, 0, len(c.Files))
	for _, path := range c.Files {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		inputs = append(inputs, task.InputFile{Name: filepath.Base(path), Content: f})
	}

	id, err := a.manager.Submit(rc.ctx, c.Query, inputs)
	if err != nil {
		return err
	}
	fmt.Fprintf(rc.stderr, "task %s submitted\n", id)

	rec, err := a.manager.Wait(rc.ctx, id)
	if err != nil {
		return err
	}
	if err := printJSON(rc.stdout, rec); err != nil {
		return err
	}
	if rec.Status != nil && rec.Status.State == persistence.StateFailed {
		return fmt.Errorf("task %s failed: %s", id, rec.Status.Error)
	}
	return nil
}

// Run prints the stored record for one task.
func (c *StatusCmd) Run(rc *runContext) error {
	cfg, err := rc.load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := openStore(rc.ctx, cfg, workspace.NewManager(workspace.Config{TasksDir: cfg.Workspace.TasksDir}))
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Load(rc.ctx, c.TaskID)
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("task %s not found", c.TaskID)
	}
	if err != nil {
		return err
	}
	return printJSON(rc.stdout, rec)
}

// Run prints the tool catalogue. It needs no running services.
func (c *ToolsCmd) Run(rc *runContext) error {
	cfg, err := rc.load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	registry, err := tools.NewDefaultRegistry(cfg.Services, tools.RetryPolicyFromConfig(cfg.Retry), logging.Nop())
	if err != nil {
		return err
	}

	defs := registry.Definitions()
	if c.JSON {
		return printJSON(rc.stdout, defs)
	}

	w := tabwriter.NewWriter(rc.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tPARAMETERS\tOUTPUTS")
	for _, d := range defs {
		params := make([]string, 0, len(d.Params))
		for _, p := range d.Params {
			name := p.Name
			if !p.Required {
				name += "?"
			}
			params = append(params, name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, strings.Join(params, ", "), strings.Join(d.Outputs, ", "))
	}
	return w.Flush()
}

// Run writes the default configuration.
func (c *ConfigInitCmd) Run(rc *runContext) error {
	if _, err := os.Stat(c.Path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", c.Path)
	}

	cfg := config.DefaultConfig()
	if rc.interactive && !c.NoInput && rc.ask != nil {
		answers := newSetupAnswers(cfg)
		if err := rc.ask(rc.ctx, cfg, answers); err != nil {
			return fmt.Errorf("config init: %w", err)
		}
		answers.apply(cfg)

		if key := strings.TrimSpace(answers.APIKey); key != "" {
			if err := saveAPIKey(c.EnvFile, cfg.Planner.Provider, key); err != nil {
				return err
			}
			fmt.Fprintf(rc.stdout, "stored %s_API_KEY in %s\n", cfg.Planner.Provider, c.EnvFile)
		}
	}

	if err := config.Save(cfg, c.Path); err != nil {
		return err
	}
	fmt.Fprintf(rc.stdout, "wrote %s\n", c.Path)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
