package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joho/godotenv"

	"github.com/aristath/mofagent/internal/config"
)

func TestConfigInitInteractive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	envPath := filepath.Join(dir, ".env")
	os.WriteFile(envPath, []byte("OTHER=1\n"), 0600)

	rc, out := testRunContext(t, dir)
	rc.interactive = true
	rc.ask = func(ctx context.Context, cfg *config.Config, a *setupAnswers) error {
		a.Provider = "CHATGPT"
		a.APIKey = " sk-live "
		*a.Services[config.ServiceZeo] = "http://zeo.internal:9000"
		return nil
	}

	cmd := &ConfigInitCmd{Path: path, EnvFile: envPath}
	if err := cmd.Run(rc); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out.String(), "CHATGPT_API_KEY") {
		t.Errorf("Expected key notice in output, got %q", out.String())
	}

	cfg, err := config.Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Planner.Provider != "CHATGPT" {
		t.Errorf("Expected provider CHATGPT, got %q", cfg.Planner.Provider)
	}
	if cfg.Services[config.ServiceZeo].BaseURL != "http://zeo.internal:9000" {
		t.Errorf("Unexpected zeo URL: %q", cfg.Services[config.ServiceZeo].BaseURL)
	}
	if cfg.Services[config.ServiceXTB].BaseURL != "http://localhost:8003" {
		t.Errorf("Untouched service changed: %q", cfg.Services[config.ServiceXTB].BaseURL)
	}
	if cfg.Planner.Providers["CHATGPT"].APIKey != "" {
		t.Error("API key must not be written to the config file")
	}

	env, err := godotenv.Read(envPath)
	if err != nil {
		t.Fatalf("Reading env file failed: %v", err)
	}
	if env["CHATGPT_API_KEY"] != "sk-live" || env["OTHER"] != "1" {
		t.Errorf("Unexpected env file: %v", env)
	}
}

func TestConfigInitSkipsForm(t *testing.T) {
	tests := []struct {
		name        string
		interactive bool
		noInput     bool
	}{
		{name: "not a terminal", interactive: false},
		{name: "no input flag", interactive: true, noInput: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			rc, _ := testRunContext(t, dir)
			rc.interactive = tt.interactive
			rc.ask = func(ctx context.Context, cfg *config.Config, a *setupAnswers) error {
				t.Error("Form should not run")
				return nil
			}

			cmd := &ConfigInitCmd{Path: filepath.Join(dir, "config.json"), EnvFile: filepath.Join(dir, ".env"), NoInput: tt.noInput}
			if err := cmd.Run(rc); err != nil {
				t.Fatalf("config init failed: %v", err)
			}
			if _, err := os.Stat(filepath.Join(dir, ".env")); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("No env file expected, got %v", err)
			}
		})
	}
}

func TestConfigInitAborted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	rc, _ := testRunContext(t, dir)
	rc.interactive = true
	rc.ask = func(ctx context.Context, cfg *config.Config, a *setupAnswers) error {
		return errors.New("user aborted")
	}

	cmd := &ConfigInitCmd{Path: path, EnvFile: filepath.Join(dir, ".env")}
	if err := cmd.Run(rc); err == nil {
		t.Fatal("Expected error when the form is aborted")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Aborted init must not write a config, got %v", err)
	}
}

func TestSetupAnswersDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	a := newSetupAnswers(cfg)

	if a.Provider != cfg.Planner.Provider {
		t.Errorf("Expected provider %q, got %q", cfg.Planner.Provider, a.Provider)
	}
	for _, name := range serviceOrder {
		if *a.Services[name] != cfg.Services[name].BaseURL {
			t.Errorf("Service %s: expected %q, got %q", name, cfg.Services[name].BaseURL, *a.Services[name])
		}
	}

	// Cleared answers keep the defaults.
	*a.Services[config.ServiceDFTB] = "  "
	a.Provider = ""
	a.apply(cfg)
	if cfg.Services[config.ServiceDFTB].BaseURL != "http://localhost:8005" || cfg.Planner.Provider != "DEEPSEEK_CHAT" {
		t.Errorf("Blank answers changed the config: %+v", cfg.Planner)
	}

	if setupForm(cfg, a) == nil {
		t.Error("Expected a form")
	}
}

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"http://localhost:8001", false},
		{"https://zeo.example.org/api", false},
		{"localhost:8001", true},
		{"ftp://host", true},
		{"http://", true},
	}
	for _, tt := range tests {
		if err := validateBaseURL(tt.in); (err != nil) != tt.wantErr {
			t.Errorf("validateBaseURL(%q): expected error=%v, got %v", tt.in, tt.wantErr, err)
		}
	}
}

func TestSaveAPIKeyCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := saveAPIKey(path, "GEMINI", "g-key"); err != nil {
		t.Fatalf("saveAPIKey failed: %v", err)
	}
	env, err := godotenv.Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if env["GEMINI_API_KEY"] != "g-key" {
		t.Errorf("Unexpected env: %v", env)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600, got %v", info.Mode().Perm())
	}
}
