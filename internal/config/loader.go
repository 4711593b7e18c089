package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	cfg.fillDefaults()
	return cfg, nil
}

// DefaultPaths returns the conventional global and project config paths.
// Global: ~/.mofagent/config.json
// Project: .mofagent/config.json (relative to cwd)
func DefaultPaths() (global, project string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".mofagent", "config.json"), filepath.Join(".mofagent", "config.json"), nil
}

// LoadDefault loads configuration from the conventional paths, then a .env
// file in the working directory (if any), then the process environment.
func LoadDefault() (*Config, error) {
	globalPath, projectPath, err := DefaultPaths()
	if err != nil {
		return nil, err
	}

	cfg, err := Load(globalPath, projectPath)
	if err != nil {
		return nil, err
	}

	// A missing .env is the normal case in production.
	_ = godotenv.Load()

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides configuration values from environment variables.
// lookup has the signature of os.LookupEnv so tests can supply a map.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("LLM_PROVIDER"); ok && v != "" {
		cfg.Planner.Provider = v
	}

	for name, p := range cfg.Planner.Providers {
		if v, ok := lookup(name + "_API_KEY"); ok {
			p.APIKey = v
		}
		if v, ok := lookup(name + "_MODEL"); ok && v != "" {
			p.Model = v
		}
		if v, ok := lookup(name + "_BASE_URL"); ok && v != "" {
			p.BaseURL = v
		}
		cfg.Planner.Providers[name] = p
	}

	serviceEnv := map[string]string{
		ServiceConverter: "CONVERTER_API_BASE_URL",
		ServiceMaceOpt:   "MACEOPT_API_BASE_URL",
		ServiceXTB:       "XTB_API_BASE_URL",
		ServiceDFTB:      "DFTB_API_BASE_URL",
		ServiceZeo:       "ZEO_API_BASE_URL",
	}
	for name, key := range serviceEnv {
		if v, ok := lookup(key); ok && v != "" {
			svc := cfg.Services[name]
			svc.BaseURL = v
			if svc.TimeoutSeconds <= 0 {
				svc.TimeoutSeconds = defaultServiceTimeouts[name]
			}
			cfg.Services[name] = svc
		}
	}

	if v, ok := lookup("TASKS_DIR"); ok && v != "" {
		cfg.Workspace.TasksDir = v
	}
	if v, ok := lookup("MOFAGENT_ADDR"); ok && v != "" {
		cfg.Server.Addr = v
	}
	if v, ok := lookup("MOFAGENT_STORE"); ok && v != "" {
		cfg.Store.Backend = v
	}
	if v, ok := lookup("MOFAGENT_MAX_TASKS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing MOFAGENT_MAX_TASKS: %w", err)
		}
		cfg.Execution.MaxConcurrentTasks = n
	}

	return nil
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Sections present in the file replace the corresponding fields; map entries
// (providers, services) are replaced per key. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}
