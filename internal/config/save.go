package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save persists the configuration to a JSON file.
// Creates parent directories if they don't exist. API keys are never written;
// they belong in the environment.
func Save(cfg *Config, path string) error {
	out := *cfg
	out.Planner.Providers = make(map[string]ProviderConfig, len(cfg.Planner.Providers))
	for name, p := range cfg.Planner.Providers {
		p.APIKey = ""
		out.Planner.Providers[name] = p
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
