package config

// ServerConfig configures the HTTP front door.
type ServerConfig struct {
	Addr      string `json:"addr"`       // Listen address (e.g., ":8000")
	APIPrefix string `json:"api_prefix"` // Route prefix for the agent API (e.g., "/api/v1")
}

// WorkspaceConfig configures where per-task directories live.
type WorkspaceConfig struct {
	TasksDir string `json:"tasks_dir"`
}

// StoreConfig selects the status/plan/log persistence backend.
type StoreConfig struct {
	Backend    string `json:"backend"`               // "file" or "sqlite"
	SQLitePath string `json:"sqlite_path,omitempty"` // Used when Backend is "sqlite"
}

// ProviderConfig describes one OpenAI-compatible chat endpoint used for planning.
type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key,omitempty"` // Normally supplied through <PROVIDER>_API_KEY
}

// PlannerConfig selects and configures the planning provider.
type PlannerConfig struct {
	Provider       string                    `json:"provider"` // Key into Providers
	Providers      map[string]ProviderConfig `json:"providers"`
	TimeoutSeconds int                       `json:"timeout_seconds"`
}

// ServiceConfig points a tool adapter at its remote compute service.
type ServiceConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ExecutionConfig bounds how many task bodies run at once.
type ExecutionConfig struct {
	MaxConcurrentTasks int `json:"max_concurrent_tasks"` // 0 means size from the host
}

// RetryConfig configures exponential backoff for compute-service calls.
type RetryConfig struct {
	InitialIntervalMS   int     `json:"initial_interval_ms"`
	MaxIntervalMS       int     `json:"max_interval_ms"`
	MaxElapsedSeconds   int     `json:"max_elapsed_seconds"`
	Multiplier          float64 `json:"multiplier"`
	RandomizationFactor float64 `json:"randomization_factor"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig             `json:"server"`
	Workspace WorkspaceConfig          `json:"workspace"`
	Store     StoreConfig              `json:"store"`
	Planner   PlannerConfig            `json:"planner"`
	Services  map[string]ServiceConfig `json:"services"` // Keyed by service name (converter, maceopt, xtb, dftb, zeo)
	Execution ExecutionConfig          `json:"execution"`
	Retry     RetryConfig              `json:"retry"`
	Logging   LoggingConfig            `json:"logging"`
}

// ActiveProvider returns the configuration of the selected planning provider.
func (c *Config) ActiveProvider() (ProviderConfig, bool) {
	p, ok := c.Planner.Providers[c.Planner.Provider]
	return p, ok
}
