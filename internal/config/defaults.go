package config

import "runtime"

// Service names used as keys in Config.Services.
const (
	ServiceConverter = "converter"
	ServiceMaceOpt   = "maceopt"
	ServiceXTB       = "xtb"
	ServiceDFTB      = "dftb"
	ServiceZeo       = "zeo"
)

// Default timeouts per service, in seconds. Optimisations are slow, format conversion is not.
var defaultServiceTimeouts = map[string]int{
	ServiceConverter: 60,
	ServiceMaceOpt:   600,
	ServiceXTB:       600,
	ServiceDFTB:      600,
	ServiceZeo:       300,
}

// DefaultConfig returns the default configuration with the built-in planning
// providers and compute services pointed at localhost.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8000",
			APIPrefix: "/api/v1",
		},
		Workspace: WorkspaceConfig{
			TasksDir: "workspace/tasks",
		},
		Store: StoreConfig{
			Backend:    "file",
			SQLitePath: "workspace/mofagent.db",
		},
		Planner: PlannerConfig{
			Provider: "DEEPSEEK_CHAT",
			Providers: map[string]ProviderConfig{
				"DEEPSEEK_CHAT": {
					BaseURL: "https://api.deepseek.com",
					Model:   "deepseek-chat",
				},
				"DEEPSEEK_REASONER": {
					BaseURL: "https://api.deepseek.com",
					Model:   "deepseek-reasoner",
				},
				"CHATGPT": {
					BaseURL: "https://api.openai.com/v1",
					Model:   "gpt-4o",
				},
				"CLAUDE": {
					BaseURL: "https://api.anthropic.com/v1",
					Model:   "claude-sonnet-4-5",
				},
				"GEMINI": {
					BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
					Model:   "gemini-2.5-flash",
				},
			},
			TimeoutSeconds: 120,
		},
		Services: map[string]ServiceConfig{
			ServiceConverter: {BaseURL: "http://localhost:8004", TimeoutSeconds: defaultServiceTimeouts[ServiceConverter]},
			ServiceMaceOpt:   {BaseURL: "http://localhost:8002", TimeoutSeconds: defaultServiceTimeouts[ServiceMaceOpt]},
			ServiceXTB:       {BaseURL: "http://localhost:8003", TimeoutSeconds: defaultServiceTimeouts[ServiceXTB]},
			ServiceDFTB:      {BaseURL: "http://localhost:8005", TimeoutSeconds: defaultServiceTimeouts[ServiceDFTB]},
			ServiceZeo:       {BaseURL: "http://localhost:8001", TimeoutSeconds: defaultServiceTimeouts[ServiceZeo]},
		},
		Execution: ExecutionConfig{
			MaxConcurrentTasks: 0,
		},
		Retry: RetryConfig{
			InitialIntervalMS:   100,
			MaxIntervalMS:       10000,
			MaxElapsedSeconds:   120,
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConcurrencyLimit returns the task pool size, falling back to the host's
// usable CPU count when the configured value is not positive.
func (c *Config) ConcurrencyLimit() int {
	if c.Execution.MaxConcurrentTasks > 0 {
		return c.Execution.MaxConcurrentTasks
	}
	return runtime.GOMAXPROCS(0)
}

// fillDefaults restores zero values that a partial config file may have introduced.
func (c *Config) fillDefaults() {
	for name, svc := range c.Services {
		if svc.TimeoutSeconds <= 0 {
			svc.TimeoutSeconds = defaultServiceTimeouts[name]
			if svc.TimeoutSeconds == 0 {
				svc.TimeoutSeconds = 300
			}
			c.Services[name] = svc
		}
	}
	if c.Planner.TimeoutSeconds <= 0 {
		c.Planner.TimeoutSeconds = 120
	}
	if c.Server.APIPrefix == "" {
		c.Server.APIPrefix = "/api/v1"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
}
