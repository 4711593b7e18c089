package main

// CLI defines the command-line interface.
type CLI struct {
	Serve  ServeCmd  `cmd:"" help:"Run the HTTP API and task workers"`
	Run    RunCmd    `cmd:"" help:"Run one task in-process and print its record"`
	Status StatusCmd `cmd:"" help:"Show a stored task's status, plan and log"`
	Tools  ToolsCmd  `cmd:"" help:"List the tools the planner may use"`
	Config ConfigCmd `cmd:"" help:"Manage configuration files"`
}

// ServeCmd starts the server.
type ServeCmd struct {
	Addr    string `help:"Listen address (overrides config)"`
	TUI     bool   `name:"tui" help:"Show the terminal dashboard"`
	LogFile string `type:"path" help:"Write logs to this file instead of stderr (default with --tui: mofagent.log)"`
}

// RunCmd submits a query with local files and waits for the result.
type RunCmd struct {
	Query string   `short:"q" required:"" help:"Natural-language request"`
	Files []string `arg:"" type:"existingfile" help:"Input structure files"`
}

// StatusCmd prints a task record.
type StatusCmd struct {
	TaskID string `arg:"" help:"Task id"`
}

// ToolsCmd prints the tool catalogue.
type ToolsCmd struct {
	JSON bool `help:"Print the full definitions as JSON"`
}

// ConfigCmd groups configuration subcommands.
type ConfigCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Write a configuration file, asking for the essentials on a terminal"`
}

// ConfigInitCmd writes a configuration file.
type ConfigInitCmd struct {
	Path    string `default:".mofagent/config.json" help:"Destination path"`
	EnvFile string `default:".env" help:"Where an entered API key is stored"`
	Force   bool   `help:"Overwrite an existing file"`
	NoInput bool   `help:"Write defaults without asking"`
}
