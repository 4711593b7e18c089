package workspace

import "errors"

// Directory names inside a task workspace.
const (
	InputDir = "input"
	TempDir  = "temp_files"
)

var (
	// ErrInvalidTaskID is returned for ids that are empty or would escape
	// the tasks directory.
	ErrInvalidTaskID = errors.New("invalid task id")

	// ErrExists is returned when creating a workspace that already exists.
	ErrExists = errors.New("workspace already exists")
)

// Config configures the workspace manager
type Config struct {
	TasksDir string // Directory holding one subdirectory per task (default "workspace/tasks")
}
