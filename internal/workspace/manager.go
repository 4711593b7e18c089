package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Manager creates and locates per-task workspaces under one tasks directory.
type Manager struct {
	config Config
	mu     sync.Mutex // Serializes Create so two submissions cannot claim one id
}

// NewManager creates a new workspace manager
func NewManager(cfg Config) *Manager {
	if cfg.TasksDir == "" {
		cfg.TasksDir = filepath.Join("workspace", "tasks")
	}
	return &Manager{config: cfg}
}

// TasksDir returns the directory holding all task workspaces.
func (m *Manager) TasksDir() string { return m.config.TasksDir }

// Path returns the workspace directory for taskID without touching disk.
func (m *Manager) Path(taskID string) (string, error) {
	if err := checkID(taskID); err != nil {
		return "", err
	}
	return filepath.Join(m.config.TasksDir, taskID), nil
}

// Exists reports whether a workspace directory exists for taskID.
func (m *Manager) Exists(taskID string) bool {
	p, err := m.Path(taskID)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// Create makes <tasks_dir>/<id>/ with its input and temp_files subdirectories.
func (m *Manager) Create(taskID string) (*Workspace, error) {
	p, err := m.Path(taskID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(p); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, taskID)
	}

	for _, dir := range []string{p, filepath.Join(p, InputDir), filepath.Join(p, TempDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	}

	return open(taskID, p)
}

// Open returns the existing workspace for taskID.
func (m *Manager) Open(taskID string) (*Workspace, error) {
	p, err := m.Path(taskID)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", p)
	}
	return open(taskID, p)
}

// Remove deletes the workspace for taskID and everything in it.
func (m *Manager) Remove(taskID string) error {
	p, err := m.Path(taskID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}

func open(taskID, p string) (*Workspace, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, err
	}
	return &Workspace{TaskID: taskID, root: abs}, nil
}

func checkID(taskID string) error {
	if taskID == "" || taskID == "." || taskID == ".." ||
		strings.ContainsAny(taskID, `/\`) || filepath.Base(taskID) != taskID {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID)
	}
	return nil
}

// Workspace is one task's private directory tree. It satisfies
// tools.Workspace so adapters can be bound to it.
type Workspace struct {
	TaskID string
	root   string
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string { return w.root }

// InputDir returns the directory holding uploaded inputs.
func (w *Workspace) InputDir() string { return filepath.Join(w.root, InputDir) }

// TempDir creates a fresh scratch directory under temp_files. Every call
// returns a new directory, so two tool handles never share output paths.
func (w *Workspace) TempDir(prefix string) (string, error) {
	dir := filepath.Join(w.root, TempDir, prefix+uuid.NewString()[:8])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	return dir, nil
}

// SaveInput copies r into input/ under the base of name and returns the
// absolute path written. Directory components in name are discarded.
func (w *Workspace) SaveInput(name string, r io.Reader) (string, error) {
	base := sanitizeName(name)
	if base == "" {
		return "", fmt.Errorf("invalid input file name %q", name)
	}

	target := filepath.Join(w.InputDir(), base)
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to save input: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to save input: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to save input: %w", err)
	}
	return target, nil
}

// sanitizeName keeps only the final path element, whichever separator the
// client used.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}
