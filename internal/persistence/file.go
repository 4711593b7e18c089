package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aristath/mofagent/internal/engine"
	"github.com/aristath/mofagent/internal/workspace"
)

// Artifact file names inside a task workspace.
const (
	StatusFile = "_status.json"
	PlanFile   = "_llm_plan.json"
	LogFile    = "_execution_log.json"
)

// FileStore keeps each task's records as JSON files in its workspace. Every
// write goes to a temp file that is synced and renamed into place, so a
// reader sees either the previous record or the new one.
type FileStore struct {
	workspaces *workspace.Manager
	locks      *keyedMutex
}

// NewFileStore creates a store over the workspaces managed by m.
func NewFileStore(m *workspace.Manager) *FileStore {
	return &FileStore{workspaces: m, locks: newKeyedMutex()}
}

// SaveStatus writes _status.json.
func (s *FileStore) SaveStatus(ctx context.Context, taskID string, status Status) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}
	status.TaskID = taskID
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	return s.write(ctx, taskID, StatusFile, data)
}

// SavePlan writes _llm_plan.json. Raw that is not valid JSON is wrapped
// in a JSON string so the snapshot is always readable.
func (s *FileStore) SavePlan(ctx context.Context, taskID string, plan json.RawMessage) error {
	data, err := planSnapshot(plan)
	if err != nil {
		return err
	}
	return s.write(ctx, taskID, PlanFile, data)
}

// SaveLog writes _execution_log.json.
func (s *FileStore) SaveLog(ctx context.Context, taskID string, log *engine.ExecutionLog) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode execution log: %w", err)
	}
	return s.write(ctx, taskID, LogFile, data)
}

// Load reads whatever artifacts exist for taskID. The task is unknown when
// its workspace does not exist.
func (s *FileStore) Load(ctx context.Context, taskID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.workspaces.Path(taskID)
	if err != nil || !s.workspaces.Exists(taskID) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}

	s.locks.Lock(taskID)
	defer s.locks.Unlock(taskID)

	rec := &Record{}
	if data, err := os.ReadFile(filepath.Join(dir, StatusFile)); err == nil {
		var st Status
		if json.Unmarshal(data, &st) == nil {
			rec.Status = &st
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, PlanFile)); err == nil {
		rec.Plan = decodePlan(data)
	}
	if data, err := os.ReadFile(filepath.Join(dir, LogFile)); err == nil {
		rec.Log = decodeLog(data)
	}
	return rec, nil
}

// List scans the tasks directory for status files.
func (s *FileStore) List(ctx context.Context) ([]Status, error) {
	entries, err := os.ReadDir(s.workspaces.TasksDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	var statuses []Status
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := s.Load(ctx, e.Name())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if rec.Status != nil {
			statuses = append(statuses, *rec.Status)
		}
	}

	sort.Slice(statuses, func(i, j int) bool {
		if !statuses[i].UpdatedAt.Equal(statuses[j].UpdatedAt) {
			return statuses[i].UpdatedAt.Before(statuses[j].UpdatedAt)
		}
		return statuses[i].TaskID < statuses[j].TaskID
	})
	return statuses, nil
}

// Close is a no-op; FileStore holds no open handles.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) write(ctx context.Context, taskID, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.workspaces.Path(taskID)
	if err != nil {
		return err
	}

	s.locks.Lock(taskID)
	defer s.locks.Unlock(taskID)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, name), data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// writeAtomic replaces path with data via a synced temp file and rename.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
