package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_status (
		task_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		details TEXT,
		error TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_task_status_updated_at ON task_status(updated_at);

	CREATE TABLE IF NOT EXISTS plan_snapshots (
		task_id TEXT PRIMARY KEY,
		plan TEXT NOT NULL,
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS execution_logs (
		task_id TEXT PRIMARY KEY,
		log TEXT NOT NULL,
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
