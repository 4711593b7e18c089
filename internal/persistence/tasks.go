package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/mofagent/internal/engine"
)

// timeLayout has fixed-width fractions so updated_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SaveStatus upserts the status row for taskID.
func (s *SQLiteStore) SaveStatus(ctx context.Context, taskID string, status Status) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_status (task_id, state, details, error, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			state = excluded.state,
			details = excluded.details,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, taskID, string(status.State), status.Details, status.Error, status.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to upsert status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SavePlan upserts the plan snapshot for taskID.
func (s *SQLiteStore) SavePlan(ctx context.Context, taskID string, plan json.RawMessage) error {
	data, err := planSnapshot(plan)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plan_snapshots (task_id, plan, saved_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(task_id) DO UPDATE SET
			plan = excluded.plan,
			saved_at = CURRENT_TIMESTAMP
	`, taskID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// SaveLog stores the execution log for taskID.
func (s *SQLiteStore) SaveLog(ctx context.Context, taskID string, log *engine.ExecutionLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to encode execution log: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (task_id, log, saved_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(task_id) DO UPDATE SET
			log = excluded.log,
			saved_at = CURRENT_TIMESTAMP
	`, taskID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save execution log: %w", err)
	}
	return nil
}

// Load retrieves the status, plan snapshot and execution log for taskID.
// A task with no status row is unknown.
func (s *SQLiteStore) Load(ctx context.Context, taskID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		st        Status
		state     string
		details   sql.NullString
		errStr    sql.NullString
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, state, details, error, updated_at
		FROM task_status
		WHERE task_id = ?
	`, taskID).Scan(&st.TaskID, &state, &details, &errStr, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query status: %w", err)
	}
	st.State = State(state)
	st.Details = details.String
	st.Error = errStr.String
	st.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)

	rec := &Record{Status: &st}

	var plan string
	err = s.db.QueryRowContext(ctx, `SELECT plan FROM plan_snapshots WHERE task_id = ?`, taskID).Scan(&plan)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("failed to query plan: %w", err)
	default:
		rec.Plan = decodePlan([]byte(plan))
	}

	var log string
	err = s.db.QueryRowContext(ctx, `SELECT log FROM execution_logs WHERE task_id = ?`, taskID).Scan(&log)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("failed to query execution log: %w", err)
	default:
		rec.Log = decodeLog([]byte(log))
	}

	return rec, nil
}

// List returns all task statuses ordered by last update.
func (s *SQLiteStore) List(ctx context.Context) ([]Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, state, details, error, updated_at
		FROM task_status
		ORDER BY updated_at, task_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	defer rows.Close()

	var statuses []Status
	for rows.Next() {
		var (
			st        Status
			state     string
			details   sql.NullString
			errStr    sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&st.TaskID, &state, &details, &errStr, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		st.State = State(state)
		st.Details = details.String
		st.Error = errStr.String
		st.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

// planSnapshot returns plan as stored. Planner output that is not valid
// JSON is kept verbatim inside a JSON string.
func planSnapshot(plan json.RawMessage) ([]byte, error) {
	if json.Valid(plan) {
		return plan, nil
	}
	data, err := json.Marshal(string(plan))
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	return data, nil
}

// decodePlan returns raw when it is valid JSON, nil otherwise.
func decodePlan(raw []byte) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return json.RawMessage(raw)
}

// decodeLog returns the decoded log, or nil when raw is not a log.
func decodeLog(raw []byte) *engine.ExecutionLog {
	var log engine.ExecutionLog
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil
	}
	return &log
}
