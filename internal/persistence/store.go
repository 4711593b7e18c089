package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/mofagent/internal/engine"
)

// Store defines the persistence interface for task status, plan snapshots
// and execution logs.
type Store interface {
	// Status is last-write-wins; callers enforce lifecycle ordering.
	SaveStatus(ctx context.Context, taskID string, status Status) error
	// SavePlan stores the planner snapshot, valid or not.
	SavePlan(ctx context.Context, taskID string, plan json.RawMessage) error
	SaveLog(ctx context.Context, taskID string, log *engine.ExecutionLog) error

	// Load returns ErrNotFound for unknown tasks.
	Load(ctx context.Context, taskID string) (*Record, error)
	// List returns every known status, oldest update first.
	List(ctx context.Context) ([]Status, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex // SQLite has a single writer; shared-cache memory DBs fail instead of waiting
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return openStore(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each call
// gets its own named database; the shared cache lets the pool's
// connections see the same one.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:mem-%s?mode=memory&cache=shared", uuid.NewString())
	return openStore(ctx, connStr)
}

func openStore(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer plus one reader; status polls must not queue behind a log write
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
