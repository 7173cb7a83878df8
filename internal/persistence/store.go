// Package persistence keeps a SQLite history of runs: task snapshots on
// every transition and an audit row for every tool call.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/taskforge/internal/scheduler"
)

// Run summarizes one recorded run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // Zero while the run is in progress
	Done       int
	Failed     int
	Duration   time.Duration
}

// Finished reports whether the run recorded its end.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Transition is one recorded task state change.
type Transition struct {
	Event  string // Event type, e.g. "task.failed"
	Status scheduler.TaskStatus
	Detail string
	At     time.Time
}

// ToolCall is the audit record of one tool invocation.
type ToolCall struct {
	TaskIndex  int
	Tool       string
	AgentType  string
	Permission string
	OK         bool
	Kind       string
	Error      string
	Duration   time.Duration
	At         time.Time
}

// Store defines the persistence interface for run history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, runID string, startedAt time.Time) error
	FinishRun(ctx context.Context, runID string, done, failed int, duration time.Duration) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Task snapshots
	SaveTask(ctx context.Context, runID string, task *scheduler.Task) error
	ListTasks(ctx context.Context, runID string) ([]*scheduler.Task, error)
	RecordTransition(ctx context.Context, runID string, index int, t Transition) error
	Transitions(ctx context.Context, runID string, index int) ([]Transition, error)

	// Tool audit
	RecordToolCall(ctx context.Context, runID string, call ToolCall) error
	ToolCalls(ctx context.Context, runID string) ([]ToolCall, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Each store gets its own named database, shared by its connections only.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writes from concurrent event handlers.
	db.SetMaxOpenConns(1)

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

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
