package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Times are stored as Unix milliseconds.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		done INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tasks (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		agent_type TEXT NOT NULL,
		description TEXT NOT NULL,
		depends_on TEXT NOT NULL DEFAULT '',
		status INTEGER NOT NULL,
		result TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		timeout_ms INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, idx),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		event TEXT NOT NULL,
		status INTEGER NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_transitions_task
		ON task_transitions(run_id, idx, id);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		tool TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		permission TEXT NOT NULL DEFAULT '',
		ok INTEGER NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON tool_calls(run_id, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
