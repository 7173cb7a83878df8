package persistence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/taskforge/internal/scheduler"
)

// SaveTask saves or updates a task snapshot within a run.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) SaveTask(ctx context.Context, runID string, task *scheduler.Task) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (run_id, idx, agent_type, description, depends_on, status, result, error, retry_count, timeout_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, idx) DO UPDATE SET
			agent_type = excluded.agent_type,
			description = excluded.description,
			depends_on = excluded.depends_on,
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			retry_count = excluded.retry_count,
			timeout_ms = excluded.timeout_ms,
			updated_at = excluded.updated_at
	`, runID, task.Index, task.AgentType, task.Description, joinIndices(task.DependsOn), int(task.Status),
		task.Result, task.Error, task.RetryCount, task.TimeoutOverride.Milliseconds(), toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to upsert task %d: %w", task.Index, err)
	}
	return nil
}

// ListTasks returns the latest snapshot of every task in a run, by index.
func (s *SQLiteStore) ListTasks(ctx context.Context, runID string) ([]*scheduler.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, agent_type, description, depends_on, status, result, error, retry_count, timeout_ms
		FROM tasks
		WHERE run_id = ?
		ORDER BY idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*scheduler.Task{}
	for rows.Next() {
		task := &scheduler.Task{}
		var deps string
		var status int
		var timeoutMS int64
		if err := rows.Scan(&task.Index, &task.AgentType, &task.Description, &deps, &status,
			&task.Result, &task.Error, &task.RetryCount, &timeoutMS); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task.Status = scheduler.TaskStatus(status)
		task.TimeoutOverride = time.Duration(timeoutMS) * time.Millisecond
		if task.DependsOn, err = splitIndices(deps); err != nil {
			return nil, fmt.Errorf("task %d: %w", task.Index, err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// RecordTransition appends a state change to a task's history.
// Transitions are append-only.
func (s *SQLiteStore) RecordTransition(ctx context.Context, runID string, index int, t Transition) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_transitions (run_id, idx, event, status, detail, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, index, t.Event, int(t.Status), t.Detail, toMillis(at))
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// Transitions returns a task's history in the order it was recorded.
// Returns empty slice (not nil) if no history exists.
func (s *SQLiteStore) Transitions(ctx context.Context, runID string, index int) ([]Transition, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT event, status, detail, at
		FROM task_transitions
		WHERE run_id = ? AND idx = ?
		ORDER BY id ASC
	`, runID, index)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	history := []Transition{}
	for rows.Next() {
		var t Transition
		var status int
		var at int64
		if err := rows.Scan(&t.Event, &status, &t.Detail, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.Status = scheduler.TaskStatus(status)
		t.At = fromMillis(at)
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}
	return history, nil
}

func joinIndices(indices []int) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ",")
}

func splitIndices(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	indices := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid dependency list %q: %w", s, err)
		}
		indices[i] = n
	}
	return indices, nil
}
