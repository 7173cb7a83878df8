package persistence

import (
	"context"
	"fmt"
	"time"
)

// RecordToolCall appends a tool call to the run's audit log.
func (s *SQLiteStore) RecordToolCall(ctx context.Context, runID string, call ToolCall) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	at := call.At
	if at.IsZero() {
		at = time.Now()
	}
	ok := 0
	if call.OK {
		ok = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (run_id, idx, tool, agent_type, permission, ok, kind, error, duration_ms, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, call.TaskIndex, call.Tool, call.AgentType, call.Permission, ok, call.Kind, call.Error,
		call.Duration.Milliseconds(), toMillis(at))
	if err != nil {
		return fmt.Errorf("failed to record tool call: %w", err)
	}
	return nil
}

// ToolCalls returns a run's tool calls in the order they were recorded.
func (s *SQLiteStore) ToolCalls(ctx context.Context, runID string) ([]ToolCall, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, tool, agent_type, permission, ok, kind, error, duration_ms, at
		FROM tool_calls
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool calls: %w", err)
	}
	defer rows.Close()

	calls := []ToolCall{}
	for rows.Next() {
		var call ToolCall
		var ok int
		var durationMS, at int64
		if err := rows.Scan(&call.TaskIndex, &call.Tool, &call.AgentType, &call.Permission, &ok,
			&call.Kind, &call.Error, &durationMS, &at); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		call.OK = ok == 1
		call.Duration = time.Duration(durationMS) * time.Millisecond
		call.At = fromMillis(at)
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool calls: %w", err)
	}
	return calls, nil
}
