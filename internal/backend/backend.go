// Package backend adapts upstream model providers to a single Send call.
package backend

import (
	"context"
	"fmt"

	"github.com/aristath/taskforge/internal/process"
)

// Backend defines the interface that all backend adapters must implement.
type Backend interface {
	// Send delivers one user turn and returns the model's reply. A failed
	// Send leaves the conversation unchanged, so callers may retry it.
	Send(ctx context.Context, msg Message) (Response, error)

	// Close releases any resources held by the backend.
	Close() error

	// SessionID returns the current session identifier.
	SessionID() string
}

// Types lists the supported backend types.
var Types = []string{"anthropic", "claude"}

// New creates a new backend based on the provided configuration.
// procs may be nil; it only matters for subprocess-based backends.
func New(cfg Config, procs *process.Manager) (Backend, error) {
	switch cfg.Type {
	case "anthropic":
		return NewAnthropicAdapter(cfg)
	case "claude":
		return NewClaudeAdapter(cfg, procs)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
