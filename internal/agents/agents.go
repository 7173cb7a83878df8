// Package agents holds the static capability table for each agent type.
package agents

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/taskforge/internal/permission"
)

// Type identifies a specialist agent.
type Type string

const (
	Planner  Type = "planner"
	Search   Type = "search"
	Code     Type = "code"
	Review   Type = "review"
	Test     Type = "test"
	Research Type = "research"
)

// Capability is what an agent type may do and how long it may take.
type Capability struct {
	Persona        string
	AllowedTools   []string // nil means every registered tool
	Permissions    permission.Set
	TimeoutDefault time.Duration
	TimeoutMax     time.Duration
	MaxTurns       int
}

// Timeout returns the timeout for an attempt, honouring a positive override
// but never exceeding TimeoutMax.
func (c Capability) Timeout(override time.Duration) time.Duration {
	timeout := c.TimeoutDefault
	if override > 0 {
		timeout = override
	}
	if c.TimeoutMax > 0 && timeout > c.TimeoutMax {
		timeout = c.TimeoutMax
	}
	return timeout
}

// RetryTimeout is the relaxed timeout for a retry after an attempt that ran
// with current: double it, capped at TimeoutMax.
func (c Capability) RetryTimeout(current time.Duration) time.Duration {
	relaxed := 2 * current
	if c.TimeoutMax > 0 && relaxed > c.TimeoutMax {
		relaxed = c.TimeoutMax
	}
	return relaxed
}

// Allows reports whether the agent may call tool.
func (c Capability) Allows(tool string) bool {
	if c.AllowedTools == nil {
		return true
	}
	for _, name := range c.AllowedTools {
		if name == tool {
			return true
		}
	}
	return false
}

var defaultCapabilities = map[Type]Capability{
	Planner: {
		Persona:        "You are a planning agent. Break the request into small, ordered steps and spawn follow-up tasks for the specialists.",
		AllowedTools:   []string{"read_file", "list_dir", "find_files", "spawn_task"},
		Permissions:    permission.Set{permission.Read, permission.Spawn},
		TimeoutDefault: 2 * time.Minute,
		TimeoutMax:     5 * time.Minute,
		MaxTurns:       8,
	},
	Search: {
		Persona:        "You are a code search agent. Locate the files, symbols and call sites relevant to the task and report them precisely.",
		AllowedTools:   []string{"read_file", "list_dir", "find_files"},
		Permissions:    permission.Set{permission.Read},
		TimeoutDefault: 2 * time.Minute,
		TimeoutMax:     4 * time.Minute,
		MaxTurns:       10,
	},
	Code: {
		Persona:        "You are a coding agent. Make the smallest correct change that completes the task and keep the existing style.",
		AllowedTools:   []string{"read_file", "list_dir", "find_files", "write_file", "edit_file", "run_command"},
		Permissions:    permission.Set{permission.Read, permission.Write, permission.Execute},
		TimeoutDefault: 5 * time.Minute,
		TimeoutMax:     10 * time.Minute,
		MaxTurns:       20,
	},
	Review: {
		Persona:        "You are a code review agent. Read the change, point out defects and risky assumptions, and say clearly whether it is ready.",
		AllowedTools:   []string{"read_file", "list_dir", "find_files"},
		Permissions:    permission.Set{permission.Read},
		TimeoutDefault: 3 * time.Minute,
		TimeoutMax:     6 * time.Minute,
		MaxTurns:       10,
	},
	Test: {
		Persona:        "You are a testing agent. Write or run tests for the task and report failures with the relevant output.",
		AllowedTools:   []string{"read_file", "list_dir", "find_files", "write_file", "edit_file", "run_command"},
		Permissions:    permission.Set{permission.Read, permission.Write, permission.Execute},
		TimeoutDefault: 5 * time.Minute,
		TimeoutMax:     10 * time.Minute,
		MaxTurns:       15,
	},
	Research: {
		Persona:        "You are a research agent. Gather documentation from the web and the repository and summarise what matters for the task.",
		AllowedTools:   []string{"read_file", "find_files", "web_fetch"},
		Permissions:    permission.Set{permission.Read, permission.Web},
		TimeoutDefault: 3 * time.Minute,
		TimeoutMax:     6 * time.Minute,
		MaxTurns:       10,
	},
}

// Registry maps agent types to capabilities. Built once at startup and
// passed to whatever needs it.
type Registry struct {
	mu   sync.RWMutex
	caps map[Type]Capability
}

// NewRegistry returns a registry seeded with the built-in agent types.
func NewRegistry() *Registry {
	r := &Registry{caps: make(map[Type]Capability, len(defaultCapabilities))}
	for t, c := range defaultCapabilities {
		r.caps[t] = cloneCapability(c)
	}
	return r
}

// Register adds or replaces the capability for t.
func (r *Registry) Register(t Type, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[t] = cloneCapability(c)
}

// Lookup returns the capability for an agent type name.
func (r *Registry) Lookup(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.caps[Type(name)]
	if !ok {
		return Capability{}, fmt.Errorf("unknown agent type %q", name)
	}
	return cloneCapability(c), nil
}

// Types returns the registered agent types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]Type, 0, len(r.caps))
	for t := range r.caps {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func cloneCapability(c Capability) Capability {
	if c.AllowedTools != nil {
		c.AllowedTools = append([]string{}, c.AllowedTools...)
	}
	if c.Permissions != nil {
		c.Permissions = append(permission.Set{}, c.Permissions...)
	}
	return c
}
