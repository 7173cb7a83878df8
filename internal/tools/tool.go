// Package tools runs named tool calls behind permission checks, schema
// validation and tracing, and always reports the outcome as a Result.
package tools

import (
	"context"
	"io/fs"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aristath/taskforge/internal/permission"
)

// Tool is a capability an agent can invoke.
type Tool interface {
	// Definition describes the tool's name, purpose and argument schema.
	Definition() mcp.Tool
	// Permission is what the calling agent must hold.
	Permission() permission.Permission
	// Execute runs the tool. Non-string outputs are JSON-encoded by the executor.
	Execute(ctx context.Context, args map[string]any, tctx Context) (any, error)
}

// FileSystem is the file access tools are given. Paths are relative to the
// filesystem root.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
	ReadDir(name string) ([]fs.DirEntry, error)
	Stat(name string) (fs.FileInfo, error)
	WalkDir(root string, fn fs.WalkDirFunc) error
	// Abs resolves name to an absolute path inside the root.
	Abs(name string) (string, error)
}

// Spawner lets a tool queue follow-up work on the running scheduler.
type Spawner interface {
	Spawn(agentType, description string, dependsOn []int) (int, error)
}

// Context is what a tool sees of the task that called it.
type Context struct {
	FS        FileSystem
	WorkDir   string
	AgentType string
	TaskIndex int
	Spawner   Spawner
	Locks     *PathLocker
}

// Options carries the calling agent's capabilities.
type Options struct {
	Permissions  permission.Set
	AllowedTools []string // nil allows every registered tool
}

func (o Options) allows(name string) bool {
	if o.AllowedTools == nil {
		return true
	}
	for _, allowed := range o.AllowedTools {
		if allowed == name {
			return true
		}
	}
	return false
}
