// Package mcpserver exposes the tool registry to MCP clients. Calls go
// through the same executor as agent calls, so permission checks, argument
// validation and the gate apply unchanged.
package mcpserver

import (
	"cmp"
	"context"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/aristath/taskforge/internal/permission"
	"github.com/aristath/taskforge/internal/tools"
)

// DefaultAgentType is the caller name recorded on tool events.
const DefaultAgentType = "mcp"

// Config controls which tools are exposed and the capabilities callers get.
type Config struct {
	Name         string
	Version      string
	AgentType    string           // Defaults to DefaultAgentType
	Permissions  permission.Set   // Tools needing anything else are not exposed
	AllowedTools []string         // nil exposes every permitted tool
	FS           tools.FileSystem // Defaults to the OS filesystem at WorkDir
	WorkDir      string
	Locks        *tools.PathLocker
}

// New creates an MCP server over exec's registry.
func New(exec *tools.Executor, cfg Config) *server.MCPServer {
	if cfg.Name == "" {
		cfg.Name = "taskforge"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.AgentType == "" {
		cfg.AgentType = DefaultAgentType
	}
	if cfg.FS == nil {
		if osfs, err := tools.NewOSFileSystem(cmp.Or(cfg.WorkDir, ".")); err == nil {
			cfg.FS = osfs
		}
	}
	if cfg.Locks == nil {
		cfg.Locks = tools.NewPathLocker()
	}

	s := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	exposed := Exposed(exec.Registry(), cfg)
	for _, tool := range exposed {
		def := tool.Definition()
		s.AddTool(def, handler(exec, def.Name, cfg))
	}

	logrus.WithFields(logrus.Fields{
		"component": "mcpserver",
		"tools":     len(exposed),
	}).Debug("mcp server configured")

	return s
}

// Exposed returns the registry tools a client configured by cfg may call.
// Spawning needs a running scheduler, so spawn tools are never exposed.
func Exposed(reg *tools.Registry, cfg Config) []tools.Tool {
	var out []tools.Tool
	for _, tool := range reg.List() {
		perm := tool.Permission()
		if perm == permission.Spawn || !permission.HasPermission(cfg.Permissions, perm) {
			continue
		}
		if cfg.AllowedTools != nil && !contains(cfg.AllowedTools, tool.Definition().Name) {
			continue
		}
		out = append(out, tool)
	}
	return out
}

func handler(exec *tools.Executor, name string, cfg Config) server.ToolHandlerFunc {
	opts := tools.Options{Permissions: cfg.Permissions, AllowedTools: cfg.AllowedTools}

	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tctx := tools.Context{
			FS:        cfg.FS,
			WorkDir:   cfg.WorkDir,
			AgentType: cfg.AgentType,
			TaskIndex: -1,
			Locks:     cfg.Locks,
		}
		result := exec.ExecuteSafe(ctx, name, req.GetArguments(), tctx, opts)
		if !result.OK {
			return mcp.NewToolResultError(result.Text()), nil
		}
		return mcp.NewToolResultText(result.Output), nil
	}
}

// ServeStdio serves s over in and out until ctx is cancelled or in closes.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
