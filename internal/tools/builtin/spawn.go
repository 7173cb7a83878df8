package builtin

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aristath/taskforge/internal/permission"
	"github.com/aristath/taskforge/internal/tools"
)

// SpawnResult is the spawn_task output.
type SpawnResult struct {
	Index int `json:"index"`
}

type spawnTaskTool struct{}

func (spawnTaskTool) Definition() mcp.Tool {
	return mcp.NewTool(SpawnTask,
		mcp.WithDescription("Queue a follow-up task for another agent. It runs once its dependencies are done."),
		mcp.WithString("agent_type", mcp.Required(), mcp.Description("Agent to run the task, e.g. code or review")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What the task must accomplish")),
		mcp.WithArray("depends_on", mcp.Description("Indices of tasks that must finish first"), mcp.Items(map[string]any{"type": "integer"})),
	)
}

func (spawnTaskTool) Permission() permission.Permission { return permission.Spawn }

func (spawnTaskTool) Execute(ctx context.Context, args map[string]any, tctx tools.Context) (any, error) {
	if tctx.Spawner == nil {
		return nil, errNoSpawner
	}
	index, err := tctx.Spawner.Spawn(stringArg(args, "agent_type"), stringArg(args, "description"), intsArg(args, "depends_on"))
	if err != nil {
		return nil, fmt.Errorf("failed to spawn task: %w", err)
	}
	return SpawnResult{Index: index}, nil
}
