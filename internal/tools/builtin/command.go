package builtin

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aristath/taskforge/internal/permission"
	"github.com/aristath/taskforge/internal/process"
	"github.com/aristath/taskforge/internal/tools"
)

const maxCommandOutput = 30000

// CommandResult is the run_command output. A non-zero exit is reported here,
// not as a tool failure, so the agent can read what went wrong.
type CommandResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
}

type runCommandTool struct {
	procs   *process.Manager
	timeout time.Duration
}

func (t *runCommandTool) Definition() mcp.Tool {
	return mcp.NewTool(RunCommand,
		mcp.WithDescription("Run a shell command in the working directory and return its exit code and output."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command line, run with sh -c")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Kill the command after this many seconds")),
	)
}

func (t *runCommandTool) Permission() permission.Permission { return permission.Execute }

func (t *runCommandTool) Execute(ctx context.Context, args map[string]any, tctx tools.Context) (any, error) {
	command := stringArg(args, "command")
	if command == "" {
		return nil, fmt.Errorf("command must not be empty")
	}

	timeout := t.timeout
	if secs := intArg(args, "timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := t.procs.Run(ctx, process.Spec{
		Name: "sh",
		Args: []string{"-c", command},
		Dir:  tctx.WorkDir,
	})

	var exitErr *exec.ExitError
	if err != nil && (ctx.Err() != nil || !errors.As(err, &exitErr)) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("command timed out after %s", timeout)
		}
		return nil, err
	}

	return CommandResult{
		ExitCode: out.ExitCode,
		Stdout:   clip(string(out.Stdout), maxCommandOutput),
		Stderr:   clip(string(out.Stderr), maxCommandOutput),
	}, nil
}
