package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aristath/taskforge/internal/process"
	"github.com/aristath/taskforge/internal/resilience"
)

// ClaudeAdapter implements the Backend interface for the Claude Code CLI.
// The CLI runs its own tools, so responses never carry ToolCalls.
type ClaudeAdapter struct {
	command      string
	sessionID    string
	workDir      string
	model        string
	systemPrompt string
	procs        *process.Manager

	mu      sync.Mutex
	started bool
}

// claudeResponse is the JSON document printed by `claude -p --output-format json`.
type claudeResponse struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	Usage     struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// NewClaudeAdapter creates a new Claude Code backend adapter.
// If cfg.SessionID is empty, a new UUID will be generated.
// The process manager is optional; if nil, subprocesses won't be tracked.
func NewClaudeAdapter(cfg Config, procs *process.Manager) (*ClaudeAdapter, error) {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	command := cfg.Command
	if command == "" {
		command = "claude"
	}

	return &ClaudeAdapter{
		command:      command,
		sessionID:    sessionID,
		workDir:      workDir,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		procs:        procs,
	}, nil
}

// Send sends a message to Claude Code CLI and returns the response.
// The first successful call uses --session-id, later ones use --resume.
func (a *ClaudeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	prompt := renderPrompt(msg)
	if prompt == "" {
		return Response{}, &resilience.ValidationError{Msg: "empty message"}
	}

	a.mu.Lock()
	resume := a.started
	a.mu.Unlock()

	out, err := a.procs.Run(ctx, process.Spec{
		Name: a.command,
		Args: a.buildArgs(prompt, resume),
		Dir:  a.workDir,
	})
	if err != nil {
		// A JSON body on a failed exit still says what went wrong.
		if resp, perr := parseClaudeResponse(out.Stdout); perr == nil && resp.Content != "" {
			return Response{}, fmt.Errorf("claude command failed: %s: %w", resp.Content, err)
		}
		return Response{}, fmt.Errorf("claude command failed: %w", err)
	}

	resp, err := parseClaudeResponse(out.Stdout)
	if err != nil {
		return Response{}, fmt.Errorf("failed to parse claude response: %w (stderr: %s)", err, strings.TrimSpace(string(out.Stderr)))
	}
	if resp.StopReason == "error" {
		return Response{}, fmt.Errorf("claude reported an error: %s", resp.Content)
	}

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()

	if resp.SessionID == "" {
		resp.SessionID = a.sessionID
	}
	return resp, nil
}

// Close is a no-op for Claude Code (subprocess-per-invocation model).
func (a *ClaudeAdapter) Close() error {
	return nil
}

// SessionID returns the current session identifier.
func (a *ClaudeAdapter) SessionID() string {
	return a.sessionID
}

// buildArgs constructs the command-line arguments for the claude CLI.
func (a *ClaudeAdapter) buildArgs(prompt string, resume bool) []string {
	args := []string{"-p", prompt, "--output-format", "json"}

	if resume {
		args = append(args, "--resume", a.sessionID)
	} else {
		args = append(args, "--session-id", a.sessionID)
	}

	if a.model != "" {
		args = append(args, "--model", a.model)
	}

	// The system prompt is fixed at session creation.
	if a.systemPrompt != "" && !resume {
		args = append(args, "--system-prompt", a.systemPrompt)
	}

	return args
}

// renderPrompt flattens tool results into text; the CLI has no structured
// tool-result input.
func renderPrompt(msg Message) string {
	var b strings.Builder
	for _, r := range msg.ToolResults {
		status := "result"
		if r.IsError {
			status = "error"
		}
		fmt.Fprintf(&b, "[tool %s %s]\n%s\n\n", r.CallID, status, r.Content)
	}
	b.WriteString(msg.Content)
	return strings.TrimSpace(b.String())
}

// parseClaudeResponse parses the JSON output from Claude Code CLI.
func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	stop := cr.Subtype
	if cr.IsError {
		stop = "error"
	}

	return Response{
		Content:    cr.Result,
		SessionID:  cr.SessionID,
		StopReason: stop,
		Usage: Usage{
			InputTokens:  cr.Usage.InputTokens,
			OutputTokens: cr.Usage.OutputTokens,
		},
	}, nil
}
