package backend

import "github.com/mark3labs/mcp-go/mcp"

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult answers a ToolCall in the next message.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// Message is one user turn: text, results for the previous turn's tool
// calls, or both.
type Message struct {
	Content     string
	ToolResults []ToolResult
}

// Usage is the token count the upstream reported for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates u into the receiver.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Response represents a response from the backend.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	SessionID  string
	StopReason string
	Usage      Usage
}

// Done reports whether the model finished without asking for tools.
func (r Response) Done() bool {
	return len(r.ToolCalls) == 0
}

// Config defines the configuration for a backend.
type Config struct {
	Type         string // "anthropic" or "claude"
	WorkDir      string
	SessionID    string
	Model        string
	SystemPrompt string
	MaxTokens    int64

	// Anthropic API settings. An empty APIKey falls back to ANTHROPIC_API_KEY.
	APIKey  string
	BaseURL string

	// Command overrides the claude CLI binary.
	Command string

	// Tools offered to the model. Only the anthropic backend drives tools
	// through the executor; the CLI runs its own.
	Tools []mcp.Tool
}
