package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aristath/taskforge/internal/resilience"
)

const defaultMaxTokens = 8192

// AnthropicAdapter talks to the Anthropic Messages API and drives tool use.
// It keeps the conversation history and commits a turn only when the call
// succeeds.
type AnthropicAdapter struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
	tools     []anthropic.ToolUnionParam
	sessionID string

	mu      sync.Mutex
	history []anthropic.MessageParam
}

// NewAnthropicAdapter creates an API backend. Extra request options are
// appended after the ones derived from cfg.
func NewAnthropicAdapter(cfg Config, extra ...option.RequestOption) (*AnthropicAdapter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	// Retries and circuit breaking happen in the resilience layer.
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return &AnthropicAdapter{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		system:    cfg.SystemPrompt,
		tools:     ToolParams(cfg.Tools),
		sessionID: sessionID,
	}, nil
}

// Send appends msg to the conversation and asks the model for the next turn.
func (a *AnthropicAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	user, err := userMessage(msg)
	if err != nil {
		return Response{}, err
	}

	a.mu.Lock()
	messages := make([]anthropic.MessageParam, len(a.history), len(a.history)+1)
	copy(messages, a.history)
	a.mu.Unlock()
	messages = append(messages, user)

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  messages,
		Tools:     a.tools,
	}
	if a.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.system}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic request failed: %w", err)
	}

	out := Response{
		SessionID:  a.sessionID,
		StopReason: string(resp.StopReason),
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}

	var assistant []anthropic.ContentBlockParamUnion
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += variant.Text
			assistant = append(assistant, anthropic.NewTextBlock(variant.Text))
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(variant.Input) > 0 {
				if err := json.Unmarshal(variant.Input, &args); err != nil {
					return Response{}, fmt.Errorf("tool call %s has malformed input: %w", variant.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: variant.ID, Name: variant.Name, Args: args})
			assistant = append(assistant, anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))
		}
	}

	a.mu.Lock()
	a.history = append(messages, anthropic.NewAssistantMessage(assistant...))
	a.mu.Unlock()

	return out, nil
}

// Close is a no-op; the HTTP client holds no per-session resources.
func (a *AnthropicAdapter) Close() error {
	return nil
}

// SessionID returns the current session identifier.
func (a *AnthropicAdapter) SessionID() string {
	return a.sessionID
}

// Turns returns the number of committed messages in the conversation.
func (a *AnthropicAdapter) Turns() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}

func userMessage(msg Message) (anthropic.MessageParam, error) {
	var blocks []anthropic.ContentBlockParamUnion
	for _, r := range msg.ToolResults {
		blocks = append(blocks, anthropic.NewToolResultBlock(r.CallID, r.Content, r.IsError))
	}
	if msg.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}
	if len(blocks) == 0 {
		return anthropic.MessageParam{}, &resilience.ValidationError{Msg: "empty message"}
	}
	return anthropic.NewUserMessage(blocks...), nil
}

// ToolParams converts MCP tool definitions to Messages API tool params.
func ToolParams(defs []mcp.Tool) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	params := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		properties := def.InputSchema.Properties
		if properties == nil {
			properties = map[string]any{}
		}
		params = append(params, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   def.InputSchema.Required,
				},
			},
		})
	}
	return params
}
