package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aristath/taskforge/internal/process"
	"github.com/aristath/taskforge/internal/resilience"
)

func TestFactory(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "claude", cfg: Config{Type: "claude", WorkDir: "/tmp/test"}},
		{name: "anthropic", cfg: Config{Type: "anthropic", APIKey: "test-key"}},
		{name: "unknown", cfg: Config{Type: "invalid"}, wantErr: "unknown backend type: invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.cfg, process.NewManager())
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if b.SessionID() == "" {
				t.Error("expected a generated session ID")
			}
			if err := b.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
	}
}

func TestNewAnthropicAdapter_RequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewAnthropicAdapter(Config{}); err == nil {
		t.Fatal("expected error without API key")
	}

	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	if _, err := NewAnthropicAdapter(Config{}); err != nil {
		t.Fatalf("env key should be used: %v", err)
	}
}

// fakeMessagesAPI serves queued responses for POST /v1/messages and records
// every request body.
type fakeMessagesAPI struct {
	mu        sync.Mutex
	requests  []map[string]any
	responses []fakeReply
}

type fakeReply struct {
	status int
	body   string
}

func (f *fakeMessagesAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/messages" {
		http.NotFound(w, r)
		return
	}
	var req map[string]any
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := f.responses[0]
	f.responses = f.responses[1:]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.status)
	_, _ = w.Write([]byte(reply.body))
}

func (f *fakeMessagesAPI) messagesIn(i int) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, _ := f.requests[i]["messages"].([]any)
	return msgs
}

const toolUseReply = `{
  "id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
  "content": [
    {"type": "text", "text": "Reading it."},
    {"type": "tool_use", "id": "toolu_1", "name": "read_file", "input": {"path": "main.go"}}
  ],
  "stop_reason": "tool_use", "stop_sequence": null,
  "usage": {"input_tokens": 50, "output_tokens": 12}
}`

const finalReply = `{
  "id": "msg_2", "type": "message", "role": "assistant", "model": "claude-test",
  "content": [{"type": "text", "text": "The file declares package main."}],
  "stop_reason": "end_turn", "stop_sequence": null,
  "usage": {"input_tokens": 80, "output_tokens": 9}
}`

const overloadedReply = `{"type": "error", "error": {"type": "api_error", "message": "upstream exploded"}}`

func newTestAdapter(t *testing.T, api *fakeMessagesAPI) *AnthropicAdapter {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	adapter, err := NewAnthropicAdapter(Config{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		Model:        "claude-test",
		SystemPrompt: "You are a code agent.",
		Tools: []mcp.Tool{
			mcp.NewTool("read_file",
				mcp.WithDescription("Read a file."),
				mcp.WithString("path", mcp.Required()),
			),
		},
	})
	if err != nil {
		t.Fatalf("NewAnthropicAdapter: %v", err)
	}
	return adapter
}

func TestAnthropicAdapter_ToolLoop(t *testing.T) {
	api := &fakeMessagesAPI{responses: []fakeReply{
		{status: 200, body: toolUseReply},
		{status: 200, body: finalReply},
	}}
	adapter := newTestAdapter(t, api)
	ctx := context.Background()

	resp, err := adapter.Send(ctx, Message{Content: "What package is main.go?"})
	if err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if resp.Done() || len(resp.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", resp)
	}
	call := resp.ToolCalls[0]
	if call.ID != "toolu_1" || call.Name != "read_file" || call.Args["path"] != "main.go" {
		t.Errorf("unexpected tool call %+v", call)
	}
	if resp.Content != "Reading it." || resp.StopReason != "tool_use" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Usage.InputTokens != 50 || resp.Usage.OutputTokens != 12 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}

	resp, err = adapter.Send(ctx, Message{ToolResults: []ToolResult{{CallID: "toolu_1", Content: "package main"}}})
	if err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if !resp.Done() || resp.Content != "The file declares package main." {
		t.Errorf("unexpected final response %+v", resp)
	}

	// user, assistant(tool_use), user(tool_result)
	msgs := api.messagesIn(1)
	if len(msgs) != 3 {
		t.Fatalf("second request should carry 3 messages, got %d", len(msgs))
	}
	last, _ := msgs[2].(map[string]any)
	content, _ := last["content"].([]any)
	block, _ := content[0].(map[string]any)
	if block["type"] != "tool_result" || block["tool_use_id"] != "toolu_1" {
		t.Errorf("expected tool_result block, got %v", block)
	}

	api.mu.Lock()
	first := api.requests[0]
	api.mu.Unlock()
	tools, _ := first["tools"].([]any)
	if len(tools) != 1 {
		t.Errorf("expected tools in request, got %v", first["tools"])
	}
	if first["system"] == nil {
		t.Error("expected system prompt in request")
	}

	if adapter.Turns() != 4 {
		t.Errorf("expected 4 committed messages, got %d", adapter.Turns())
	}
}

// A failed call leaves history untouched so the retry resends the same turn.
func TestAnthropicAdapter_FailureDoesNotCommit(t *testing.T) {
	api := &fakeMessagesAPI{responses: []fakeReply{
		{status: 500, body: overloadedReply},
		{status: 200, body: finalReply},
	}}
	adapter := newTestAdapter(t, api)
	msg := Message{Content: "hello"}

	_, err := adapter.Send(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error from 500 response")
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
		t.Errorf("expected *anthropic.Error with status 500, got %v", err)
	}
	if resilience.Classify(err) != resilience.Transient {
		t.Errorf("5xx should classify as transient")
	}
	if adapter.Turns() != 0 {
		t.Errorf("failed call committed %d messages", adapter.Turns())
	}

	if _, err := adapter.Send(context.Background(), msg); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if n := len(api.messagesIn(1)); n != 1 {
		t.Errorf("retry should resend a single user message, sent %d", n)
	}
}

func TestAnthropicAdapter_EmptyMessageIsPermanent(t *testing.T) {
	adapter := newTestAdapter(t, &fakeMessagesAPI{})
	_, err := adapter.Send(context.Background(), Message{})
	if err == nil {
		t.Fatal("expected error")
	}
	if resilience.Classify(err) != resilience.Permanent {
		t.Errorf("empty message should be a permanent failure, got %v", resilience.Classify(err))
	}
}

func TestToolParams(t *testing.T) {
	if ToolParams(nil) != nil {
		t.Error("no tools should yield nil params")
	}

	params := ToolParams([]mcp.Tool{
		mcp.NewTool("find_files",
			mcp.WithDescription("Find files."),
			mcp.WithString("pattern", mcp.Required()),
			mcp.WithString("path"),
		),
	})
	if len(params) != 1 || params[0].OfTool == nil {
		t.Fatalf("unexpected params %+v", params)
	}
	tool := params[0].OfTool
	if tool.Name != "find_files" || tool.Description.Value != "Find files." {
		t.Errorf("unexpected tool %+v", tool)
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "pattern" {
		t.Errorf("unexpected required %v", tool.InputSchema.Required)
	}
	props, _ := tool.InputSchema.Properties.(map[string]any)
	if _, ok := props["path"]; !ok {
		t.Errorf("expected path property, got %v", tool.InputSchema.Properties)
	}
}

func TestUsageAdd(t *testing.T) {
	var u Usage
	u.Add(Usage{InputTokens: 3, OutputTokens: 4})
	u.Add(Usage{InputTokens: 10, OutputTokens: 1})
	if u.InputTokens != 13 || u.OutputTokens != 5 {
		t.Errorf("unexpected total %+v", u)
	}
}
