package backend

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/aristath/taskforge/internal/process"
)

// TestNewClaudeAdapter_GeneratesSessionID verifies that a session ID is auto-generated
// when not provided in the config.
func TestNewClaudeAdapter_GeneratesSessionID(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{Type: "claude"}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	uuidPattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidPattern.MatchString(adapter.SessionID()) {
		t.Errorf("Session ID does not match UUID v4 format: %s", adapter.SessionID())
	}
}

func TestNewClaudeAdapter_UsesProvidedSessionID(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{Type: "claude", SessionID: "test-session-12345"}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}
	if adapter.SessionID() != "test-session-12345" {
		t.Errorf("Expected session ID test-session-12345, got %s", adapter.SessionID())
	}
}

func TestClaudeAdapter_BuildArgs(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		resume bool
		want   []string
	}{
		{
			name: "first message",
			cfg:  Config{SessionID: "test-uuid"},
			want: []string{"-p", "Hello", "--output-format", "json", "--session-id", "test-uuid"},
		},
		{
			name:   "resume",
			cfg:    Config{SessionID: "test-uuid"},
			resume: true,
			want:   []string{"-p", "Hello", "--output-format", "json", "--resume", "test-uuid"},
		},
		{
			name: "model and system prompt",
			cfg:  Config{SessionID: "test-uuid", Model: "claude-opus-4", SystemPrompt: "Be terse."},
			want: []string{"-p", "Hello", "--output-format", "json", "--session-id", "test-uuid", "--model", "claude-opus-4", "--system-prompt", "Be terse."},
		},
		{
			name:   "system prompt only on first call",
			cfg:    Config{SessionID: "test-uuid", SystemPrompt: "Be terse."},
			resume: true,
			want:   []string{"-p", "Hello", "--output-format", "json", "--resume", "test-uuid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewClaudeAdapter(tt.cfg, nil)
			if err != nil {
				t.Fatalf("NewClaudeAdapter failed: %v", err)
			}
			got := adapter.buildArgs("Hello", tt.resume)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("Expected args %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseClaudeResponse(t *testing.T) {
	data := []byte(`{"type":"result","subtype":"success","is_error":false,"result":"All done.","session_id":"abc","usage":{"input_tokens":120,"output_tokens":30}}`)

	resp, err := parseClaudeResponse(data)
	if err != nil {
		t.Fatalf("parseClaudeResponse failed: %v", err)
	}
	if resp.Content != "All done." || resp.SessionID != "abc" || resp.StopReason != "success" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Usage.InputTokens != 120 || resp.Usage.OutputTokens != 30 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
	if !resp.Done() {
		t.Error("CLI responses carry no tool calls")
	}

	if _, err := parseClaudeResponse([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestRenderPrompt(t *testing.T) {
	got := renderPrompt(Message{
		Content: "continue",
		ToolResults: []ToolResult{
			{CallID: "c1", Content: "file body"},
			{CallID: "c2", Content: "boom", IsError: true},
		},
	})
	for _, want := range []string{"[tool c1 result]\nfile body", "[tool c2 error]\nboom", "continue"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt %q missing %q", got, want)
		}
	}
	if renderPrompt(Message{}) != "" {
		t.Error("empty message should render empty")
	}
}

// fakeCLI writes a script standing in for the claude binary. It logs its
// arguments to args.log and prints body.
func fakeCLI(t *testing.T, body string, exitCode int) (string, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "args.log")
	script := "#!/bin/sh\n" +
		"echo \"$@\" >> " + logPath + "\n" +
		"cat <<'EOF'\n" + body + "\nEOF\n" +
		"exit " + strconv.Itoa(exitCode) + "\n"
	path := filepath.Join(dir, "claude")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path, logPath
}

func TestClaudeAdapter_SendResumesAfterSuccess(t *testing.T) {
	bin, logPath := fakeCLI(t, `{"type":"result","subtype":"success","result":"ok","session_id":"s-1"}`, 0)
	adapter, err := NewClaudeAdapter(Config{Command: bin, SessionID: "s-1", WorkDir: t.TempDir()}, process.NewManager())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		resp, err := adapter.Send(context.Background(), Message{Content: "hi"})
		if err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
		if resp.Content != "ok" {
			t.Errorf("unexpected content %q", resp.Content)
		}
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "--session-id s-1") || !strings.Contains(lines[1], "--resume s-1") {
		t.Errorf("unexpected invocations:\n%s", data)
	}
}

func TestClaudeAdapter_SendFailures(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		exit    int
		wantErr string
	}{
		{name: "non-zero exit", body: `{"type":"result","is_error":true,"result":"rate limited"}`, exit: 1, wantErr: "rate limited"},
		{name: "reported error", body: `{"type":"result","is_error":true,"result":"bad request"}`, exit: 0, wantErr: "claude reported an error: bad request"},
		{name: "garbage output", body: `oops`, exit: 0, wantErr: "failed to parse claude response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin, logPath := fakeCLI(t, tt.body, tt.exit)
			adapter, err := NewClaudeAdapter(Config{Command: bin, SessionID: "s-1", WorkDir: t.TempDir()}, nil)
			if err != nil {
				t.Fatal(err)
			}

			_, err = adapter.Send(context.Background(), Message{Content: "hi"})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}

			// A failed call must not flip the session to resume mode.
			_, _ = adapter.Send(context.Background(), Message{Content: "again"})
			data, _ := os.ReadFile(logPath)
			if strings.Contains(string(data), "--resume") {
				t.Errorf("failed send should not start the session:\n%s", data)
			}
		})
	}
}

func TestClaudeAdapter_EmptyMessage(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{SessionID: "s"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := adapter.Send(context.Background(), Message{}); err == nil {
		t.Error("expected error for empty message")
	}
}
