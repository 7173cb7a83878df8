package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/persistence"
	"github.com/aristath/taskforge/internal/scheduler"
)

// execute runs the CLI with args and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	color.NoColor = true

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// project returns an empty project directory with HOME pointed elsewhere so
// a developer's global config cannot leak in.
func project(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "")
	return t.TempDir()
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const testPlan = `
name: health
goal: Add a health endpoint
tasks:
  - id: explore
    agent: search
    description: Find the router
  - id: check
    agent: review
    description: Review the router
    depends_on: [explore]
    timeout: 2m
`

func TestPlanCommandPrintsOrder(t *testing.T) {
	dir := project(t)
	path := writeFile(t, filepath.Join(dir, "plan.yaml"), testPlan)

	out, _, err := execute(t, "plan", path)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	for _, want := range []string{
		"Plan: health",
		"Goal: Add a health endpoint",
		" 0. explore [search] Find the router",
		" 1. check [review] Review the router after explore (timeout 2m0s)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPlanCommandRejectsInvalidPlans(t *testing.T) {
	tests := []struct {
		name    string
		plan    string
		wantErr string
	}{
		{
			name: "unknown dependency",
			plan: `
tasks:
  - id: a
    agent: code
    description: x
    depends_on: [missing]
`,
			wantErr: "unknown task missing",
		},
		{
			name: "cycle",
			plan: `
tasks:
  - id: a
    agent: code
    description: x
    depends_on: [b]
  - id: b
    agent: code
    description: y
    depends_on: [a]
`,
			wantErr: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := project(t)
			path := writeFile(t, filepath.Join(dir, "plan.yaml"), tt.plan)

			_, _, err := execute(t, "plan", path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigCommandMasksAPIKeys(t *testing.T) {
	dir := project(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-secret-value")

	out, _, err := execute(t, "config", "-C", dir)
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	if strings.Contains(out, "sk-secret-value") {
		t.Errorf("API key leaked:\n%s", out)
	}
	if !strings.Contains(out, "api_key: '****'") && !strings.Contains(out, `api_key: "****"`) {
		t.Errorf("expected masked key:\n%s", out)
	}
}

func TestConfigInit(t *testing.T) {
	dir := project(t)

	out, _, err := execute(t, "config", "init", "-C", dir)
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	path := filepath.Join(dir, ".taskforge", "config.yaml")
	if !strings.Contains(out, "Wrote "+path) {
		t.Errorf("unexpected output %q", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	if _, _, err := execute(t, "config", "init", "-C", dir); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected refusal to overwrite, got %v", err)
	}
	if _, _, err := execute(t, "config", "init", "-C", dir, "--force"); err != nil {
		t.Errorf("--force should overwrite: %v", err)
	}
}

func TestToolsList(t *testing.T) {
	dir := project(t)

	out, _, err := execute(t, "tools", "list", "-C", dir)
	if err != nil {
		t.Fatalf("tools list failed: %v", err)
	}
	for _, want := range []string{"NAME", "read_file", "write_file"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, _, err = execute(t, "tools", "list", "-C", dir, "--agent", "review")
	if err != nil {
		t.Fatalf("tools list --agent failed: %v", err)
	}
	if !strings.Contains(out, "read_file") || strings.Contains(out, "write_file") {
		t.Errorf("review agent should only see read tools:\n%s", out)
	}

	if _, _, err := execute(t, "tools", "list", "-C", dir, "--agent", "nobody"); err == nil {
		t.Error("expected error for unknown agent type")
	}
}

func TestHistoryWithoutDatabase(t *testing.T) {
	dir := project(t)

	out, _, err := execute(t, "history", "-C", dir)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "No runs recorded yet.") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestHistoryShowsRecordedRun(t *testing.T) {
	dir := project(t)
	seedHistory(t, filepath.Join(dir, ".taskforge", "history.db"))

	out, _, err := execute(t, "history", "-C", dir)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "run-1") {
		t.Errorf("run list missing run-1:\n%s", out)
	}

	out, _, err = execute(t, "history", "run-1", "--tools", "-C", dir)
	if err != nil {
		t.Fatalf("history run-1 failed: %v", err)
	}
	for _, want := range []string{"found it", "read_file", "write_file", "permission_denied"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, _, err = execute(t, "history", "run-1", "--task", "0", "-C", dir)
	if err != nil {
		t.Fatalf("history --task failed: %v", err)
	}
	if !strings.Contains(out, "task.completed") {
		t.Errorf("transitions missing:\n%s", out)
	}

	if _, _, err := execute(t, "history", "nope", "-C", dir); err == nil {
		t.Error("expected error for unknown run")
	}
}

func seedHistory(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	store, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now()
	if err := store.CreateRun(ctx, "run-1", now); err != nil {
		t.Fatal(err)
	}
	task := &scheduler.Task{Index: 0, AgentType: "search", Description: "Find it", Status: scheduler.TaskDone, Result: "found it"}
	if err := store.SaveTask(ctx, "run-1", task); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordTransition(ctx, "run-1", 0, persistence.Transition{
		Event: "task.completed", Status: scheduler.TaskDone, Detail: "completed", At: now,
	}); err != nil {
		t.Fatal(err)
	}
	for _, call := range []persistence.ToolCall{
		{TaskIndex: 0, Tool: "read_file", AgentType: "search", Permission: "read", OK: true, At: now},
		{TaskIndex: 0, Tool: "write_file", AgentType: "search", Permission: "write", Kind: "permission_denied", Error: "denied", At: now},
	} {
		if err := store.RecordToolCall(ctx, "run-1", call); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.FinishRun(ctx, "run-1", 1, 0, time.Second); err != nil {
		t.Fatal(err)
	}
}

// fakeClaude writes a script standing in for the claude CLI that answers
// every prompt with the given result.
func fakeClaude(t *testing.T, result string) string {
	t.Helper()
	script := "#!/bin/sh\ncat <<'EOF'\n" +
		`{"type":"result","subtype":"success","result":"` + result + `","session_id":"s","usage":{"input_tokens":10,"output_tokens":5}}` +
		"\nEOF\n"
	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunExecutesPlanAndRecordsHistory(t *testing.T) {
	dir := project(t)
	writeFile(t, filepath.Join(dir, ".taskforge", "config.yaml"), `
providers:
  claude:
    type: claude
    command: `+fakeClaude(t, "all good")+`
runner:
  provider: claude
  concurrency: 2
permissions:
  mode: auto
retry:
  max_retries: 0
`)
	plan := writeFile(t, filepath.Join(dir, "plan.yaml"), testPlan)

	out, _, err := execute(t, "run", plan, "-C", dir)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	for _, want := range []string{
		"Goal: Add a health endpoint",
		"#0 search: all good",
		"#1 review: all good",
		"2 done of 2 tasks",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	var runID string
	for _, line := range strings.Split(out, "\n") {
		if id, ok := strings.CutPrefix(line, "Run "); ok {
			runID = strings.TrimSpace(id)
		}
	}
	if runID == "" {
		t.Fatalf("no run ID in output:\n%s", out)
	}

	out, _, err = execute(t, "history", runID, "-C", dir)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if strings.Count(out, "done") != 2 {
		t.Errorf("expected both tasks recorded as done:\n%s", out)
	}
}

func TestRunFailsOnMissingPlan(t *testing.T) {
	dir := project(t)
	if _, _, err := execute(t, "run", filepath.Join(dir, "absent.yaml"), "-C", dir, "--no-history"); err == nil {
		t.Error("expected error for missing plan")
	}
}

func TestProgressPrinterFormat(t *testing.T) {
	color.NoColor = true
	p := newProgressPrinter(&bytes.Buffer{})

	tests := []struct {
		name  string
		event events.Event
		want  string
	}{
		{"started", events.TaskStartedEvent{Index: 1, AgentType: "code", Description: "Fix it", Attempt: 1}, "▶ #1 code: Fix it"},
		{"retry attempt", events.TaskStartedEvent{Index: 1, AgentType: "code", Description: "Fix it", Attempt: 2}, "▶ #1 code: Fix it (attempt 2)"},
		{"completed", events.TaskCompletedEvent{Index: 2, Duration: 1500 * time.Millisecond}, "✓ #2 done in 1.5s"},
		{"blocked", events.TaskBlockedEvent{Index: 3, Dependency: 1}, "⊘ #3 blocked by failed task #1"},
		{"stalled", events.TaskBlockedEvent{Index: 3, Dependency: -1}, "⊘ #3 never became ready"},
		{"tool ok", events.ToolExecutedEvent{Index: 0, Tool: "read_file", OK: true}, "  #0 read_file"},
		{"output ignored", events.TaskOutputEvent{Index: 0}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.format(tt.event); got != tt.want {
				t.Errorf("format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  single  ", "single"},
		{"first\nsecond", "first …"},
		{strings.Repeat("x", 120), strings.Repeat("x", 100) + "…"},
	}
	for _, tt := range tests {
		if got := firstLine(tt.in); got != tt.want {
			t.Errorf("firstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsTerminalRegularFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "f"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if isTerminal(f) {
		t.Error("regular file is not a terminal")
	}
}
