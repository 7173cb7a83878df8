package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func bash(script string) Spec {
	return Spec{Name: "bash", Args: []string{"-c", script}}
}

func TestRunBasicExecution(t *testing.T) {
	out, err := NewManager().Run(context.Background(), Spec{Name: "echo", Args: []string{"hello"}})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(string(out.Stdout), "hello") {
		t.Errorf("Expected stdout to contain 'hello', got: %s", out.Stdout)
	}
	if len(out.Stderr) > 0 {
		t.Errorf("Expected empty stderr, got: %s", out.Stderr)
	}
	if out.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", out.ExitCode)
	}
}

// Output well above the 64KB pipe buffer must not deadlock.
func TestRunLargeOutput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	out, err := NewManager().Run(ctx, bash(`for i in $(seq 1 20000); do echo "line $i padded to make it longer"; done; for i in $(seq 1 5000); do echo "err $i" >&2; done`))
	duration := time.Since(start)
	if err != nil {
		t.Fatalf("Expected no error, got: %v (took %v)", err, duration)
	}

	lines := strings.Split(strings.TrimSpace(string(out.Stdout)), "\n")
	if len(lines) != 20000 {
		t.Errorf("Expected 20000 lines of output, got %d", len(lines))
	}
	if n := bytes.Count(out.Stderr, []byte("\n")); n != 5000 {
		t.Errorf("Expected 5000 stderr lines, got %d", n)
	}
}

func TestRunStderrCapture(t *testing.T) {
	out, err := NewManager().Run(context.Background(), bash("echo error >&2; echo ok"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(string(out.Stdout), "ok") {
		t.Errorf("Expected stdout to contain 'ok', got: %s", out.Stdout)
	}
	if !strings.Contains(string(out.Stderr), "error") {
		t.Errorf("Expected stderr to contain 'error', got: %s", out.Stderr)
	}
}

func TestRunDirEnvStdin(t *testing.T) {
	dir := t.TempDir()
	out, err := NewManager().Run(context.Background(), Spec{
		Name:  "bash",
		Args:  []string{"-c", `pwd; echo "$GREETING"; cat`},
		Dir:   dir,
		Env:   []string{"GREETING=hi there"},
		Stdin: strings.NewReader("from stdin"),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := string(out.Stdout)
	for _, want := range []string{dir, "hi there", "from stdin"} {
		if !strings.Contains(got, want) {
			t.Errorf("stdout %q missing %q", got, want)
		}
	}
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	// The background child keeps stdout open; killing the group must close it.
	_, err := NewManager().Run(ctx, bash("sleep 30 & sleep 30"))
	if err == nil {
		t.Fatal("Expected error due to context cancellation, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v after cancellation", elapsed)
	}
}

func TestRunNonZeroExitCode(t *testing.T) {
	out, err := NewManager().Run(context.Background(), bash("echo test-output; echo broken >&2; exit 3"))
	if err == nil {
		t.Fatal("Expected error due to non-zero exit code, got nil")
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Errorf("Expected error to wrap *exec.ExitError, got %T", err)
	}
	if out.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", out.ExitCode)
	}
	if !strings.Contains(string(out.Stdout), "test-output") {
		t.Errorf("Expected stdout to be captured on failure, got: %s", out.Stdout)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("Expected stderr in error message, got: %v", err)
	}
}

func TestRunMissingBinary(t *testing.T) {
	_, err := NewManager().Run(context.Background(), Spec{Name: "definitely-not-a-real-binary-xyz"})
	if err == nil {
		t.Fatal("Expected error for missing binary")
	}
	if !strings.Contains(err.Error(), "failed to start") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNilManagerRunsUntracked(t *testing.T) {
	var m *Manager
	out, err := m.Run(context.Background(), Spec{Name: "echo", Args: []string{"ok"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(string(out.Stdout)) != "ok" {
		t.Errorf("unexpected stdout %q", out.Stdout)
	}
}

func TestManagerTrackAndKillAll(t *testing.T) {
	pm := NewManager()

	done := make(chan error, 1)
	go func() {
		_, err := pm.Run(context.Background(), bash("sleep 30 & sleep 300"))
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pm.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 1 tracked process, got %d", pm.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll failed: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected killed process to report an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after KillAll")
	}

	if pm.Count() != 0 {
		t.Errorf("Expected 0 tracked processes after Run returned, got %d", pm.Count())
	}
}

func TestSequentialRunsLeaveNoTrackedProcesses(t *testing.T) {
	pm := NewManager()
	for i := 1; i <= 15; i++ {
		out, err := pm.Run(context.Background(), Spec{Name: "echo", Args: []string{fmt.Sprintf("test-%d", i)}})
		if err != nil {
			t.Fatalf("Invocation %d failed: %v", i, err)
		}
		if !strings.Contains(string(out.Stdout), fmt.Sprintf("test-%d", i)) {
			t.Errorf("Invocation %d: unexpected output: %s", i, out.Stdout)
		}
	}
	if pm.Count() != 0 {
		t.Errorf("Expected no tracked processes, got %d", pm.Count())
	}
}
