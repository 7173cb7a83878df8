// Package process runs subprocesses in their own process group so that a
// cancelled task takes its whole subprocess tree down with it.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Spec describes a command to run.
type Spec struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string // Appended to the inherited environment when non-nil
	Stdin io.Reader
}

// Output is what a finished command produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// waitDelay bounds how long Wait blocks on pipes held open by grandchildren
// after the process group was killed.
const waitDelay = 2 * time.Second

// newCommand creates an exec.Cmd in its own process group. Cancelling ctx
// kills the whole group, not just the direct child.
func newCommand(ctx context.Context, spec Spec) *exec.Cmd {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = waitDelay
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	cmd.Stdin = spec.Stdin
	return cmd
}

// killProcessGroup sends SIGKILL to the command's whole process group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

// Manager tracks running subprocesses so they can all be killed on shutdown.
type Manager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewManager creates a new Manager.
func NewManager() *Manager {
	return &Manager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Run executes spec and waits for it. Both pipes are drained concurrently
// before Wait, so large outputs cannot deadlock the child. A non-zero exit is
// returned as an error wrapping *exec.ExitError, with Output still filled in.
// A nil Manager runs the command untracked.
func (m *Manager) Run(ctx context.Context, spec Spec) (Output, error) {
	cmd := newCommand(ctx, spec)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Output{}, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Output{}, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Output{}, fmt.Errorf("failed to start %s: %w", spec.Name, err)
	}
	m.track(cmd)
	defer m.untrack(cmd)

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderrBuf, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	out := Output{
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("%s interrupted: %w", spec.Name, ctxErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && len(out.Stderr) > 0 {
			return out, fmt.Errorf("%s failed: %w (stderr: %s)", spec.Name, waitErr, truncate(out.Stderr, 2000))
		}
		return out, fmt.Errorf("%s failed: %w", spec.Name, waitErr)
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func (m *Manager) track(cmd *exec.Cmd) {
	if m == nil || cmd.Process == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs[cmd.Process.Pid] = cmd
}

func (m *Manager) untrack(cmd *exec.Cmd) {
	if m == nil || cmd.Process == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, cmd.Process.Pid)
}

// KillAll terminates every tracked process group.
func (m *Manager) KillAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for pid, cmd := range m.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked processes.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procs)
}
