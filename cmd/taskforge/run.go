package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/orchestrator"
	"github.com/aristath/taskforge/internal/permission"
	"github.com/aristath/taskforge/internal/persistence"
	"github.com/aristath/taskforge/internal/resilience"
	"github.com/aristath/taskforge/internal/scheduler"
	"github.com/aristath/taskforge/internal/tui"
)

type runOptions struct {
	tui         bool
	mode        string
	concurrency int
	noHistory   bool
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a plan",
		Long: `Execute every task in a plan file, dispatching each to its agent once
its dependencies are done. A failed task is retried once with a relaxed
timeout unless the failure is permanent; permanent failures fail every
dependent task.

The exit status is non-zero when any task failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, global, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.tui, "tui", false, "Show the live dashboard")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Permission mode: auto, suggest or ask")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Max concurrent tasks")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "Do not record the run")
	return cmd
}

func runPlan(cmd *cobra.Command, global *globalOptions, opts *runOptions, planPath string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, global, func(cfg *config.Config) {
		if opts.mode != "" {
			cfg.Permissions.Mode = opts.mode
		}
		if opts.concurrency > 0 {
			cfg.Runner.Concurrency = opts.concurrency
		}
		// The dashboard owns the terminal.
		if opts.tui && cfg.Logging.File == "" {
			cfg.Logging.File = filepath.Join(global.dir, ".taskforge", "taskforge.log")
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	manager := scheduler.NewManager()
	plan, _, err := scheduler.LoadPlan(planPath, manager)
	if err != nil {
		return err
	}

	mode, err := a.cfg.PermissionMode()
	if err != nil {
		return err
	}
	backends, err := a.cfg.BackendConfigs(a.workDir)
	if err != nil {
		return err
	}

	var tuiPrompter *tui.Prompter
	var prompter permission.Prompter
	switch {
	case mode != permission.ModeAsk:
	case opts.tui:
		tuiPrompter = tui.NewPrompter()
		prompter = tuiPrompter
	case isTerminal(os.Stdin):
		consent := permission.NewConsentChannel(a.cfg.Runner.Concurrency, tui.ConfirmInline)
		consent.Start(ctx)
		prompter = consent
	default:
		logrus.Warn("permission mode is ask but stdin is not a terminal; non-read tools will be denied")
	}
	gate := permission.NewGate(mode, prompter)

	runID := uuid.NewString()
	if !opts.noHistory && a.storePath() != "" {
		store, err := persistence.NewSQLiteStore(ctx, a.storePath())
		if err != nil {
			return err
		}
		defer store.Close()

		recorder := persistence.NewRecorder(store, manager, runID)
		if err := recorder.Start(ctx); err != nil {
			return err
		}
		recorder.Attach(a.bus)
	}

	runner := orchestrator.NewRunner(orchestrator.RunnerConfig{
		RunID:            runID,
		ConcurrencyLimit: a.cfg.Runner.Concurrency,
		TokenBudget:      a.cfg.Prompt.TokenBudget,
		Retry:            a.cfg.RetryPolicy(),
		Agents:           a.agents,
		Executor:         a.executor(gate),
		Breakers:         resilience.NewBreakerRegistry(a.cfg.BreakerSettings()),
		BackendConfigs:   backends,
		FS:               a.fs,
		WorkDir:          a.workDir,
		Locks:            a.locks,
		Processes:        a.procs,
		EventBus:         a.bus,
	}, manager)

	logrus.WithFields(logrus.Fields{
		"plan":  plan.Name,
		"tasks": manager.Len(),
		"mode":  mode,
	}).Info("starting plan")

	var summary orchestrator.Summary
	if opts.tui {
		summary, err = runWithDashboard(ctx, a.bus, runner, tuiPrompter)
	} else {
		out := cmd.OutOrStdout()
		if plan.Goal != "" {
			fmt.Fprintf(out, "%s %s\n\n", bold("Goal:"), plan.Goal)
		}
		a.bus.SubscribeFunc(events.AllTopics, newProgressPrinter(out).Handle)
		summary, err = runner.Run(ctx)
		printSummary(out, summary, manager.Tasks())
	}

	if err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", summary.Failed, summary.Total)
	}
	return nil
}

// runWithDashboard runs the plan while the TUI is on screen. Quitting the
// TUI cancels the run.
func runWithDashboard(ctx context.Context, bus *events.EventBus, runner *orchestrator.Runner, prompter *tui.Prompter) (orchestrator.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(tui.New(bus, prompter), tea.WithAltScreen(), tea.WithContext(ctx))

	type result struct {
		summary orchestrator.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := runner.Run(runCtx)
		done <- result{summary, err}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		logrus.WithError(err).Error("dashboard exited with error")
	}
	cancel()

	select {
	case r := <-done:
		return r.summary, r.err
	case <-time.After(10 * time.Second):
		return orchestrator.Summary{}, errors.New("shutdown timeout exceeded")
	}
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
