package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/persistence"
)

type historyOptions struct {
	limit int
	tools bool
	task  int
}

func newHistoryCmd(global *globalOptions) *cobra.Command {
	opts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `Without arguments, list recent runs. With a run ID, show its tasks;
--tools adds the tool call audit and --task shows one task's transitions.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(global.dir)
			if err != nil {
				return err
			}
			cfg, err := config.LoadDefault(dir)
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return errors.New("run history is disabled (store.path is empty)")
			}
			path := cfg.Store.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
				return nil
			}

			store, err := persistence.NewSQLiteStore(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 {
				return listRuns(cmd, store, opts.limit)
			}
			return showRun(cmd, store, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Number of runs to list (0 for all)")
	cmd.Flags().BoolVar(&opts.tools, "tools", false, "Include the tool call audit")
	cmd.Flags().IntVar(&opts.task, "task", -1, "Show the transitions of one task")
	return cmd
}

func listRuns(cmd *cobra.Command, store persistence.Store, limit int) error {
	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tDONE\tFAILED\tDURATION")
	for _, run := range runs {
		duration := "running"
		if run.Finished() {
			duration = run.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			run.ID, run.StartedAt.Format(time.DateTime), run.Done, run.Failed, duration)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, store persistence.Store, runID string, opts *historyOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s  started %s\n\n", bold("Run"), run.ID, run.StartedAt.Format(time.DateTime))

	if opts.task >= 0 {
		return showTransitions(cmd, store, runID, opts.task)
	}

	tasks, err := store.ListTasks(ctx, runID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tAGENT\tSTATUS\tRETRIES\tOUTCOME")
	for _, task := range tasks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			task.Index, task.AgentType, task.Status, task.RetryCount, firstLine(task.Outcome()))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !opts.tools {
		return nil
	}
	calls, err := store.ToolCalls(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	return writeToolCalls(out, calls)
}

func showTransitions(cmd *cobra.Command, store persistence.Store, runID string, index int) error {
	history, err := store.Transitions(cmd.Context(), runID, index)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tEVENT\tSTATUS\tDETAIL")
	for _, t := range history {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.At.Format(time.TimeOnly), t.Event, t.Status, firstLine(t.Detail))
	}
	return w.Flush()
}

func writeToolCalls(out io.Writer, calls []persistence.ToolCall) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tAGENT\tTOOL\tPERMISSION\tRESULT")
	for _, call := range calls {
		result := green("ok")
		if !call.OK {
			result = red(call.Kind) + " " + firstLine(call.Error)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", call.TaskIndex, call.AgentType, call.Tool, call.Permission, result)
	}
	return w.Flush()
}
