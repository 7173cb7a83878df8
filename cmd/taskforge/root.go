package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	dir      string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "taskforge",
		Short: "Run dependency-ordered agent tasks with permission-gated tools",
		Long: `taskforge executes a plan of tasks, each handled by a typed agent
(planner, search, code, review, test, research). Tasks run concurrently once
their dependencies are done. Agents act through a fixed set of tools, and
every non-read tool call passes a permission gate.

Configuration is layered: defaults, ~/.taskforge/config.yaml,
.taskforge/config.yaml in the project, then TASKFORGE_* environment
variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "Project directory")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		newRunCmd(opts),
		newPlanCmd(),
		newToolsCmd(opts),
		newConfigCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}
