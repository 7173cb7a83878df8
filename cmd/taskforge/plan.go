package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/scheduler"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <plan.yaml>",
		Short: "Validate a plan and print its execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := scheduler.ReadPlan(args[0])
			if err != nil {
				return err
			}
			manager := scheduler.NewManager()
			indices, err := plan.Apply(manager)
			if err != nil {
				return err
			}
			if _, err := manager.Validate(); err != nil {
				return err
			}

			ids := make(map[int]string, len(indices))
			for id, index := range indices {
				ids[index] = id
			}

			out := cmd.OutOrStdout()
			if plan.Name != "" {
				fmt.Fprintf(out, "%s %s\n", bold("Plan:"), plan.Name)
			}
			if plan.Goal != "" {
				fmt.Fprintf(out, "%s %s\n", bold("Goal:"), plan.Goal)
			}
			fmt.Fprintln(out)

			for _, task := range manager.Tasks() {
				deps := make([]string, 0, len(task.DependsOn))
				for _, dep := range task.DependsOn {
					deps = append(deps, ids[dep])
				}
				line := fmt.Sprintf("%2d. %s [%s] %s", task.Index, cyan(ids[task.Index]), task.AgentType, firstLine(task.Description))
				if len(deps) > 0 {
					line += faint(" after " + strings.Join(deps, ", "))
				}
				if task.TimeoutOverride > 0 {
					line += faint(fmt.Sprintf(" (timeout %s)", task.TimeoutOverride))
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
