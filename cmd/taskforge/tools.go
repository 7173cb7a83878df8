package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/mcpserver"
	"github.com/aristath/taskforge/internal/permission"
)

func newToolsCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect or serve the tool registry",
	}
	cmd.AddCommand(newToolsListCmd(global), newToolsServeCmd(global))
	return cmd
}

func newToolsListCmd(global *globalOptions) *cobra.Command {
	var agentType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		Long:  "List registered tools. With --agent, only the tools that agent is offered.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), global, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			var perms permission.Set
			var allows func(string) bool
			if agentType != "" {
				capability, err := a.agents.Lookup(agentType)
				if err != nil {
					return err
				}
				perms = capability.Permissions
				allows = capability.Allows
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPERMISSION\tDESCRIPTION")
			for _, tool := range a.tools.List() {
				def := tool.Definition()
				if allows != nil && (!allows(def.Name) || !permission.HasPermission(perms, tool.Permission())) {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", def.Name, tool.Permission(), firstLine(def.Description))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&agentType, "agent", "", "Only show tools offered to this agent type")
	return cmd
}

func newToolsServeCmd(global *globalOptions) *cobra.Command {
	var perms []string
	var allow []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool registry over MCP on stdio",
		Long: `Serve the tool registry to an MCP client over stdin and stdout. Only
tools whose permission is granted with --permissions are exposed. Calls pass
the same validation and permission gate as agent calls; the gate runs in auto
mode unless the configuration selects suggest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, global, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			set, err := permission.ParseSet(perms)
			if err != nil {
				return err
			}

			// stdin carries the protocol, so nobody can be asked.
			mode, err := a.cfg.PermissionMode()
			if err != nil {
				return err
			}
			if mode == permission.ModeAsk {
				mode = permission.ModeAuto
			}

			var allowed []string
			if len(allow) > 0 {
				allowed = allow
			}

			s := mcpserver.New(a.executor(permission.NewGate(mode, nil)), mcpserver.Config{
				Name:         "taskforge",
				Version:      version,
				Permissions:  set,
				AllowedTools: allowed,
				FS:           a.fs,
				WorkDir:      a.workDir,
				Locks:        a.locks,
			})

			logrus.WithFields(logrus.Fields{
				"permissions": set.String(),
				"allow":       strings.Join(allowed, ","),
			}).Info("serving tools over stdio")

			return mcpserver.ServeStdio(ctx, s, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringSliceVar(&perms, "permissions", []string{"read"}, "Permissions granted to clients")
	cmd.Flags().StringSliceVar(&allow, "allow", nil, "Only expose these tools")
	return cmd
}
