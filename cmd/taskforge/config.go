package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aristath/taskforge/internal/config"
)

func newConfigCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Show the configuration after merging defaults, the global and project
files and TASKFORGE_* environment variables. API keys are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(global.dir)
			if err != nil {
				return err
			}
			cfg, err := config.LoadDefault(dir)
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(masked(cfg))
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(newConfigInitCmd(global))
	return cmd
}

func newConfigInitCmd(global *globalOptions) *cobra.Command {
	var globalFile, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the project (or global) file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ProjectPath(global.dir)
			if globalFile {
				var err error
				if path, err = config.GlobalPath(); err != nil {
					return err
				}
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}

			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), "✓", "Wrote "+path, color.FgGreen)
			return nil
		},
	}

	cmd.Flags().BoolVar(&globalFile, "global", false, "Write ~/.taskforge/config.yaml instead")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// masked returns a copy of cfg with API keys hidden.
func masked(cfg *config.Config) *config.Config {
	out := *cfg
	out.Providers = make(map[string]config.ProviderConfig, len(cfg.Providers))
	for name, p := range cfg.Providers {
		if p.APIKey != "" {
			p.APIKey = "****"
		}
		out.Providers[name] = p
	}
	return &out
}
