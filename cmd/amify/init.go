package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crucialwebstudio/amify/pkg/config"
	"github.com/crucialwebstudio/amify/pkg/globalconfig"
)

// newInitCmd creates the init subcommand
func newInitCmd(o *globalOptions) *cobra.Command {
	var format string
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create an example build definition",
		Long: `Write an example build definition and Ansible playbook into path
(the current directory by default), and create the global config
at ~/.config/amify/config.yaml if it does not exist yet.

Examples:
  amify init                   # amify.yml in the current directory
  amify init images/web        # into images/web
  amify init --format hcl .    # amify.hcl instead of YAML`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(cmd, o, dir, format, force)
		},
	}
	cmd.Flags().StringVar(&format, "format", config.FormatYAML, "definition format: yaml or hcl")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

func runInit(cmd *cobra.Command, o *globalOptions, dir, format string, force bool) error {
	out := cmd.OutOrStdout()

	written, err := config.WriteExample(dir, format, force)
	for _, path := range written {
		fmt.Fprintf(out, "Created %s\n", path)
	}
	if err != nil {
		return err
	}

	cfg, err := globalconfig.Init(o.configPath, false)
	switch {
	case errors.Is(err, globalconfig.ErrConfigExists):
		return nil
	case err != nil:
		return fmt.Errorf("failed to create global config: %w", err)
	}
	fmt.Fprintf(out, "Config saved to: %s\n", cfg.Path())
	return nil
}
