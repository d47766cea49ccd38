package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crucialwebstudio/amify/pkg/ui"
	"github.com/crucialwebstudio/amify/pkg/validation"
)

// newValidateCmd creates the validate subcommand
func newValidateCmd(o *globalOptions) *cobra.Command {
	var f definitionFlags

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a build definition",
		Long:  `Render, parse and check a build definition without contacting AWS.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, o, args[0], f)
		},
	}
	f.register(cmd)

	return cmd
}

// runValidate prints every issue in the definition and fails on errors.
func runValidate(cmd *cobra.Command, o *globalOptions, path string, f definitionFlags) error {
	cfg, err := f.loadDefinition(o, path)
	if err != nil {
		return err
	}

	result := validation.ValidateBuild(cfg, path)
	out := cmd.OutOrStdout()
	if ui.NewPrinter(out).PrintIssues(result) {
		fmt.Fprintln(out, "Build definition is valid.")
		return nil
	}

	if result.HasErrors() {
		return fmt.Errorf("validation failed with %d error(s)", result.ErrorCount())
	}

	fmt.Fprintf(out, "\nValidation passed with %d warning(s).\n", result.WarningCount())
	return nil
}
