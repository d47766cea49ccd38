package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crucialwebstudio/amify/pkg/cloud"
	"github.com/crucialwebstudio/amify/pkg/doctor"
	"github.com/crucialwebstudio/amify/pkg/ui"
)

var errDoctorIssues = errors.New("some dependencies are missing")

// newDoctorCmd creates the doctor subcommand
func newDoctorCmd(o *globalOptions) *cobra.Command {
	var online, fix bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check local tools and AWS access",
		Long: `Check that ansible-playbook, the ssh client and AWS credentials are
available. With --online the credentials are verified against AWS STS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := []doctor.Option{doctor.WithAnsibleBin(o.cfg.AnsiblePlaybookBin)}
			if online {
				factory := cloud.NewFactory(o.cfg.Profile, cloud.WithFactoryLogger(o.logger))
				opts = append(opts, doctor.WithIdentity(factory.Identity))
			}
			return runDoctor(cmd, doctor.NewChecker(opts...), doctor.NewFixer(), fix)
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "verify AWS credentials with STS")
	cmd.Flags().BoolVar(&fix, "fix", false, "run the suggested install commands for missing tools")

	return cmd
}

func runDoctor(cmd *cobra.Command, checker *doctor.Checker, fixer *doctor.Fixer, fix bool) error {
	out := cmd.OutOrStdout()
	printer := ui.NewPrinter(out)

	groups := checker.CheckAllAsync(cmd.Context())
	printer.PrintDoctor(groups)

	if fix {
		fixable := doctor.Fixable(groups)
		for _, c := range fixable {
			fmt.Fprintf(out, "\nFixing %s: %s\n", c.Name, c.FixCommand.Command)
			if err := fixer.RunFix(c.FixCommand); err != nil {
				fmt.Fprintf(out, "  failed: %v\n", err)
			}
		}
		if len(fixable) > 0 {
			fmt.Fprintln(out)
			groups = checker.CheckAllAsync(cmd.Context())
			printer.PrintDoctor(groups)
		}
	}

	if doctor.HasIssues(groups) {
		return errDoctorIssues
	}
	return nil
}
