package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crucialwebstudio/amify/pkg/config"
)

// newRenderCmd creates the render subcommand
func newRenderCmd(o *globalOptions) *cobra.Command {
	var f definitionFlags

	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Print a rendered build definition",
		Long: `Render the build definition template with its variables and print the
result. Useful to check what helpers like now and var produce.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.loadOptions(o)
			if err != nil {
				return err
			}
			rendered, err := config.RenderFile(args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), rendered)
			return nil
		},
	}
	f.register(cmd)

	return cmd
}
