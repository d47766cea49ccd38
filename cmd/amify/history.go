package main

import (
	"github.com/spf13/cobra"

	"github.com/crucialwebstudio/amify/pkg/ui"
)

// newHistoryCmd creates the history subcommand
func newHistoryCmd(o *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past builds",
		Long:  `List builds recorded on this machine, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory(o)
			if err != nil {
				return err
			}
			records, err := store.List()
			if err != nil {
				return err
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}
			ui.NewPrinter(cmd.OutOrStdout()).PrintHistory(records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of builds to show (0 for all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one build",
		Long:  `Show the details of a build. The id may be a unique prefix.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(o)
			if err != nil {
				return err
			}
			rec, err := store.Find(args[0])
			if err != nil {
				return err
			}
			ui.NewPrinter(cmd.OutOrStdout()).PrintRecord(*rec)
			return nil
		},
	})

	return cmd
}
