package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crucialwebstudio/amify/pkg/cloud"
	"github.com/crucialwebstudio/amify/pkg/ui"
)

var errNoRegion = errors.New("no region: use --region or set region in the global config")

type imagesFlags struct {
	region  string
	profile string
}

func (f *imagesFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.region, "region", "", "AWS region (defaults to the global config)")
	cmd.Flags().StringVar(&f.profile, "profile", "", "AWS shared config profile")
}

func (f *imagesFlags) client(cmd *cobra.Command, o *globalOptions) (*cloud.Client, error) {
	region := firstNonEmpty(f.region, o.cfg.Region)
	if region == "" {
		return nil, errNoRegion
	}
	factory := cloud.NewFactory(firstNonEmpty(f.profile, o.cfg.Profile), cloud.WithFactoryLogger(o.logger))
	return factory.Client(cmd.Context(), region)
}

// newImagesCmd creates the images subcommand
func newImagesCmd(o *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Manage AMIs built by amify",
		Long:  `List and deregister images owned by this account that amify built.`,
	}

	cmd.AddCommand(
		newImagesListCmd(o),
		newImagesDeregisterCmd(o),
	)

	return cmd
}

func newImagesListCmd(o *globalOptions) *cobra.Command {
	var f imagesFlags
	var namePrefix string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List images built by amify",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := f.client(cmd, o)
			if err != nil {
				return err
			}
			images, err := client.ListImages(cmd.Context(), namePrefix)
			if err != nil {
				return err
			}
			ui.NewPrinter(cmd.OutOrStdout()).PrintImages(images)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&namePrefix, "name-prefix", "", "only list images whose name starts with this prefix")

	return cmd
}

func newImagesDeregisterCmd(o *globalOptions) *cobra.Command {
	var f imagesFlags
	var keepSnapshots bool

	cmd := &cobra.Command{
		Use:   "deregister <ami-id>",
		Short: "Deregister an image and delete its snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := f.client(cmd, o)
			if err != nil {
				return err
			}
			if err := client.DeregisterImage(cmd.Context(), args[0], !keepSnapshots); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deregistered %s in %s\n", args[0], client.Region())
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&keepSnapshots, "keep-snapshots", false, "keep the image's EBS snapshots")

	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
