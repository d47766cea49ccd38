package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/crucialwebstudio/amify/pkg/builder"
	"github.com/crucialwebstudio/amify/pkg/cloud"
	"github.com/crucialwebstudio/amify/pkg/globalconfig"
	"github.com/crucialwebstudio/amify/pkg/history"
	"github.com/crucialwebstudio/amify/pkg/metrics"
	"github.com/crucialwebstudio/amify/pkg/provision"
	"github.com/crucialwebstudio/amify/pkg/ui"
)

type buildFlags struct {
	definitionFlags
	dryRun        bool
	keepOnFailure bool
	tui           bool
	onlyRegion    bool
	metricsFile   string
}

// newBuildCmd creates the build subcommand
func newBuildCmd(o *globalOptions) *cobra.Command {
	var f buildFlags

	cmd := &cobra.Command{
		Use:   "build <file>",
		Short: "Build an AMI from a build definition",
		Long: `Build an AMI from a YAML or HCL build definition.

The build launches a temporary instance, provisions it, creates the image,
copies and shares it, then removes the temporary instance, key pair and
security group. Interrupting a build still removes those resources.

Examples:
  amify build web.yml
  amify build web.yml --var env=prod --var-file prod.env
  amify build web.hcl --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), cmd, o, args[0], f)
		},
	}

	f.register(cmd)
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "validate and resolve the source image without launching anything")
	cmd.Flags().BoolVar(&f.keepOnFailure, "keep-on-failure", false, "leave temporary resources running when the build fails")
	cmd.Flags().BoolVar(&f.tui, "tui", false, "show an interactive progress view")
	cmd.Flags().BoolVar(&f.onlyRegion, "only-region", false, "build in the primary region only, skipping ami_regions copies")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics for the build to this file")

	return cmd
}

// runBuild loads the definition, runs the build and records the outcome.
func runBuild(ctx context.Context, cmd *cobra.Command, o *globalOptions, path string, f buildFlags) error {
	cfg, err := f.loadDefinition(o, path)
	if err != nil {
		return err
	}
	if f.onlyRegion {
		cfg.AMIRegions = nil
	}

	keyDir, err := globalconfig.GetKeysDir()
	if err != nil {
		return fmt.Errorf("failed to get keys directory: %w", err)
	}

	logger := o.logger
	if f.tui {
		// The progress view owns the terminal.
		logger = log.New(io.Discard)
	}

	factory := cloud.NewFactory(cfg.Profile, cloud.WithFactoryLogger(logger))
	opts := []builder.Option{
		builder.WithClients(factory),
		builder.WithLogger(logger),
		builder.WithKeyDir(keyDir),
		builder.WithProvisionerFactory(provision.New, provision.Options{
			AnsiblePlaybookBin: o.cfg.AnsiblePlaybookBin,
			Logger:             logger,
		}),
	}

	metricsFile := f.metricsFile
	if metricsFile == "" {
		metricsFile = o.cfg.MetricsFile
	}
	var m *metrics.Metrics
	if metricsFile != "" {
		m = metrics.New()
		opts = append(opts, builder.WithMetrics(m))
	}

	b := builder.New(opts...)
	buildOpts := builder.BuildOptions{
		DryRun:        f.dryRun,
		KeepOnFailure: f.keepOnFailure || o.cfg.KeepOnFailure,
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	var result *builder.Result
	var buildErr error
	if f.tui {
		result, buildErr = ui.RunBuild(ctx, "Building "+cfg.Name, func(ctx context.Context, progress builder.ProgressCallback) (*builder.Result, error) {
			return b.Build(ctx, cfg, buildOpts, progress)
		})
		if errors.Is(buildErr, ui.ErrAborted) {
			return buildErr
		}
	} else {
		result, buildErr = b.Build(ctx, cfg, buildOpts, printer.Progress)
	}

	printer.PrintResult(result)

	if result != nil {
		recordBuild(o, result, cfg.Path)
	}
	if m != nil {
		if err := m.WriteTextfile(metricsFile); err != nil {
			o.logger.Warn("failed to write metrics", "path", metricsFile, "err", err)
		}
	}

	return buildErr
}

// recordBuild appends the result to the build history. Failures are logged
// and never change the build outcome.
func recordBuild(o *globalOptions, result *builder.Result, file string) {
	store, err := openHistory(o)
	if err != nil {
		o.logger.Warn("failed to open build history", "err", err)
		return
	}
	if err := store.Append(history.FromResult(result, file)); err != nil {
		o.logger.Warn("failed to record build", "err", err)
	}
}

func openHistory(o *globalOptions) (*history.Store, error) {
	path, err := globalconfig.GetHistoryPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get history path: %w", err)
	}
	return history.NewStore(path, o.cfg.HistoryLimit), nil
}
