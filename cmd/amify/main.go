// Package main provides the amify CLI for building custom AMIs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/crucialwebstudio/amify/pkg/globalconfig"
	"github.com/crucialwebstudio/amify/pkg/ui"
)

// version is set via -ldflags during build
var version = "dev"

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()

	// Cobra handles error printing
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, ui.ErrAborted) {
			return exitInterrupted
		}
		return exitFailure
	}
	return exitOK
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string

	cfg    *globalconfig.Config
	logger *log.Logger
}

// newRootCmd creates the root command for amify
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "amify",
		Short: "Build custom Amazon Machine Images",
		Long: `amify builds custom Amazon Machine Images (AMIs).

It launches a temporary EC2 instance from a source AMI, provisions it with
Ansible and inline shell commands, snapshots it into a new AMI, optionally
copies and shares the image, and removes every temporary resource again.

Build definitions are YAML or HCL files rendered as templates first, so
values like the AMI name can carry timestamps and variables.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "global config file (default ~/.config/amify/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newBuildCmd(opts),
		newValidateCmd(opts),
		newRenderCmd(opts),
		newImagesCmd(opts),
		newHistoryCmd(opts),
		newDoctorCmd(opts),
		newInitCmd(opts),
		newVersionCmd(),
	)

	return rootCmd
}

// load reads the global config and sets up the logger.
func (o *globalOptions) load() error {
	cfg, err := globalconfig.LoadOrCreate(o.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	o.cfg = cfg

	levelName := o.logLevel
	if levelName == "" {
		levelName = cfg.LogLevel
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	o.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "amify",
		ReportTimestamp: true,
		Level:           level,
	})
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the amify version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "amify version %s\n", version)
		},
	}
}
