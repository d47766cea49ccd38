package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crucialwebstudio/amify/pkg/config"
	"github.com/crucialwebstudio/amify/pkg/envfile"
)

// definitionFlags are the template variable flags shared by commands that
// read a build definition.
type definitionFlags struct {
	vars     []string
	varFiles []string
}

func (f *definitionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.vars, "var", nil, "template variable as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&f.varFiles, "var-file", nil, "file of KEY=VALUE template variables (repeatable)")
}

func (f *definitionFlags) loadOptions(o *globalOptions) (config.LoadOptions, error) {
	vars, err := envfile.ParseAssignments(f.vars)
	if err != nil {
		return config.LoadOptions{}, fmt.Errorf("invalid --var: %w", err)
	}
	return config.LoadOptions{
		Vars:     vars,
		VarFiles: f.varFiles,
		Defaults: o.cfg.Defaults(),
	}, nil
}

// loadDefinition renders, parses and defaults the build definition at path.
func (f *definitionFlags) loadDefinition(o *globalOptions, path string) (*config.BuildConfig, error) {
	opts, err := f.loadOptions(o)
	if err != nil {
		return nil, err
	}
	return config.Load(path, opts)
}
