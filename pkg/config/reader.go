package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"github.com/crucialwebstudio/amify/pkg/envfile"
	"github.com/crucialwebstudio/amify/pkg/render"
)

// Supported build definition formats.
const (
	FormatYAML = "yaml"
	FormatHCL  = "hcl"
)

// ErrUnsupportedFormat is returned for files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported build definition format")

// LoadOptions controls how a build definition is loaded.
type LoadOptions struct {
	// Vars are command line variables. They override VarFiles.
	Vars map[string]string
	// VarFiles are KEY=VALUE files read in order.
	VarFiles []string
	// Defaults come from the global configuration.
	Defaults Defaults
	// Renderer renders the template. A default renderer is used when nil.
	Renderer *render.Renderer
}

// Load renders, parses and defaults the build definition at path.
func Load(path string, opts LoadOptions) (*BuildConfig, error) {
	rendered, err := RenderFile(path, opts)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(path, []byte(rendered))
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	cfg.Path = absPath
	cfg.ResolvePaths(filepath.Dir(absPath))
	cfg.ApplyDefaults(opts.Defaults)

	return cfg, nil
}

// RenderFile renders the template at path with the variables from opts.
func RenderFile(path string, opts LoadOptions) (string, error) {
	vars, err := MergeVars(opts.VarFiles, opts.Vars)
	if err != nil {
		return "", err
	}

	r := opts.Renderer
	if r == nil {
		r = render.NewRenderer()
	}
	return r.RenderFile(path, vars)
}

// MergeVars reads var files in order and applies overrides on top.
func MergeVars(varFiles []string, overrides map[string]string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, f := range varFiles {
		fileVars, err := envfile.Parse(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read var file: %w", err)
		}
		maps.Copy(vars, fileVars)
	}
	maps.Copy(vars, overrides)
	return vars, nil
}

// FormatFor returns the definition format implied by the file name.
func FormatFor(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yml", ".yaml", ".json":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", fmt.Errorf("%w: %s (use .yml, .yaml, .json or .hcl)", ErrUnsupportedFormat, name)
	}
}

// Parse decodes a rendered build definition. name selects the format.
func Parse(name string, data []byte) (*BuildConfig, error) {
	format, err := FormatFor(name)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatHCL:
		return parseHCL(name, data)
	default:
		return parseYAML(name, data)
	}
}

func parseYAML(name string, data []byte) (*BuildConfig, error) {
	var cfg BuildConfig

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: build definition is empty", name)
		}
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}

	return &cfg, nil
}

func parseHCL(name string, data []byte) (*BuildConfig, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, name)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", name, diagError(diags))
	}

	var cfg BuildConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %w", name, diagError(diags))
	}

	return &cfg, nil
}

// diagError flattens HCL diagnostics into a single error.
func diagError(diags hcl.Diagnostics) error {
	var msgs []string
	for _, d := range diags.Errs() {
		msgs = append(msgs, d.Error())
	}
	return errors.New(strings.Join(msgs, "; "))
}
