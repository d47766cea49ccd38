package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucialwebstudio/amify/pkg/doctor"
	"github.com/crucialwebstudio/amify/pkg/history"
)

// isolate points every config and state path at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, key := range []string{"AMIFY_REGION", "AWS_REGION", "AWS_DEFAULT_REGION", "AMIFY_PROFILE", "AWS_PROFILE", "AMIFY_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)

	err := rootCmd.Execute()
	return buf.String(), err
}

const validDefinition = `name: web
region: us-east-1
source_ami: ami-0123456789abcdef0
ami_name: "web-{{ var "env" }}"
provisioners:
  - type: shell
    inline:
      - echo hello
`

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "web.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewRootCmd(t *testing.T) {
	rootCmd := newRootCmd()

	assert.Equal(t, "amify", rootCmd.Use)
	assert.Equal(t, "Build custom Amazon Machine Images", rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
}

func TestRootCmdHelp(t *testing.T) {
	isolate(t)
	output, err := execute(t, "--help")
	require.NoError(t, err)

	for _, name := range []string{"build", "validate", "render", "images", "history", "doctor", "init", "version"} {
		assert.Contains(t, output, name)
	}
}

func TestRootCmdVersion(t *testing.T) {
	isolate(t)

	output, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, output, "amify version")

	output, err = execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "amify version dev\n", output)
}

func TestInvalidLogLevel(t *testing.T) {
	isolate(t)
	_, err := execute(t, "--log-level", "loud", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestSubcommandHelp(t *testing.T) {
	isolate(t)
	tests := []struct {
		name    string
		args    []string
		expects []string
	}{
		{
			name:    "build help",
			args:    []string{"build", "--help"},
			expects: []string{"--dry-run", "--keep-on-failure", "--tui", "--only-region", "--var-file"},
		},
		{
			name:    "validate help",
			args:    []string{"validate", "--help"},
			expects: []string{"without contacting AWS", "--var"},
		},
		{
			name:    "images help",
			args:    []string{"images", "--help"},
			expects: []string{"list", "deregister"},
		},
		{
			name:    "history help",
			args:    []string{"history", "--help"},
			expects: []string{"--limit", "show"},
		},
		{
			name:    "doctor help",
			args:    []string{"doctor", "--help"},
			expects: []string{"--online", "--fix"},
		},
		{
			name:    "init help",
			args:    []string{"init", "--help"},
			expects: []string{"--format", "--force"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, tt.args...)
			require.NoError(t, err)
			for _, expect := range tt.expects {
				assert.Contains(t, output, expect)
			}
		})
	}
}

func TestValidateCmd(t *testing.T) {
	isolate(t)

	t.Run("valid", func(t *testing.T) {
		output, err := execute(t, "validate", writeDefinition(t, validDefinition), "--var", "env=prod")
		require.NoError(t, err)
		assert.Contains(t, output, "Build definition is valid.")
	})

	t.Run("errors", func(t *testing.T) {
		path := writeDefinition(t, "name: web\nregion: us-east-1\n")
		output, err := execute(t, "validate", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
		assert.Contains(t, output, "ERROR")
	})

	t.Run("missing var", func(t *testing.T) {
		_, err := execute(t, "validate", writeDefinition(t, validDefinition))
		require.Error(t, err)
	})

	t.Run("bad var flag", func(t *testing.T) {
		_, err := execute(t, "validate", writeDefinition(t, validDefinition), "--var", "novalue")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--var")
	})
}

func TestRenderCmd(t *testing.T) {
	isolate(t)

	varFile := filepath.Join(t.TempDir(), "prod.env")
	require.NoError(t, os.WriteFile(varFile, []byte("env=staging\n"), 0644))

	output, err := execute(t, "render", writeDefinition(t, validDefinition), "--var-file", varFile)
	require.NoError(t, err)
	assert.Contains(t, output, "ami_name: \"web-staging\"")

	output, err = execute(t, "render", writeDefinition(t, validDefinition), "--var-file", varFile, "--var", "env=prod")
	require.NoError(t, err)
	assert.Contains(t, output, "ami_name: \"web-prod\"", "--var overrides var files")
}

func TestInitCmd(t *testing.T) {
	configHome := isolate(t)
	dir := filepath.Join(t.TempDir(), "images", "web")

	output, err := execute(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, output, "amify.yml")
	assert.Contains(t, output, "Config saved to:")
	assert.FileExists(t, filepath.Join(dir, "amify.yml"))
	assert.FileExists(t, filepath.Join(dir, "playbook.yml"))
	assert.FileExists(t, filepath.Join(configHome, "amify", "config.yaml"))

	_, err = execute(t, "init", dir)
	require.Error(t, err, "existing files need --force")

	output, err = execute(t, "init", "--force", "--format", "hcl", dir)
	require.NoError(t, err)
	assert.Contains(t, output, "amify.hcl")
	assert.NotContains(t, output, "Config saved to:", "existing global config is kept")

	output, err = execute(t, "validate", filepath.Join(dir, "amify.yml"))
	require.Error(t, err, "the example leaves region to the environment")
	assert.Contains(t, output, "region")

	t.Setenv("AWS_REGION", "eu-west-1")
	_, err = execute(t, "validate", filepath.Join(dir, "amify.yml"))
	require.NoError(t, err, "the example definition is valid")
	_, err = execute(t, "validate", filepath.Join(dir, "amify.hcl"))
	require.NoError(t, err, "the example definition is valid")
}

func TestHistoryCmd(t *testing.T) {
	configHome := isolate(t)

	output, err := execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, output, "No builds recorded yet.")

	store := history.NewStore(filepath.Join(configHome, "amify", "state", "history.json"), 0)
	require.NoError(t, store.Append(history.Record{ID: "0b7e2c1a-test-build", Name: "web", Region: "us-east-1", Success: true}))

	output, err = execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, output, "0b7e2c1a")

	output, err = execute(t, "history", "show", "0b7e")
	require.NoError(t, err)
	assert.Contains(t, output, "Build ID:   0b7e2c1a-test-build")

	_, err = execute(t, "history", "show", "ffff")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestImagesCmd_NoRegion(t *testing.T) {
	isolate(t)

	_, err := execute(t, "images", "list")
	assert.ErrorIs(t, err, errNoRegion)

	_, err = execute(t, "images", "deregister", "ami-0123456789abcdef0")
	assert.ErrorIs(t, err, errNoRegion)
}

type fakeExecutor struct {
	missing map[string]bool
	fixes   []string
}

func (f *fakeExecutor) LookPath(file string) (string, error) {
	if f.missing[file] {
		return "", errors.New("not found")
	}
	return "/usr/bin/" + file, nil
}

func (f *fakeExecutor) Run(name string, _ ...string) (string, error) {
	switch filepath.Base(name) {
	case "ansible-playbook":
		return "ansible-playbook [core 2.16.3]", nil
	case "ansible-galaxy":
		return "ansible-galaxy [core 2.16.3]", nil
	case "ssh":
		return "OpenSSH_9.6p1, OpenSSL 3.0.13", nil
	}
	return "", nil
}

func (f *fakeExecutor) CombinedOutput(name string, args ...string) ([]byte, error) {
	f.fixes = append(f.fixes, name+" "+strings.Join(args, " "))
	return nil, nil
}

func (f *fakeExecutor) FileExists(string) bool { return false }

type fakeEnv map[string]string

func (e fakeEnv) Getenv(key string) string { return e[key] }

func TestRunDoctor(t *testing.T) {
	env := fakeEnv{"AWS_ACCESS_KEY_ID": "AKIAEXAMPLE"}

	t.Run("healthy", func(t *testing.T) {
		exec := &fakeExecutor{}
		checker := doctor.NewChecker(doctor.WithExecutor(exec), doctor.WithEnv(env))

		cmd := &cobra.Command{}
		cmd.SetContext(context.Background())
		var buf bytes.Buffer
		cmd.SetOut(&buf)

		require.NoError(t, runDoctor(cmd, checker, doctor.NewFixerWithExecutor(exec), false))
		assert.Contains(t, buf.String(), "2.16.3")
		assert.Contains(t, buf.String(), "0 missing")
	})

	t.Run("missing with fix", func(t *testing.T) {
		if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
			t.Skip("no fix commands on " + runtime.GOOS)
		}
		exec := &fakeExecutor{missing: map[string]bool{"ansible-playbook": true}}
		checker := doctor.NewChecker(doctor.WithExecutor(exec), doctor.WithEnv(env))

		cmd := &cobra.Command{}
		cmd.SetContext(context.Background())
		var buf bytes.Buffer
		cmd.SetOut(&buf)

		err := runDoctor(cmd, checker, doctor.NewFixerWithExecutor(exec), true)
		assert.ErrorIs(t, err, errDoctorIssues)
		require.NotEmpty(t, exec.fixes)
		assert.True(t, strings.HasPrefix(exec.fixes[0], "sh -c "))
		assert.Contains(t, buf.String(), "Fixing")
	})
}
