package doctor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/crucialwebstudio/amify/pkg/cloud"
)

// EnvGetter is an interface for getting environment variables (allows testing).
type EnvGetter interface {
	Getenv(key string) string
}

// RealEnvGetter gets environment variables from the real environment.
type RealEnvGetter struct{}

// Getenv gets an environment variable.
func (e *RealEnvGetter) Getenv(key string) string {
	return os.Getenv(key)
}

// CommandExecutor is an interface for executing commands, allowing for testing.
type CommandExecutor interface {
	LookPath(file string) (string, error)
	Run(name string, args ...string) (string, error)
	CombinedOutput(name string, args ...string) ([]byte, error)
	FileExists(path string) bool
}

// RealExecutor is the default command executor that uses the real system.
type RealExecutor struct{}

// LookPath finds the path to an executable.
func (e *RealExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Run executes a command and returns its output.
func (e *RealExecutor) Run(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if stderr.Len() > 0 {
			return stderr.String(), err
		}
		return stdout.String(), err
	}

	// ssh -V prints its version on stderr
	output := stdout.String()
	if output == "" {
		output = stderr.String()
	}
	return output, nil
}

// CombinedOutput runs a command and returns combined stdout and stderr.
func (e *RealExecutor) CombinedOutput(name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	return cmd.CombinedOutput()
}

// FileExists checks if a file exists.
func (e *RealExecutor) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IdentityFunc resolves the caller's AWS identity.
type IdentityFunc func(ctx context.Context) (*cloud.Identity, error)

var defaultVersionRegex = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?(?:-[a-zA-Z0-9]+)?)`)

// checkTool checks if a tool is installed and gets its version.
func checkTool(exec CommandExecutor, id, bin, name, desc string, versionArgs []string, versionRegex *regexp.Regexp, fixCmd *FixCommand) Check {
	check := Check{
		ID:          id,
		Name:        name,
		Description: desc,
		FixCommand:  fixCmd,
	}

	path, err := exec.LookPath(bin)
	if err != nil {
		check.Status = StatusMissing
		check.Message = "not installed"
		return check
	}

	output, err := exec.Run(path, versionArgs...)
	if err != nil {
		// Tool exists but version check failed - still consider it OK
		check.Status = StatusOK
		check.Message = "installed (version unknown)"
		return check
	}

	check.Status = StatusOK
	if version := extractVersion(output, versionRegex); version != "" {
		check.Message = version
	} else {
		check.Message = "installed"
	}
	return check
}

// extractVersion extracts version string from command output.
func extractVersion(output string, regex *regexp.Regexp) string {
	if regex == nil {
		regex = defaultVersionRegex
	}
	matches := regex.FindStringSubmatch(output)
	if len(matches) >= 2 {
		return matches[1]
	}
	return ""
}

// CheckAnsiblePlaybook checks the ansible-playbook executable. bin may be a
// name on PATH or an absolute path.
func CheckAnsiblePlaybook(exec CommandExecutor, bin string) Check {
	if bin == "" {
		bin = "ansible-playbook"
	}
	return checkTool(
		exec,
		IDAnsiblePlaybook,
		bin,
		"ansible-playbook",
		"Runs playbooks against the builder instance",
		[]string{"--version"},
		regexp.MustCompile(`ansible-playbook \[core (\d+\.\d+\.\d+)\]`),
		GetFixCommand(IDAnsiblePlaybook, runtime.GOOS),
	)
}

// CheckAnsibleGalaxy checks ansible-galaxy. It is only needed for
// requirements files, so a missing binary is a warning.
func CheckAnsibleGalaxy(exec CommandExecutor, playbookBin string) Check {
	bin := "ansible-galaxy"
	if strings.ContainsRune(playbookBin, filepath.Separator) {
		bin = filepath.Join(filepath.Dir(playbookBin), "ansible-galaxy")
	}
	check := checkTool(
		exec,
		IDAnsibleGalaxy,
		bin,
		"ansible-galaxy",
		"Installs roles from requirements files",
		[]string{"--version"},
		regexp.MustCompile(`ansible-galaxy \[core (\d+\.\d+\.\d+)\]`),
		GetFixCommand(IDAnsibleGalaxy, runtime.GOOS),
	)
	if check.Status == StatusMissing {
		check.Status = StatusWarning
		check.Message = "not installed (needed for requirements)"
	}
	return check
}

// CheckSSH checks for the OpenSSH client ansible connects with.
func CheckSSH(exec CommandExecutor) Check {
	return checkTool(
		exec,
		IDSSH,
		"ssh",
		"OpenSSH client",
		"Transport used by ansible",
		[]string{"-V"},
		regexp.MustCompile(`OpenSSH_(\d+\.\d+(?:p\d+)?)`),
		GetFixCommand(IDSSH, runtime.GOOS),
	)
}

// CheckAWSCredentials looks for credentials in the environment or the
// shared config files. It does not contact AWS.
func CheckAWSCredentials(exec CommandExecutor, env EnvGetter) Check {
	check := Check{
		ID:          IDAWSCredentials,
		Name:        "AWS credentials",
		Description: "Access keys, a profile or a web identity",
		FixCommand:  GetFixCommand(IDAWSCredentials, runtime.GOOS),
	}

	switch {
	case env.Getenv("AWS_ACCESS_KEY_ID") != "":
		check.Status = StatusOK
		check.Message = "environment (AWS_ACCESS_KEY_ID)"
		return check
	case env.Getenv("AWS_WEB_IDENTITY_TOKEN_FILE") != "":
		check.Status = StatusOK
		check.Message = "web identity token"
		return check
	case env.Getenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI") != "" || env.Getenv("AWS_CONTAINER_CREDENTIALS_FULL_URI") != "":
		check.Status = StatusOK
		check.Message = "container credentials"
		return check
	}

	for _, path := range sharedConfigFiles(env) {
		if exec.FileExists(path) {
			check.Status = StatusOK
			check.Message = path
			if profile := env.Getenv("AWS_PROFILE"); profile != "" {
				check.Message = fmt.Sprintf("%s (profile %s)", path, profile)
			}
			return check
		}
	}

	check.Status = StatusMissing
	check.Message = "no credentials found"
	return check
}

// sharedConfigFiles returns the AWS shared credentials and config paths.
func sharedConfigFiles(env EnvGetter) []string {
	var paths []string
	if p := env.Getenv("AWS_SHARED_CREDENTIALS_FILE"); p != "" {
		paths = append(paths, p)
	}
	if p := env.Getenv("AWS_CONFIG_FILE"); p != "" {
		paths = append(paths, p)
	}
	home := env.Getenv("HOME")
	if home != "" {
		paths = append(paths,
			filepath.Join(home, ".aws", "credentials"),
			filepath.Join(home, ".aws", "config"),
		)
	}
	return paths
}

// CheckAWSIdentity calls STS GetCallerIdentity. A nil identity func means
// online checks are disabled.
func CheckAWSIdentity(ctx context.Context, identity IdentityFunc) Check {
	check := Check{
		ID:          IDAWSIdentity,
		Name:        "AWS identity",
		Description: "Credentials accepted by STS",
	}

	if identity == nil {
		check.Status = StatusWarning
		check.Message = "not checked (run with --online)"
		return check
	}

	id, err := identity(ctx)
	if err != nil {
		check.Status = StatusError
		check.Message = err.Error()
		return check
	}

	check.Status = StatusOK
	check.Message = fmt.Sprintf("%s (account %s)", id.ARN, id.Account)
	return check
}
