package doctor

import (
	"fmt"
)

// Platform constants.
const (
	PlatformDarwin = "darwin"
	PlatformLinux  = "linux"
)

// fixCommands defines platform-specific fix commands for each dependency.
var fixCommands = map[string]map[string]*FixCommand{
	IDAnsiblePlaybook: {
		PlatformDarwin: {
			Description: "Install via Homebrew",
			Command:     "brew install ansible",
			Platform:    PlatformDarwin,
		},
		PlatformLinux: {
			Description: "Install via pipx",
			Command:     "pipx install --include-deps ansible",
			Platform:    PlatformLinux,
		},
	},
	IDAnsibleGalaxy: {
		PlatformDarwin: {
			Description: "Install via Homebrew (ships with ansible)",
			Command:     "brew install ansible",
			Platform:    PlatformDarwin,
		},
		PlatformLinux: {
			Description: "Install via pipx (ships with ansible)",
			Command:     "pipx install --include-deps ansible",
			Platform:    PlatformLinux,
		},
	},
	IDSSH: {
		PlatformLinux: {
			Description: "Install the OpenSSH client via apt",
			Command:     "sudo apt install -y openssh-client",
			Sudo:        true,
			Platform:    PlatformLinux,
		},
	},
	IDAWSCredentials: {
		PlatformDarwin: {
			Description: "Configure a profile with the AWS CLI",
			Command:     "aws configure",
			Platform:    PlatformDarwin,
		},
		PlatformLinux: {
			Description: "Configure a profile with the AWS CLI",
			Command:     "aws configure",
			Platform:    PlatformLinux,
		},
	},
}

// GetFixCommand returns the fix command for a dependency on the given platform.
func GetFixCommand(toolID, platform string) *FixCommand {
	toolFixes, ok := fixCommands[toolID]
	if !ok {
		return nil
	}
	fix, ok := toolFixes[platform]
	if !ok {
		return nil
	}
	return fix
}

// Fixer provides functionality to run fix commands.
type Fixer struct {
	executor CommandExecutor
}

// NewFixer creates a new Fixer.
func NewFixer() *Fixer {
	return &Fixer{
		executor: &RealExecutor{},
	}
}

// NewFixerWithExecutor creates a new Fixer with a custom executor.
func NewFixerWithExecutor(exec CommandExecutor) *Fixer {
	return &Fixer{
		executor: exec,
	}
}

// RunFix executes a fix command.
func (f *Fixer) RunFix(fix *FixCommand) error {
	if fix == nil {
		return fmt.Errorf("no fix command available")
	}

	output, err := f.executor.CombinedOutput("sh", "-c", fix.Command)
	if err != nil {
		return fmt.Errorf("fix failed: %w\nOutput: %s", err, string(output))
	}
	return nil
}

// Fixable returns the checks with issues that have a fix command, skipping
// interactive fixes.
func Fixable(groups []CheckGroup) []Check {
	var checks []Check
	for _, g := range groups {
		for _, c := range g.Checks {
			if c.Status != StatusMissing || c.FixCommand == nil {
				continue
			}
			if c.ID == IDAWSCredentials {
				continue
			}
			checks = append(checks, c)
		}
	}
	return checks
}
