package doctor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucialwebstudio/amify/pkg/cloud"
)

// MockExecutor is a mock command executor for testing.
type MockExecutor struct {
	LookPathFunc       func(file string) (string, error)
	RunFunc            func(name string, args ...string) (string, error)
	CombinedOutputFunc func(name string, args ...string) ([]byte, error)
	FileExistsFunc     func(path string) bool
}

func (m *MockExecutor) LookPath(file string) (string, error) {
	if m.LookPathFunc != nil {
		return m.LookPathFunc(file)
	}
	return "/usr/bin/" + file, nil
}

func (m *MockExecutor) Run(name string, args ...string) (string, error) {
	if m.RunFunc != nil {
		return m.RunFunc(name, args...)
	}
	return "1.0.0", nil
}

func (m *MockExecutor) CombinedOutput(name string, args ...string) ([]byte, error) {
	if m.CombinedOutputFunc != nil {
		return m.CombinedOutputFunc(name, args...)
	}
	return nil, nil
}

func (m *MockExecutor) FileExists(path string) bool {
	if m.FileExistsFunc != nil {
		return m.FileExistsFunc(path)
	}
	return true
}

// MockEnv is a map-backed EnvGetter.
type MockEnv map[string]string

func (m MockEnv) Getenv(key string) string {
	return m[key]
}

func notFound(string) (string, error) {
	return "", errors.New("not found")
}

const ansibleVersionOutput = `ansible-playbook [core 2.16.3]
  config file = None
  python version = 3.12.3`

func TestCheckAnsiblePlaybook_Installed(t *testing.T) {
	exec := &MockExecutor{
		RunFunc: func(name string, args ...string) (string, error) {
			assert.Equal(t, "/usr/bin/ansible-playbook", name)
			assert.Equal(t, []string{"--version"}, args)
			return ansibleVersionOutput, nil
		},
	}

	check := CheckAnsiblePlaybook(exec, "")
	assert.Equal(t, IDAnsiblePlaybook, check.ID)
	assert.Equal(t, StatusOK, check.Status)
	assert.Equal(t, "2.16.3", check.Message)
}

func TestCheckAnsiblePlaybook_CustomBin(t *testing.T) {
	var looked string
	exec := &MockExecutor{
		LookPathFunc: func(file string) (string, error) {
			looked = file
			return file, nil
		},
		RunFunc: func(string, ...string) (string, error) {
			return "", errors.New("exit status 1")
		},
	}

	check := CheckAnsiblePlaybook(exec, "/opt/ansible/bin/ansible-playbook")
	assert.Equal(t, "/opt/ansible/bin/ansible-playbook", looked)
	assert.Equal(t, StatusOK, check.Status)
	assert.Equal(t, "installed (version unknown)", check.Message)
}

func TestCheckAnsiblePlaybook_NotInstalled(t *testing.T) {
	check := CheckAnsiblePlaybook(&MockExecutor{LookPathFunc: notFound}, "")
	assert.Equal(t, StatusMissing, check.Status)
	assert.Equal(t, "not installed", check.Message)
}

func TestCheckAnsibleGalaxy(t *testing.T) {
	t.Run("next to a custom playbook binary", func(t *testing.T) {
		var looked string
		exec := &MockExecutor{
			LookPathFunc: func(file string) (string, error) {
				looked = file
				return file, nil
			},
			RunFunc: func(string, ...string) (string, error) {
				return "ansible-galaxy [core 2.16.3]", nil
			},
		}
		check := CheckAnsibleGalaxy(exec, "/opt/ansible/bin/ansible-playbook")
		assert.Equal(t, "/opt/ansible/bin/ansible-galaxy", looked)
		assert.Equal(t, "2.16.3", check.Message)
	})

	t.Run("missing is a warning", func(t *testing.T) {
		check := CheckAnsibleGalaxy(&MockExecutor{LookPathFunc: notFound}, "ansible-playbook")
		assert.Equal(t, StatusWarning, check.Status)
		assert.Contains(t, check.Message, "requirements")
	})
}

func TestCheckSSH(t *testing.T) {
	exec := &MockExecutor{
		RunFunc: func(name string, args ...string) (string, error) {
			return "OpenSSH_9.6p1 Ubuntu-3ubuntu13, OpenSSL 3.0.13 30 Jan 2024", nil
		},
	}
	check := CheckSSH(exec)
	assert.Equal(t, StatusOK, check.Status)
	assert.Equal(t, "9.6p1", check.Message)
}

func TestCheckAWSCredentials(t *testing.T) {
	tests := []struct {
		name    string
		env     MockEnv
		files   map[string]bool
		status  CheckStatus
		message string
	}{
		{
			name:    "access keys",
			env:     MockEnv{"AWS_ACCESS_KEY_ID": "AKIAEXAMPLE"},
			status:  StatusOK,
			message: "environment (AWS_ACCESS_KEY_ID)",
		},
		{
			name:    "web identity",
			env:     MockEnv{"AWS_WEB_IDENTITY_TOKEN_FILE": "/var/run/token"},
			status:  StatusOK,
			message: "web identity token",
		},
		{
			name:    "shared config with profile",
			env:     MockEnv{"HOME": "/home/dev", "AWS_PROFILE": "images"},
			files:   map[string]bool{"/home/dev/.aws/config": true},
			status:  StatusOK,
			message: "/home/dev/.aws/config (profile images)",
		},
		{
			name:    "custom credentials file",
			env:     MockEnv{"AWS_SHARED_CREDENTIALS_FILE": "/etc/aws/creds"},
			files:   map[string]bool{"/etc/aws/creds": true},
			status:  StatusOK,
			message: "/etc/aws/creds",
		},
		{
			name:    "nothing",
			env:     MockEnv{"HOME": "/home/dev"},
			status:  StatusMissing,
			message: "no credentials found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &MockExecutor{
				FileExistsFunc: func(path string) bool { return tt.files[path] },
			}
			check := CheckAWSCredentials(exec, tt.env)
			assert.Equal(t, tt.status, check.Status)
			assert.Equal(t, tt.message, check.Message)
		})
	}
}

func TestCheckAWSIdentity(t *testing.T) {
	ctx := context.Background()

	check := CheckAWSIdentity(ctx, nil)
	assert.Equal(t, StatusWarning, check.Status)

	check = CheckAWSIdentity(ctx, func(context.Context) (*cloud.Identity, error) {
		return &cloud.Identity{Account: "123456789012", ARN: "arn:aws:iam::123456789012:user/builder"}, nil
	})
	assert.Equal(t, StatusOK, check.Status)
	assert.Equal(t, "arn:aws:iam::123456789012:user/builder (account 123456789012)", check.Message)

	check = CheckAWSIdentity(ctx, func(context.Context) (*cloud.Identity, error) {
		return nil, errors.New("ExpiredToken")
	})
	assert.Equal(t, StatusError, check.Status)
	assert.Contains(t, check.Message, "ExpiredToken")
}

func TestChecker_CheckGroup(t *testing.T) {
	exec := &MockExecutor{
		RunFunc: func(name string, args ...string) (string, error) {
			return ansibleVersionOutput, nil
		},
	}
	checker := NewChecker(WithExecutor(exec), WithEnv(MockEnv{}))

	group := checker.CheckGroup(context.Background(), GroupProvisioning)
	assert.Equal(t, GroupProvisioning, group.ID)
	assert.Equal(t, "Provisioning", group.Name)
	require.Len(t, group.Checks, 3)
	assert.Equal(t, IDAnsiblePlaybook, group.Checks[0].ID)
	assert.Equal(t, StatusOK, group.Checks[0].Status)

	unknown := checker.CheckGroup(context.Background(), "nope")
	assert.Equal(t, "Unknown", unknown.Name)
	assert.Empty(t, unknown.Checks)
}

func TestChecker_CheckAll(t *testing.T) {
	exec := &MockExecutor{FileExistsFunc: func(string) bool { return false }}
	checker := NewChecker(WithExecutor(exec), WithEnv(MockEnv{}))

	sync := checker.CheckAll(context.Background())
	async := checker.CheckAllAsync(context.Background())
	require.Len(t, sync, 2)
	assert.Equal(t, sync, async)
	assert.Equal(t, GroupProvisioning, async[0].ID)
	assert.Equal(t, GroupAWS, async[1].ID)

	assert.True(t, HasIssues(sync), "missing credentials is an issue")
	summary := GetSummary(sync)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 1, summary.Missing)
	assert.Equal(t, 1, summary.Warnings)
}

func TestChecker_Online(t *testing.T) {
	called := false
	checker := NewChecker(
		WithExecutor(&MockExecutor{}),
		WithEnv(MockEnv{"AWS_ACCESS_KEY_ID": "AKIAEXAMPLE"}),
		WithIdentity(func(ctx context.Context) (*cloud.Identity, error) {
			called = true
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return &cloud.Identity{Account: "123456789012", ARN: "arn"}, nil
		}),
	)

	check := checker.GetCheck(context.Background(), IDAWSIdentity)
	assert.True(t, called)
	assert.Equal(t, StatusOK, check.Status)
}

func TestHasIssues(t *testing.T) {
	tests := []struct {
		name     string
		groups   []CheckGroup
		expected bool
	}{
		{
			name:     "no issues",
			groups:   []CheckGroup{{Checks: []Check{{Status: StatusOK}, {Status: StatusOK}}}},
			expected: false,
		},
		{
			name:     "has missing",
			groups:   []CheckGroup{{Checks: []Check{{Status: StatusOK}, {Status: StatusMissing}}}},
			expected: true,
		},
		{
			name:     "has error",
			groups:   []CheckGroup{{Checks: []Check{{Status: StatusOK}, {Status: StatusError}}}},
			expected: true,
		},
		{
			name:     "warning only",
			groups:   []CheckGroup{{Checks: []Check{{Status: StatusOK}, {Status: StatusWarning}}}},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HasIssues(tt.groups))
		})
	}
}

func TestCheckStatus_String(t *testing.T) {
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "missing", StatusMissing.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "warning", StatusWarning.String())
	assert.Equal(t, "unknown", CheckStatus(42).String())
}

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		output   string
		expected string
	}{
		{"ansible-playbook [core 2.16.3]", "2.16.3"},
		{"version 2.3.4", "2.3.4"},
		{"tool 1.2.3-beta", "1.2.3-beta"},
		{"no version here", ""},
	}

	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractVersion(tt.output, nil))
		})
	}
}
