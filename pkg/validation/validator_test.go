package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucialwebstudio/amify/pkg/config"
)

func validConfig(t *testing.T) *config.BuildConfig {
	t.Helper()
	playbook := filepath.Join(t.TempDir(), "site.yml")
	require.NoError(t, os.WriteFile(playbook, []byte("- hosts: all\n"), 0644))

	cfg := &config.BuildConfig{
		Region:    "us-east-1",
		SourceAMI: "ami-0123456789abcdef0",
		AMIName:   "web-20240101",
		Provisioners: []config.Provisioner{
			{Type: config.ProvisionerAnsible, Playbook: playbook},
		},
	}
	cfg.ApplyDefaults(config.Defaults{})
	return cfg
}

func fields(issues []Issue) []string {
	var out []string
	for _, i := range issues {
		out = append(out, i.Field)
	}
	return out
}

func TestValidateBuild_Valid(t *testing.T) {
	result := ValidateBuild(validConfig(t), "build.yml")

	assert.False(t, result.HasErrors())
	assert.Equal(t, 0, result.WarningCount())
}

func TestValidateBuild_Errors(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *config.BuildConfig)
		errorFields []string
	}{
		{
			name:        "missing region",
			mutate:      func(c *config.BuildConfig) { c.Region = "" },
			errorFields: []string{"region"},
		},
		{
			name:        "bad copy region",
			mutate:      func(c *config.BuildConfig) { c.AMIRegions = []string{"mars-1"} },
			errorFields: []string{"ami_regions"},
		},
		{
			name:        "missing source",
			mutate:      func(c *config.BuildConfig) { c.SourceAMI = "" },
			errorFields: []string{"source_ami"},
		},
		{
			name: "both sources",
			mutate: func(c *config.BuildConfig) {
				c.SourceAMIFilter = &config.AMIFilter{Name: "x", Owners: []string{"self"}}
			},
			errorFields: []string{"source_ami"},
		},
		{
			name:        "bad ami id",
			mutate:      func(c *config.BuildConfig) { c.SourceAMI = "ami-xyz" },
			errorFields: []string{"source_ami"},
		},
		{
			name:        "missing ami name",
			mutate:      func(c *config.BuildConfig) { c.AMIName = "" },
			errorFields: []string{"ami_name"},
		},
		{
			name:        "short ami name",
			mutate:      func(c *config.BuildConfig) { c.AMIName = "ab" },
			errorFields: []string{"ami_name"},
		},
		{
			name:        "ami name charset",
			mutate:      func(c *config.BuildConfig) { c.AMIName = "web#1" },
			errorFields: []string{"ami_name"},
		},
		{
			name:        "bad timeout",
			mutate:      func(c *config.BuildConfig) { c.SSHTimeout = "forever" },
			errorFields: []string{"ssh_timeout"},
		},
		{
			name: "network ids",
			mutate: func(c *config.BuildConfig) {
				c.SubnetID = "subnet-1"
				c.VPCID = "vpc1234"
				c.SecurityGroupIDs = []string{"group"}
			},
			errorFields: []string{"subnet_id", "vpc_id", "security_group_ids"},
		},
		{
			name:        "bad cidr",
			mutate:      func(c *config.BuildConfig) { c.SSHCIDR = "10.0.0.1/99" },
			errorFields: []string{"ssh_cidr"},
		},
		{
			name:        "negative volume",
			mutate:      func(c *config.BuildConfig) { c.RootVolumeSize = -1 },
			errorFields: []string{"root_volume_size"},
		},
		{
			name: "provisioner problems",
			mutate: func(c *config.BuildConfig) {
				c.Provisioners = []config.Provisioner{
					{Type: config.ProvisionerAnsible},
					{Type: config.ProvisionerShell},
					{Type: "chef"},
				}
			},
			errorFields: []string{"provisioners[0].playbook", "provisioners[1].inline", "provisioners[2].type"},
		},
		{
			name:        "unsupported group",
			mutate:      func(c *config.BuildConfig) { c.AMIGroups = []string{"admins"} },
			errorFields: []string{"ami_groups"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			result := ValidateBuild(cfg, "build.yml")

			assert.True(t, result.HasErrors())
			assert.Equal(t, len(tt.errorFields), result.ErrorCount(), "issues: %v", result.Issues)
			assert.ElementsMatch(t, tt.errorFields, fields(result.Errors()))
			for _, issue := range result.Issues {
				assert.Equal(t, "build.yml", issue.File)
			}
		})
	}
}

func TestValidateBuild_Warnings(t *testing.T) {
	cfg := validConfig(t)
	cfg.Provisioners[0].Playbook = "/does/not/exist.yml"
	cfg.AMIUsers = []string{"123456789012", "friends"}
	cfg.ForceDeregister = true
	cfg.KMSKeyID = "alias/ami"

	result := ValidateBuild(cfg, "build.yml")

	assert.False(t, result.HasErrors())
	assert.Equal(t, 4, result.WarningCount())
}

func TestValidateBuild_NoProvisioners(t *testing.T) {
	cfg := validConfig(t)
	cfg.Provisioners = nil

	result := ValidateBuild(cfg, "build.yml")

	assert.False(t, result.HasErrors())
	require.Equal(t, 1, result.WarningCount())
	assert.Equal(t, "provisioners", result.Issues[0].Field)
}

func TestIssueString(t *testing.T) {
	assert.Equal(t, "error: region: region is required",
		Issue{Field: "region", Message: "region is required", Severity: SeverityError}.String())
	assert.Equal(t, "warning: careful",
		Issue{Message: "careful", Severity: SeverityWarning}.String())
}
