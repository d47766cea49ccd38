// Package validation checks amify build definitions before a build starts.
package validation

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/crucialwebstudio/amify/pkg/config"
)

// Severity represents the severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue represents a validation issue found in a build definition.
type Issue struct {
	File     string   `json:"file"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// String formats the issue for terminal output.
func (i Issue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("%s: %s", i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Field, i.Message)
}

// Result holds all validation results.
type Result struct {
	Issues []Issue `json:"issues"`
}

// HasErrors returns true if there are any error-level issues.
func (r *Result) HasErrors() bool {
	return r.ErrorCount() > 0
}

// ErrorCount returns the number of error-level issues.
func (r *Result) ErrorCount() int {
	return r.count(SeverityError)
}

// WarningCount returns the number of warning-level issues.
func (r *Result) WarningCount() int {
	return r.count(SeverityWarning)
}

// Errors returns only the error-level issues.
func (r *Result) Errors() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			out = append(out, issue)
		}
	}
	return out
}

func (r *Result) count(s Severity) int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Severity == s {
			count++
		}
	}
	return count
}

var (
	amiIDRegex    = regexp.MustCompile(`^ami-[0-9a-f]{8,17}$`)
	amiNameRegex  = regexp.MustCompile(`^[A-Za-z0-9()\[\]./\-'@_ ]+$`)
	subnetIDRegex = regexp.MustCompile(`^subnet-[0-9a-f]{8,17}$`)
	vpcIDRegex    = regexp.MustCompile(`^vpc-[0-9a-f]{8,17}$`)
	sgIDRegex     = regexp.MustCompile(`^sg-[0-9a-f]{8,17}$`)
	accountRegex  = regexp.MustCompile(`^[0-9]{12}$`)
	regionRegex   = regexp.MustCompile(`^[a-z]{2}(-gov)?-[a-z]+-[0-9]$`)
)

// builder collects issues for one file.
type builder struct {
	file   string
	result *Result
}

func (b *builder) errorf(field, format string, args ...any) {
	b.add(field, SeverityError, fmt.Sprintf(format, args...))
}

func (b *builder) warnf(field, format string, args ...any) {
	b.add(field, SeverityWarning, fmt.Sprintf(format, args...))
}

func (b *builder) add(field string, sev Severity, msg string) {
	b.result.Issues = append(b.result.Issues, Issue{
		File:     b.file,
		Field:    field,
		Message:  msg,
		Severity: sev,
	})
}

// ValidateBuild checks a loaded build definition and returns every issue found.
func ValidateBuild(cfg *config.BuildConfig, file string) *Result {
	b := &builder{file: file, result: &Result{Issues: []Issue{}}}

	validateRegion(b, cfg)
	validateSource(b, cfg)
	validateImage(b, cfg)
	validateNetwork(b, cfg)
	validateInstance(b, cfg)
	validateProvisioners(b, cfg)

	return b.result
}

func validateRegion(b *builder, cfg *config.BuildConfig) {
	if strings.TrimSpace(cfg.Region) == "" {
		b.errorf("region", "region is required (set it in the build file, the global config or AWS_REGION)")
	} else if !regionRegex.MatchString(cfg.Region) {
		b.errorf("region", "invalid region %q", cfg.Region)
	}

	for _, r := range cfg.AMIRegions {
		if !regionRegex.MatchString(r) {
			b.errorf("ami_regions", "invalid region %q", r)
		}
	}
}

func validateSource(b *builder, cfg *config.BuildConfig) {
	hasID := cfg.SourceAMI != ""
	hasFilter := cfg.SourceAMIFilter != nil

	switch {
	case hasID && hasFilter:
		b.errorf("source_ami", "source_ami and source_ami_filter are mutually exclusive")
	case !hasID && !hasFilter:
		b.errorf("source_ami", "one of source_ami or source_ami_filter is required")
	case hasID && !amiIDRegex.MatchString(cfg.SourceAMI):
		b.errorf("source_ami", "invalid AMI id %q", cfg.SourceAMI)
	case hasFilter && strings.TrimSpace(cfg.SourceAMIFilter.Name) == "":
		b.errorf("source_ami_filter.name", "source_ami_filter requires a name pattern")
	}

	if hasFilter && len(cfg.SourceAMIFilter.Owners) == 0 {
		b.warnf("source_ami_filter.owners", "no owners set; images from any account may match")
	}
}

func validateImage(b *builder, cfg *config.BuildConfig) {
	name := cfg.AMIName
	switch {
	case strings.TrimSpace(name) == "":
		b.errorf("ami_name", "ami_name is required")
	case len(name) < 3 || len(name) > 128:
		b.errorf("ami_name", "ami_name must be between 3 and 128 characters, got %d", len(name))
	case !amiNameRegex.MatchString(name):
		b.errorf("ami_name", "ami_name %q contains invalid characters (allowed: letters, digits, ()[]./-'@_ and spaces)", name)
	}

	if len(cfg.AMIDescription) > 255 {
		b.errorf("ami_description", "ami_description must be at most 255 characters")
	}

	for _, u := range cfg.AMIUsers {
		if u != "all" && !accountRegex.MatchString(u) {
			b.warnf("ami_users", "%q does not look like a 12-digit account id", u)
		}
	}

	for _, g := range cfg.AMIGroups {
		if g != "all" {
			b.errorf("ami_groups", "unsupported launch permission group %q (only \"all\")", g)
		}
	}

	if _, err := cfg.ImageTimeoutDuration(); err != nil {
		b.errorf("image_timeout", "%v", err)
	}

	if cfg.ForceDeregister {
		b.warnf("force_deregister", "an existing image named %q will be deregistered", name)
	}
}

func validateNetwork(b *builder, cfg *config.BuildConfig) {
	if cfg.SubnetID != "" && !subnetIDRegex.MatchString(cfg.SubnetID) {
		b.errorf("subnet_id", "invalid subnet id %q", cfg.SubnetID)
	}
	if cfg.VPCID != "" && !vpcIDRegex.MatchString(cfg.VPCID) {
		b.errorf("vpc_id", "invalid VPC id %q", cfg.VPCID)
	}
	for _, sg := range cfg.SecurityGroupIDs {
		if !sgIDRegex.MatchString(sg) {
			b.errorf("security_group_ids", "invalid security group id %q", sg)
		}
	}
	if cfg.SSHCIDR != "" {
		if _, _, err := net.ParseCIDR(cfg.SSHCIDR); err != nil {
			b.errorf("ssh_cidr", "invalid CIDR %q", cfg.SSHCIDR)
		}
		if len(cfg.SecurityGroupIDs) > 0 {
			b.warnf("ssh_cidr", "ssh_cidr is ignored when security_group_ids are set")
		}
	}
}

func validateInstance(b *builder, cfg *config.BuildConfig) {
	if cfg.SSHPort < 0 || cfg.SSHPort > 65535 {
		b.errorf("ssh_port", "ssh_port must be between 1 and 65535, got %d", cfg.SSHPort)
	}
	if _, err := cfg.SSHTimeoutDuration(); err != nil {
		b.errorf("ssh_timeout", "%v", err)
	}
	if cfg.RootVolumeSize < 0 {
		b.errorf("root_volume_size", "root_volume_size must not be negative")
	}
	if cfg.KMSKeyID != "" && !cfg.Encrypted {
		b.warnf("kms_key_id", "kms_key_id has no effect unless encrypted is true")
	}
}

func validateProvisioners(b *builder, cfg *config.BuildConfig) {
	if len(cfg.Provisioners) == 0 {
		b.warnf("provisioners", "no provisioners defined; the image will be a copy of the source")
		return
	}

	for i, p := range cfg.Provisioners {
		field := fmt.Sprintf("provisioners[%d]", i)
		switch p.Type {
		case config.ProvisionerAnsible:
			if p.Playbook == "" {
				b.errorf(field+".playbook", "ansible provisioner requires a playbook")
				continue
			}
			if _, err := os.Stat(p.Playbook); err != nil {
				b.warnf(field+".playbook", "playbook %s not found", p.Playbook)
			}
			if p.Requirements != "" {
				if _, err := os.Stat(p.Requirements); err != nil {
					b.warnf(field+".requirements", "requirements file %s not found", p.Requirements)
				}
			}
		case config.ProvisionerShell:
			if len(p.Inline) == 0 {
				b.errorf(field+".inline", "shell provisioner requires at least one inline command")
			}
		case "":
			b.errorf(field+".type", "provisioner type is required (%s or %s)", config.ProvisionerAnsible, config.ProvisionerShell)
		default:
			b.errorf(field+".type", "unknown provisioner type %q", p.Type)
		}
	}
}
