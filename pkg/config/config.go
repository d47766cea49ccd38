// Package config loads amify build definitions.
//
// A build definition describes one AMI: where its source image comes from,
// how the temporary builder instance is launched, how it is provisioned and
// what the resulting image is called. Definitions are YAML (or JSON) and HCL
// documents that are rendered as templates before being parsed.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Built-in defaults applied when neither the build definition nor the
// global configuration set a value.
const (
	DefaultInstanceType   = "t3.micro"
	DefaultSSHUsername    = "ec2-user"
	DefaultSSHPort        = 22
	DefaultSSHTimeout     = "5m"
	DefaultImageTimeout   = "30m"
	DefaultRootDeviceName = "/dev/xvda"
	DefaultVolumeType     = "gp3"
)

// Provisioner types.
const (
	ProvisionerAnsible = "ansible"
	ProvisionerShell   = "shell"
)

// BuildConfig is a parsed build definition.
type BuildConfig struct {
	Name    string `yaml:"name" hcl:"name,optional"`
	Region  string `yaml:"region" hcl:"region,optional"`
	Profile string `yaml:"profile" hcl:"profile,optional"`

	// Source image
	SourceAMI       string     `yaml:"source_ami" hcl:"source_ami,optional"`
	SourceAMIFilter *AMIFilter `yaml:"source_ami_filter" hcl:"source_ami_filter,block"`

	// Builder instance
	InstanceType       string   `yaml:"instance_type" hcl:"instance_type,optional"`
	SubnetID           string   `yaml:"subnet_id" hcl:"subnet_id,optional"`
	VPCID              string   `yaml:"vpc_id" hcl:"vpc_id,optional"`
	SecurityGroupIDs   []string `yaml:"security_group_ids" hcl:"security_group_ids,optional"`
	SSHCIDR            string   `yaml:"ssh_cidr" hcl:"ssh_cidr,optional"`
	SSHUsername        string   `yaml:"ssh_username" hcl:"ssh_username,optional"`
	SSHPort            int      `yaml:"ssh_port" hcl:"ssh_port,optional"`
	SSHTimeout         string   `yaml:"ssh_timeout" hcl:"ssh_timeout,optional"`
	SSHPrivateIP       bool     `yaml:"ssh_private_ip" hcl:"ssh_private_ip,optional"`
	AssociatePublicIP  *bool    `yaml:"associate_public_ip" hcl:"associate_public_ip,optional"`
	IAMInstanceProfile string   `yaml:"iam_instance_profile" hcl:"iam_instance_profile,optional"`
	UserData           string   `yaml:"user_data" hcl:"user_data,optional"`

	// Root volume
	RootVolumeSize int    `yaml:"root_volume_size" hcl:"root_volume_size,optional"`
	RootDeviceName string `yaml:"root_device_name" hcl:"root_device_name,optional"`
	VolumeType     string `yaml:"volume_type" hcl:"volume_type,optional"`
	Encrypted      bool   `yaml:"encrypted" hcl:"encrypted,optional"`
	KMSKeyID       string `yaml:"kms_key_id" hcl:"kms_key_id,optional"`

	// Resulting image
	AMIName         string            `yaml:"ami_name" hcl:"ami_name,optional"`
	AMIDescription  string            `yaml:"ami_description" hcl:"ami_description,optional"`
	AMIRegions      []string          `yaml:"ami_regions" hcl:"ami_regions,optional"`
	AMIUsers        []string          `yaml:"ami_users" hcl:"ami_users,optional"`
	AMIGroups       []string          `yaml:"ami_groups" hcl:"ami_groups,optional"`
	Tags            map[string]string `yaml:"tags" hcl:"tags,optional"`
	RunTags         map[string]string `yaml:"run_tags" hcl:"run_tags,optional"`
	ForceDeregister bool              `yaml:"force_deregister" hcl:"force_deregister,optional"`
	StopBeforeImage *bool             `yaml:"stop_before_image" hcl:"stop_before_image,optional"`
	ImageTimeout    string            `yaml:"image_timeout" hcl:"image_timeout,optional"`
	Manifest        string            `yaml:"manifest" hcl:"manifest,optional"`

	Provisioners []Provisioner `yaml:"provisioners" hcl:"provisioner,block"`

	// Path is the file the definition was loaded from.
	Path string `yaml:"-"`
}

// AMIFilter selects the source image when no explicit ID is given.
type AMIFilter struct {
	Name         string   `yaml:"name" hcl:"name"`
	Owners       []string `yaml:"owners" hcl:"owners,optional"`
	Architecture string   `yaml:"architecture" hcl:"architecture,optional"`
	MostRecent   bool     `yaml:"most_recent" hcl:"most_recent,optional"`
}

// Provisioner is one provisioning step run against the builder instance.
type Provisioner struct {
	Type string `yaml:"type" hcl:"type,label"`

	// ansible
	Playbook     string            `yaml:"playbook" hcl:"playbook,optional"`
	ExtraVars    map[string]string `yaml:"extra_vars" hcl:"extra_vars,optional"`
	Groups       []string          `yaml:"groups" hcl:"groups,optional"`
	AnsibleArgs  []string          `yaml:"ansible_args" hcl:"ansible_args,optional"`
	Requirements string            `yaml:"requirements" hcl:"requirements,optional"`

	// shell
	Inline []string          `yaml:"inline" hcl:"inline,optional"`
	Env    map[string]string `yaml:"env" hcl:"env,optional"`
}

// Defaults are values supplied by the global configuration.
type Defaults struct {
	Region       string
	Profile      string
	InstanceType string
	SSHUsername  string
}

// ApplyDefaults fills unset fields from d and then from the built-in defaults.
func (c *BuildConfig) ApplyDefaults(d Defaults) {
	c.Region = firstNonEmpty(c.Region, d.Region)
	c.Profile = firstNonEmpty(c.Profile, d.Profile)
	c.InstanceType = firstNonEmpty(c.InstanceType, d.InstanceType, DefaultInstanceType)
	c.SSHUsername = firstNonEmpty(c.SSHUsername, d.SSHUsername, DefaultSSHUsername)
	c.SSHTimeout = firstNonEmpty(c.SSHTimeout, DefaultSSHTimeout)
	c.ImageTimeout = firstNonEmpty(c.ImageTimeout, DefaultImageTimeout)
	c.RootDeviceName = firstNonEmpty(c.RootDeviceName, DefaultRootDeviceName)
	c.VolumeType = firstNonEmpty(c.VolumeType, DefaultVolumeType)

	if c.SSHPort == 0 {
		c.SSHPort = DefaultSSHPort
	}
	if c.AssociatePublicIP == nil {
		c.AssociatePublicIP = boolPtr(true)
	}
	if c.StopBeforeImage == nil {
		c.StopBeforeImage = boolPtr(true)
	}
	if c.Name == "" && c.Path != "" {
		base := filepath.Base(c.Path)
		c.Name = base[:len(base)-len(filepath.Ext(base))]
	}
}

// ResolvePaths makes provisioner file references relative to baseDir absolute.
func (c *BuildConfig) ResolvePaths(baseDir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	for i := range c.Provisioners {
		c.Provisioners[i].Playbook = resolve(c.Provisioners[i].Playbook)
		c.Provisioners[i].Requirements = resolve(c.Provisioners[i].Requirements)
	}
	if c.Manifest != "" {
		c.Manifest = resolve(c.Manifest)
	}
}

// SSHTimeoutDuration returns the parsed ssh_timeout.
func (c *BuildConfig) SSHTimeoutDuration() (time.Duration, error) {
	return parseDuration("ssh_timeout", c.SSHTimeout, DefaultSSHTimeout)
}

// ImageTimeoutDuration returns the parsed image_timeout.
func (c *BuildConfig) ImageTimeoutDuration() (time.Duration, error) {
	return parseDuration("image_timeout", c.ImageTimeout, DefaultImageTimeout)
}

// ShouldStop reports whether the instance is stopped before imaging.
func (c *BuildConfig) ShouldStop() bool {
	return c.StopBeforeImage == nil || *c.StopBeforeImage
}

// PublicIP reports whether the builder instance gets a public address.
func (c *BuildConfig) PublicIP() bool {
	return c.AssociatePublicIP == nil || *c.AssociatePublicIP
}

// AllRegions returns the build region followed by the copy regions, without duplicates.
func (c *BuildConfig) AllRegions() []string {
	seen := map[string]bool{c.Region: true}
	regions := []string{c.Region}
	for _, r := range c.AMIRegions {
		if !seen[r] {
			seen[r] = true
			regions = append(regions, r)
		}
	}
	return regions
}

func parseDuration(field, value, fallback string) (time.Duration, error) {
	if value == "" {
		value = fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", field, value)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolPtr(b bool) *bool {
	return &b
}
