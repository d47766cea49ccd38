package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrFileExists is returned by WriteExample when the target already exists.
var ErrFileExists = errors.New("file already exists")

const exampleYAML = `# amify build definition
# Values are rendered as a Go template before parsing. Helpers:
#   now "utc" "%Y%m%d%H%M"   current time (strftime), offsets: "utc + days=1"
#   var "name"               variable from --var / --var-file
#   env "NAME"               environment variable
# region defaults to the global config, then AWS_REGION.
name: base

source_ami_filter:
  name: "al2023-ami-2023.*-x86_64"
  owners: ["amazon"]
  most_recent: true

instance_type: t3.micro
ssh_username: ec2-user

ami_name: "base-{{ now "utc" "%Y%m%d%H%M" }}"
ami_description: "Base image built by amify"
tags:
  Name: base
  BuiltAt: '{{ now "utc" "%Y-%m-%dT%H:%M:%SZ" }}'

provisioners:
  - type: shell
    inline:
      - sudo dnf -y update
  - type: ansible
    playbook: playbook.yml
`

const exampleHCL = `# amify build definition
# Values are rendered as a Go template before parsing.
# region defaults to the global config, then AWS_REGION.
name = "base"

source_ami_filter {
  name        = "al2023-ami-2023.*-x86_64"
  owners      = ["amazon"]
  most_recent = true
}

instance_type = "t3.micro"
ssh_username  = "ec2-user"

ami_name        = "base-{{ now "utc" "%Y%m%d%H%M" }}"
ami_description = "Base image built by amify"
tags = {
  Name    = "base"
  BuiltAt = "{{ now "utc" "%Y-%m-%dT%H:%M:%SZ" }}"
}

provisioner "shell" {
  inline = ["sudo dnf -y update"]
}

provisioner "ansible" {
  playbook = "playbook.yml"
}
`

const examplePlaybook = `---
- hosts: all
  become: true
  tasks:
    - name: Ensure chrony is installed
      ansible.builtin.package:
        name: chrony
        state: present
`

// Example returns the example build definition in the given format.
func Example(format string) (string, error) {
	switch format {
	case FormatYAML:
		return exampleYAML, nil
	case FormatHCL:
		return exampleHCL, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// WriteExample writes an example build definition and playbook into dir.
// It returns the paths written.
func WriteExample(dir, format string, force bool) ([]string, error) {
	content, err := Example(format)
	if err != nil {
		return nil, err
	}

	ext := ".yml"
	if format == FormatHCL {
		ext = ".hcl"
	}

	files := []struct {
		path    string
		content string
	}{
		{filepath.Join(dir, "amify"+ext), content},
		{filepath.Join(dir, "playbook.yml"), examplePlaybook},
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	var written []string
	for _, f := range files {
		if _, err := os.Stat(f.path); err == nil && !force {
			return written, fmt.Errorf("%w: %s (use --force to overwrite)", ErrFileExists, f.path)
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", f.path, err)
		}
		written = append(written, f.path)
	}

	return written, nil
}
