package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/crucialwebstudio/amify/pkg/config"
)

// tailLines is how much ansible output is kept for error messages.
const tailLines = 20

// Ansible runs an ansible-playbook against the instance from the local host.
type Ansible struct {
	cfg    config.Provisioner
	bin    string
	runner CommandRunner
	logger *log.Logger
}

// NewAnsible creates an Ansible provisioner.
func NewAnsible(p config.Provisioner, opts Options) *Ansible {
	opts = opts.withDefaults()
	return &Ansible{
		cfg:    p,
		bin:    opts.AnsiblePlaybookBin,
		runner: opts.Runner,
		logger: opts.Logger.WithPrefix("ansible"),
	}
}

// Name implements Provisioner.
func (a *Ansible) Name() string {
	return "ansible " + filepath.Base(a.cfg.Playbook)
}

// Provision implements Provisioner.
func (a *Ansible) Provision(ctx context.Context, target Target) error {
	workDir, err := os.MkdirTemp("", "amify-ansible-")
	if err != nil {
		return fmt.Errorf("failed to create ansible work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	if a.cfg.Requirements != "" {
		if err := a.installRequirements(ctx, workDir); err != nil {
			return err
		}
	}

	varsPath, err := a.writeExtraVars(workDir, target)
	if err != nil {
		return err
	}
	inventory, err := a.inventory(workDir, target)
	if err != nil {
		return err
	}

	args := []string{
		"-i", inventory,
		"-u", target.User,
		"--private-key", target.PrivateKeyPath,
		"-e", "@" + varsPath,
		"--ssh-extra-args", "-o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null -o IdentitiesOnly=yes",
	}
	args = append(args, a.cfg.AnsibleArgs...)
	args = append(args, a.cfg.Playbook)

	out := newLineWriter(tailLines, func(line string) {
		a.logger.Info(line)
	})
	env := []string{"ANSIBLE_HOST_KEY_CHECKING=False", "ANSIBLE_NOCOLOR=1", "PYTHONUNBUFFERED=1"}
	if a.cfg.Requirements != "" {
		env = append(env, "ANSIBLE_ROLES_PATH="+filepath.Join(workDir, "roles")+":"+filepath.Join(filepath.Dir(a.cfg.Playbook), "roles"))
	}
	cmd := Command{
		Name:   a.bin,
		Args:   args,
		Env:    env,
		Dir:    filepath.Dir(a.cfg.Playbook),
		Stdout: out,
		Stderr: out,
	}

	a.logger.Debug("running", "cmd", cmd.String())
	err = a.runner.Run(ctx, cmd)
	out.Flush()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ansible-playbook %s failed: %w\n%s",
			filepath.Base(a.cfg.Playbook), err, strings.Join(out.Tail(), "\n"))
	}
	return nil
}

func (a *Ansible) installRequirements(ctx context.Context, workDir string) error {
	galaxy := "ansible-galaxy"
	if strings.ContainsRune(a.bin, filepath.Separator) {
		galaxy = filepath.Join(filepath.Dir(a.bin), "ansible-galaxy")
	}

	out := newLineWriter(tailLines, func(line string) {
		a.logger.Debug(line)
	})
	cmd := Command{
		Name:   galaxy,
		Args:   []string{"install", "-r", a.cfg.Requirements, "-p", filepath.Join(workDir, "roles")},
		Stdout: out,
		Stderr: out,
	}
	err := a.runner.Run(ctx, cmd)
	out.Flush()
	if err != nil {
		return fmt.Errorf("ansible-galaxy install failed: %w\n%s", err, strings.Join(out.Tail(), "\n"))
	}
	return nil
}

// writeExtraVars writes user extra vars plus connection vars to a JSON file.
func (a *Ansible) writeExtraVars(workDir string, target Target) (string, error) {
	vars := map[string]string{
		"ansible_port": strconv.Itoa(target.Port),
	}
	maps.Copy(vars, a.cfg.ExtraVars)

	data, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode extra vars: %w", err)
	}
	path := filepath.Join(workDir, "extra-vars.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write extra vars: %w", err)
	}
	return path, nil
}

// inventory returns the -i argument. Without groups the host is passed
// inline; with groups an INI inventory file is written.
func (a *Ansible) inventory(workDir string, target Target) (string, error) {
	if len(a.cfg.Groups) == 0 {
		return target.Host + ",", nil
	}

	groups := append([]string(nil), a.cfg.Groups...)
	sort.Strings(groups)

	var b strings.Builder
	for _, g := range groups {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", g, target.Host)
	}
	path := filepath.Join(workDir, "inventory.ini")
	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return "", fmt.Errorf("failed to write inventory: %w", err)
	}
	return path, nil
}
