package provision

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/crucialwebstudio/amify/pkg/config"
)

// Shell runs inline commands on the instance over SSH.
type Shell struct {
	cfg    config.Provisioner
	logger *log.Logger
}

// NewShell creates a Shell provisioner.
func NewShell(p config.Provisioner, opts Options) *Shell {
	opts = opts.withDefaults()
	return &Shell{cfg: p, logger: opts.Logger.WithPrefix("shell")}
}

// Name implements Provisioner.
func (s *Shell) Name() string {
	return fmt.Sprintf("shell (%d commands)", len(s.cfg.Inline))
}

// Provision runs each command in order and stops at the first failure.
func (s *Shell) Provision(ctx context.Context, target Target) error {
	if target.Comm == nil {
		return fmt.Errorf("shell provisioner requires an SSH connection")
	}

	prefix := envPrefix(s.cfg.Env)
	for i, command := range s.cfg.Inline {
		out := newLineWriter(tailLines, func(line string) {
			s.logger.Info(line)
		})

		s.logger.Debug("running", "step", i+1, "cmd", command)
		err := target.Comm.Run(ctx, prefix+command, out, out)
		out.Flush()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("inline command %d (%q) failed: %w\n%s",
				i+1, command, err, strings.Join(out.Tail(), "\n"))
		}
	}
	return nil
}

// envPrefix renders env as export statements preceding a command.
func envPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s; ", k, shellQuote(env[k]))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
