// Package provision configures the builder instance before it is imaged.
package provision

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/crucialwebstudio/amify/pkg/config"
)

// Provisioner configures a running instance.
type Provisioner interface {
	Name() string
	Provision(ctx context.Context, target Target) error
}

// RemoteRunner executes a command on the instance.
type RemoteRunner interface {
	Run(ctx context.Context, cmd string, stdout, stderr io.Writer) error
}

// Target is the instance being provisioned.
type Target struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
	Comm           RemoteRunner
}

// Command is a local process invocation.
type Command struct {
	Name   string
	Args   []string
	Env    []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// CommandRunner runs local commands.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes cmd and waits for it to finish.
func (ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	return cmd.Run()
}

// Options are shared by all provisioners.
type Options struct {
	// AnsiblePlaybookBin is the ansible-playbook executable.
	AnsiblePlaybookBin string
	Runner             CommandRunner
	Logger             *log.Logger
}

func (o Options) withDefaults() Options {
	if o.AnsiblePlaybookBin == "" {
		o.AnsiblePlaybookBin = "ansible-playbook"
	}
	if o.Runner == nil {
		o.Runner = ExecRunner{}
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	return o
}

// New creates the provisioner described by p.
func New(p config.Provisioner, opts Options) (Provisioner, error) {
	opts = opts.withDefaults()
	switch p.Type {
	case config.ProvisionerAnsible:
		return NewAnsible(p, opts), nil
	case config.ProvisionerShell:
		return NewShell(p, opts), nil
	default:
		return nil, fmt.Errorf("unknown provisioner type %q", p.Type)
	}
}

// Factory creates provisioners. It is swapped out in tests.
type Factory func(p config.Provisioner, opts Options) (Provisioner, error)

// lineWriter splits written bytes into lines, passes each to emit and
// remembers the last few.
type lineWriter struct {
	mu   sync.Mutex
	emit func(string)
	buf  []byte
	tail []string
	keep int
}

func newLineWriter(keep int, emit func(string)) *lineWriter {
	return &lineWriter{emit: emit, keep: keep}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := strings.IndexByte(string(w.buf), '\n')
		if i < 0 {
			break
		}
		w.line(strings.TrimRight(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.line(string(w.buf))
		w.buf = nil
	}
}

func (w *lineWriter) line(s string) {
	if w.emit != nil {
		w.emit(s)
	}
	w.tail = append(w.tail, s)
	if len(w.tail) > w.keep {
		w.tail = w.tail[len(w.tail)-w.keep:]
	}
}

// Tail returns the remembered lines.
func (w *lineWriter) Tail() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.tail...)
}
