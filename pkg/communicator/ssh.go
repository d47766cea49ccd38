package communicator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
)

// ErrSSHTimeout is returned when the instance does not accept SSH in time.
var ErrSSHTimeout = errors.New("timed out waiting for SSH")

// DefaultRetryInterval is the delay between connection attempts.
const DefaultRetryInterval = 5 * time.Second

// Config describes how to reach the builder instance.
type Config struct {
	Host    string
	Port    int
	User    string
	Signer  ssh.Signer
	Timeout time.Duration

	// RetryInterval defaults to DefaultRetryInterval.
	RetryInterval time.Duration
	// HandshakeTimeout bounds a single connection attempt.
	HandshakeTimeout time.Duration
	Logger           *log.Logger
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SSH is an established connection to the builder instance.
type SSH struct {
	client *ssh.Client
	addr   string
}

// WaitForSSH dials the instance until a session can be established, the
// context is cancelled or cfg.Timeout elapses.
func WaitForSSH(ctx context.Context, cfg Config) (*SSH, error) {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	clientConfig := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(cfg.Signer)},
		// Host keys of a freshly launched instance are unknown.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.HandshakeTimeout,
	}

	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	addr := cfg.Address()
	var lastErr error
	for attempt := 1; ; attempt++ {
		client, err := dial(waitCtx, addr, clientConfig)
		if err == nil {
			logger.Info("connected", "addr", addr, "attempts", attempt)
			return &SSH{client: client, addr: addr}, nil
		}
		lastErr = err
		logger.Debug("ssh not ready", "addr", addr, "attempt", attempt, "err", err)

		t := time.NewTimer(cfg.RetryInterval)
		select {
		case <-waitCtx.Done():
			t.Stop()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w after %s (%s): %v", ErrSSHTimeout, cfg.Timeout, addr, lastErr)
		case <-t.C:
		}
	}
}

func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// Run executes cmd on the instance, streaming output to stdout and stderr.
// A non-zero exit status is returned as *ssh.ExitError. If ctx is cancelled
// the remote command is signalled and ctx.Err() is returned.
func (s *SSH) Run(ctx context.Context, cmd string, stdout, stderr io.Writer) error {
	session, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session on %s: %w", s.addr, err)
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return ctx.Err()
	}
}

// Close closes the connection.
func (s *SSH) Close() error {
	return s.client.Close()
}
