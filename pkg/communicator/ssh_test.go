package communicator

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// startServer runs an SSH server on localhost that accepts only authorized
// and answers exec requests with handler. It returns host and port.
func startServer(t *testing.T, authorized ssh.PublicKey, handler func(cmd string, ch ssh.Channel) uint32) (string, int) {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unauthorized key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg, handler)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig, handler func(string, ssh.Channel) uint32) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			return
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil)
					return
				}
				req.Reply(true, nil)
				status := handler(payload.Command, ch)
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func echoHandler(cmd string, ch ssh.Channel) uint32 {
	if strings.HasPrefix(cmd, "fail") {
		fmt.Fprintln(ch.Stderr(), "command failed")
		return 3
	}
	fmt.Fprintf(ch, "ran: %s\n", cmd)
	return 0
}

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair("amify-test")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(kp.AuthorizedKey()), "ssh-ed25519 "))
	assert.True(t, strings.HasPrefix(kp.Fingerprint(), "SHA256:"))

	pemBytes, err := kp.PrivateKeyPEM()
	require.NoError(t, err)
	parsed, err := ssh.ParsePrivateKey(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, kp.public.Marshal(), parsed.PublicKey().Marshal())

	path, err := kp.WritePrivateKey(filepath.Join(t.TempDir(), "keys"), "build.pem")
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestWaitForSSHAndRun(t *testing.T) {
	kp, err := GenerateKeyPair("test")
	require.NoError(t, err)
	signer, err := kp.Signer()
	require.NoError(t, err)

	host, port := startServer(t, kp.public, echoHandler)

	conn, err := WaitForSSH(context.Background(), Config{
		Host:          host,
		Port:          port,
		User:          "ec2-user",
		Signer:        signer,
		Timeout:       5 * time.Second,
		RetryInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer conn.Close()

	var stdout, stderr bytes.Buffer
	require.NoError(t, conn.Run(context.Background(), "uptime", &stdout, &stderr))
	assert.Equal(t, "ran: uptime\n", stdout.String())

	stdout.Reset()
	err = conn.Run(context.Background(), "fail now", &stdout, &stderr)
	var exitErr *ssh.ExitError
	require.True(t, errors.As(err, &exitErr), "got %v", err)
	assert.Equal(t, 3, exitErr.ExitStatus())
	assert.Contains(t, stderr.String(), "command failed")
}

func TestWaitForSSH_Timeout(t *testing.T) {
	kp, err := GenerateKeyPair("test")
	require.NoError(t, err)
	signer, err := kp.Signer()
	require.NoError(t, err)

	// Reserve a port and release it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = WaitForSSH(context.Background(), Config{
		Host:          "127.0.0.1",
		Port:          port,
		User:          "ec2-user",
		Signer:        signer,
		Timeout:       200 * time.Millisecond,
		RetryInterval: 20 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrSSHTimeout)
}

func TestWaitForSSH_WrongKey(t *testing.T) {
	authorized, err := GenerateKeyPair("authorized")
	require.NoError(t, err)
	other, err := GenerateKeyPair("other")
	require.NoError(t, err)
	signer, err := other.Signer()
	require.NoError(t, err)

	host, port := startServer(t, authorized.public, echoHandler)

	_, err = WaitForSSH(context.Background(), Config{
		Host:          host,
		Port:          port,
		User:          "ec2-user",
		Signer:        signer,
		Timeout:       300 * time.Millisecond,
		RetryInterval: 20 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrSSHTimeout)
	assert.Contains(t, err.Error(), "unable to authenticate")
}

func TestWaitForSSH_Cancelled(t *testing.T) {
	kp, err := GenerateKeyPair("test")
	require.NoError(t, err)
	signer, err := kp.Signer()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = WaitForSSH(ctx, Config{
		Host:          "127.0.0.1",
		Port:          1,
		User:          "ec2-user",
		Signer:        signer,
		Timeout:       time.Minute,
		RetryInterval: time.Second,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigAddress(t *testing.T) {
	assert.Equal(t, "203.0.113.10:22", Config{Host: "203.0.113.10", Port: 22}.Address())
	assert.Equal(t, "[2001:db8::1]:"+strconv.Itoa(2222), Config{Host: "2001:db8::1", Port: 2222}.Address())
}
