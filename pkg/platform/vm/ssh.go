package vm

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/platform"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const dialTimeout = 30 * time.Second

//go:generate mockery --name=Runner --inpackage --case snake

// Runner executes shell commands on a remote machine.
type Runner interface {
	// Run executes command with stdin attached and returns its combined output.
	// A non-zero exit status is reported as *ExitError.
	Run(ctx context.Context, command string, stdin io.Reader) (string, error)
	Close() error
}

// Dialer opens a Runner to the machine described by the settings.
type Dialer func(ctx context.Context, settings *deployment.VMConfig) (Runner, error)

type ExitError struct {
	Status int
	Output string
}

func (err *ExitError) Error() string {
	output := strings.TrimSpace(err.Output)
	if len(output) == 0 {
		return fmt.Sprintf("exit status %d", err.Status)
	}
	return fmt.Sprintf("exit status %d: %s", err.Status, output)
}

func ExitStatus(err error) (int, bool) {
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Status, true
	}
	return 0, false
}

var errHostKeyMismatch = errors.New("host key fingerprint mismatch")

// ParsePrivateKey accepts a PEM private key, either raw or base64 encoded.
func ParsePrivateKey(key string) (ssh.Signer, error) {
	key = strings.TrimSpace(key)
	if len(key) == 0 {
		return nil, fmt.Errorf("ssh_key is required")
	}
	pem := []byte(key)
	if !strings.HasPrefix(key, "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("ssh_key is neither PEM nor base64 encoded PEM")
		}
		pem = decoded
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse ssh_key: %w", err)
	}
	return signer, nil
}

// NormalizeFingerprint returns the fingerprint in the SHA256:... form used by ssh-keygen.
func NormalizeFingerprint(fingerprint string) string {
	fingerprint = strings.TrimRight(strings.TrimSpace(fingerprint), "=")
	if len(fingerprint) == 0 || strings.HasPrefix(fingerprint, "SHA256:") {
		return fingerprint
	}
	return "SHA256:" + fingerprint
}

func hostKeyCallback(fingerprint string) ssh.HostKeyCallback {
	want := NormalizeFingerprint(fingerprint)
	if len(want) == 0 {
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			log.Warnf("Accepting unverified host key %s for %s", ssh.FingerprintSHA256(key), hostname)
			return nil
		}
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		got := ssh.FingerprintSHA256(key)
		if got != want {
			return fmt.Errorf("%w: %s presented %s, expected %s", errHostKeyMismatch, hostname, got, want)
		}
		return nil
	}
}

// Dial connects to the machine with public key authentication.
func Dial(ctx context.Context, settings *deployment.VMConfig) (Runner, error) {
	signer, err := ParsePrivateKey(settings.SSHKey.Reveal())
	if err != nil {
		return nil, deployment.ErrorWrap(deployment.KindValidation, err)
	}

	config := &ssh.ClientConfig{
		User:            settings.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback(settings.HostKeyFingerprint),
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(settings.Host, strconv.Itoa(settings.SSHPort))
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, platform.Unreachablef("connect to %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if errors.Is(err, errHostKeyMismatch) {
			return nil, deployment.Errorf(deployment.KindValidation, "ssh handshake with %s: %w", addr, err)
		}
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, deployment.Errorf(deployment.KindValidation, "ssh login as %s on %s rejected: %w", settings.Username, addr, err)
		}
		return nil, platform.Unreachablef("ssh handshake with %s: %w", addr, err)
	}

	return &sshRunner{client: ssh.NewClient(c, chans, reqs)}, nil
}

type sshRunner struct {
	client *ssh.Client
}

func (r *sshRunner) Run(ctx context.Context, command string, stdin io.Reader) (string, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", platform.Unreachablef("open ssh session: %w", err)
	}
	defer session.Close()

	out := &bytes.Buffer{}
	session.Stdout = out
	session.Stderr = out
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case err = <-done:
	}

	var exit *ssh.ExitError
	switch {
	case err == nil:
		return out.String(), nil
	case errors.As(err, &exit):
		return out.String(), &ExitError{Status: exit.ExitStatus(), Output: out.String()}
	default:
		return out.String(), platform.Unreachablef("run remote command: %w", err)
	}
}

func (r *sshRunner) Close() error {
	return r.client.Close()
}
