package vm_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/platform/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// sshServer runs a minimal exec-only SSH server on the loopback interface.
// "cat" echoes stdin, "fail N" exits with status N, anything else is echoed back.
type sshServer struct {
	addr        string
	fingerprint string
}

func startSSHServer(t *testing.T, authorized ssh.PublicKey) *sshServer {
	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key for %s", conn.User())
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, config)
		}
	}()

	return &sshServer{
		addr:        listener.Addr().String(),
		fingerprint: ssh.FingerprintSHA256(hostSigner.PublicKey()),
	}
}

func serveSSH(conn net.Conn, config *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}
		go serveSession(channel, requests)
	}
}

func serveSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
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

		status := 0
		switch fields := strings.Fields(payload.Command); {
		case payload.Command == "cat":
			io.Copy(channel, channel)
		case len(fields) == 2 && fields[0] == "fail":
			status, _ = strconv.Atoi(fields[1])
			fmt.Fprintf(channel.Stderr(), "failed with %d\n", status)
		default:
			fmt.Fprintln(channel, payload.Command)
		}

		channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
		return
	}
}

func sshSettings(t *testing.T, server *sshServer, key string) *deployment.VMConfig {
	host, port, err := net.SplitHostPort(server.addr)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return &deployment.VMConfig{
		Host:               host,
		SSHPort:            p,
		Username:           "deploy",
		SSHKey:             deployment.Secret(key),
		HostKeyFingerprint: server.fingerprint,
	}
}

func clientKey(t *testing.T) (ssh.PublicKey, string) {
	key, encoded := privateKey(t)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)
	return signer.PublicKey(), encoded
}

func TestDialAndRun(t *testing.T) {
	public, key := clientKey(t)
	server := startSSHServer(t, public)

	runner, err := vm.Dial(context.Background(), sshSettings(t, server, key))
	require.NoError(t, err)
	defer runner.Close()

	output, err := runner.Run(context.Background(), "hostname", nil)
	require.NoError(t, err)
	assert.Equal(t, "hostname\n", output)

	output, err = runner.Run(context.Background(), "cat", strings.NewReader("PORT=8000\n"))
	require.NoError(t, err)
	assert.Equal(t, "PORT=8000\n", output)
}

func TestRunExitStatus(t *testing.T) {
	public, key := clientKey(t)
	server := startSSHServer(t, public)

	runner, err := vm.Dial(context.Background(), sshSettings(t, server, key))
	require.NoError(t, err)
	defer runner.Close()

	output, err := runner.Run(context.Background(), "fail 5", nil)
	status, ok := vm.ExitStatus(err)
	require.True(t, ok)
	assert.Equal(t, 5, status)
	assert.Equal(t, "failed with 5\n", output)
}

func TestDialHostKeyMismatch(t *testing.T) {
	public, key := clientKey(t)
	server := startSSHServer(t, public)
	settings := sshSettings(t, server, key)
	settings.HostKeyFingerprint = "SHA256:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

	_, err := vm.Dial(context.Background(), settings)
	assert.True(t, deployment.IsKind(err, deployment.KindValidation))
	assert.Contains(t, err.Error(), "host key fingerprint mismatch")
}

func TestDialRejectedKey(t *testing.T) {
	public, _ := clientKey(t)
	server := startSSHServer(t, public)
	_, otherKey := clientKey(t)

	_, err := vm.Dial(context.Background(), sshSettings(t, server, otherKey))
	assert.True(t, deployment.IsKind(err, deployment.KindValidation))
}

func TestDialUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	_, key := clientKey(t)
	settings := sshSettings(t, &sshServer{addr: addr}, key)

	_, err = vm.Dial(context.Background(), settings)
	assert.True(t, deployment.IsKind(err, deployment.KindPlatformUnreachable))
}

func TestNormalizeFingerprint(t *testing.T) {
	assert.Equal(t, "SHA256:abc", vm.NormalizeFingerprint("abc="))
	assert.Equal(t, "SHA256:abc", vm.NormalizeFingerprint(" SHA256:abc "))
	assert.Equal(t, "", vm.NormalizeFingerprint(""))
}
