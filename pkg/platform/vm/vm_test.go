package vm_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/platform"
	"github.com/postqode/agentdeploy/pkg/platform/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	deploymentID = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	agentID      = "agent-42"
)

var unit = vm.UnitName(agentID, deploymentID)

func privateKey(t *testing.T) (ed25519.PrivateKey, string) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(key, "")
	require.NoError(t, err)
	return key, base64.StdEncoding.EncodeToString(pem.EncodeToMemory(block))
}

func settings(t *testing.T) *deployment.VMConfig {
	_, key := privateKey(t)
	return &deployment.VMConfig{
		Host:          "10.0.0.5",
		SSHPort:       22,
		Username:      "deploy",
		SSHKey:        deployment.Secret(key),
		InstallPath:   "/opt/postqode/agents",
		UseSupervisor: true,
	}
}

func target(s *deployment.VMConfig) platform.Target {
	return platform.Target{
		DeploymentID: deploymentID,
		Config: deployment.Config{
			Platform:  deployment.PlatformVM,
			AgentID:   agentID,
			Adapter:   "crewai",
			Port:      8000,
			AutoStart: true,
			EnvVars: []deployment.EnvVar{
				{Name: "GREETING", Value: `say "hi"`},
			},
			Settings: s,
		},
	}
}

type call struct {
	command string
	stdin   string
}

// recorder answers every remote command through respond and keeps a transcript.
type recorder struct {
	lock    sync.Mutex
	calls   []call
	respond func(command string) (string, error)
}

func (r *recorder) runner(t *testing.T) *vm.MockRunner {
	runner := vm.NewMockRunner(t)
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, command string, stdin io.Reader) (string, error) {
			c := call{command: command}
			if stdin != nil {
				data, _ := io.ReadAll(stdin)
				c.stdin = string(data)
			}
			r.lock.Lock()
			r.calls = append(r.calls, c)
			r.lock.Unlock()
			if r.respond == nil {
				return "", nil
			}
			return r.respond(command)
		},
	).Maybe()
	runner.On("Close").Return(nil).Maybe()
	return runner
}

func (r *recorder) dialer(t *testing.T) vm.Dialer {
	return func(ctx context.Context, settings *deployment.VMConfig) (vm.Runner, error) {
		return r.runner(t), nil
	}
}

func (r *recorder) find(fragment string) (call, bool) {
	for _, c := range r.calls {
		if strings.Contains(c.command, fragment) {
			return c, true
		}
	}
	return call{}, false
}

func tarball(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "agent.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("tarball"), 0o644))
	return path
}

func TestUnitName(t *testing.T) {
	assert.Equal(t, "postqode-agent-42-3f2504e0", unit)
}

func TestDeployInstallsService(t *testing.T) {
	rec := &recorder{}
	deployer := vm.New(rec.dialer(t), nil)
	s := settings(t)

	result, err := deployer.Deploy(context.Background(), target(s), deployment.BuildResult{
		Success:      true,
		Kind:         deployment.ArtifactInstallTarball,
		ArtifactPath: tarball(t),
	})
	require.NoError(t, err)

	assert.Equal(t, "started", result.State)
	assert.Equal(t, unit, result.ExternalID)
	assert.Equal(t, "http://10.0.0.5:8000", result.AccessURL)
	assert.Equal(t, "sudo journalctl -u "+unit+" -f", result.Endpoints["logs"])
	assert.Equal(t, "ssh -p 22 deploy@10.0.0.5", result.Endpoints["ssh"])

	for _, c := range rec.calls {
		assert.True(t, strings.HasPrefix(c.command, "sudo -n sh -c "), c.command)
	}

	upload, ok := rec.find("/tmp/" + unit + ".tar.gz")
	require.True(t, ok)
	assert.Equal(t, "tarball", upload.stdin)

	install, ok := rec.find("tar -xzf")
	require.True(t, ok)
	assert.Contains(t, install.command, "/opt/postqode/agents/agent-42")
	assert.Contains(t, install.command, "bash")

	env, ok := rec.find("/.env")
	require.True(t, ok)
	assert.Contains(t, env.stdin, `POSTQODE_DEPLOYMENT_ID="`+deploymentID+`"`)
	assert.Contains(t, env.stdin, `PORT="8000"`)
	assert.Contains(t, env.stdin, `GREETING="say \"hi\""`)

	_, ok = rec.find("systemctl enable")
	assert.True(t, ok)
	_, ok = rec.find("systemctl restart")
	assert.True(t, ok)
	_, ok = rec.find("nginx")
	assert.False(t, ok)
}

func TestDeployWithReverseProxy(t *testing.T) {
	rec := &recorder{}
	deployer := vm.New(rec.dialer(t), nil)
	s := settings(t)
	s.Username = "root"
	s.UseReverseProxy = true
	s.ProxyDomain = "agent.example.com"
	tgt := target(s)
	tgt.Config.AutoStart = false

	result, err := deployer.Deploy(context.Background(), tgt, deployment.BuildResult{ArtifactPath: tarball(t)})
	require.NoError(t, err)

	assert.Equal(t, "installed", result.State)
	assert.Equal(t, "https://agent.example.com", result.AccessURL)

	site, ok := rec.find("/etc/nginx/conf.d/" + unit + ".conf")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(site.command, "sh -c "))
	assert.Contains(t, site.stdin, "server_name agent.example.com;")
	assert.Contains(t, site.stdin, "proxy_pass http://127.0.0.1:8000;")

	_, ok = rec.find("systemctl restart")
	assert.False(t, ok)
}

func TestDeployFailingInstallScript(t *testing.T) {
	rec := &recorder{respond: func(command string) (string, error) {
		if strings.Contains(command, "tar -xzf") {
			return "pip failed", &vm.ExitError{Status: 1, Output: "pip failed"}
		}
		return "", nil
	}}
	deployer := vm.New(rec.dialer(t), nil)

	_, err := deployer.Deploy(context.Background(), target(settings(t)), deployment.BuildResult{ArtifactPath: tarball(t)})
	assert.True(t, deployment.IsKind(err, deployment.KindDeploy))
	assert.Contains(t, err.Error(), "pip failed")

	_, ok := rec.find("systemctl enable")
	assert.False(t, ok)
}

func TestDeployUnreachableHost(t *testing.T) {
	deployer := vm.New(func(ctx context.Context, settings *deployment.VMConfig) (vm.Runner, error) {
		return nil, platform.Unreachablef("connect to %s: connection refused", settings.Host)
	}, nil)

	_, err := deployer.Deploy(context.Background(), target(settings(t)), deployment.BuildResult{ArtifactPath: tarball(t)})
	assert.True(t, deployment.IsKind(err, deployment.KindPlatformUnreachable))
}

func TestStatus(t *testing.T) {
	for _, tt := range []struct {
		name     string
		output   string
		state    string
		running  bool
		settled  bool
		failed   bool
		notFound bool
	}{
		{name: "running", output: "LoadState=loaded\nActiveState=active\nSubState=running\nActiveEnterTimestamp=Tue 2024-01-02 10:00:00 UTC\n", state: "running", running: true, settled: true},
		{name: "starting", output: "LoadState=loaded\nActiveState=activating\nSubState=start\n", state: "activating"},
		{name: "crash loop", output: "LoadState=loaded\nActiveState=activating\nSubState=auto-restart\n", state: "activating"},
		{name: "stopped", output: "LoadState=loaded\nActiveState=inactive\nSubState=dead\n", state: "stopped", settled: true},
		{name: "failed", output: "LoadState=loaded\nActiveState=failed\nSubState=failed\n", state: "failed", failed: true},
		{name: "unknown unit", output: "LoadState=not-found\nActiveState=inactive\nSubState=dead\n", notFound: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{respond: func(command string) (string, error) {
				return tt.output, nil
			}}
			deployer := vm.New(rec.dialer(t), nil)
			tgt := target(settings(t))
			tgt.ExternalID = unit

			status, err := deployer.Status(context.Background(), tgt)
			if tt.notFound {
				assert.True(t, platform.IsNotFound(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.state, status.State)
			assert.Equal(t, tt.running, status.Running)
			assert.Equal(t, tt.settled, status.Settled)
			assert.Equal(t, tt.failed, status.Failed)
			if tt.running {
				assert.Positive(t, status.UptimeSeconds)
			}
			assert.Contains(t, rec.calls[0].command, "systemctl show '"+unit+"'")
		})
	}
}

func TestProcessStatusWithoutSupervisor(t *testing.T) {
	rec := &recorder{respond: func(command string) (string, error) {
		return "running\n", nil
	}}
	s := settings(t)
	s.UseSupervisor = false
	deployer := vm.New(rec.dialer(t), nil)

	status, err := deployer.Status(context.Background(), target(s))
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Contains(t, rec.calls[0].command, "agent.pid")
}

func TestStopUnknownUnitSucceeds(t *testing.T) {
	rec := &recorder{respond: func(command string) (string, error) {
		return "Unit not loaded.", &vm.ExitError{Status: 5, Output: "Unit not loaded."}
	}}
	deployer := vm.New(rec.dialer(t), nil)

	status, err := deployer.Stop(context.Background(), target(settings(t)))
	require.NoError(t, err)
	assert.Equal(t, "stopped", status.State)
	assert.True(t, status.Settled)
}

func TestStartUnknownUnit(t *testing.T) {
	rec := &recorder{respond: func(command string) (string, error) {
		return "", &vm.ExitError{Status: 5}
	}}
	deployer := vm.New(rec.dialer(t), nil)

	_, err := deployer.Start(context.Background(), target(settings(t)))
	assert.True(t, platform.IsNotFound(err))
}

func TestLogs(t *testing.T) {
	rec := &recorder{respond: func(command string) (string, error) {
		return "line 1\nline 2\n", nil
	}}
	deployer := vm.New(rec.dialer(t), nil)

	logs, err := deployer.Logs(context.Background(), target(settings(t)), 50)
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2\n", logs)
	assert.Contains(t, rec.calls[0].command, "journalctl -u")
	assert.Contains(t, rec.calls[0].command, "-n 50 --no-pager")
}

func TestDeleteRemovesEverything(t *testing.T) {
	rec := &recorder{}
	s := settings(t)
	s.UseReverseProxy = true
	s.ProxyDomain = "agent.example.com"
	deployer := vm.New(rec.dialer(t), nil)

	require.NoError(t, deployer.Delete(context.Background(), target(s)))

	_, ok := rec.find("systemctl disable")
	assert.True(t, ok)
	_, ok = rec.find("/etc/nginx/conf.d/" + unit + ".conf")
	assert.True(t, ok)
	_, ok = rec.find("rm -rf")
	assert.True(t, ok)
}

func TestValidateConfig(t *testing.T) {
	deployer := vm.New(nil, nil)

	valid := deployer.ValidateConfig(target(settings(t)).Config)
	assert.Empty(t, valid.Errors)
	assert.Len(t, valid.Warnings, 1)

	s := settings(t)
	s.Host = ""
	s.SSHPort = 70000
	s.SSHKey = "not a key"
	s.InstallPath = "relative/path"
	s.UseReverseProxy = true
	result := deployer.ValidateConfig(target(s).Config)
	assert.Len(t, result.Errors, 5)
}

func TestAccessURL(t *testing.T) {
	deployer := vm.New(nil, nil)
	url, err := deployer.AccessURL(context.Background(), target(settings(t)))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8000", url)
}
