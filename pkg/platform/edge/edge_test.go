package edge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghodss/yaml"
	"github.com/postqode/agentdeploy/pkg/builder"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/platform"
	"github.com/postqode/agentdeploy/pkg/platform/edge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	deploymentID = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	subject      = "postqode.edge.device.sensor-7"
	artifactRef  = "registry.example.com/postqode/weather-edge:1.0.0"
)

func settings() *deployment.EdgeConfig {
	return &deployment.EdgeConfig{
		DeviceID:     "sensor-7",
		SyncInterval: 60,
		MemoryMB:     256,
		CPUPercent:   50,
		MaxPayloadMB: 64,
	}
}

func target(s *deployment.EdgeConfig) platform.Target {
	return platform.Target{
		DeploymentID: deploymentID,
		Config: deployment.Config{
			Platform:  deployment.PlatformEdge,
			AgentID:   "agent-1",
			AgentName: "weather",
			Port:      8080,
			AutoStart: true,
			EnvVars:   []deployment.EnvVar{{Name: "MODE", Value: "edge"}},
			Settings:  s,
		},
	}
}

func payload(t *testing.T) deployment.BuildResult {
	dir := t.TempDir()
	path := filepath.Join(dir, builder.PayloadFile)
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
	manifest, err := yaml.Marshal(builder.EdgeManifest{
		APIVersion: builder.EdgeAPI,
		Kind:       builder.EdgeAgentKind,
		Metadata:   builder.EdgeManifestMeta{Name: "weather", Version: "1.0.0", AgentID: "agent-1"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, builder.ManifestFile), manifest, 0o644))
	return deployment.BuildResult{
		Success:      true,
		Kind:         deployment.ArtifactEdgePayload,
		ArtifactPath: path,
		ArtifactRef:  artifactRef,
		Digest:       "sha256:abc",
	}
}

func reply(r edge.Reply) []byte {
	data, _ := json.Marshal(r)
	return data
}

func command(action string) interface{} {
	return mock.MatchedBy(func(data []byte) bool {
		cmd := edge.Command{}
		return json.Unmarshal(data, &cmd) == nil && cmd.Action == action && cmd.JobID == "edge-"+deploymentID
	})
}

func TestSubject(t *testing.T) {
	d := edge.New(nil, "")
	assert.Equal(t, subject, d.Subject(settings()))
	assert.Equal(t, "fleet.group.north", edge.New(nil, "fleet").Subject(&deployment.EdgeConfig{DeviceGroup: "north"}))
}

func TestDeploySendsArtifact(t *testing.T) {
	messenger := edge.NewMockMessenger(t)
	messenger.On("Request", mock.Anything, subject, mock.MatchedBy(func(data []byte) bool {
		cmd := edge.Command{}
		require.NoError(t, json.Unmarshal(data, &cmd))
		return cmd.Action == edge.ActionDeploy &&
			cmd.Artifact == artifactRef &&
			cmd.Digest == "sha256:abc" &&
			cmd.Manifest != nil && cmd.Manifest.Metadata.Name == "weather" &&
			cmd.Env["MODE"] == "edge" &&
			cmd.AutoStart
	})).Return(reply(edge.Reply{OK: true, JobID: "edge-" + deploymentID, State: "pulling", Message: "pulling payload", LocalURL: "http://10.1.1.7:8080"}), nil).Once()

	result, err := edge.New(messenger, "").Deploy(context.Background(), target(settings()), payload(t))
	require.NoError(t, err)
	assert.Equal(t, "edge-"+deploymentID, result.ExternalID)
	assert.Equal(t, "pulling", result.State)
	assert.Equal(t, "http://10.1.1.7:8080", result.Endpoints["local"])
}

func TestDeployWithoutRegistry(t *testing.T) {
	build := payload(t)
	build.ArtifactRef = ""

	_, err := edge.New(edge.NewMockMessenger(t), "").Deploy(context.Background(), target(settings()), build)
	assert.True(t, deployment.IsKind(err, deployment.KindDeploy))
}

func TestDeployOffline(t *testing.T) {
	for _, tt := range []struct {
		name           string
		offlineCapable bool
	}{
		{name: "queued when offline capable", offlineCapable: true},
		{name: "unreachable otherwise", offlineCapable: false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			messenger := edge.NewMockMessenger(t)
			messenger.On("Request", mock.Anything, subject, mock.Anything).
				Return(nil, fmt.Errorf("%s: %w", subject, edge.ErrOffline)).Once()
			s := settings()
			s.OfflineCapable = tt.offlineCapable

			result, err := edge.New(messenger, "").Deploy(context.Background(), target(s), payload(t))
			if tt.offlineCapable {
				require.NoError(t, err)
				assert.Equal(t, edge.StateQueued, result.State)
			} else {
				assert.True(t, deployment.IsKind(err, deployment.KindPlatformUnreachable))
			}
		})
	}
}

func TestDeployRejected(t *testing.T) {
	messenger := edge.NewMockMessenger(t)
	messenger.On("Request", mock.Anything, subject, command(edge.ActionDeploy)).
		Return(reply(edge.Reply{OK: false, State: "failed", Message: "payload exceeds storage"}), nil).Once()

	_, err := edge.New(messenger, "").Deploy(context.Background(), target(settings()), payload(t))
	assert.True(t, deployment.IsKind(err, deployment.KindDeploy))
	assert.Contains(t, err.Error(), "payload exceeds storage")
}

func TestStatus(t *testing.T) {
	for _, tt := range []struct {
		name    string
		reply   edge.Reply
		running bool
		settled bool
		failed  bool
		health  string
	}{
		{name: "running", reply: edge.Reply{OK: true, State: "running", Running: true, Healthy: true, UptimeSeconds: 30}, running: true, settled: true, health: deployment.HealthHealthy},
		{name: "pulling", reply: edge.Reply{OK: true, State: "pulling"}, health: deployment.HealthUnknown},
		{name: "failed", reply: edge.Reply{OK: true, State: "failed"}, settled: true, failed: true, health: deployment.HealthUnknown},
		{name: "unhealthy", reply: edge.Reply{OK: true, State: "running", Running: true}, running: true, settled: true, health: deployment.HealthUnhealthy},
	} {
		t.Run(tt.name, func(t *testing.T) {
			messenger := edge.NewMockMessenger(t)
			messenger.On("Request", mock.Anything, subject, command(edge.ActionStatus)).Return(reply(tt.reply), nil).Once()

			status, err := edge.New(messenger, "").Status(context.Background(), target(settings()))
			require.NoError(t, err)
			assert.Equal(t, tt.running, status.Running)
			assert.Equal(t, tt.settled, status.Settled)
			assert.Equal(t, tt.failed, status.Failed)
			assert.Equal(t, tt.health, status.Health)
		})
	}
}

func TestStatusOfflineCapable(t *testing.T) {
	messenger := edge.NewMockMessenger(t)
	messenger.On("Request", mock.Anything, subject, mock.Anything).Return(nil, edge.ErrOffline).Once()
	s := settings()
	s.OfflineCapable = true

	status, err := edge.New(messenger, "").Status(context.Background(), target(s))
	require.NoError(t, err)
	assert.Equal(t, edge.StateQueued, status.State)
	assert.True(t, status.Settled)
}

func TestStopAndDeleteUnknownJob(t *testing.T) {
	messenger := edge.NewMockMessenger(t)
	notFound := reply(edge.Reply{State: edge.StateNotFound})
	messenger.On("Request", mock.Anything, subject, command(edge.ActionStop)).Return(notFound, nil).Once()
	messenger.On("Request", mock.Anything, subject, command(edge.ActionDelete)).Return(notFound, nil).Once()
	d := edge.New(messenger, "")

	status, err := d.Stop(context.Background(), target(settings()))
	require.NoError(t, err)
	assert.Equal(t, "stopped", status.State)

	assert.NoError(t, d.Delete(context.Background(), target(settings())))
}

func TestStartUnknownJob(t *testing.T) {
	messenger := edge.NewMockMessenger(t)
	messenger.On("Request", mock.Anything, subject, command(edge.ActionStart)).
		Return(reply(edge.Reply{State: edge.StateNotFound}), nil).Once()

	_, err := edge.New(messenger, "").Start(context.Background(), target(settings()))
	assert.True(t, platform.IsNotFound(err))
}

func TestLogs(t *testing.T) {
	messenger := edge.NewMockMessenger(t)
	messenger.On("Request", mock.Anything, subject, mock.MatchedBy(func(data []byte) bool {
		cmd := edge.Command{}
		return json.Unmarshal(data, &cmd) == nil && cmd.Action == edge.ActionLogs && cmd.Lines == 20
	})).Return(reply(edge.Reply{OK: true, Logs: "booted\n"}), nil).Once()

	logs, err := edge.New(messenger, "").Logs(context.Background(), target(settings()), 20)
	require.NoError(t, err)
	assert.Equal(t, "booted\n", logs)
}

func TestAccessURLIsEmpty(t *testing.T) {
	url, err := edge.New(nil, "").AccessURL(context.Background(), target(settings()))
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestValidateConfig(t *testing.T) {
	d := edge.New(edge.NewMockMessenger(t), "")
	assert.True(t, d.ValidateConfig(target(settings()).Config).Valid())

	group := settings()
	group.DeviceID = ""
	group.DeviceGroup = "north"
	result := d.ValidateConfig(target(group).Config)
	assert.True(t, result.Valid())
	assert.Len(t, result.Warnings, 1)

	bad := &deployment.EdgeConfig{DeviceID: "sensor.7", CPUPercent: 150}
	result = d.ValidateConfig(target(bad).Config)
	assert.Len(t, result.Errors, 4)

	result = edge.New(nil, "").ValidateConfig(target(settings()).Config)
	assert.Equal(t, []string{"Edge device channel is not configured on this server"}, result.Errors)
}

func TestNATSDisconnected(t *testing.T) {
	messenger, err := edge.Connect("nats://127.0.0.1:1", time.Second)
	require.NoError(t, err)
	defer messenger.Close()

	_, err = messenger.Request(context.Background(), subject, []byte("{}"))
	assert.True(t, deployment.IsKind(err, deployment.KindPlatformUnreachable))
}
