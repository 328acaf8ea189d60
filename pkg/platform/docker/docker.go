// Package docker runs agents as containers on a Docker daemon.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/platform"
	log "github.com/sirupsen/logrus"
)

const (
	ContainerPort = "8080/tcp"

	DefaultPublicHost     = "localhost"
	DefaultMarketplaceURL = "http://host.docker.internal:8000"

	stopTimeoutSeconds = 10

	healthStarting  = "starting"
	healthHealthy   = "healthy"
	healthUnhealthy = "unhealthy"

	labelDeploymentID = "io.postqode.deployment.id"
	labelAgentID      = "io.postqode.agent.id"
)

//go:generate mockery --name=API --inpackage --case snake

// API is the part of the Docker client used to manage agent containers.
type API interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

type Options struct {
	PublicHost     string
	MarketplaceURL string
}

type Deployer struct {
	client API
	opts   Options
}

var _ platform.Deployer = &Deployer{}

func New(client API, opts Options) *Deployer {
	if len(opts.PublicHost) == 0 {
		opts.PublicHost = DefaultPublicHost
	}
	if len(opts.MarketplaceURL) == 0 {
		opts.MarketplaceURL = DefaultMarketplaceURL
	}
	return &Deployer{
		client: client,
		opts:   opts,
	}
}

// ContainerName is the deterministic name of a deployment's container.
func ContainerName(agentID, deploymentID string) string {
	return fmt.Sprintf("postqode-%s-%s", agentID, platform.Short(deploymentID, 8))
}

func (d *Deployer) Platform() deployment.Platform {
	return deployment.PlatformDocker
}

func (d *Deployer) ArtifactKind() deployment.ArtifactKind {
	return deployment.ArtifactContainerImage
}

func (d *Deployer) Schema() deployment.Schema {
	return deployment.DockerSchema()
}

func (d *Deployer) ValidateConfig(cfg deployment.Config) deployment.ValidationResult {
	result := deployment.ValidationResult{}

	settings, ok := cfg.Settings.(*deployment.DockerConfig)
	if !ok {
		result.AddError("docker settings missing")
		return result
	}
	if len(cfg.AgentID) == 0 {
		result.AddError("agent_id is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		result.AddError("invalid port: %d", cfg.Port)
	}
	if len(settings.MemoryLimit) > 0 {
		if _, err := units.RAMInBytes(settings.MemoryLimit); err != nil {
			result.AddError("memory_limit %q is not a valid size", settings.MemoryLimit)
		}
	}
	if settings.CPULimit < 0 {
		result.AddError("cpu_limit must be positive")
	}
	if d.client == nil {
		result.AddError("Docker is not available on this server")
	}

	return result
}

func (d *Deployer) publicHost(settings *deployment.DockerConfig) string {
	if settings != nil && len(settings.PublicHost) > 0 {
		return settings.PublicHost
	}
	return d.opts.PublicHost
}

func (d *Deployer) url(target platform.Target) string {
	settings, _ := target.Config.Settings.(*deployment.DockerConfig)
	return fmt.Sprintf("http://%s:%d", d.publicHost(settings), target.Config.Port)
}

func (d *Deployer) name(target platform.Target) string {
	if len(target.ExternalID) > 0 {
		return target.ExternalID
	}
	return ContainerName(target.Config.AgentID, target.DeploymentID)
}

func (d *Deployer) Deploy(ctx context.Context, target platform.Target, build deployment.BuildResult) (deployment.DeployResult, error) {
	start := time.Now()
	result := deployment.DeployResult{}

	settings, err := platform.Settings[*deployment.DockerConfig](target)
	if err != nil {
		return result, err
	}
	if len(build.ImageRef) == 0 {
		return result, deployment.Errorf(deployment.KindDeploy, "no image to run")
	}
	if d.client == nil {
		return result, platform.Unreachablef("Docker is not available on this server")
	}

	name := ContainerName(target.Config.AgentID, target.DeploymentID)
	// Reported on failure too, so a half-created container can be removed.
	result.ExternalID = name
	logger := log.WithFields(log.Fields{
		"deployment_id": target.DeploymentID,
		"container":     name,
	})
	buf := &bytes.Buffer{}

	existing, err := d.client.ContainerInspect(ctx, name)
	switch {
	case err == nil && existing.Config != nil && existing.Config.Image == build.ImageRef:
		fmt.Fprintf(buf, "reusing container %s running %s\n", name, build.ImageRef)
		logger.Infof("Reusing existing container")
	case err == nil:
		fmt.Fprintf(buf, "replacing container %s\n", name)
		logger.Infof("Replacing container running a different image")
		err = d.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
		if err != nil && !errdefs.IsNotFound(err) {
			return result, mapError(err, "remove old container")
		}
		err = d.create(ctx, name, target, settings, build.ImageRef)
		if err != nil {
			return result, err
		}
		fmt.Fprintf(buf, "created container %s from %s\n", name, build.ImageRef)
	case errdefs.IsNotFound(err):
		err = d.create(ctx, name, target, settings, build.ImageRef)
		if err != nil {
			return result, err
		}
		fmt.Fprintf(buf, "created container %s from %s\n", name, build.ImageRef)
	default:
		return result, mapError(err, "inspect container")
	}

	result.State = "created"
	if target.Config.AutoStart {
		err = d.client.ContainerStart(ctx, name, container.StartOptions{})
		if err != nil {
			return result, mapError(err, "start container")
		}
		result.State = "running"
		fmt.Fprintf(buf, "started container %s\n", name)
	}

	url := d.url(target)
	result.AccessURL = url
	result.Endpoints = map[string]string{
		"web":    url,
		"health": url + "/health",
		"invoke": url + "/invoke",
		"logs":   "docker logs " + name,
		"shell":  fmt.Sprintf("docker exec -it %s /bin/sh", name),
	}
	result.Log = buf.String()
	result.Duration = time.Since(start)

	return result, nil
}

func (d *Deployer) create(ctx context.Context, name string, target platform.Target, settings *deployment.DockerConfig, image string) error {
	env := make([]string, 0, len(target.Config.EnvVars)+4)
	for _, e := range target.Config.EnvVars {
		env = append(env, e.Name+"="+e.Value)
	}
	env = append(env,
		"POSTQODE_DEPLOYMENT_ID="+target.DeploymentID,
		"POSTQODE_AGENT_ID="+target.Config.AgentID,
		"POSTQODE_ADAPTER="+target.Config.Adapter,
		"POSTQODE_MARKETPLACE_URL="+d.opts.MarketplaceURL,
	)

	resources := container.Resources{}
	if len(settings.MemoryLimit) > 0 {
		memory, err := units.RAMInBytes(settings.MemoryLimit)
		if err != nil {
			return deployment.Errorf(deployment.KindValidation, "memory_limit %q is not a valid size", settings.MemoryLimit)
		}
		resources.Memory = memory
	}
	if settings.CPULimit > 0 {
		resources.NanoCPUs = int64(settings.CPULimit * 1e9)
	}

	port := nat.Port(ContainerPort)
	_, err := d.client.ContainerCreate(ctx,
		&container.Config{
			Image:        image,
			Env:          env,
			ExposedPorts: nat.PortSet{port: struct{}{}},
			Labels: map[string]string{
				labelDeploymentID: target.DeploymentID,
				labelAgentID:      target.Config.AgentID,
			},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(target.Config.Port)}},
			},
			ExtraHosts:    []string{"host.docker.internal:host-gateway"},
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
			Resources:     resources,
		},
		nil, nil, name)
	if err != nil {
		return mapError(err, "create container")
	}
	return nil
}

func (d *Deployer) Start(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	if d.client == nil {
		return deployment.StatusResult{}, platform.Unreachablef("Docker is not available on this server")
	}
	err := d.client.ContainerStart(ctx, d.name(target), container.StartOptions{})
	if err != nil {
		return deployment.StatusResult{}, mapError(err, "start container")
	}
	return d.Status(ctx, target)
}

// Stop is idempotent: stopping a stopped or missing container succeeds.
func (d *Deployer) Stop(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	stopped := deployment.StatusResult{
		State:       "stopped",
		Health:      deployment.HealthUnknown,
		Settled:     true,
		Message:     "Container stopped",
		LastUpdated: time.Now(),
	}
	if d.client == nil {
		return deployment.StatusResult{}, platform.Unreachablef("Docker is not available on this server")
	}
	timeout := stopTimeoutSeconds
	err := d.client.ContainerStop(ctx, d.name(target), container.StopOptions{Timeout: &timeout})
	if err != nil && !errdefs.IsNotFound(err) {
		return deployment.StatusResult{}, mapError(err, "stop container")
	}
	return stopped, nil
}

func (d *Deployer) Status(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	if d.client == nil {
		return deployment.StatusResult{}, platform.Unreachablef("Docker is not available on this server")
	}
	info, err := d.client.ContainerInspect(ctx, d.name(target))
	if err != nil {
		return deployment.StatusResult{}, mapError(err, "inspect container")
	}
	return statusOf(info), nil
}

func statusOf(info types.ContainerJSON) deployment.StatusResult {
	result := deployment.StatusResult{
		State:       "unknown",
		Health:      deployment.HealthUnknown,
		LastUpdated: time.Now(),
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return result
	}

	state := info.State
	result.State = state.Status
	result.Running = state.Running && !state.Restarting
	result.Message = fmt.Sprintf("Container is %s", state.Status)

	if state.Health != nil && len(state.Health.Status) > 0 {
		switch state.Health.Status {
		case healthHealthy:
			result.Health = deployment.HealthHealthy
		case healthUnhealthy:
			result.Health = deployment.HealthUnhealthy
		}
	}

	if started, err := time.Parse(time.RFC3339Nano, state.StartedAt); err == nil && result.Running {
		result.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	switch {
	case result.Running:
		result.Settled = result.Health != deployment.HealthUnhealthy && (state.Health == nil || state.Health.Status != healthStarting)
	case state.Status == "exited" || state.Status == "dead":
		result.Failed = true
		result.Message = fmt.Sprintf("Container %s with exit code %d", state.Status, state.ExitCode)
		if len(state.Error) > 0 {
			result.Message += ": " + state.Error
		}
	case state.OOMKilled:
		result.Failed = true
		result.Message = "Container was killed for exceeding its memory limit"
	}

	return result
}

func (d *Deployer) Logs(ctx context.Context, target platform.Target, lines int) (string, error) {
	if d.client == nil {
		return "", platform.Unreachablef("Docker is not available on this server")
	}
	stream, err := d.client.ContainerLogs(ctx, d.name(target), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       strconv.Itoa(lines),
	})
	if err != nil {
		return "", mapError(err, "read container logs")
	}
	defer stream.Close()

	buf := &bytes.Buffer{}
	_, err = stdcopy.StdCopy(buf, buf, stream)
	if err != nil {
		return buf.String(), fmt.Errorf("demultiplex container logs: %w", err)
	}
	return buf.String(), nil
}

func (d *Deployer) AccessURL(ctx context.Context, target platform.Target) (string, error) {
	return d.url(target), nil
}

func (d *Deployer) Delete(ctx context.Context, target platform.Target) error {
	if d.client == nil {
		return platform.Unreachablef("Docker is not available on this server")
	}
	err := d.client.ContainerRemove(ctx, d.name(target), container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !errdefs.IsNotFound(err) {
		return mapError(err, "remove container")
	}
	return nil
}

func mapError(err error, action string) error {
	switch {
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%s: %w", action, platform.ErrNotFound)
	case client.IsErrConnectionFailed(err):
		return platform.Unreachablef("%s: %w", action, err)
	case errdefs.IsInvalidParameter(err):
		return deployment.Errorf(deployment.KindValidation, "%s: %w", action, err)
	default:
		return deployment.Errorf(deployment.KindDeploy, "%s: %w", action, err)
	}
}
