// Package edge deploys agents to edge devices through a request/reply command channel.
package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/postqode/agentdeploy/pkg/builder"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/platform"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultSubjectPrefix = "postqode.edge"

	ActionDeploy = "deploy"
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionStatus = "status"
	ActionLogs   = "logs"
	ActionDelete = "delete"

	StateQueued   = deployment.StateQueued
	StateNotFound = "not_found"
)

var subjectToken = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Command is sent to the device runtime.
type Command struct {
	Action       string                `json:"action"`
	JobID        string                `json:"job_id"`
	DeploymentID string                `json:"deployment_id"`
	AgentID      string                `json:"agent_id,omitempty"`
	Artifact     string                `json:"artifact,omitempty"`
	Digest       string                `json:"digest,omitempty"`
	Manifest     *builder.EdgeManifest `json:"manifest,omitempty"`
	Env          map[string]string     `json:"env,omitempty"`
	AutoStart    bool                  `json:"auto_start,omitempty"`
	Lines        int                   `json:"lines,omitempty"`
}

// Reply is the device's answer to a Command.
type Reply struct {
	OK            bool   `json:"ok"`
	JobID         string `json:"job_id"`
	State         string `json:"state"`
	Message       string `json:"message"`
	LocalURL      string `json:"local_url,omitempty"`
	Running       bool   `json:"running"`
	Healthy       bool   `json:"healthy"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Logs          string `json:"logs,omitempty"`
}

func (r Reply) notFound() bool {
	return r.State == StateNotFound
}

type Deployer struct {
	messenger Messenger
	prefix    string
}

var _ platform.Deployer = &Deployer{}

func New(messenger Messenger, prefix string) *Deployer {
	if len(prefix) == 0 {
		prefix = DefaultSubjectPrefix
	}
	return &Deployer{
		messenger: messenger,
		prefix:    prefix,
	}
}

func JobID(deploymentID string) string {
	return "edge-" + deploymentID
}

// Subject addresses a single device, or every device of a group.
func (d *Deployer) Subject(settings *deployment.EdgeConfig) string {
	if len(settings.DeviceID) > 0 {
		return fmt.Sprintf("%s.device.%s", d.prefix, settings.DeviceID)
	}
	return fmt.Sprintf("%s.group.%s", d.prefix, settings.DeviceGroup)
}

func (d *Deployer) Platform() deployment.Platform {
	return deployment.PlatformEdge
}

func (d *Deployer) ArtifactKind() deployment.ArtifactKind {
	return deployment.ArtifactEdgePayload
}

func (d *Deployer) Schema() deployment.Schema {
	return deployment.EdgeSchema()
}

func (d *Deployer) ValidateConfig(cfg deployment.Config) deployment.ValidationResult {
	result := deployment.ValidationResult{}

	settings, ok := cfg.Settings.(*deployment.EdgeConfig)
	if !ok {
		result.AddError("edge settings missing")
		return result
	}
	if d.messenger == nil {
		result.AddError("Edge device channel is not configured on this server")
	}

	switch {
	case len(settings.DeviceID) == 0 && len(settings.DeviceGroup) == 0:
		result.AddError("either device_id or device_group is required")
	case len(settings.DeviceID) > 0 && !subjectToken.MatchString(settings.DeviceID):
		result.AddError("invalid device_id %q: only letters, digits, '-' and '_' are allowed", settings.DeviceID)
	case len(settings.DeviceID) == 0 && !subjectToken.MatchString(settings.DeviceGroup):
		result.AddError("invalid device_group %q: only letters, digits, '-' and '_' are allowed", settings.DeviceGroup)
	}
	if len(settings.DeviceID) > 0 && len(settings.DeviceGroup) > 0 {
		result.AddWarning("both device_id and device_group are set, only device %s is targeted", settings.DeviceID)
	} else if len(settings.DeviceGroup) > 0 {
		result.AddWarning("status of group deployments reflects the first device that answers")
	}

	if settings.MemoryMB < 16 {
		result.AddError("memory_mb must be at least 16")
	}
	if settings.CPUPercent < 1 || settings.CPUPercent > 100 {
		result.AddError("cpu_percent must be between 1 and 100")
	}
	if settings.SyncInterval < 0 {
		result.AddError("sync_interval must not be negative")
	}
	if settings.MaxPayloadMB < 1 {
		result.AddError("max_payload_mb must be at least 1")
	}

	return result
}

func (d *Deployer) request(ctx context.Context, target platform.Target, cmd Command) (Reply, *deployment.EdgeConfig, error) {
	settings, err := platform.Settings[*deployment.EdgeConfig](target)
	if err != nil {
		return Reply{}, nil, err
	}
	if d.messenger == nil {
		return Reply{}, settings, platform.Unreachablef("edge device channel is not configured")
	}

	cmd.JobID = JobID(target.DeploymentID)
	cmd.DeploymentID = target.DeploymentID
	payload, err := json.Marshal(cmd)
	if err != nil {
		return Reply{}, settings, err
	}

	subject := d.Subject(settings)
	log.WithFields(log.Fields{
		"deployment_id": target.DeploymentID,
		"subject":       subject,
	}).Debugf("Sending %s command", cmd.Action)

	data, err := d.messenger.Request(ctx, subject, payload)
	if err != nil {
		return Reply{}, settings, err
	}

	reply := Reply{}
	err = json.Unmarshal(data, &reply)
	if err != nil {
		return Reply{}, settings, deployment.Errorf(deployment.KindDeploy, "decode reply from %s: %w", subject, err)
	}
	if reply.notFound() {
		return reply, settings, fmt.Errorf("job %s: %w", cmd.JobID, platform.ErrNotFound)
	}
	if !reply.OK {
		return reply, settings, deployment.Errorf(deployment.KindDeploy, "device rejected %s: %s", cmd.Action, reply.Message)
	}
	return reply, settings, nil
}

func offline(err error) bool {
	return errors.Is(err, ErrOffline)
}

func unreachable(err error) error {
	if offline(err) {
		return platform.Unreachable(err)
	}
	return err
}

func (d *Deployer) Deploy(ctx context.Context, target platform.Target, build deployment.BuildResult) (deployment.DeployResult, error) {
	start := time.Now()
	result := deployment.DeployResult{}

	if len(build.ArtifactRef) == 0 {
		return result, deployment.Errorf(deployment.KindDeploy, "edge payload was not pushed to a registry, devices cannot pull it")
	}
	manifest, err := builder.ReadEdgeManifest(build.ArtifactPath)
	if err != nil {
		return result, deployment.Errorf(deployment.KindDeploy, "read edge manifest: %w", err)
	}

	reply, settings, err := d.request(ctx, target, Command{
		Action:    ActionDeploy,
		AgentID:   target.Config.AgentID,
		Artifact:  build.ArtifactRef,
		Digest:    build.Digest,
		Manifest:  manifest,
		Env:       target.Config.Env(),
		AutoStart: target.Config.AutoStart,
	})

	result.ExternalID = JobID(target.DeploymentID)
	result.Duration = time.Since(start)

	if offline(err) && settings != nil && settings.OfflineCapable {
		result.State = StateQueued
		result.Log = fmt.Sprintf("%s is offline, the deployment is applied on its next sync", d.Subject(settings))
		return result, nil
	}
	if err != nil {
		return result, unreachable(err)
	}

	result.State = reply.State
	result.Log = reply.Message
	if len(reply.LocalURL) > 0 {
		result.Endpoints = map[string]string{"local": reply.LocalURL}
	}
	return result, nil
}

// Devices report these states while a job is still converging.
var transitional = map[string]bool{
	"pulling":    true,
	"installing": true,
	"starting":   true,
}

func statusOf(reply Reply) deployment.StatusResult {
	status := deployment.StatusResult{
		Running:       reply.Running,
		Settled:       !transitional[reply.State],
		Failed:        reply.State == "failed",
		State:         reply.State,
		Health:        deployment.HealthUnknown,
		Message:       reply.Message,
		UptimeSeconds: reply.UptimeSeconds,
		LastUpdated:   time.Now(),
	}
	if reply.Running {
		status.Health = deployment.HealthUnhealthy
		if reply.Healthy {
			status.Health = deployment.HealthHealthy
		}
	}
	return status
}

func queued() deployment.StatusResult {
	return deployment.StatusResult{
		State:       StateQueued,
		Settled:     true,
		Health:      deployment.HealthUnknown,
		Message:     "Device is offline, the deployment is applied on its next sync",
		LastUpdated: time.Now(),
	}
}

func (d *Deployer) Start(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	reply, _, err := d.request(ctx, target, Command{Action: ActionStart})
	if err != nil {
		return deployment.StatusResult{}, unreachable(err)
	}
	return statusOf(reply), nil
}

// Stop succeeds when the device does not know the job.
func (d *Deployer) Stop(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	reply, _, err := d.request(ctx, target, Command{Action: ActionStop})
	if platform.IsNotFound(err) {
		return deployment.StatusResult{
			State:       "stopped",
			Settled:     true,
			Health:      deployment.HealthUnknown,
			LastUpdated: time.Now(),
		}, nil
	}
	if err != nil {
		return deployment.StatusResult{}, unreachable(err)
	}
	return statusOf(reply), nil
}

func (d *Deployer) Status(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	reply, settings, err := d.request(ctx, target, Command{Action: ActionStatus})
	if offline(err) && settings != nil && settings.OfflineCapable {
		return queued(), nil
	}
	if err != nil {
		return deployment.StatusResult{}, unreachable(err)
	}
	return statusOf(reply), nil
}

func (d *Deployer) Logs(ctx context.Context, target platform.Target, lines int) (string, error) {
	reply, _, err := d.request(ctx, target, Command{Action: ActionLogs, Lines: lines})
	if err != nil {
		return "", unreachable(err)
	}
	return reply.Logs, nil
}

// AccessURL is always empty, edge agents are not reachable from the service.
func (d *Deployer) AccessURL(ctx context.Context, target platform.Target) (string, error) {
	return "", nil
}

func (d *Deployer) Delete(ctx context.Context, target platform.Target) error {
	_, _, err := d.request(ctx, target, Command{Action: ActionDelete})
	if platform.IsNotFound(err) {
		return nil
	}
	return unreachable(err)
}
