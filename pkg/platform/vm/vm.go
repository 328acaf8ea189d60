// Package vm installs agents on virtual machines and bare-metal hosts over SSH.
package vm

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/postqode/agentdeploy/pkg/artifact"
	"github.com/postqode/agentdeploy/pkg/builder"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/platform"
	"github.com/postqode/agentdeploy/pkg/templating"
	log "github.com/sirupsen/logrus"
)

const (
	LogDir      = "/var/log/postqode"
	UnitDir     = "/etc/systemd/system"
	NginxDir    = "/etc/nginx/conf.d"
	PidFile     = "agent.pid"
	EnvFile     = ".env"
	systemdTime = "Mon 2006-01-02 15:04:05 MST"

	// systemctl exits with 5 when the unit is not loaded.
	exitUnitNotLoaded = 5
)

//go:embed nginx.conf.hbs
var nginxTemplate []byte

type Deployer struct {
	dial      Dialer
	artifacts *artifact.Store
}

var _ platform.Deployer = &Deployer{}

func New(dial Dialer, artifacts *artifact.Store) *Deployer {
	if dial == nil {
		dial = Dial
	}
	return &Deployer{
		dial:      dial,
		artifacts: artifacts,
	}
}

// UnitName is the systemd unit of one deployment.
func UnitName(agentID, deploymentID string) string {
	return fmt.Sprintf("postqode-%s-%s", platform.Short(agentID, 8), platform.Short(deploymentID, 8))
}

func (d *Deployer) Platform() deployment.Platform {
	return deployment.PlatformVM
}

func (d *Deployer) ArtifactKind() deployment.ArtifactKind {
	return deployment.ArtifactInstallTarball
}

func (d *Deployer) Schema() deployment.Schema {
	return deployment.VMSchema()
}

func (d *Deployer) ValidateConfig(cfg deployment.Config) deployment.ValidationResult {
	result := deployment.ValidationResult{}

	settings, ok := cfg.Settings.(*deployment.VMConfig)
	if !ok {
		result.AddError("vm settings missing")
		return result
	}
	if len(settings.Host) == 0 {
		result.AddError("host is required")
	}
	if settings.SSHPort < 1 || settings.SSHPort > 65535 {
		result.AddError("invalid ssh_port: %d", settings.SSHPort)
	}
	if len(settings.Username) == 0 {
		result.AddError("username is required")
	}
	if _, err := ParsePrivateKey(settings.SSHKey.Reveal()); err != nil {
		result.AddError("%s", err)
	}
	if !path.IsAbs(settings.InstallPath) {
		result.AddError("install_path %q must be absolute", settings.InstallPath)
	}
	if settings.UseReverseProxy && len(settings.ProxyDomain) == 0 {
		result.AddError("proxy_domain is required when use_reverse_proxy is set")
	}
	if settings.UseReverseProxy && !settings.UseSupervisor {
		result.AddWarning("the reverse proxy is configured, but the agent is not supervised and will not survive a reboot")
	}
	if len(settings.HostKeyFingerprint) == 0 {
		result.AddWarning("No host_key_fingerprint specified, the host key will not be verified")
	}

	return result
}

// host describes one deployment on one machine.
type host struct {
	runner   Runner
	settings *deployment.VMConfig
	unit     string
	dir      string
	agentID  string
}

func (d *Deployer) connect(ctx context.Context, target platform.Target) (*host, error) {
	settings, err := platform.Settings[*deployment.VMConfig](target)
	if err != nil {
		return nil, err
	}
	runner, err := d.dial(ctx, settings)
	if err != nil {
		return nil, err
	}
	unit := target.ExternalID
	if len(unit) == 0 {
		unit = UnitName(target.Config.AgentID, target.DeploymentID)
	}
	return &host{
		runner:   runner,
		settings: settings,
		unit:     unit,
		dir:      builder.InstallDir(settings.InstallPath, target.Config.AgentID),
		agentID:  target.Config.AgentID,
	}, nil
}

// quote wraps s in single quotes for the remote shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// run executes a script through sh, with sudo unless logged in as root.
func (h *host) run(ctx context.Context, script string, stdin []byte) (string, error) {
	command := "sh -c " + quote(script)
	if h.settings.Username != "root" {
		command = "sudo -n " + command
	}
	var input io.Reader
	if stdin != nil {
		input = bytes.NewReader(stdin)
	}
	return h.runner.Run(ctx, command, input)
}

func (h *host) logFile() string {
	return fmt.Sprintf("%s/%s.log", LogDir, builder.PathSafe(h.agentID))
}

func commandError(err error, action string) error {
	if _, ok := ExitStatus(err); ok {
		return deployment.Errorf(deployment.KindDeploy, "%s: %w", action, err)
	}
	return err
}

// EnvFileContent renders the environment file read by the unit.
func EnvFileContent(target platform.Target) []byte {
	buf := &bytes.Buffer{}
	write := func(name, value string) {
		value = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(value)
		fmt.Fprintf(buf, "%s=\"%s\"\n", name, value)
	}
	write("POSTQODE_DEPLOYMENT_ID", target.DeploymentID)
	write("POSTQODE_AGENT_ID", target.Config.AgentID)
	write("POSTQODE_ADAPTER", target.Config.Adapter)
	write("PORT", fmt.Sprint(target.Config.Port))
	for _, e := range target.Config.EnvVars {
		write(e.Name, e.Value)
	}
	return buf.Bytes()
}

func (d *Deployer) Deploy(ctx context.Context, target platform.Target, build deployment.BuildResult) (deployment.DeployResult, error) {
	start := time.Now()
	result := deployment.DeployResult{}

	tarball, err := artifact.Load(ctx, d.artifacts, build.ArtifactPath, build.ArtifactRef)
	if err != nil {
		return result, deployment.Errorf(deployment.KindDeploy, "load install tarball: %w", err)
	}

	h, err := d.connect(ctx, target)
	if err != nil {
		return result, err
	}
	defer h.runner.Close()
	result.ExternalID = h.unit

	logger := log.WithFields(log.Fields{
		"deployment_id": target.DeploymentID,
		"host":          h.settings.Host,
		"unit":          h.unit,
	})
	buf := &bytes.Buffer{}
	step := func(action, script string, stdin []byte) error {
		output, err := h.run(ctx, script, stdin)
		fmt.Fprintf(buf, "== %s\n%s", action, output)
		if err != nil {
			return commandError(err, action)
		}
		return nil
	}

	upload := fmt.Sprintf("/tmp/%s.tar.gz", h.unit)
	err = step("upload package", fmt.Sprintf("cat > %s", quote(upload)), tarball)
	if err != nil {
		return result, err
	}

	err = step("install", fmt.Sprintf("mkdir -p %[1]s %[2]s && tar -xzf %[3]s -C %[1]s && rm -f %[3]s && bash %[1]s/%[4]s",
		quote(h.dir), LogDir, quote(upload), builder.InstallScript), nil)
	if err != nil {
		return result, err
	}

	env := path.Join(h.dir, EnvFile)
	err = step("write environment", fmt.Sprintf("umask 077 && cat > %[1]s && chmod 600 %[1]s", quote(env)), EnvFileContent(target))
	if err != nil {
		return result, err
	}

	if h.settings.UseSupervisor {
		unitFile := path.Join(UnitDir, h.unit+".service")
		err = step("install unit", fmt.Sprintf("install -m 0644 %s %s && systemctl daemon-reload && systemctl enable %s",
			quote(path.Join(h.dir, builder.UnitFile)), quote(unitFile), quote(h.unit)), nil)
		if err != nil {
			return result, err
		}
	}

	if h.settings.UseReverseProxy {
		site, err := templating.Render(nginxTemplate, templating.Variables{
			"domain": h.settings.ProxyDomain,
			"port":   target.Config.Port,
		})
		if err != nil {
			return result, deployment.Errorf(deployment.KindDeploy, "render proxy site: %w", err)
		}
		conf := path.Join(NginxDir, h.unit+".conf")
		err = step("configure reverse proxy", fmt.Sprintf("cat > %s && nginx -t && systemctl reload nginx", quote(conf)), site)
		if err != nil {
			return result, err
		}
	}

	result.State = "installed"
	if target.Config.AutoStart {
		err = step("start", h.startScript(true), nil)
		if err != nil {
			return result, err
		}
		result.State = "started"
	}
	logger.Infof("Agent installed")

	url := accessURL(h.settings, target.Config.Port)
	result.AccessURL = url
	result.Endpoints = map[string]string{
		"web":    url,
		"health": url + "/health",
		"ssh":    fmt.Sprintf("ssh -p %d %s@%s", h.settings.SSHPort, h.settings.Username, h.settings.Host),
	}
	if h.settings.UseSupervisor {
		result.Endpoints["logs"] = fmt.Sprintf("sudo journalctl -u %s -f", h.unit)
		result.Endpoints["status"] = fmt.Sprintf("sudo systemctl status %s", h.unit)
		result.Endpoints["restart"] = fmt.Sprintf("sudo systemctl restart %s", h.unit)
	} else {
		result.Endpoints["logs"] = fmt.Sprintf("tail -f %s", h.logFile())
	}
	result.Log = buf.String()
	result.Duration = time.Since(start)

	return result, nil
}

func (h *host) startScript(restart bool) string {
	if h.settings.UseSupervisor {
		verb := "start"
		if restart {
			verb = "restart"
		}
		return fmt.Sprintf("systemctl %s %s", verb, quote(h.unit))
	}
	pid := quote(path.Join(h.dir, PidFile))
	return fmt.Sprintf("cd %[1]s && if [ -f %[2]s ] && kill -0 $(cat %[2]s) 2>/dev/null; then kill $(cat %[2]s); fi; "+
		"set -a && . ./%[3]s && set +a && nohup ./venv/bin/python %[4]s >> %[5]s 2>&1 & echo $! > %[2]s",
		quote(h.dir), pid, EnvFile, builder.EntrypointFile, quote(h.logFile()))
}

func accessURL(settings *deployment.VMConfig, port int) string {
	if settings.UseReverseProxy && len(settings.ProxyDomain) > 0 {
		return "https://" + settings.ProxyDomain
	}
	return fmt.Sprintf("http://%s:%d", settings.Host, port)
}

func (d *Deployer) Start(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	h, err := d.connect(ctx, target)
	if err != nil {
		return deployment.StatusResult{}, err
	}
	defer h.runner.Close()

	_, err = h.run(ctx, h.startScript(false), nil)
	if status, ok := ExitStatus(err); ok && status == exitUnitNotLoaded {
		return deployment.StatusResult{}, fmt.Errorf("unit %s: %w", h.unit, platform.ErrNotFound)
	} else if err != nil {
		return deployment.StatusResult{}, commandError(err, "start")
	}
	return h.status(ctx)
}

// Stop succeeds on inactive and unknown units.
func (d *Deployer) Stop(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	h, err := d.connect(ctx, target)
	if err != nil {
		return deployment.StatusResult{}, err
	}
	defer h.runner.Close()

	script := fmt.Sprintf("systemctl stop %s", quote(h.unit))
	if !h.settings.UseSupervisor {
		pid := quote(path.Join(h.dir, PidFile))
		script = fmt.Sprintf("if [ -f %[1]s ]; then kill $(cat %[1]s) 2>/dev/null || true; rm -f %[1]s; fi", pid)
	}

	_, err = h.run(ctx, script, nil)
	if status, ok := ExitStatus(err); ok && status == exitUnitNotLoaded {
		err = nil
	}
	if err != nil {
		return deployment.StatusResult{}, commandError(err, "stop")
	}
	return deployment.StatusResult{
		State:       "stopped",
		Health:      deployment.HealthUnknown,
		Settled:     true,
		Message:     "Service stopped",
		LastUpdated: time.Now(),
	}, nil
}

func (d *Deployer) Status(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	h, err := d.connect(ctx, target)
	if err != nil {
		return deployment.StatusResult{}, err
	}
	defer h.runner.Close()
	return h.status(ctx)
}

func (h *host) status(ctx context.Context) (deployment.StatusResult, error) {
	if !h.settings.UseSupervisor {
		return h.processStatus(ctx)
	}

	output, err := h.runner.Run(ctx, fmt.Sprintf("systemctl show %s --property=LoadState,ActiveState,SubState,ActiveEnterTimestamp", quote(h.unit)), nil)
	if err != nil {
		return deployment.StatusResult{}, commandError(err, "query unit")
	}
	return unitStatus(h.unit, output)
}

func parseProperties(output string) map[string]string {
	properties := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if ok {
			properties[key] = value
		}
	}
	return properties
}

func unitStatus(unit, output string) (deployment.StatusResult, error) {
	properties := parseProperties(output)
	if properties["LoadState"] == "not-found" {
		return deployment.StatusResult{}, fmt.Errorf("unit %s: %w", unit, platform.ErrNotFound)
	}

	active, sub := properties["ActiveState"], properties["SubState"]
	result := deployment.StatusResult{
		State:       active,
		Health:      deployment.HealthUnknown,
		Message:     fmt.Sprintf("Service is %s (%s)", active, sub),
		LastUpdated: time.Now(),
	}

	switch {
	case active == "active" && sub == "running":
		result.State = "running"
		result.Running = true
		result.Settled = true
		result.Health = deployment.HealthHealthy
		if at, err := time.Parse(systemdTime, properties["ActiveEnterTimestamp"]); err == nil {
			result.UptimeSeconds = int64(time.Since(at).Seconds())
		}
	case active == "inactive":
		result.State = "stopped"
		result.Settled = true
	case active == "failed":
		result.Failed = true
		result.Health = deployment.HealthUnhealthy
	case sub == "auto-restart":
		result.Health = deployment.HealthUnhealthy
	}

	return result, nil
}

func (h *host) processStatus(ctx context.Context) (deployment.StatusResult, error) {
	pid := quote(path.Join(h.dir, PidFile))
	output, err := h.run(ctx, fmt.Sprintf("if [ ! -d %[1]s ]; then echo missing; elif [ -f %[2]s ] && kill -0 $(cat %[2]s) 2>/dev/null; then echo running; else echo stopped; fi",
		quote(h.dir), pid), nil)
	if err != nil {
		return deployment.StatusResult{}, commandError(err, "query process")
	}

	result := deployment.StatusResult{
		Health:      deployment.HealthUnknown,
		Settled:     true,
		LastUpdated: time.Now(),
	}
	switch strings.TrimSpace(output) {
	case "missing":
		return deployment.StatusResult{}, fmt.Errorf("install directory %s: %w", h.dir, platform.ErrNotFound)
	case "running":
		result.State = "running"
		result.Running = true
		result.Health = deployment.HealthHealthy
	default:
		result.State = "stopped"
	}
	result.Message = fmt.Sprintf("Process is %s", result.State)
	return result, nil
}

func (d *Deployer) Logs(ctx context.Context, target platform.Target, lines int) (string, error) {
	h, err := d.connect(ctx, target)
	if err != nil {
		return "", err
	}
	defer h.runner.Close()

	script := fmt.Sprintf("journalctl -u %s -n %d --no-pager", quote(h.unit), lines)
	if !h.settings.UseSupervisor {
		script = fmt.Sprintf("tail -n %d %s", lines, quote(h.logFile()))
	}
	output, err := h.run(ctx, script, nil)
	if err != nil {
		return output, commandError(err, "read logs")
	}
	return output, nil
}

func (d *Deployer) AccessURL(ctx context.Context, target platform.Target) (string, error) {
	settings, err := platform.Settings[*deployment.VMConfig](target)
	if err != nil {
		return "", err
	}
	return accessURL(settings, target.Config.Port), nil
}

// Delete stops the agent and removes its unit, proxy site and install directory.
func (d *Deployer) Delete(ctx context.Context, target platform.Target) error {
	h, err := d.connect(ctx, target)
	if err != nil {
		return err
	}
	defer h.runner.Close()

	unit := quote(h.unit)
	scripts := []string{
		fmt.Sprintf("systemctl stop %[1]s 2>/dev/null; systemctl disable %[1]s 2>/dev/null; rm -f %[2]s && systemctl daemon-reload",
			unit, quote(path.Join(UnitDir, h.unit+".service"))),
	}
	if !h.settings.UseSupervisor {
		pid := quote(path.Join(h.dir, PidFile))
		scripts[0] = fmt.Sprintf("if [ -f %[1]s ]; then kill $(cat %[1]s) 2>/dev/null || true; fi", pid)
	}
	if h.settings.UseReverseProxy {
		scripts = append(scripts, fmt.Sprintf("rm -f %s && (nginx -t && systemctl reload nginx || true)",
			quote(path.Join(NginxDir, h.unit+".conf"))))
	}
	scripts = append(scripts, fmt.Sprintf("rm -rf %s", quote(h.dir)))

	for _, script := range scripts {
		_, err = h.run(ctx, script, nil)
		if err != nil {
			return commandError(err, "remove agent")
		}
	}
	return nil
}
