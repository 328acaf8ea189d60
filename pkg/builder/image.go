package builder

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/ghodss/yaml"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/templating"
)

var contextExcludes = []string{"**/.git", "**/__pycache__", "**/*.pyc", "**/.venv", "**/venv"}

func (b *Builder) containerImage(ctx context.Context, contextDir string, cfg deployment.Config, out *buildLog, result *deployment.BuildResult) error {
	ref := LocalImage(cfg.AgentID, cfg.Version)
	err := b.buildImage(ctx, contextDir, ref, cfg, out)
	if err != nil {
		return err
	}
	result.ImageRef = ref
	return nil
}

// prepareContext adds the entry point wrapper and, unless the package brings
// its own, a Dockerfile to the build context.
func (b *Builder) prepareContext(contextDir string, cfg deployment.Config, out *buildLog) error {
	err := writeEntrypoint(contextDir)
	if err != nil {
		return err
	}

	dockerfile := filepath.Join(contextDir, "Dockerfile")
	if exists(dockerfile) {
		out.Printf("using Dockerfile from package")
		return nil
	}

	tpl, err := readTemplate("Dockerfile.hbs")
	if err != nil {
		return err
	}
	data, err := templating.Render(tpl, templating.Variables{
		"pythonImage": b.opts.PythonImage,
		"agentID":     cfg.AgentID,
		"version":     cfg.Version,
	})
	if err != nil {
		return fmt.Errorf("render Dockerfile: %w", err)
	}
	out.Printf("generated Dockerfile from %s", b.opts.PythonImage)
	return writeFile(dockerfile, data, 0o644)
}

func writeEntrypoint(dir string) error {
	data, err := readTemplate(EntrypointFile)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, EntrypointFile), data, 0o755)
}

func (b *Builder) buildImage(ctx context.Context, contextDir, ref string, cfg deployment.Config, out *buildLog) error {
	if b.images == nil {
		return fmt.Errorf("no Docker daemon configured for image builds")
	}

	err := b.prepareContext(contextDir, cfg, out)
	if err != nil {
		return err
	}

	buildContext, err := archive.TarWithOptions(contextDir, &archive.TarOptions{
		ExcludePatterns: contextExcludes,
	})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildContext.Close()

	out.Printf("building image %s", ref)
	response, err := b.images.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:        []string{ref},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
		Labels: map[string]string{
			"io.postqode.agent.id":      cfg.AgentID,
			"io.postqode.agent.version": cfg.Version,
		},
	})
	if err != nil {
		return fmt.Errorf("build image %s: %w", ref, err)
	}
	defer response.Body.Close()

	err = jsonmessage.DisplayJSONMessagesStream(response.Body, out, 0, false, nil)
	if err != nil {
		return fmt.Errorf("build image %s: %w", ref, err)
	}
	return nil
}

func (b *Builder) pushImage(ctx context.Context, ref, username, password string, out *buildLog) error {
	auth, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      username,
		Password:      password,
		ServerAddress: strings.SplitN(ref, "/", 2)[0],
	})
	if err != nil {
		return fmt.Errorf("encode registry credentials: %w", err)
	}

	out.Printf("pushing image %s", ref)
	stream, err := b.images.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return fmt.Errorf("push image %s: %w", ref, err)
	}
	defer stream.Close()

	err = jsonmessage.DisplayJSONMessagesStream(stream, out, 0, false, nil)
	if err != nil {
		return fmt.Errorf("push image %s: %w", ref, err)
	}
	return nil
}

type chartMetadata struct {
	APIVersion  string `json:"apiVersion"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Version     string `json:"version"`
	AppVersion  string `json:"appVersion"`
}

const ChartVersion = "1.0.0"

// chart builds and pushes the agent image, then writes a chart directory
// whose templates are rendered by the Kubernetes deployer at install time.
// Environment values are not written to disk.
func (b *Builder) chart(ctx context.Context, dir, contextDir string, cfg deployment.Config, out *buildLog, result *deployment.BuildResult) error {
	settings, ok := cfg.Settings.(*deployment.KubernetesConfig)
	if !ok {
		return fmt.Errorf("kubernetes settings missing")
	}

	registryHost := settings.Registry
	if len(registryHost) == 0 {
		registryHost = b.opts.DefaultRegistry
	}
	ref := fmt.Sprintf("%s/%s:%s", strings.TrimSuffix(registryHost, "/"), ImageName(cfg.AgentName), cfg.Version)

	err := b.buildImage(ctx, contextDir, ref, cfg, out)
	if err != nil {
		return err
	}
	err = b.pushImage(ctx, ref, settings.RegistryUsername, settings.RegistryPassword.Reveal(), out)
	if err != nil {
		return err
	}
	result.ImageRef = ref

	chartDir := filepath.Join(dir, "chart")
	meta, err := yaml.Marshal(chartMetadata{
		APIVersion:  "v2",
		Name:        ImageName(cfg.AgentName),
		Description: fmt.Sprintf("PostQode Agent: %s", cfg.AgentName),
		Type:        "application",
		Version:     ChartVersion,
		AppVersion:  cfg.Version,
	})
	if err != nil {
		return err
	}
	err = writeFile(filepath.Join(chartDir, "Chart.yaml"), meta, 0o644)
	if err != nil {
		return err
	}

	repository, tag := ref[:strings.LastIndex(ref, ":")], cfg.Version
	values, err := yaml.Marshal(map[string]interface{}{
		"replicaCount": settings.Replicas,
		"image": map[string]interface{}{
			"repository": repository,
			"tag":        tag,
		},
		"resources": map[string]interface{}{
			"requests": map[string]string{"cpu": settings.CPURequest, "memory": settings.MemoryRequest},
			"limits":   map[string]string{"cpu": settings.CPULimit, "memory": settings.MemoryLimit},
		},
		"ingress": map[string]interface{}{
			"enabled":   settings.IngressEnabled,
			"host":      settings.IngressHost,
			"className": settings.IngressClass,
		},
	})
	if err != nil {
		return err
	}
	err = writeFile(filepath.Join(chartDir, "values.yaml"), values, 0o644)
	if err != nil {
		return err
	}

	err = WriteChartTemplates(chartDir)
	if err != nil {
		return err
	}

	out.Printf("wrote chart %s %s", ImageName(cfg.AgentName), ChartVersion)
	result.ArtifactPath = chartDir
	return nil
}

// ChartTemplates lists the templates of a generated chart in install order.
var ChartTemplates = []string{"deployment.yaml", "service.yaml", "ingress.yaml"}

// WriteChartTemplates writes the chart's handlebars templates to {chartDir}/templates.
func WriteChartTemplates(chartDir string) error {
	for _, name := range ChartTemplates {
		data, err := readTemplate("chart/" + name)
		if err != nil {
			return err
		}
		err = writeFile(filepath.Join(chartDir, "templates", name), data, 0o644)
		if err != nil {
			return err
		}
	}
	return nil
}
