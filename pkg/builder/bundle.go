package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/pkg/archive"
	"github.com/ghodss/yaml"
	"github.com/postqode/agentdeploy/pkg/artifact"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/templating"
)

const (
	FunctionName  = "InvokeAgent"
	BundleFile    = "bundle.zip"
	TarballFile   = "agent.tar.gz"
	PayloadFile   = "payload.tar.gz"
	EdgeAPI       = "edge.postqode.io/v1"
	EdgeAgentKind = "EdgeAgent"
)

var edgeExcludes = []string{"**/tests", "**/test", "**/docs", "**/*.md", "**/.git", "**/__pycache__", "**/*.pyc"}

func (b *Builder) functionBundle(ctx context.Context, dir, agentDir string, cfg deployment.Config, out *buildLog, result *deployment.BuildResult) error {
	bundleDir := filepath.Join(dir, "bundle")

	err := copyDir(agentDir, filepath.Join(bundleDir, "agent"))
	if err != nil {
		return fmt.Errorf("copy agent into bundle: %w", err)
	}

	hostJSON, err := json.MarshalIndent(map[string]interface{}{
		"version": "2.0",
		"logging": map[string]interface{}{
			"applicationInsights": map[string]interface{}{
				"samplingSettings": map[string]interface{}{
					"isEnabled":     true,
					"excludedTypes": "Request",
				},
			},
		},
		"extensionBundle": map[string]string{
			"id":      "Microsoft.Azure.Functions.ExtensionBundle",
			"version": "[3.*, 4.0.0)",
		},
	}, "", "  ")
	if err != nil {
		return err
	}
	err = writeFile(filepath.Join(bundleDir, "host.json"), hostJSON, 0o644)
	if err != nil {
		return err
	}

	requirements := "azure-functions\n"
	agentRequirements, err := os.ReadFile(filepath.Join(agentDir, "requirements.txt"))
	if err == nil {
		requirements += string(agentRequirements)
	}
	err = writeFile(filepath.Join(bundleDir, "requirements.txt"), []byte(requirements), 0o644)
	if err != nil {
		return err
	}

	functionJSON, err := json.MarshalIndent(map[string]interface{}{
		"scriptFile": "__init__.py",
		"bindings": []map[string]interface{}{
			{
				"authLevel": "function",
				"type":      "httpTrigger",
				"direction": "in",
				"name":      "req",
				"methods":   []string{"get", "post"},
				"route":     "{*route}",
			},
			{
				"type":      "http",
				"direction": "out",
				"name":      "$return",
			},
		},
	}, "", "  ")
	if err != nil {
		return err
	}
	err = writeFile(filepath.Join(bundleDir, FunctionName, "function.json"), functionJSON, 0o644)
	if err != nil {
		return err
	}

	shim, err := readTemplate("function_init.py")
	if err != nil {
		return err
	}
	err = writeFile(filepath.Join(bundleDir, FunctionName, "__init__.py"), shim, 0o644)
	if err != nil {
		return err
	}

	zipPath := filepath.Join(dir, BundleFile)
	err = writeZip(bundleDir, zipPath)
	if err != nil {
		return fmt.Errorf("zip function bundle: %w", err)
	}
	out.Printf("wrote function bundle %s", BundleFile)
	result.ArtifactPath = zipPath

	data, err := os.ReadFile(zipPath)
	if err != nil {
		return err
	}
	return b.push(ctx, b.reference("", cfg.AgentName+"-function", cfg.Version), artifact.Blob{
		MediaType:   artifact.MediaTypeFunctionBundle,
		Data:        data,
		Annotations: annotations(cfg),
	}, out, result)
}

func (b *Builder) installTarball(ctx context.Context, dir, agentDir string, cfg deployment.Config, out *buildLog, result *deployment.BuildResult) error {
	settings, ok := cfg.Settings.(*deployment.VMConfig)
	if !ok {
		return fmt.Errorf("vm settings missing")
	}

	vars := templating.Variables{
		"agentID":    cfg.AgentID,
		"agentName":  cfg.AgentName,
		"version":    cfg.Version,
		"installDir": InstallDir(settings.InstallPath, cfg.AgentID),
		"user":       settings.Username,
		"port":       cfg.Port,
	}

	err := writeEntrypoint(agentDir)
	if err != nil {
		return err
	}
	for file, mode := range map[string]os.FileMode{InstallScript: 0o755, UnitFile: 0o644} {
		tpl, err := readTemplate(file + ".hbs")
		if err != nil {
			return err
		}
		data, err := templating.Render(tpl, vars)
		if err != nil {
			return fmt.Errorf("render %s: %w", file, err)
		}
		err = writeFile(filepath.Join(agentDir, file), data, mode)
		if err != nil {
			return err
		}
	}

	tarPath := filepath.Join(dir, TarballFile)
	size, err := writeTarball(agentDir, tarPath, contextExcludes)
	if err != nil {
		return fmt.Errorf("create install tarball: %w", err)
	}
	out.Printf("wrote install tarball %s (%d bytes)", TarballFile, size)
	result.ArtifactPath = tarPath

	data, err := os.ReadFile(tarPath)
	if err != nil {
		return err
	}
	return b.push(ctx, b.reference("", cfg.AgentName+"-vm", cfg.Version), artifact.Blob{
		MediaType:   artifact.MediaTypeInstallTarball,
		Data:        data,
		Annotations: annotations(cfg),
	}, out, result)
}

// EdgeManifest describes an edge payload to the device runtime.
type EdgeManifest struct {
	APIVersion string           `json:"apiVersion"`
	Kind       string           `json:"kind"`
	Metadata   EdgeManifestMeta `json:"metadata"`
	Spec       EdgeManifestSpec `json:"spec"`
}

type EdgeManifestMeta struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	AgentID string `json:"agent_id"`
}

type EdgeManifestSpec struct {
	Adapter        string        `json:"adapter"`
	Port           int           `json:"port"`
	Resources      EdgeResources `json:"resources"`
	OfflineCapable bool          `json:"offline_capable"`
	SyncInterval   int           `json:"sync_interval"`
	Entrypoint     string        `json:"entrypoint"`
}

type EdgeResources struct {
	MemoryMB   int `json:"memory_mb"`
	CPUPercent int `json:"cpu_percent"`
}

func (b *Builder) edgePayload(ctx context.Context, dir, agentDir string, cfg deployment.Config, out *buildLog, result *deployment.BuildResult) error {
	settings, ok := cfg.Settings.(*deployment.EdgeConfig)
	if !ok {
		return fmt.Errorf("edge settings missing")
	}

	err := writeEntrypoint(agentDir)
	if err != nil {
		return err
	}

	payloadPath := filepath.Join(dir, PayloadFile)
	size, err := writeTarball(agentDir, payloadPath, edgeExcludes)
	if err != nil {
		return fmt.Errorf("create edge payload: %w", err)
	}
	limit := int64(settings.MaxPayloadMB) * 1024 * 1024
	if settings.MaxPayloadMB > 0 && size > limit {
		return fmt.Errorf("edge payload is %d bytes, the device accepts at most %d MB", size, settings.MaxPayloadMB)
	}
	out.Printf("wrote edge payload %s (%d bytes)", PayloadFile, size)
	result.ArtifactPath = payloadPath

	manifest, err := yaml.Marshal(EdgeManifest{
		APIVersion: EdgeAPI,
		Kind:       EdgeAgentKind,
		Metadata: EdgeManifestMeta{
			Name:    cfg.AgentName,
			Version: cfg.Version,
			AgentID: cfg.AgentID,
		},
		Spec: EdgeManifestSpec{
			Adapter: cfg.Adapter,
			Port:    cfg.Port,
			Resources: EdgeResources{
				MemoryMB:   settings.MemoryMB,
				CPUPercent: settings.CPUPercent,
			},
			OfflineCapable: settings.OfflineCapable,
			SyncInterval:   settings.SyncInterval,
			Entrypoint:     EntrypointFile,
		},
	})
	if err != nil {
		return err
	}
	err = writeFile(filepath.Join(dir, ManifestFile), manifest, 0o644)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(payloadPath)
	if err != nil {
		return err
	}
	blobAnnotations := annotations(cfg)
	blobAnnotations[artifact.AnnotationManifest] = string(manifest)
	return b.push(ctx, b.reference(settings.Registry, cfg.AgentName+"-edge", cfg.Version), artifact.Blob{
		MediaType:   artifact.MediaTypeEdgePayload,
		Data:        data,
		Annotations: blobAnnotations,
	}, out, result)
}

// ReadEdgeManifest loads the manifest written next to an edge payload.
func ReadEdgeManifest(payloadPath string) (*EdgeManifest, error) {
	data, err := os.ReadFile(filepath.Join(filepath.Dir(payloadPath), ManifestFile))
	if err != nil {
		return nil, err
	}
	manifest := &EdgeManifest{}
	err = yaml.Unmarshal(data, manifest)
	if err != nil {
		return nil, fmt.Errorf("decode edge manifest: %w", err)
	}
	return manifest, nil
}

// InstallDir is where an agent lives on a VM.
func InstallDir(installPath, agentID string) string {
	return strings.TrimSuffix(installPath, "/") + "/" + PathSafe(agentID)
}

func (b *Builder) reference(registry, name, version string) string {
	if b.artifacts == nil {
		return ""
	}
	return b.artifacts.Reference(registry, ImageName(name), version)
}

func annotations(cfg deployment.Config) map[string]string {
	return map[string]string{
		artifact.AnnotationAgentID: cfg.AgentID,
		artifact.AnnotationVersion: cfg.Version,
	}
}

func writeTarball(dir, dest string, excludes []string) (int64, error) {
	tarball, err := archive.TarWithOptions(dir, &archive.TarOptions{
		Compression:     archive.Gzip,
		ExcludePatterns: excludes,
	})
	if err != nil {
		return 0, err
	}
	defer tarball.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(out, tarball)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return size, err
}
