// Package builder turns a validated agent package into the artifact a platform consumes.
package builder

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/postqode/agentdeploy/pkg/artifact"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/metrics"
	log "github.com/sirupsen/logrus"
)

const (
	EntrypointFile = "postqode_entrypoint.py"
	UnitFile       = "postqode-agent.service"
	InstallScript  = "install.sh"
	ManifestFile   = "manifest.yaml"

	DefaultPythonImage = "python:3.11-slim"
	DefaultRegistry    = "docker.io/postqode"
)

//go:embed templates
var templates embed.FS

//go:generate mockery --name=Interface --inpackage --case snake

// Interface builds artifacts. Build never fails out of band: every failure is
// reported in the returned result together with the build log.
// Each deployment builds in its own workspace, which lives until Clean.
type Interface interface {
	Build(ctx context.Context, deploymentID string, pkg deployment.Package, kind deployment.ArtifactKind, cfg deployment.Config) deployment.BuildResult
	Clean(deploymentID string) error
}

// ImageAPI is the part of the Docker client used to build and push images.
type ImageAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
}

type Options struct {
	WorkDir         string
	PythonImage     string
	DefaultRegistry string
}

type Builder struct {
	opts      Options
	images    ImageAPI
	artifacts *artifact.Store
}

var _ Interface = &Builder{}

// New returns a builder. Container builds need images, and non-container
// artifacts are only pushed to a registry when artifacts is set.
func New(opts Options, images ImageAPI, artifacts *artifact.Store) *Builder {
	if len(opts.WorkDir) == 0 {
		opts.WorkDir = filepath.Join(os.TempDir(), "agentdeploy")
	}
	if len(opts.PythonImage) == 0 {
		opts.PythonImage = DefaultPythonImage
	}
	if len(opts.DefaultRegistry) == 0 {
		opts.DefaultRegistry = DefaultRegistry
	}
	return &Builder{
		opts:      opts,
		images:    images,
		artifacts: artifacts,
	}
}

func (b *Builder) Build(ctx context.Context, deploymentID string, pkg deployment.Package, kind deployment.ArtifactKind, cfg deployment.Config) deployment.BuildResult {
	start := time.Now()
	out := &buildLog{}
	result := deployment.BuildResult{Kind: kind}

	logger := log.WithFields(log.Fields{
		"deployment_id": deploymentID,
		"agent_id":      cfg.AgentID,
		"version":       cfg.Version,
		"artifact":      kind,
	})
	logger.Infof("Building %s", kind)

	err := b.build(ctx, deploymentID, pkg, kind, cfg, out, &result)

	result.Duration = time.Since(start)
	if err != nil {
		out.Printf("build failed: %s", err)
		result.Success = false
		result.Error = cfg.Scrub(err.Error())
		logger.Errorf("Build failed after %s: %s", result.Duration, result.Error)
	} else {
		result.Success = true
		logger.Infof("Built %s in %s", result.Reference(), result.Duration)
	}
	result.Log = cfg.Scrub(out.String())

	metrics.Build(string(kind), result.Success)

	return result
}

func (b *Builder) build(ctx context.Context, deploymentID string, pkg deployment.Package, kind deployment.ArtifactKind, cfg deployment.Config, out *buildLog, result *deployment.BuildResult) error {
	dir, err := b.workspace(deploymentID, kind)
	if err != nil {
		return err
	}

	agentDir := filepath.Join(dir, "agent")
	out.Printf("staging %s", filepath.Base(pkg.Path))
	root, err := stage(pkg.Path, agentDir)
	if err != nil {
		return fmt.Errorf("stage package: %w", err)
	}

	switch kind {
	case deployment.ArtifactContainerImage:
		return b.containerImage(ctx, root, cfg, out, result)
	case deployment.ArtifactChart:
		return b.chart(ctx, dir, root, cfg, out, result)
	case deployment.ArtifactFunctionBundle:
		return b.functionBundle(ctx, dir, root, cfg, out, result)
	case deployment.ArtifactInstallTarball:
		return b.installTarball(ctx, dir, root, cfg, out, result)
	case deployment.ArtifactEdgePayload:
		return b.edgePayload(ctx, dir, root, cfg, out, result)
	default:
		return fmt.Errorf("unknown artifact kind %q", kind)
	}
}

func (b *Builder) deploymentDir(deploymentID string) string {
	return filepath.Join(b.opts.WorkDir, PathSafe(deploymentID))
}

// workspace returns an empty directory for one build. Builds of other
// deployments never share it.
func (b *Builder) workspace(deploymentID string, kind deployment.ArtifactKind) (string, error) {
	if len(deploymentID) == 0 {
		return "", fmt.Errorf("deployment id is required")
	}
	dir := filepath.Join(b.deploymentDir(deploymentID), string(kind))
	err := os.RemoveAll(dir)
	if err != nil {
		return "", fmt.Errorf("clean workspace: %w", err)
	}
	err = os.MkdirAll(dir, 0o755)
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Clean removes the workspace of a deployment once its artifacts have been consumed.
func (b *Builder) Clean(deploymentID string) error {
	if len(deploymentID) == 0 {
		return nil
	}
	return os.RemoveAll(b.deploymentDir(deploymentID))
}

func (b *Builder) push(ctx context.Context, reference string, blob artifact.Blob, out *buildLog, result *deployment.BuildResult) error {
	if b.artifacts == nil {
		out.Printf("no artifact registry configured, keeping %s local only", filepath.Base(result.ArtifactPath))
		return nil
	}
	out.Printf("pushing %s", reference)
	desc, err := b.artifacts.Push(ctx, reference, blob)
	if err != nil {
		return err
	}
	result.ArtifactRef = reference
	result.Digest = desc.Digest.String()
	out.Printf("pushed %s@%s", reference, result.Digest)
	return nil
}

// LocalImage is the tag of images built for the local Docker daemon.
func LocalImage(agentID, version string) string {
	return fmt.Sprintf("postqode-agent-%s:%s", strings.ToLower(agentID), version)
}

var unsafeName = regexp.MustCompile(`[^a-z0-9._-]+`)

// ImageName turns a display name into a valid repository path component.
func ImageName(name string) string {
	name = unsafeName.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(name, "-.")
}

var unsafePath = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PathSafe makes a single path component out of an identifier.
func PathSafe(s string) string {
	s = unsafePath.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

func readTemplate(name string) ([]byte, error) {
	return templates.ReadFile("templates/" + name)
}

// buildLog collects human readable build output. It is written to by the
// Docker stream decoder and by the builder itself.
type buildLog struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func (l *buildLog) Write(p []byte) (int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.buf.Write(p)
}

func (l *buildLog) Printf(format string, args ...interface{}) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(&l.buf, "[%s] ", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&l.buf, format, args...)
	l.buf.WriteByte('\n')
}

func (l *buildLog) String() string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.buf.String()
}
