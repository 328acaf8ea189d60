// Package artifact stores build artifacts that are not container images in an OCI registry.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	log "github.com/sirupsen/logrus"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

const (
	ArtifactType = "application/vnd.postqode.agent.v1"

	MediaTypeFunctionBundle = "application/vnd.postqode.function.bundle.v1+zip"
	MediaTypeInstallTarball = "application/vnd.postqode.install.tarball.v1.tar+gzip"
	MediaTypeEdgePayload    = "application/vnd.postqode.edge.payload.v1.tar+gzip"

	AnnotationAgentID  = "io.postqode.agent.id"
	AnnotationVersion  = "io.postqode.agent.version"
	AnnotationManifest = "io.postqode.edge.manifest"
)

type Options struct {
	Registry  string
	Username  string
	Password  string
	PlainHTTP bool
}

// TargetFunc opens the OCI target backing a repository.
type TargetFunc func(ctx context.Context, repository string) (oras.Target, error)

type Store struct {
	registry string
	targets  TargetFunc
}

// Blob is one artifact to push.
type Blob struct {
	MediaType   string
	Data        []byte
	Annotations map[string]string
}

func New(opts Options) *Store {
	return &Store{
		registry: strings.TrimSuffix(opts.Registry, "/"),
		targets:  remoteTargets(opts),
	}
}

// NewWithTargets returns a store that resolves repositories through the given function.
func NewWithTargets(registry string, targets TargetFunc) *Store {
	return &Store{
		registry: strings.TrimSuffix(registry, "/"),
		targets:  targets,
	}
}

func remoteTargets(opts Options) TargetFunc {
	client := &auth.Client{
		Client: &http.Client{
			Transport: retry.NewTransport(http.DefaultTransport),
			Timeout:   5 * time.Minute,
		},
		Cache: auth.NewCache(),
	}
	if len(opts.Username) > 0 {
		host := strings.SplitN(opts.Registry, "/", 2)[0]
		client.Credential = auth.StaticCredential(host, auth.Credential{
			Username: opts.Username,
			Password: opts.Password,
		})
	}

	return func(ctx context.Context, repository string) (oras.Target, error) {
		repo, err := remote.NewRepository(repository)
		if err != nil {
			return nil, err
		}
		repo.PlainHTTP = opts.PlainHTTP
		repo.Client = client
		return repo, nil
	}
}

// Reference returns the full reference of an artifact under the store's registry.
// Names that already contain a registry host are used as is.
func (s *Store) Reference(registry, name, tag string) string {
	if len(registry) == 0 {
		registry = s.registry
	}
	return fmt.Sprintf("%s/%s:%s", strings.TrimSuffix(registry, "/"), name, tag)
}

// Push uploads the blob as the single layer of an OCI 1.1 artifact manifest
// and tags the manifest with the reference's tag.
func (s *Store) Push(ctx context.Context, reference string, blob Blob) (ocispec.Descriptor, error) {
	repoPath, tag := splitReference(reference)
	if len(repoPath) == 0 || len(tag) == 0 {
		return ocispec.Descriptor{}, fmt.Errorf("reference %q must include a repository and a tag", reference)
	}
	if len(blob.Data) == 0 {
		return ocispec.Descriptor{}, fmt.Errorf("push %s: no data", reference)
	}

	target, err := s.targets(ctx, repoPath)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("open repository %s: %w", repoPath, err)
	}

	layer, err := oras.PushBytes(ctx, target, blob.MediaType, blob.Data)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push blob to %s: %w", reference, err)
	}
	layer.Annotations = blob.Annotations

	manifest, err := oras.PackManifest(ctx, target, oras.PackManifestVersion1_1, ArtifactType, oras.PackManifestOptions{
		Layers:              []ocispec.Descriptor{layer},
		ManifestAnnotations: blob.Annotations,
	})
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("pack manifest for %s: %w", reference, err)
	}

	err = target.Tag(ctx, manifest, tag)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("tag %s: %w", reference, err)
	}

	log.Debugf("Pushed %s (%s, %d bytes) as %s", reference, blob.MediaType, len(blob.Data), manifest.Digest)

	return manifest, nil
}

// Pull returns the content of the first layer of the artifact at reference.
func (s *Store) Pull(ctx context.Context, reference string) ([]byte, error) {
	repoPath, tag := splitReference(reference)
	if len(repoPath) == 0 || len(tag) == 0 {
		return nil, fmt.Errorf("reference %q must include a repository and a tag", reference)
	}

	target, err := s.targets(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", repoPath, err)
	}

	desc, reader, err := oras.Fetch(ctx, target, tag, oras.DefaultFetchOptions)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", reference, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", reference, err)
	}
	if desc.MediaType != ocispec.MediaTypeImageManifest {
		return data, nil
	}

	var manifest ocispec.Manifest
	err = json.Unmarshal(data, &manifest)
	if err != nil {
		return nil, fmt.Errorf("decode manifest of %s: %w", reference, err)
	}
	if len(manifest.Layers) == 0 {
		return nil, fmt.Errorf("artifact %s has no layers", reference)
	}

	layer, err := target.Fetch(ctx, manifest.Layers[0])
	if err != nil {
		return nil, fmt.Errorf("fetch layer of %s: %w", reference, err)
	}
	defer layer.Close()

	return io.ReadAll(layer)
}

// Load reads a built artifact from its local path, falling back to the registry copy.
func Load(ctx context.Context, store *Store, path, reference string) ([]byte, error) {
	if len(path) > 0 {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) || store == nil || len(reference) == 0 {
			return nil, err
		}
		log.Warnf("Artifact %s is gone from local disk, pulling %s", path, reference)
	}
	if store == nil || len(reference) == 0 {
		return nil, fmt.Errorf("no artifact available")
	}
	return store.Pull(ctx, reference)
}

// splitReference splits registry/name:tag into repository and tag.
// Ports in the registry host are not mistaken for tags.
func splitReference(full string) (string, string) {
	lastSlash := strings.LastIndex(full, "/")
	if lastSlash == -1 {
		return "", ""
	}
	head, tail := full[:lastSlash], full[lastSlash+1:]
	colon := strings.LastIndex(tail, ":")
	if colon == -1 {
		return full, ""
	}
	return head + "/" + tail[:colon], tail[colon+1:]
}
