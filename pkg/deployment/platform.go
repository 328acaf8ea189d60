package deployment

// Platform is the canonical deployment-type discriminator.
// Free-form input is resolved to one of these by the factory.
type Platform string

const (
	PlatformDocker         Platform = "docker"
	PlatformKubernetes     Platform = "kubernetes"
	PlatformAzureFunctions Platform = "azure_functions"
	PlatformVM             Platform = "vm"
	PlatformEdge           Platform = "edge"
)

func (p Platform) String() string {
	return string(p)
}

// ArtifactKind describes the shape of artifact a platform consumes.
type ArtifactKind string

const (
	ArtifactContainerImage ArtifactKind = "container-image"
	ArtifactChart          ArtifactKind = "chart"
	ArtifactFunctionBundle ArtifactKind = "function-bundle"
	ArtifactInstallTarball ArtifactKind = "install-tarball"
	ArtifactEdgePayload    ArtifactKind = "edge-payload"
)
