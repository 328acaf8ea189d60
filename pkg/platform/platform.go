package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/postqode/agentdeploy/pkg/deployment"
)

// ErrNotFound is returned when the platform has no trace of the deployment.
var ErrNotFound = errors.New("deployment not found on platform")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Target addresses one deployment on its platform.
type Target struct {
	DeploymentID string
	ExternalID   string
	Config       deployment.Config
}

//go:generate mockery --name=Deployer --inpackage --case snake

// Deployer drives the lifecycle of agents on one kind of infrastructure.
type Deployer interface {
	Platform() deployment.Platform
	ArtifactKind() deployment.ArtifactKind
	Schema() deployment.Schema
	ValidateConfig(cfg deployment.Config) deployment.ValidationResult
	Deploy(ctx context.Context, target Target, build deployment.BuildResult) (deployment.DeployResult, error)
	Start(ctx context.Context, target Target) (deployment.StatusResult, error)
	Stop(ctx context.Context, target Target) (deployment.StatusResult, error)
	Status(ctx context.Context, target Target) (deployment.StatusResult, error)
	Logs(ctx context.Context, target Target, lines int) (string, error)
	AccessURL(ctx context.Context, target Target) (string, error)
	Delete(ctx context.Context, target Target) error
}

// Unreachable marks a transport failure towards the platform.
func Unreachable(err error) error {
	if err == nil {
		return nil
	}
	if deployment.IsKind(err, deployment.KindPlatformUnreachable) {
		return err
	}
	return deployment.ErrorWrap(deployment.KindPlatformUnreachable, err)
}

// Unreachablef is Unreachable with formatting.
func Unreachablef(format string, args ...interface{}) error {
	return Unreachable(fmt.Errorf(format, args...))
}

// Short returns at most n leading characters of an identifier.
func Short(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}

// Settings extracts the typed platform configuration from a target.
func Settings[T deployment.PlatformConfig](target Target) (T, error) {
	settings, ok := target.Config.Settings.(T)
	if !ok {
		var zero T
		return zero, deployment.Errorf(deployment.KindValidation, "configuration for %s deployment has type %T", target.Config.Platform, target.Config.Settings)
	}
	return settings, nil
}
