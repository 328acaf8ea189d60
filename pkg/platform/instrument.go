package platform

import (
	"context"

	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/metrics"
)

type instrumented struct {
	Deployer
}

// Instrument counts every platform call in the platform_calls metric.
// Not-found answers are counted as successful calls.
func Instrument(d Deployer) Deployer {
	if _, ok := d.(*instrumented); ok {
		return d
	}
	return &instrumented{Deployer: d}
}

func (i *instrumented) count(operation string, err error) {
	if IsNotFound(err) {
		err = nil
	}
	metrics.PlatformCall(i.Platform().String(), operation, err)
}

func (i *instrumented) Deploy(ctx context.Context, target Target, build deployment.BuildResult) (deployment.DeployResult, error) {
	result, err := i.Deployer.Deploy(ctx, target, build)
	i.count("deploy", err)
	return result, err
}

func (i *instrumented) Start(ctx context.Context, target Target) (deployment.StatusResult, error) {
	result, err := i.Deployer.Start(ctx, target)
	i.count("start", err)
	return result, err
}

func (i *instrumented) Stop(ctx context.Context, target Target) (deployment.StatusResult, error) {
	result, err := i.Deployer.Stop(ctx, target)
	i.count("stop", err)
	return result, err
}

func (i *instrumented) Status(ctx context.Context, target Target) (deployment.StatusResult, error) {
	result, err := i.Deployer.Status(ctx, target)
	i.count("status", err)
	return result, err
}

func (i *instrumented) Logs(ctx context.Context, target Target, lines int) (string, error) {
	logs, err := i.Deployer.Logs(ctx, target, lines)
	i.count("logs", err)
	return logs, err
}

func (i *instrumented) AccessURL(ctx context.Context, target Target) (string, error) {
	url, err := i.Deployer.AccessURL(ctx, target)
	i.count("access_url", err)
	return url, err
}

func (i *instrumented) Delete(ctx context.Context, target Target) error {
	err := i.Deployer.Delete(ctx, target)
	i.count("delete", err)
	return err
}
