// Package factory resolves platform names to deployers.
package factory

import (
	"sort"
	"strings"

	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/platform"
)

var aliases = map[string]deployment.Platform{
	"serverless":    deployment.PlatformAzureFunctions,
	"vm_standalone": deployment.PlatformVM,
	"bare_metal":    deployment.PlatformVM,
	"iot":           deployment.PlatformEdge,
}

type Factory struct {
	deployers map[deployment.Platform]platform.Deployer
}

// New registers the deployers. Every call through a deployer is counted in the platform call metric.
func New(deployers ...platform.Deployer) *Factory {
	f := &Factory{
		deployers: make(map[deployment.Platform]platform.Deployer, len(deployers)),
	}
	for _, d := range deployers {
		f.deployers[d.Platform()] = platform.Instrument(d)
	}
	return f
}

// Normalize maps free-form input to a canonical platform id, without checking that it is registered.
func Normalize(name string) deployment.Platform {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	if p, ok := aliases[key]; ok {
		return p
	}
	return deployment.Platform(key)
}

func (f *Factory) ForType(name string) (platform.Deployer, error) {
	p := Normalize(name)
	d, ok := f.deployers[p]
	if !ok {
		supported := make([]string, 0, len(f.deployers))
		for _, p := range f.Platforms() {
			supported = append(supported, p.String())
		}
		return nil, deployment.Errorf(deployment.KindUnsupportedPlatform, "unsupported platform %q, supported platforms are: %s", name, strings.Join(supported, ", "))
	}
	return d, nil
}

func (f *Factory) Platforms() []deployment.Platform {
	platforms := make([]deployment.Platform, 0, len(f.deployers))
	for p := range f.deployers {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool {
		return platforms[i] < platforms[j]
	})
	return platforms
}

// Config decodes the raw platform settings of a request and validates them with the platform's deployer.
// The returned error is set only when the platform is not supported.
func (f *Factory) Config(req deployment.Request) (deployment.Config, deployment.ValidationResult, error) {
	d, err := f.ForType(req.Platform)
	if err != nil {
		return deployment.Config{}, deployment.ValidationResult{}, err
	}

	schema := d.Schema()
	settings, result := schema.Decode(req.PlatformConfig)
	cfg := deployment.NewConfig(d.Platform(), req, settings)
	cfg.Secrets = append(cfg.Secrets, schema.SecretValues(req.PlatformConfig)...)

	if result.Valid() {
		result.Merge(d.ValidateConfig(cfg))
	}

	return cfg, result, nil
}
