package deployment

// PlatformConfig is implemented by the strongly typed configuration record of each platform.
type PlatformConfig interface {
	Platform() Platform
}

// Config is the fully decoded configuration of one deployment.
type Config struct {
	Platform        Platform
	AgentID         string
	AgentName       string
	Version         string
	Adapter         string
	EnvironmentName string
	Port            int
	AutoStart       bool
	EnvVars         []EnvVar
	Settings        PlatformConfig

	// Secrets holds the plaintext of every secret in the request, for scrubbing output.
	Secrets []string
}

func NewConfig(platform Platform, req Request, settings PlatformConfig) Config {
	return Config{
		Platform:        platform,
		AgentID:         req.AgentID,
		AgentName:       req.AgentName,
		Version:         req.Version,
		Adapter:         req.Adapter,
		EnvironmentName: req.EnvironmentName,
		Port:            req.Port,
		AutoStart:       req.StartsAutomatically(),
		EnvVars:         req.EnvVars,
		Settings:        settings,
		Secrets:         req.SecretValues(),
	}
}

// Env returns the user supplied environment, secrets included.
func (c Config) Env() map[string]string {
	env := make(map[string]string, len(c.EnvVars))
	for _, e := range c.EnvVars {
		env[e.Name] = e.Value
	}
	return env
}

// Scrub removes the deployment's secrets from text.
func (c Config) Scrub(text string) string {
	return Scrub(text, c.Secrets)
}
