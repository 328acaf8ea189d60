package deployment

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	DefaultEnvironment = "production"
	DefaultPort        = 8080
)

var envVarName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Package points at an agent package that has passed manifest validation:
// either a directory or a .zip archive on the local filesystem.
type Package struct {
	Path string `json:"path"`
}

type EnvVar struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Secret bool   `json:"secret"`
}

func (e EnvVar) MarshalJSON() ([]byte, error) {
	value := e.Value
	if e.Secret && len(value) > 0 {
		value = Redacted
	}
	return json.Marshal(plainEnvVar{Name: e.Name, Value: value, Secret: e.Secret})
}

type plainEnvVar struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Secret bool   `json:"secret"`
}

// Request is a submitted deployment request. It is never modified after submission.
type Request struct {
	UserID          string                 `json:"user_id"`
	LicenseID       string                 `json:"license_id"`
	AgentID         string                 `json:"agent_id"`
	AgentName       string                 `json:"agent_name"`
	Version         string                 `json:"version"`
	Platform        string                 `json:"platform"`
	Adapter         string                 `json:"adapter"`
	EnvironmentName string                 `json:"environment_name"`
	Port            int                    `json:"port"`
	EnvVars         []EnvVar               `json:"env_vars"`
	PlatformConfig  map[string]interface{} `json:"platform_config"`
	AutoStart       *bool                  `json:"auto_start,omitempty"`
	Package         Package                `json:"package"`
}

type requestFields Request

type sealedRequest struct {
	requestFields
	EnvVars []plainEnvVar `json:"env_vars"`
}

// WithDefaults fills in the environment name, port and auto start when they were left out.
func (r Request) WithDefaults() Request {
	if r.AutoStart == nil {
		r.AutoStart = Bool(true)
	}
	if len(r.EnvironmentName) == 0 {
		r.EnvironmentName = DefaultEnvironment
	}
	if r.Port == 0 {
		r.Port = DefaultPort
	}
	if len(r.AgentName) == 0 {
		r.AgentName = r.AgentID
	}
	return r
}

// StartsAutomatically reports whether the agent is started once deployed.
// A request that does not say is started.
func (r Request) StartsAutomatically() bool {
	return r.AutoStart == nil || *r.AutoStart
}

func Bool(b bool) *bool {
	return &b
}

// Validate checks the platform-independent part of the request.
func (r Request) Validate() ValidationResult {
	result := ValidationResult{}
	if len(r.UserID) == 0 {
		result.AddError("user_id is required")
	}
	if len(r.LicenseID) == 0 {
		result.AddError("license_id is required")
	}
	if len(r.AgentID) == 0 {
		result.AddError("agent_id is required")
	}
	if len(r.Version) == 0 {
		result.AddError("version is required")
	}
	if len(r.Platform) == 0 {
		result.AddError("platform is required")
	}
	if len(r.Package.Path) == 0 {
		result.AddError("package.path is required")
	}
	if r.Port < 1 || r.Port > 65535 {
		result.AddError("port must be between 1 and 65535, got %d", r.Port)
	}
	seen := make(map[string]bool)
	for _, env := range r.EnvVars {
		if !envVarName.MatchString(env.Name) {
			result.AddError("environment variable name %q is invalid", env.Name)
		}
		if seen[env.Name] {
			result.AddError("environment variable %q is set more than once", env.Name)
		}
		seen[env.Name] = true
	}
	return result
}

// SecretValues returns the plaintext of every secret environment variable.
func (r Request) SecretValues() []string {
	values := make([]string, 0)
	for _, env := range r.EnvVars {
		if env.Secret && len(env.Value) > 0 {
			values = append(values, env.Value)
		}
	}
	return values
}

var secretKeyHints = []string{"secret", "password", "token", "key", "kubeconfig", "credential"}

func looksSecret(key string) bool {
	key = strings.ToLower(key)
	for _, hint := range secretKeyHints {
		if strings.Contains(key, hint) {
			return true
		}
	}
	return false
}

// MarshalJSON redacts secret environment values and any platform setting whose
// name suggests a credential. Use Seal to obtain the plaintext encoding.
func (r Request) MarshalJSON() ([]byte, error) {
	fields := requestFields(r)
	if r.PlatformConfig != nil {
		fields.PlatformConfig = make(map[string]interface{}, len(r.PlatformConfig))
		for k, v := range r.PlatformConfig {
			if looksSecret(k) && v != nil && v != "" {
				v = Redacted
			}
			fields.PlatformConfig[k] = v
		}
	}
	return json.Marshal(fields)
}

// Seal encodes the full request including secrets. The output must only be
// passed to an encryption function.
func (r Request) Seal() ([]byte, error) {
	sealed := sealedRequest{
		requestFields: requestFields(r),
		EnvVars:       make([]plainEnvVar, len(r.EnvVars)),
	}
	for i, env := range r.EnvVars {
		sealed.EnvVars[i] = plainEnvVar(env)
	}
	return json.Marshal(sealed)
}

func UnsealRequest(data []byte) (Request, error) {
	sealed := sealedRequest{}
	if err := json.Unmarshal(data, &sealed); err != nil {
		return Request{}, err
	}
	r := Request(sealed.requestFields)
	r.EnvVars = make([]EnvVar, len(sealed.EnvVars))
	for i, env := range sealed.EnvVars {
		r.EnvVars[i] = EnvVar(env)
	}
	return r, nil
}
