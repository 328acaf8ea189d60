package deployment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (v ValidationResult) Valid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) AddError(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) AddWarning(format string, args ...interface{}) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) Merge(other ValidationResult) {
	v.Errors = append(v.Errors, other.Errors...)
	v.Warnings = append(v.Warnings, other.Warnings...)
}

// Err returns a ValidationError listing every problem, or nil if the result is valid.
func (v ValidationResult) Err() error {
	if v.Valid() {
		return nil
	}
	return Errorf(KindValidation, "invalid configuration: %s", strings.Join(v.Errors, "; "))
}

func (v ValidationResult) MarshalJSON() ([]byte, error) {
	errs, warnings := v.Errors, v.Warnings
	if errs == nil {
		errs = []string{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	return json.Marshal(struct {
		Valid    bool     `json:"valid"`
		Errors   []string `json:"errors"`
		Warnings []string `json:"warnings"`
	}{v.Valid(), errs, warnings})
}

// BuildResult is produced by the artifact builder. Failures are reported in-band.
type BuildResult struct {
	Success      bool          `json:"success"`
	Kind         ArtifactKind  `json:"artifact_kind"`
	ImageRef     string        `json:"image_ref,omitempty"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	ArtifactRef  string        `json:"artifact_ref,omitempty"`
	Digest       string        `json:"digest,omitempty"`
	Log          string        `json:"log"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Reference returns the most specific handle to the artifact.
func (b BuildResult) Reference() string {
	switch {
	case len(b.ArtifactRef) > 0:
		return b.ArtifactRef
	case len(b.ImageRef) > 0:
		return b.ImageRef
	default:
		return b.ArtifactPath
	}
}

type DeployResult struct {
	State      string            `json:"state"`
	ExternalID string            `json:"external_id"`
	AccessURL  string            `json:"access_url,omitempty"`
	Endpoints  map[string]string `json:"endpoints,omitempty"`
	Log        string            `json:"log,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthUnknown   = "unknown"
)

// StateQueued is reported by platforms that accepted a deployment they apply later.
const StateQueued = "queued"

// StatusResult is the live state of a deployment as reported by its platform.
// Settled means the platform reached a steady state; Failed means it never will.
type StatusResult struct {
	Running       bool      `json:"running"`
	Settled       bool      `json:"settled"`
	Failed        bool      `json:"failed"`
	State         string    `json:"status"`
	Health        string    `json:"health"`
	Message       string    `json:"message,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	LastUpdated   time.Time `json:"last_updated"`
}
