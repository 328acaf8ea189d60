package deployment

import (
	"time"
)

const MaxErrorMessageLength = 500

// Record is the persistent view of one deployment.
type Record struct {
	ID               string                 `json:"id"`
	UserID           string                 `json:"user_id"`
	LicenseID        string                 `json:"license_id"`
	AgentID          string                 `json:"agent_id"`
	Platform         Platform               `json:"deployment_type"`
	Adapter          string                 `json:"adapter_used"`
	EnvironmentName  string                 `json:"environment_name"`
	RuntimeVersion   string                 `json:"runtime_version"`
	Config           map[string]interface{} `json:"deployment_config"`
	Request          Request                `json:"-"`
	Status           Status                 `json:"status"`
	FailedStep       string                 `json:"failed_step,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	ExternalID       string                 `json:"external_id,omitempty"`
	AccessURL        *string                `json:"access_url"`
	ArtifactRef      string                 `json:"artifact_ref,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	DeployedAt       *time.Time             `json:"deployed_at"`
	LastHealthCheck  *time.Time             `json:"last_health_check"`
	LastHealthOK     *bool                  `json:"last_health_ok"`
	StoppedAt        *time.Time             `json:"stopped_at"`
	DeletedAt        *time.Time             `json:"deleted_at,omitempty"`
	TotalInvocations int64                  `json:"total_invocations"`
	LastInvocation   *time.Time             `json:"last_invocation"`
}

func (r Record) URL() string {
	if r.AccessURL == nil {
		return ""
	}
	return *r.AccessURL
}

// StatusUpdate is a status write. AccessURL is only kept when Status is active.
type StatusUpdate struct {
	Status       Status
	FailedStep   string
	ErrorMessage string
	AccessURL    string
}

// AttemptUpdate records what a deployment attempt produced on the platform.
// Empty fields are left untouched.
type AttemptUpdate struct {
	ExternalID     string
	ArtifactRef    string
	RuntimeVersion string
}

type Summary struct {
	Total            int   `json:"total"`
	Active           int   `json:"active"`
	Stopped          int   `json:"stopped"`
	Error            int   `json:"error"`
	Pending          int   `json:"pending"`
	TotalInvocations int64 `json:"total_invocations"`
}

// Add counts one record into the summary.
func (s *Summary) Add(status Status, invocations int64) {
	if status == StatusDeleted {
		return
	}
	s.Total++
	s.TotalInvocations += invocations
	switch {
	case status == StatusActive:
		s.Active++
	case status == StatusStopped:
		s.Stopped++
	case status == StatusError:
		s.Error++
	case status.InFlight():
		s.Pending++
	}
}

// TruncateMessage caps error messages at the stored column width.
func TruncateMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= MaxErrorMessageLength {
		return msg
	}
	return string(runes[:MaxErrorMessageLength-3]) + "..."
}
