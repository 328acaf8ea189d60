package deployment

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusValidating Status = "validating"
	StatusBuilding   Status = "building"
	StatusDeploying  Status = "deploying"
	StatusVerifying  Status = "verifying"
	StatusActive     Status = "active"
	StatusStopped    Status = "stopped"
	StatusError      Status = "error"
	StatusDeleted    Status = "deleted"
)

var AllStatuses = []Status{
	StatusPending,
	StatusValidating,
	StatusBuilding,
	StatusDeploying,
	StatusVerifying,
	StatusActive,
	StatusStopped,
	StatusError,
	StatusDeleted,
}

// InFlightStatuses are the states of a running deployment attempt.
var InFlightStatuses = []Status{
	StatusPending,
	StatusValidating,
	StatusBuilding,
	StatusDeploying,
	StatusVerifying,
}

func (s Status) InFlight() bool {
	for _, st := range InFlightStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Occupying reports whether a record in this status holds its (license, environment) slot.
func (s Status) Occupying() bool {
	return s.InFlight() || s == StatusActive
}

func (s Status) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step is one entry in the progress log of a deployment attempt.
type Step struct {
	Step      string     `json:"step"`
	Status    StepStatus `json:"status"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

func NewStep(step string, status StepStatus, message string) Step {
	return Step{
		Step:      step,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
