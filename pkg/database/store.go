package database

import (
	"context"
	"fmt"
	"time"

	"github.com/postqode/agentdeploy/pkg/deployment"
)

//go:generate mockery --name=DeploymentStore --inpackage --case snake

// DeploymentStore persists deployment records.
// Records are soft deleted, and writes are last-writer-wins.
// Moving a record into an occupying status fails with DuplicateEnvironment
// while another record occupies the same license and environment.
type DeploymentStore interface {
	Create(ctx context.Context, record *deployment.Record) error
	Get(ctx context.Context, id string) (*deployment.Record, error)
	UpdateStatus(ctx context.Context, id string, update deployment.StatusUpdate) error
	UpdateAttempt(ctx context.Context, id string, update deployment.AttemptUpdate) error
	ResetForUpdate(ctx context.Context, id string, req deployment.Request, config map[string]interface{}) error
	RecordHealthCheck(ctx context.Context, id string, at time.Time, ok bool) error
	IncrementInvocationCount(ctx context.Context, id string) (int64, error)
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string, status deployment.Status) ([]*deployment.Record, error)
	FindActive(ctx context.Context, licenseID, environment string) (*deployment.Record, error)
	ListStale(ctx context.Context, statuses []deployment.Status, before time.Time) ([]*deployment.Record, error)
	ListByStatus(ctx context.Context, status deployment.Status) ([]*deployment.Record, error)
	SummaryStats(ctx context.Context, userID string) (deployment.Summary, error)
}

var (
	_ DeploymentStore = &Database{}
	_ DeploymentStore = &MemoryStore{}
)

func duplicateEnvironment(licenseID, environment string) error {
	return deployment.Errorf(deployment.KindDuplicateEnvironment,
		"license %s already has a deployment in environment %q", licenseID, environment)
}

func notFound(id string) error {
	return fmt.Errorf("deployment %s: %w", id, ErrNotFound)
}
