// Package orchestrator drives deployment attempts through their life cycle
// and keeps deployment records in line with what the platforms report.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/postqode/agentdeploy/pkg/builder"
	"github.com/postqode/agentdeploy/pkg/database"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/factory"
	"github.com/postqode/agentdeploy/pkg/logging"
	"github.com/postqode/agentdeploy/pkg/platform"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultLogLines = 100
	MaxLogLines     = 1000
)

type Options struct {
	AttemptTimeout        time.Duration `json:"attempt-timeout"`
	VerifyTimeout         time.Duration `json:"verify-timeout"`
	VerifyInitialInterval time.Duration `json:"verify-initial-interval"`
	VerifyMaxInterval     time.Duration `json:"verify-max-interval"`
	SweepInterval         time.Duration `json:"sweep-interval"`
	HealthInterval        time.Duration `json:"health-interval"`
	SweepConcurrency      int           `json:"sweep-concurrency"`
	StepRetention         time.Duration `json:"step-retention"`
}

func DefaultOptions() Options {
	return Options{
		AttemptTimeout:        15 * time.Minute,
		VerifyTimeout:         3 * time.Minute,
		VerifyInitialInterval: 2 * time.Second,
		VerifyMaxInterval:     20 * time.Second,
		SweepInterval:         time.Minute,
		HealthInterval:        5 * time.Minute,
		SweepConcurrency:      4,
		StepRetention:         time.Hour,
	}
}

// Progress is the status of a deployment together with the steps of its latest attempt.
type Progress struct {
	ID     string             `json:"id"`
	Status deployment.Status  `json:"status"`
	Steps  []deployment.Step  `json:"steps"`
	Record *deployment.Record `json:"-"`
}

//go:generate mockery --name=Interface --inpackage --case snake

type Interface interface {
	Submit(ctx context.Context, req deployment.Request) (Progress, error)
	Validate(req deployment.Request) (deployment.ValidationResult, error)
	Get(ctx context.Context, id string) (*deployment.Record, error)
	List(ctx context.Context, userID string, status deployment.Status) ([]*deployment.Record, error)
	Summary(ctx context.Context, userID string) (deployment.Summary, error)
	Progress(ctx context.Context, id string) (Progress, error)
	Start(ctx context.Context, id string) (*deployment.Record, error)
	Stop(ctx context.Context, id string) (*deployment.Record, error)
	Delete(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (deployment.StatusResult, error)
	Logs(ctx context.Context, id string, lines int) (string, error)
	RecordInvocation(ctx context.Context, id string) (int64, error)
	Schema(platform string) (deployment.Schema, error)
	Platforms() []deployment.Platform
}

type Orchestrator struct {
	store   database.DeploymentStore
	factory *factory.Factory
	builder builder.Interface
	opts    Options
	steps   *stepLog

	// submitLock serializes the active record lookup with the attempt start.
	submitLock sync.Mutex
	lock       sync.Mutex
	attempts   map[string]*attempt
	running    sync.WaitGroup
}

var _ Interface = &Orchestrator{}

func New(store database.DeploymentStore, f *factory.Factory, b builder.Interface, opts Options) *Orchestrator {
	return &Orchestrator{
		store:    store,
		factory:  f,
		builder:  b,
		opts:     opts,
		steps:    newStepLog(opts.StepRetention),
		attempts: make(map[string]*attempt),
	}
}

func notFound(id string) error {
	return deployment.Errorf(deployment.KindNotFound, "deployment %s not found", id)
}

// get returns a live record. Deleted records are reported as not found.
func (o *Orchestrator) get(ctx context.Context, id string) (*deployment.Record, error) {
	record, err := o.store.Get(ctx, id)
	if database.IsErrNotFound(err) {
		return nil, notFound(id)
	} else if err != nil {
		return nil, err
	}
	if record.Status == deployment.StatusDeleted {
		return nil, notFound(id)
	}
	return record, nil
}

func (o *Orchestrator) recordLogger(record *deployment.Record) *log.Entry {
	return logging.Deployment(record)
}

// redact returns the platform settings with secrets masked. Unknown platforms
// are masked by key name.
func (o *Orchestrator) redact(req deployment.Request) map[string]interface{} {
	schema := deployment.Schema{}
	if d, err := o.factory.ForType(req.Platform); err == nil {
		schema = d.Schema()
	}
	return schema.Redact(req.PlatformConfig)
}

// Submit records a deployment request and starts an attempt in the background.
// A request for an environment with an active deployment updates that deployment.
func (o *Orchestrator) Submit(ctx context.Context, req deployment.Request) (Progress, error) {
	req = req.WithDefaults()
	err := req.Validate().Err()
	if err != nil {
		return Progress{}, err
	}

	o.submitLock.Lock()
	defer o.submitLock.Unlock()

	config := o.redact(req)
	record, err := o.store.FindActive(ctx, req.LicenseID, req.EnvironmentName)

	switch {
	case err == nil:
		if o.attempt(record.ID) != nil {
			return Progress{}, deployment.Errorf(deployment.KindDuplicateEnvironment, "deployment %s is already being updated", record.ID)
		}
		err = o.store.ResetForUpdate(ctx, record.ID, req, config)
		if err != nil {
			return Progress{}, err
		}
		record.Request = req
		record.Config = config
		record.Status = deployment.StatusPending
		o.recordLogger(record).Infof("Updating active deployment")

	case database.IsErrNotFound(err):
		record = &deployment.Record{
			ID:              uuid.New().String(),
			UserID:          req.UserID,
			LicenseID:       req.LicenseID,
			AgentID:         req.AgentID,
			Platform:        factory.Normalize(req.Platform),
			Adapter:         req.Adapter,
			EnvironmentName: req.EnvironmentName,
			RuntimeVersion:  req.Version,
			Config:          config,
			Request:         req,
			Status:          deployment.StatusPending,
			CreatedAt:       time.Now(),
		}
		err = o.store.Create(ctx, record)
		if err != nil {
			return Progress{}, err
		}
		o.recordLogger(record).Infof("Deployment submitted")

	default:
		return Progress{}, err
	}

	o.steps.reset(record.ID)
	o.steps.add(record.ID, deployment.NewStep(deployment.StatusPending.String(), deployment.StepCompleted, "Deployment queued"))
	steps := o.steps.get(record.ID)
	o.launch(record)

	return Progress{
		ID:     record.ID,
		Status: deployment.StatusPending,
		Steps:  steps,
		Record: record,
	}, nil
}

// Validate checks a request without recording it.
func (o *Orchestrator) Validate(req deployment.Request) (deployment.ValidationResult, error) {
	req = req.WithDefaults()
	result := req.Validate()
	_, platformResult, err := o.factory.Config(req)
	if err != nil {
		return result, err
	}
	result.Merge(platformResult)
	return result, nil
}

func (o *Orchestrator) Get(ctx context.Context, id string) (*deployment.Record, error) {
	return o.get(ctx, id)
}

func (o *Orchestrator) List(ctx context.Context, userID string, status deployment.Status) ([]*deployment.Record, error) {
	if len(status) > 0 && !status.Valid() {
		return nil, deployment.Errorf(deployment.KindValidation, "unknown status %q", status)
	}
	return o.store.ListByUser(ctx, userID, status)
}

func (o *Orchestrator) Summary(ctx context.Context, userID string) (deployment.Summary, error) {
	return o.store.SummaryStats(ctx, userID)
}

func (o *Orchestrator) Progress(ctx context.Context, id string) (Progress, error) {
	record, err := o.get(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		ID:     record.ID,
		Status: record.Status,
		Steps:  o.steps.get(id),
		Record: record,
	}, nil
}

func (o *Orchestrator) RecordInvocation(ctx context.Context, id string) (int64, error) {
	count, err := o.store.IncrementInvocationCount(ctx, id)
	if database.IsErrNotFound(err) {
		return 0, notFound(id)
	}
	return count, err
}

func (o *Orchestrator) Schema(name string) (deployment.Schema, error) {
	d, err := o.factory.ForType(name)
	if err != nil {
		return deployment.Schema{}, err
	}
	return d.Schema(), nil
}

func (o *Orchestrator) Platforms() []deployment.Platform {
	return o.factory.Platforms()
}

// target resolves the deployer of a record and the configuration it was deployed with.
func (o *Orchestrator) target(record *deployment.Record) (platform.Deployer, platform.Target, error) {
	d, err := o.factory.ForType(record.Platform.String())
	if err != nil {
		return nil, platform.Target{}, err
	}
	cfg, result, err := o.factory.Config(record.Request)
	if err != nil {
		return nil, platform.Target{}, err
	}
	if !result.Valid() {
		return nil, platform.Target{}, result.Err()
	}
	return d, platform.Target{
		DeploymentID: record.ID,
		ExternalID:   record.ExternalID,
		Config:       cfg,
	}, nil
}

// Shutdown waits for running attempts until ctx expires, then cancels the rest.
// Cancelled attempts are picked up by the watchdog of the next process.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		o.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	o.lock.Lock()
	for _, a := range o.attempts {
		a.cancel(errShutdown)
	}
	o.lock.Unlock()
	<-done
}

func (o *Orchestrator) String() string {
	return fmt.Sprintf("orchestrator with %d platforms", len(o.factory.Platforms()))
}
