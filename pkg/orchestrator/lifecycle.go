package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/platform"
)

func notDeployed(record *deployment.Record) error {
	return deployment.Errorf(deployment.KindValidation, "deployment %s has not been deployed to %s yet", record.ID, record.Platform)
}

// interrupt cancels the attempt running for an in-flight record and returns the record
// as the attempt left it. Resources the attempt created are removed best-effort.
func (o *Orchestrator) interrupt(ctx context.Context, record *deployment.Record, reason string) (*deployment.Record, error) {
	logger := o.recordLogger(record)
	_, err := o.cancelAttempt(ctx, record.ID, deployment.Errorf(deployment.KindCancelled, "%s", reason))
	if err != nil {
		return nil, err
	}

	record, err = o.get(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	// Deployers derive their resource names from the deployment, so a deploy
	// cut short before it reported an external id is still cleaned up.
	if len(record.ExternalID) == 0 && !reachedPlatform(record.Status) {
		return record, nil
	}

	d, target, err := o.target(record)
	if err == nil {
		err = protect("delete", func() error {
			return d.Delete(ctx, target)
		})
	}
	if err != nil && !platform.IsNotFound(err) {
		logger.Warnf("Clean up interrupted deployment on %s: %s", record.Platform, deployment.Scrub(err.Error(), record.Request.SecretValues()))
	}
	return record, nil
}

func reachedPlatform(status deployment.Status) bool {
	return status == deployment.StatusDeploying || status == deployment.StatusVerifying
}

func (o *Orchestrator) Start(ctx context.Context, id string) (*deployment.Record, error) {
	record, err := o.get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case record.Status.InFlight():
		return nil, deployment.Errorf(deployment.KindValidation, "deployment %s is %s", id, record.Status)
	case record.Status == deployment.StatusActive:
		return record, nil
	case len(record.ExternalID) == 0:
		return nil, notDeployed(record)
	}

	active, err := o.store.FindActive(ctx, record.LicenseID, record.EnvironmentName)
	if err == nil && active.ID != record.ID {
		return nil, deployment.Errorf(deployment.KindDuplicateEnvironment,
			"environment %q already has deployment %s", record.EnvironmentName, active.ID)
	}

	d, target, err := o.target(record)
	if err != nil {
		return nil, err
	}

	var status deployment.StatusResult
	err = protect("start", func() error {
		var err error
		status, err = d.Start(ctx, target)
		return err
	})
	if platform.IsNotFound(err) {
		return nil, deployment.Errorf(deployment.KindDeploy, "%s no longer exists on %s", record.ExternalID, record.Platform)
	} else if err != nil {
		return nil, scrubError(target, err)
	}

	accessURL, err := d.AccessURL(ctx, target)
	if err != nil {
		o.recordLogger(record).Warnf("Resolve access URL: %s", target.Config.Scrub(err.Error()))
	}

	err = o.store.UpdateStatus(ctx, id, deployment.StatusUpdate{
		Status:    deployment.StatusActive,
		AccessURL: accessURL,
	})
	if err != nil {
		return nil, err
	}
	o.recordLogger(record).Infof("Deployment started: %s", status.State)
	return o.get(ctx, id)
}

func (o *Orchestrator) Stop(ctx context.Context, id string) (*deployment.Record, error) {
	record, err := o.get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case record.Status == deployment.StatusStopped:
		return record, nil

	case record.Status.InFlight():
		record, err = o.interrupt(ctx, record, "stopped by user")
		if err != nil {
			return nil, err
		}
		o.steps.add(id, deployment.NewStep(deployment.StatusStopped.String(), deployment.StepCompleted, "Deployment stopped by user"))

	case len(record.ExternalID) > 0:
		d, target, err := o.target(record)
		if err != nil {
			return nil, err
		}
		err = protect("stop", func() error {
			_, err := d.Stop(ctx, target)
			return err
		})
		if err != nil && !platform.IsNotFound(err) {
			return nil, scrubError(target, err)
		}
	}

	err = o.store.UpdateStatus(ctx, id, deployment.StatusUpdate{Status: deployment.StatusStopped})
	if err != nil {
		return nil, err
	}
	o.recordLogger(record).Infof("Deployment stopped")
	return o.get(ctx, id)
}

func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	record, err := o.get(ctx, id)
	if err != nil {
		return err
	}

	if record.Status.InFlight() {
		_, err = o.interrupt(ctx, record, "deleted by user")
		if err != nil {
			return err
		}
	} else if len(record.ExternalID) > 0 {
		d, target, err := o.target(record)
		if err != nil {
			return err
		}
		err = protect("delete", func() error {
			return d.Delete(ctx, target)
		})
		if err != nil && !platform.IsNotFound(err) {
			return scrubError(target, err)
		}
	}

	err = o.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	o.steps.expire(id)
	o.recordLogger(record).Infof("Deployment deleted")
	return nil
}

// Status asks the platform for the live state of a deployment and corrects the record when they disagree.
func (o *Orchestrator) Status(ctx context.Context, id string) (deployment.StatusResult, error) {
	record, err := o.get(ctx, id)
	if err != nil {
		return deployment.StatusResult{}, err
	}
	return o.reconcile(ctx, record)
}

func (o *Orchestrator) reconcile(ctx context.Context, record *deployment.Record) (deployment.StatusResult, error) {
	if len(record.ExternalID) == 0 || (record.Status.InFlight() && o.attempt(record.ID) != nil) {
		return deployment.StatusResult{
			Running:     false,
			Settled:     !record.Status.InFlight(),
			State:       record.Status.String(),
			Health:      deployment.HealthUnknown,
			Message:     record.ErrorMessage,
			LastUpdated: record.UpdatedAt,
		}, nil
	}

	d, target, err := o.target(record)
	if err != nil {
		return deployment.StatusResult{}, err
	}

	var status deployment.StatusResult
	err = protect("status", func() error {
		var err error
		status, err = d.Status(ctx, target)
		return err
	})

	logger := o.recordLogger(record)
	now := time.Now()

	switch {
	case platform.IsNotFound(err):
		status = deployment.StatusResult{
			Settled:     true,
			Failed:      true,
			State:       "not_found",
			Health:      deployment.HealthUnknown,
			Message:     fmt.Sprintf("%s no longer exists on %s", record.ExternalID, record.Platform),
			LastUpdated: now,
		}
	case err != nil:
		herr := o.store.RecordHealthCheck(ctx, record.ID, now, false)
		if herr != nil {
			logger.Errorf("Record health check: %s", herr)
		}
		return deployment.StatusResult{}, scrubError(target, err)
	}
	status.Message = target.Config.Scrub(status.Message)

	var update *deployment.StatusUpdate
	switch {
	case status.Running && !status.Failed && (record.Status == deployment.StatusError || record.Status == deployment.StatusStopped):
		accessURL, _ := d.AccessURL(ctx, target)
		update = &deployment.StatusUpdate{Status: deployment.StatusActive, AccessURL: accessURL}
	case record.Status == deployment.StatusActive && status.Failed:
		update = &deployment.StatusUpdate{
			Status:       deployment.StatusError,
			FailedStep:   "health",
			ErrorMessage: deployment.TruncateMessage(status.Message),
		}
	case record.Status == deployment.StatusActive && !status.Running && status.Settled && status.State != deployment.StateQueued:
		update = &deployment.StatusUpdate{Status: deployment.StatusStopped}
	}

	if update != nil {
		err = o.store.UpdateStatus(ctx, record.ID, *update)
		if err != nil {
			logger.Warnf("Correct status %s to %s: %s", record.Status, update.Status, err)
		} else {
			logger.Infof("Platform reports %s, corrected status %s to %s", status.State, record.Status, update.Status)
		}
	}

	healthy := status.Running && status.Health != deployment.HealthUnhealthy
	err = o.store.RecordHealthCheck(ctx, record.ID, now, healthy)
	if err != nil {
		logger.Errorf("Record health check: %s", err)
	}
	return status, nil
}

func (o *Orchestrator) Logs(ctx context.Context, id string, lines int) (string, error) {
	switch {
	case lines <= 0:
		lines = DefaultLogLines
	case lines > MaxLogLines:
		lines = MaxLogLines
	}

	record, err := o.get(ctx, id)
	if err != nil {
		return "", err
	}
	if len(record.ExternalID) == 0 {
		return "", notDeployed(record)
	}

	d, target, err := o.target(record)
	if err != nil {
		return "", err
	}

	var logs string
	err = protect("logs", func() error {
		var err error
		logs, err = d.Logs(ctx, target, lines)
		return err
	})
	if platform.IsNotFound(err) {
		return "", deployment.Errorf(deployment.KindNotFound, "%s no longer exists on %s", record.ExternalID, record.Platform)
	} else if err != nil {
		return "", scrubError(target, err)
	}
	return target.Config.Scrub(logs), nil
}

// scrubError removes secrets from a platform error and keeps its kind.
func scrubError(target platform.Target, err error) error {
	kind := deployment.KindOf(err)
	if kind == deployment.KindInternal {
		kind = deployment.KindDeploy
	}
	return deployment.Errorf(kind, "%s", target.Config.Scrub(err.Error()))
}
