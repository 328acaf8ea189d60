package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/metrics"
	"github.com/postqode/agentdeploy/pkg/platform"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	sweepCancelled  = "cancelled"
	sweepActivated  = "activated"
	sweepTimedOut   = "timed_out"
	sweepReconciled = "reconciled"
)

// Run sweeps stale attempts and checks the health of active deployments until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	sweep := time.NewTicker(o.opts.SweepInterval)
	defer sweep.Stop()
	health := time.NewTicker(o.opts.HealthInterval)
	defer health.Stop()

	log.Infof("Watchdog started, sweeping every %s", o.opts.SweepInterval)

	// Records left in flight by a previous process are picked up right away.
	o.logSweepError(o.Sweep(ctx))

	for {
		select {
		case <-ctx.Done():
			log.Infof("Watchdog stopped")
			return nil
		case <-sweep.C:
			o.logSweepError(o.Sweep(ctx))
		case <-health.C:
			o.logSweepError(o.CheckHealth(ctx))
		}
	}
}

func (o *Orchestrator) logSweepError(err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Watchdog: %s", err)
	}
}

// each runs fn for every record. A failing record does not stop the others;
// their errors are joined.
func (o *Orchestrator) each(ctx context.Context, records []*deployment.Record, fn func(ctx context.Context, record *deployment.Record) error) error {
	var (
		group errgroup.Group
		lock  sync.Mutex
		errs  []error
	)
	group.SetLimit(o.opts.SweepConcurrency)
	for _, record := range records {
		group.Go(func() error {
			err := fn(ctx, record)
			if err != nil {
				o.recordLogger(record).Errorf("Watchdog: %s", err)
				lock.Lock()
				errs = append(errs, fmt.Errorf("deployment %s: %w", record.ID, err))
				lock.Unlock()
			}
			return nil
		})
	}
	group.Wait()
	return errors.Join(errs...)
}

// Sweep forces in-flight deployments that outlived the attempt budget into a terminal state.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	before := time.Now().Add(-o.opts.AttemptTimeout)
	records, err := o.store.ListStale(ctx, deployment.InFlightStatuses, before)
	if err != nil {
		return err
	}
	return o.each(ctx, records, o.sweepRecord)
}

func (o *Orchestrator) sweepRecord(ctx context.Context, record *deployment.Record) error {
	logger := o.recordLogger(record)

	if a := o.attempt(record.ID); a != nil {
		a.cancel(deployment.Errorf(deployment.KindVerificationTimeout, "verification timeout: deployment was %s for longer than %s", record.Status, o.opts.AttemptTimeout))
		logger.Warnf("Cancelled attempt stuck in %s", record.Status)
		metrics.Sweep(sweepCancelled)
		return nil
	}

	running, accessURL := o.liveOnPlatform(ctx, record)
	if running {
		err := o.store.UpdateStatus(ctx, record.ID, deployment.StatusUpdate{
			Status:    deployment.StatusActive,
			AccessURL: accessURL,
		})
		if err != nil {
			return err
		}
		logger.Infof("Orphaned deployment in %s is running, marked active", record.Status)
		metrics.Sweep(sweepActivated)
		return nil
	}

	err := o.store.UpdateStatus(ctx, record.ID, deployment.StatusUpdate{
		Status:       deployment.StatusError,
		FailedStep:   record.Status.String(),
		ErrorMessage: "verification timeout",
	})
	if err != nil {
		return err
	}
	logger.Warnf("Orphaned deployment in %s timed out", record.Status)
	metrics.Sweep(sweepTimedOut)
	return nil
}

// liveOnPlatform reports whether an orphaned deployment is running on its platform.
func (o *Orchestrator) liveOnPlatform(ctx context.Context, record *deployment.Record) (bool, string) {
	if len(record.ExternalID) == 0 {
		return false, ""
	}
	d, target, err := o.target(record)
	if err != nil {
		return false, ""
	}

	var (
		status    deployment.StatusResult
		accessURL string
	)
	err = protect("status", func() error {
		status, err = d.Status(ctx, target)
		if err != nil || !status.Running {
			return err
		}
		accessURL, err = d.AccessURL(ctx, target)
		return err
	})
	if err != nil && !platform.IsNotFound(err) {
		o.recordLogger(record).Warnf("Check orphaned deployment: %s", target.Config.Scrub(err.Error()))
	}
	return status.Running, accessURL
}

// CheckHealth reconciles every active deployment with its platform.
func (o *Orchestrator) CheckHealth(ctx context.Context) error {
	records, err := o.store.ListByStatus(ctx, deployment.StatusActive)
	if err != nil {
		return err
	}
	return o.each(ctx, records, func(ctx context.Context, record *deployment.Record) error {
		_, err := o.reconcile(ctx, record)
		if err != nil {
			o.recordLogger(record).Warnf("Health check: %s", err)
		}
		metrics.Sweep(sweepReconciled)
		return nil
	})
}
