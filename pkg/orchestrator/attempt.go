package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/metrics"
	"github.com/postqode/agentdeploy/pkg/platform"
	"github.com/postqode/agentdeploy/pkg/telemetry"
	log "github.com/sirupsen/logrus"
	otrace "go.opentelemetry.io/otel/trace"
)

const (
	eventValidate = "validate"
	eventBuild    = "build"
	eventDeploy   = "deploy"
	eventVerify   = "verify"
	eventActivate = "activate"
	eventPark     = "park"
	eventFail     = "fail"
)

const (
	resultActive    = "active"
	resultStopped   = "stopped"
	resultError     = "error"
	resultCancelled = "cancelled"
)

var errShutdown = deployment.Errorf(deployment.KindCancelled, "deployment service is shutting down")

type attempt struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// transition is the payload of a state machine event.
type transition struct {
	message    string
	failedStep deployment.Status
	accessURL  string
}

func newMachine(enterState fsm.Callback) *fsm.FSM {
	var (
		pending    = deployment.StatusPending.String()
		validating = deployment.StatusValidating.String()
		building   = deployment.StatusBuilding.String()
		deploying  = deployment.StatusDeploying.String()
		verifying  = deployment.StatusVerifying.String()
	)
	return fsm.NewFSM(
		pending,
		fsm.Events{
			{Name: eventValidate, Src: []string{pending}, Dst: validating},
			{Name: eventBuild, Src: []string{validating}, Dst: building},
			{Name: eventDeploy, Src: []string{building}, Dst: deploying},
			{Name: eventVerify, Src: []string{deploying}, Dst: verifying},
			{Name: eventActivate, Src: []string{verifying}, Dst: deployment.StatusActive.String()},
			{Name: eventPark, Src: []string{deploying}, Dst: deployment.StatusStopped.String()},
			{Name: eventFail, Src: []string{pending, validating, building, deploying, verifying}, Dst: deployment.StatusError.String()},
		},
		fsm.Callbacks{
			"enter_state": enterState,
		},
	)
}

// protect turns a panic in platform or builder code into a deploy error.
func protect(operation string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = deployment.Errorf(deployment.KindDeploy, "%s panicked: %v", operation, p)
		}
	}()
	return fn()
}

func (o *Orchestrator) attempt(id string) *attempt {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.attempts[id]
}

// launch runs a deployment attempt for the record in the background.
func (o *Orchestrator) launch(record *deployment.Record) {
	ctx, cancel := context.WithCancelCause(context.Background())
	a := &attempt{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.lock.Lock()
	o.attempts[record.ID] = a
	o.lock.Unlock()

	o.running.Add(1)
	go func() {
		defer o.running.Done()
		defer close(a.done)
		defer func() {
			o.lock.Lock()
			delete(o.attempts, record.ID)
			o.lock.Unlock()
		}()
		defer cancel(nil)

		o.run(ctx, record)
	}()
}

// cancelAttempt cancels a local attempt and waits for it to unwind.
// It reports whether there was one.
func (o *Orchestrator) cancelAttempt(ctx context.Context, id string, cause error) (bool, error) {
	a := o.attempt(id)
	if a == nil {
		return false, nil
	}
	a.cancel(cause)
	select {
	case <-a.done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

type run struct {
	orchestrator *Orchestrator
	record       *deployment.Record
	logger       *log.Entry
	machine      *fsm.FSM
	secrets      []string
	persistErr   error
	attributes   []otrace.SpanStartOption
}

func (o *Orchestrator) run(ctx context.Context, record *deployment.Record) {
	started := time.Now()
	metrics.AttemptStarted()

	ctx, cancel := context.WithTimeoutCause(ctx, o.opts.AttemptTimeout,
		deployment.Errorf(deployment.KindVerificationTimeout, "deployment did not finish within %s", o.opts.AttemptTimeout))
	defer cancel()

	attributes := otrace.WithAttributes(telemetry.DeploymentAttributes(record.ID, record.Platform, record.EnvironmentName)...)
	ctx, span := telemetry.Tracer().Start(ctx, "deployment.attempt", attributes)
	defer span.End()

	r := &run{
		orchestrator: o,
		record:       record,
		logger:       o.recordLogger(record),
		secrets:      record.Request.SecretValues(),
		attributes:   []otrace.SpanStartOption{attributes},
	}
	r.machine = newMachine(r.enterState)

	err := r.execute(ctx)
	result := r.machine.Current()
	switch {
	case deployment.IsKind(err, deployment.KindCancelled):
		result = resultCancelled
		r.logger.Infof("Deployment attempt cancelled: %s", err)
	case err != nil:
		r.logger.Errorf("Deployment attempt failed: %s", r.scrub(err.Error()))
	default:
		r.logger.Infof("Deployment attempt finished in %s with status %s", time.Since(started).Round(time.Millisecond), result)
	}

	telemetry.RecordError(span, err)
	metrics.AttemptFinished(record.Platform.String(), result, started)
	o.steps.expire(record.ID)
}

func (r *run) scrub(text string) string {
	return deployment.Scrub(text, r.secrets)
}

func (r *run) step(step deployment.Status, status deployment.StepStatus, message string) {
	r.orchestrator.steps.add(r.record.ID, deployment.NewStep(step.String(), status, r.scrub(message)))
}

func (r *run) enterState(ctx context.Context, e *fsm.Event) {
	t := transition{}
	if len(e.Args) > 0 {
		t, _ = e.Args[0].(transition)
	}
	status := deployment.Status(e.Dst)
	update := deployment.StatusUpdate{
		Status:    status,
		AccessURL: t.accessURL,
	}

	switch status {
	case deployment.StatusError:
		update.FailedStep = t.failedStep.String()
		update.ErrorMessage = deployment.TruncateMessage(r.scrub(t.message))
		r.step(t.failedStep, deployment.StepFailed, update.ErrorMessage)
	case deployment.StatusActive, deployment.StatusStopped:
		r.step(status, deployment.StepCompleted, t.message)
	default:
		r.step(status, deployment.StepRunning, t.message)
	}

	r.logger.WithField("step", status).Infof("Deployment is %s", status)
	metrics.StateTransition(r.record.Platform.String(), status.String())

	// Terminal writes must land even when the attempt ran out of time.
	r.persistErr = r.orchestrator.store.UpdateStatus(context.WithoutCancel(ctx), r.record.ID, update)
}

func (r *run) fire(ctx context.Context, event string, t transition) error {
	r.persistErr = nil
	err := r.machine.Event(ctx, event, t)
	if err != nil {
		return err
	}
	return r.persistErr
}

func (r *run) cleanWorkspace() {
	err := protect("clean", func() error {
		return r.orchestrator.builder.Clean(r.record.ID)
	})
	if err != nil {
		r.logger.Warnf("Clean build workspace: %s", err)
	}
}

func (r *run) phase(ctx context.Context, status deployment.Status, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, "deployment."+status.String(), r.attributes...)
	defer span.End()
	err := fn(ctx)
	telemetry.RecordError(span, err)
	return err
}

// fail moves the attempt to error. A cancelled attempt is left as it is,
// since whoever cancelled it owns the record from then on.
func (r *run) fail(ctx context.Context, step deployment.Status, err error) error {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = cause
		}
	}
	if deployment.IsKind(err, deployment.KindCancelled) {
		return err
	}
	if deployment.KindOf(err) == deployment.KindInternal {
		err = deployment.ErrorWrap(deployment.KindDeploy, err)
	}

	message := fmt.Sprintf("%s: %s", deployment.KindOf(err), err)
	ferr := r.fire(context.WithoutCancel(ctx), eventFail, transition{
		message:    message,
		failedStep: step,
	})
	if ferr != nil {
		r.logger.Errorf("Record failure: %s", ferr)
	}
	return err
}

// advance fires event, or records why the attempt cannot continue.
func (r *run) advance(ctx context.Context, event string, step deployment.Status, t transition) error {
	if ctx.Err() != nil {
		return r.fail(ctx, step, ctx.Err())
	}
	err := r.fire(ctx, event, t)
	if err != nil {
		return r.fail(ctx, step, err)
	}
	return nil
}

func (r *run) execute(ctx context.Context) error {
	o := r.orchestrator
	req := r.record.Request

	err := r.advance(ctx, eventValidate, deployment.StatusPending, transition{message: "Validating configuration"})
	if err != nil {
		return err
	}

	var (
		d   platform.Deployer
		cfg deployment.Config
	)
	err = r.phase(ctx, deployment.StatusValidating, func(ctx context.Context) error {
		var err error
		d, err = o.factory.ForType(req.Platform)
		if err != nil {
			return err
		}
		var result deployment.ValidationResult
		cfg, result, err = o.factory.Config(req)
		if err != nil {
			return err
		}
		r.secrets = cfg.Secrets
		for _, warning := range result.Warnings {
			r.logger.Warnf("Configuration: %s", r.scrub(warning))
		}
		return result.Err()
	})
	if err != nil {
		return r.fail(ctx, deployment.StatusValidating, err)
	}
	r.step(deployment.StatusValidating, deployment.StepCompleted, "Configuration is valid")

	err = r.advance(ctx, eventBuild, deployment.StatusValidating, transition{message: fmt.Sprintf("Building %s artifact", d.ArtifactKind())})
	if err != nil {
		return err
	}

	// Deployers read the artifacts from the workspace while deploying.
	defer r.cleanWorkspace()

	var build deployment.BuildResult
	err = r.phase(ctx, deployment.StatusBuilding, func(ctx context.Context) error {
		err := protect("build", func() error {
			build = o.builder.Build(ctx, r.record.ID, req.Package, d.ArtifactKind(), cfg)
			return nil
		})
		if err != nil {
			return err
		}
		if !build.Success {
			return deployment.Errorf(deployment.KindBuild, "%s", buildFailure(build))
		}
		return nil
	})
	if err != nil {
		return r.fail(ctx, deployment.StatusBuilding, err)
	}
	r.step(deployment.StatusBuilding, deployment.StepCompleted, fmt.Sprintf("Built %s in %s", build.Reference(), build.Duration.Round(time.Millisecond)))

	err = o.store.UpdateAttempt(ctx, r.record.ID, deployment.AttemptUpdate{
		ArtifactRef:    build.Reference(),
		RuntimeVersion: req.Version,
	})
	if err != nil {
		return r.fail(ctx, deployment.StatusBuilding, err)
	}

	err = r.advance(ctx, eventDeploy, deployment.StatusBuilding, transition{message: fmt.Sprintf("Deploying to %s", d.Platform())})
	if err != nil {
		return err
	}

	target := platform.Target{
		DeploymentID: r.record.ID,
		ExternalID:   r.record.ExternalID,
		Config:       cfg,
	}
	var result deployment.DeployResult
	err = r.phase(ctx, deployment.StatusDeploying, func(ctx context.Context) error {
		return protect("deploy", func() error {
			var err error
			result, err = d.Deploy(ctx, target, build)
			return err
		})
	})
	if len(result.ExternalID) > 0 {
		target.ExternalID = result.ExternalID
		uerr := o.store.UpdateAttempt(context.WithoutCancel(ctx), r.record.ID, deployment.AttemptUpdate{ExternalID: result.ExternalID})
		if uerr != nil && err == nil {
			err = uerr
		}
	}
	if err != nil {
		return r.fail(ctx, deployment.StatusDeploying, err)
	}
	r.step(deployment.StatusDeploying, deployment.StepCompleted, fmt.Sprintf("Deployed as %s (%s)", target.ExternalID, result.State))

	if !cfg.AutoStart {
		return r.advance(ctx, eventPark, deployment.StatusDeploying, transition{message: "Deployed without starting"})
	}

	err = r.advance(ctx, eventVerify, deployment.StatusDeploying, transition{message: "Waiting for the agent to become ready"})
	if err != nil {
		return err
	}

	var status deployment.StatusResult
	err = r.phase(ctx, deployment.StatusVerifying, func(ctx context.Context) error {
		var err error
		status, err = r.verify(ctx, d, target)
		return err
	})
	if err != nil {
		return r.fail(ctx, deployment.StatusVerifying, err)
	}

	accessURL := result.AccessURL
	if len(accessURL) == 0 {
		_ = protect("access url", func() error {
			var err error
			accessURL, err = d.AccessURL(ctx, target)
			if err != nil {
				r.logger.Warnf("Resolve access URL: %s", r.scrub(err.Error()))
			}
			return nil
		})
	}

	message := fmt.Sprintf("Agent is %s", status.State)
	if len(accessURL) > 0 {
		message += " at " + accessURL
	}
	return r.advance(ctx, eventActivate, deployment.StatusVerifying, transition{message: message, accessURL: accessURL})
}

// verify polls the platform until the agent runs, or for edge devices until the
// job is queued. Unreachable platforms and agents not yet running are retried
// until the verify budget runs out.
func (r *run) verify(ctx context.Context, d platform.Deployer, target platform.Target) (deployment.StatusResult, error) {
	o := r.orchestrator
	budget := deployment.Errorf(deployment.KindVerificationTimeout, "agent did not become ready within %s", o.opts.VerifyTimeout)
	ctx, cancel := context.WithTimeoutCause(ctx, o.opts.VerifyTimeout, budget)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.opts.VerifyInitialInterval
	policy.MaxInterval = o.opts.VerifyMaxInterval
	policy.MaxElapsedTime = 0

	var (
		status deployment.StatusResult
		last   string
	)
	operation := func() error {
		err := protect("status", func() error {
			var err error
			status, err = d.Status(ctx, target)
			return err
		})
		switch {
		case platform.IsNotFound(err):
			return backoff.Permanent(deployment.Errorf(deployment.KindDeploy, "deployment disappeared from the platform"))
		case deployment.IsKind(err, deployment.KindPlatformUnreachable):
			last = err.Error()
			return err
		case err != nil:
			return backoff.Permanent(err)
		case status.Failed:
			return backoff.Permanent(deployment.Errorf(deployment.KindDeploy, "agent failed to start: %s", status.Message))
		case !status.Settled || !(status.Running || status.State == deployment.StateQueued):
			last = fmt.Sprintf("agent is %s", status.State)
			if len(status.Message) > 0 {
				last += ": " + status.Message
			}
			return errors.New(last)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.WithField("step", deployment.StatusVerifying).Debugf("Not ready, retrying in %s: %s", wait.Round(time.Millisecond), r.scrub(err.Error()))
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
	if err == nil {
		return status, nil
	}
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if cause == budget && len(last) > 0 {
			return status, deployment.Errorf(deployment.KindVerificationTimeout, "%s; last state: %s", budget, last)
		}
		return status, cause
	}
	return status, err
}

// buildFailure summarizes a failed build with the tail of its log.
func buildFailure(build deployment.BuildResult) string {
	const tail = 10
	message := build.Error
	if len(message) == 0 {
		message = "build failed"
	}
	lines := strings.Split(strings.TrimSpace(build.Log), "\n")
	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	if len(lines) > 0 && len(lines[0]) > 0 {
		message += "\n" + strings.Join(lines, "\n")
	}
	return message
}
