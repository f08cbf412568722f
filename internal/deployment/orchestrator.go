package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRunTimeout is the watchdog for a whole run.
	DefaultRunTimeout = 30 * time.Minute

	// DefaultRecoveryTimeout bounds the restart attempt after a failure.
	DefaultRecoveryTimeout = 5 * time.Minute

	// DefaultReporterTimeout bounds each reporter call.
	DefaultReporterTimeout = 30 * time.Second
)

// ErrRunInProgress is returned by Run when another run holds the lock.
var ErrRunInProgress = errors.New("deployment already in progress")

// Reporter observes the lifecycle of runs.
type Reporter interface {
	RunStarted(ctx context.Context, run *Run)
	RunFinished(ctx context.Context, run *Run)
}

// Options configures an Orchestrator.
type Options struct {
	Source          Source
	Runtime         Runtime
	Services        []string
	Log             OutputSink
	Logger          *slog.Logger
	Reporters       []Reporter
	RunTimeout      time.Duration
	RecoveryTimeout time.Duration
	ReporterTimeout time.Duration
}

// Orchestrator executes the redeploy sequence, one run at a time.
type Orchestrator struct {
	source          Source
	runtime         Runtime
	services        []string
	log             OutputSink
	logger          *slog.Logger
	reporters       []Reporter
	runTimeout      time.Duration
	recoveryTimeout time.Duration
	reporterTimeout time.Duration
	lock            *RunLock

	now   func() time.Time
	newID func() string

	mu     sync.Mutex
	active *Run
}

// NewOrchestrator creates an orchestrator from opts.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runTimeout := opts.RunTimeout
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	recoveryTimeout := opts.RecoveryTimeout
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	reporterTimeout := opts.ReporterTimeout
	if reporterTimeout <= 0 {
		reporterTimeout = DefaultReporterTimeout
	}
	return &Orchestrator{
		source:          opts.Source,
		runtime:         opts.Runtime,
		services:        append([]string(nil), opts.Services...),
		log:             opts.Log,
		logger:          logger,
		reporters:       opts.Reporters,
		runTimeout:      runTimeout,
		recoveryTimeout: recoveryTimeout,
		reporterTimeout: reporterTimeout,
		lock:            NewRunLock(),
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

// AddReporter registers r for subsequent runs. It must be called before
// the first run starts.
func (o *Orchestrator) AddReporter(r Reporter) {
	o.reporters = append(o.reporters, r)
}

// Services returns the managed service set.
func (o *Orchestrator) Services() []string {
	return append([]string(nil), o.services...)
}

// Busy reports whether a run currently holds the lock.
func (o *Orchestrator) Busy() bool {
	return o.lock.Held()
}

// Active returns a copy of the in-flight run, or nil.
func (o *Orchestrator) Active() *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return nil
	}
	return &Run{
		ID:        o.active.ID,
		Trigger:   o.active.Trigger,
		StartedAt: o.active.StartedAt,
		Steps:     append([]Step(nil), o.active.Steps...),
	}
}

// Run executes one deployment for trigger. It returns ErrRunInProgress
// without side effects if a run is already active. Step failures are
// reported through the returned Run, never as an error.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (run *Run, err error) {
	if !o.lock.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.lock.Unlock()

	run = &Run{
		ID:        o.newID(),
		Trigger:   trigger,
		StartedAt: o.now().UTC(),
	}
	o.setActive(run)
	defer o.setActive(nil)

	ctx = WithRunID(ctx, run.ID)
	detached := context.WithoutCancel(ctx)

	o.report(detached, func(ctx context.Context, r Reporter) { r.RunStarted(ctx, run) })
	defer func() {
		run.FinishedAt = o.now().UTC()
		o.logger.Info("deployment finished",
			"run_id", run.ID,
			"outcome", run.Outcome,
			"duration_ms", run.Duration().Milliseconds(),
		)
		o.report(detached, func(ctx context.Context, r Reporter) { r.RunFinished(ctx, run) })
	}()

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("deployment panicked", "run_id", run.ID, "panic", p)
			o.fail(detached, run, run.stage, fmt.Errorf("panic: %v", p))
		}
	}()

	watchdog, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()
	o.execute(watchdog, run)
	return run, nil
}

// report calls fn for every reporter, each under its own deadline so a
// stalled reporter cannot hold the run lock.
func (o *Orchestrator) report(ctx context.Context, fn func(context.Context, Reporter)) {
	for _, r := range o.reporters {
		rctx, cancel := context.WithTimeout(ctx, o.reporterTimeout)
		fn(rctx, r)
		cancel()
	}
}

func (o *Orchestrator) execute(ctx context.Context, run *Run) {
	o.record(run, StepStart, StepOK, describeTrigger(run.Trigger))

	run.stage = StepConfigureVCS
	if err := o.source.Configure(ctx); err != nil {
		o.record(run, StepConfigureVCS, StepWarn, "Working tree configuration incomplete: "+err.Error())
	} else {
		o.record(run, StepConfigureVCS, StepOK, "Working tree configured")
	}

	run.stage = StepPull
	if err := o.source.Pull(ctx); err != nil {
		o.fail(ctx, run, StepPull, o.watchdogError(ctx, err))
		return
	}
	o.record(run, StepPull, StepOK, "Pulled latest code")

	run.stage = StepStopServices
	o.stopServices(ctx, run)

	run.stage = StepBuildAndStart
	if err := o.buildAndStart(ctx, run); err != nil {
		o.fail(ctx, run, StepBuildAndStart, o.watchdogError(ctx, err))
		return
	}

	run.stage = StepPruneImages
	if err := o.runtime.PruneImages(ctx); err != nil {
		o.record(run, StepPruneImages, StepWarn, "Image prune failed: "+err.Error())
	} else {
		o.record(run, StepPruneImages, StepOK, "Pruned dangling images")
	}

	run.Outcome = OutcomeSuccess
	o.record(run, StepDone, StepOK, "Deployment completed successfully")
	o.snapshot(context.WithoutCancel(ctx), run)
}

func (o *Orchestrator) stopServices(ctx context.Context, run *Run) {
	var failed []string
	for _, svc := range o.services {
		if err := o.runtime.Stop(ctx, svc); err != nil {
			failed = append(failed, svc)
			o.note(run, fmt.Sprintf("could not stop %s: %v", svc, err))
			continue
		}
		o.note(run, "stopped "+svc)
	}
	if len(failed) > 0 {
		o.record(run, StepStopServices, StepWarn,
			fmt.Sprintf("Stopped %d of %d services; failed: %s", len(o.services)-len(failed), len(o.services), strings.Join(failed, ", ")))
		return
	}
	o.record(run, StepStopServices, StepOK, fmt.Sprintf("Stopped %d services", len(o.services)))
}

func (o *Orchestrator) buildAndStart(ctx context.Context, run *Run) error {
	token := CacheToken(o.now())

	var loopErr error
	for _, svc := range o.services {
		if err := o.runtime.BuildAndStart(ctx, svc, token); err != nil {
			loopErr = fmt.Errorf("service %s: %w", svc, err)
			o.note(run, fmt.Sprintf("build of %s failed: %v", svc, err))
			break
		}
		o.note(run, "built and started "+svc)
	}
	if loopErr == nil {
		o.record(run, StepBuildAndStart, StepOK,
			fmt.Sprintf("Built and started %d services (cache token %s)", len(o.services), token))
		return nil
	}

	if ctx.Err() != nil {
		return loopErr
	}
	o.note(run, "per-service build failed, falling back to full-stack rebuild")
	if err := o.runtime.BuildAndStartAll(ctx, o.services, token); err != nil {
		return errors.Join(loopErr, fmt.Errorf("full-stack rebuild: %w", err))
	}
	o.record(run, StepBuildAndStart, StepWarn,
		fmt.Sprintf("Per-service build failed (%v); full-stack rebuild succeeded (cache token %s)", loopErr, token))
	return nil
}

// fail records a fatal step and makes the single recovery attempt.
func (o *Orchestrator) fail(ctx context.Context, run *Run, step StepName, err error) {
	if run.Error == "" {
		run.Error = err.Error()
	}
	if step == "" {
		step = StepStart
	}
	o.record(run, step, StepFail, "Deployment failed: "+err.Error())

	recoverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.recoveryTimeout)
	defer cancel()

	if rerr := o.runtime.Restart(recoverCtx, o.services); rerr != nil {
		run.Outcome = OutcomeFailed
		o.record(run, StepRestartServices, StepFail, "Failed to restart containers: "+rerr.Error())
		return
	}
	run.Outcome = OutcomeRecovered
	o.record(run, StepRestartServices, StepOK, "Containers restarted after failure")
	o.snapshot(recoverCtx, run)
}

func (o *Orchestrator) snapshot(ctx context.Context, run *Run) {
	out, err := o.runtime.Status(ctx)
	if err != nil {
		o.record(run, StepStatus, StepWarn, "Could not read container status: "+err.Error())
		return
	}
	o.record(run, StepStatus, StepOK, "Container status:\n"+strings.TrimRight(out, "\n"))
}

func (o *Orchestrator) watchdogError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("run exceeded %s: %w", o.runTimeout, err)
	}
	return err
}

// record appends a step to the run and mirrors it to the deployment log.
func (o *Orchestrator) record(run *Run, name StepName, outcome StepOutcome, message string) {
	step := Step{
		Name:      name,
		Timestamp: o.now().UTC(),
		Message:   message,
		Outcome:   outcome,
	}
	o.mu.Lock()
	run.Steps = append(run.Steps, step)
	o.mu.Unlock()

	if o.log != nil {
		o.log.Append(run.ID, FormatStep(step))
	}

	attrs := []any{"run_id", run.ID, "step", name, "outcome", outcome}
	switch outcome {
	case StepFail:
		o.logger.Error(message, attrs...)
	case StepWarn:
		o.logger.Warn(message, attrs...)
	default:
		o.logger.Info(message, attrs...)
	}
}

// note writes a detail line that is not a step of its own.
func (o *Orchestrator) note(run *Run, message string) {
	if o.log != nil {
		o.log.Append(run.ID, "  "+message)
	}
}

func (o *Orchestrator) setActive(run *Run) {
	o.mu.Lock()
	o.active = run
	o.mu.Unlock()
}

// FormatStep renders a step the way it appears in the deployment log.
func FormatStep(s Step) string {
	return fmt.Sprintf("%s [%s] %s", s.Name, s.Outcome, s.Message)
}

func describeTrigger(t Trigger) string {
	parts := []string{"Starting deployment"}
	if t.Source != "" {
		parts = append(parts, "source="+t.Source)
	}
	if t.Ref != "" {
		parts = append(parts, "ref="+t.Ref)
	}
	if t.Repository != "" {
		parts = append(parts, "repository="+t.Repository)
	}
	if t.Commit != "" {
		parts = append(parts, "commit="+t.Commit)
	}
	if t.DeliveryID != "" {
		parts = append(parts, "delivery="+t.DeliveryID)
	}
	return strings.Join(parts, " ")
}
