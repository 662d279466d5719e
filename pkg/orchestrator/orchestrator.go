// Package orchestrator drives a target through sync, test and notification.
package orchestrator

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"testbot/pkg/executor"
	"testbot/pkg/executor/runner"
	"testbot/pkg/host"
	"testbot/pkg/logger"
	"testbot/pkg/metrics"
	"testbot/pkg/models"
	"testbot/pkg/notify"
	"testbot/pkg/repo"
	"testbot/pkg/storage"
	"testbot/pkg/suite"
)

// cleanupTimeout bounds notification and recording once the run is over.
const cleanupTimeout = 30 * time.Second

// Deps are the collaborators shared by every orchestrator of a process.
type Deps struct {
	// Exec runs shell commands. Required.
	Exec runner.CommandExecutor
	// WorkDir is the parent directory of all working copies. Required.
	WorkDir string
	// Env is the prepared command environment; nil inherits the process env.
	Env []string
	// GOOS selects platform-specific phase commands; empty means runtime.GOOS.
	GOOS string
	// Backoff between command attempts; zero means executor.DefaultBackoff.
	Backoff time.Duration
	// Sleep replaces time.Sleep between attempts.
	Sleep func(time.Duration)
	// Notifier overrides the notifier built from the target configuration.
	Notifier notify.Notifier
	// NotifyOptions are passed to notify.Build.
	NotifyOptions []notify.Option
	// Recorders receive every finished run. Failures are logged only.
	Recorders []storage.RunRecorder
	// Artifacts returns the store for phase logs of a target; nil writes
	// them into the working copy.
	Artifacts func(target models.RunTarget, projectDir string) storage.LogStore
	// Host snapshots the machine for run metadata; nil uses host.Snapshot.
	Host func(ctx context.Context) models.HostInfo
	// Logger is the parent logger; nil uses the global one.
	Logger *zap.Logger
}

// Orchestrator runs one target. It owns its RunContext and is not safe for
// concurrent use.
type Orchestrator struct {
	target    models.RunTarget
	rc        *models.RunContext
	sync      *repo.Sync
	sequence  *suite.Sequence
	notifier  notify.Notifier
	recorders []storage.RunRecorder
	host      func(ctx context.Context) models.HostInfo
	now       func() time.Time
	logger    *zap.Logger
}

// New validates target and wires its orchestrator. Invalid configuration is
// reported as *models.ConfigurationError before anything runs.
func New(target models.RunTarget, deps Deps) (*Orchestrator, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if deps.Exec == nil {
		return nil, &models.ConfigurationError{Field: "executor", Reason: "is required"}
	}

	goos := deps.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	phases, err := suite.BuildPhases(phaseSpecs(target), goos)
	if err != nil {
		return nil, err
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier, err = notify.Build(target.Notifier, deps.NotifyOptions...)
		if err != nil {
			return nil, err
		}
	}

	base := deps.Logger
	if base == nil {
		base = logger.Get()
	}
	targetLog := base.With(
		zap.String("project", target.ProjectName),
		zap.String("env", target.EnvironmentName))

	rc := models.NewRunContext(deps.WorkDir)
	opts := []executor.Option{executor.WithEnv(deps.Env), executor.WithLogger(targetLog.With(zap.String("component", "executor")))}
	if deps.Backoff > 0 {
		opts = append(opts, executor.WithBackoff(deps.Backoff))
	}
	if deps.Sleep != nil {
		opts = append(opts, executor.WithSleep(deps.Sleep))
	}
	cmd := executor.NewCommandRunner(deps.Exec, rc, opts...)

	syncer, err := repo.NewSync(target.RepositoryURL, cmd, rc)
	if err != nil {
		return nil, err
	}

	var artifacts storage.LogStore
	if deps.Artifacts != nil {
		artifacts = deps.Artifacts(target, syncer.ProjectDir())
	} else {
		artifacts = storage.NewLocalLogStore(syncer.ProjectDir())
	}

	snapshot := deps.Host
	if snapshot == nil {
		snapshot = host.Snapshot
	}

	return &Orchestrator{
		target:    target,
		rc:        rc,
		sync:      syncer,
		sequence:  suite.NewSequence(phases, syncer.ProjectDir(), cmd, artifacts),
		notifier:  notifier,
		recorders: deps.Recorders,
		host:      snapshot,
		now:       time.Now,
		logger:    targetLog.With(zap.String("component", "orchestrator")),
	}, nil
}

func phaseSpecs(target models.RunTarget) []models.PhaseSpec {
	if len(target.Phases) > 0 {
		return target.Phases
	}
	return suite.DefaultPhaseSpecs()
}

// RunContext exposes the orchestrator's mutable state.
func (o *Orchestrator) RunContext() *models.RunContext {
	return o.rc
}

// RunAll syncs the working copy, runs the test sequence on every configured
// branch and sends exactly one notification with the collected outcomes.
// The first sync or phase failure ends the run; remaining branches are not
// attempted. The result log is empty when RunAll returns.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	runID := uuid.New()
	started := o.now()
	log := o.logger.With(zap.String("run_id", runID.String()))

	ctx, span := otel.Tracer("testbot/orchestrator").Start(ctx, "run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID.String()),
		attribute.String("run.project", o.target.ProjectName),
		attribute.String("run.env", o.target.EnvironmentName))

	log.Info("Starting run", zap.Strings("branches", o.target.Branches))
	runErr := o.run(ctx, log)

	var cfgErr *models.ConfigurationError
	if errors.As(runErr, &cfgErr) {
		o.rc.Log.Reset()
		span.SetStatus(codes.Error, runErr.Error())
		return runErr
	}

	meta := models.RunMetadata{
		RunID:       runID,
		Project:     o.target.ProjectName,
		Environment: o.target.EnvironmentName,
		Branch:      o.rc.CurrentBranch,
		Outcomes:    o.rc.Log.Entries(),
		StartedAt:   started,
		FinishedAt:  o.now(),
	}
	if runErr != nil {
		meta.Error = runErr.Error()
		span.SetStatus(codes.Error, runErr.Error())
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	meta.Host = o.host(cleanupCtx)

	o.dispatch(cleanupCtx, log, meta)
	o.record(cleanupCtx, log, meta)
	o.rc.Log.Reset()

	status := meta.Status()
	duration := meta.FinishedAt.Sub(meta.StartedAt)
	metrics.RecordRun(o.target.ProjectName, o.target.EnvironmentName, string(status),
		duration.Seconds(), float64(meta.FinishedAt.Unix()))
	log.Info("Run finished",
		zap.String("status", string(status)),
		zap.String("branch", meta.Branch),
		zap.Int("outcomes", len(meta.Outcomes)),
		zap.Duration("duration", duration))

	return runErr
}

func (o *Orchestrator) run(ctx context.Context, log *zap.Logger) error {
	if err := o.sync.EnsureCloned(ctx); err != nil {
		log.Error("Failed to clone repository", zap.Error(err))
		return err
	}

	if len(o.target.Branches) == 0 {
		return o.sequence.Execute(ctx, o.target.VariantFlags)
	}

	for _, branch := range o.target.Branches {
		branchCtx, span := otel.Tracer("testbot/orchestrator").Start(ctx, "branch "+branch)
		err := o.runBranch(branchCtx, log.With(zap.String("branch", branch)), branch)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runBranch(ctx context.Context, log *zap.Logger, branch string) error {
	if err := o.sync.CheckoutBranch(ctx, branch); err != nil {
		log.Error("Failed to check out branch", zap.Error(err))
		return err
	}
	log.Info("Checked out branch")
	if err := o.sequence.Execute(ctx, o.target.VariantFlags); err != nil {
		log.Error("Test sequence failed", zap.Error(err))
		return err
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, log *zap.Logger, meta models.RunMetadata) {
	err := o.notifier.Notify(ctx, meta)
	metrics.RecordNotification(o.notifier.Name(), err == nil)
	if err != nil {
		log.Error("Failed to send notification", zap.String("channel", o.notifier.Name()), zap.Error(err))
		return
	}
	log.Info("Notification sent", zap.String("channel", o.notifier.Name()))
}

func (o *Orchestrator) record(ctx context.Context, log *zap.Logger, meta models.RunMetadata) {
	if len(o.recorders) == 0 {
		return
	}
	rec := models.NewRunRecord(meta)
	for _, r := range o.recorders {
		if err := r.RecordRun(ctx, rec); err != nil {
			log.Warn("Failed to record run", zap.Error(err))
		}
	}
}
