package executor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"testbot/pkg/executor/runner"
	"testbot/pkg/logger"
	"testbot/pkg/metrics"
	"testbot/pkg/models"
)

// DefaultBackoff is the pause between two attempts of a failing command.
const DefaultBackoff = time.Second

// RunOptions controls retry and failure handling for one command.
type RunOptions struct {
	// MaxTrials is the total number of attempts; values below 1 mean 1.
	MaxTrials int
	// AbortOnFailure turns an exhausted command into a *models.CommandFailed
	// error. Otherwise the failure is only recorded.
	AbortOnFailure bool
	// Label names the task in the result log. Empty labels fall back to the
	// invocation.
	Label string
}

// CommandRunner executes commands with bounded retry and records exactly one
// outcome per command in the run's result log.
type CommandRunner struct {
	exec    runner.CommandExecutor
	rc      *models.RunContext
	env     []string
	backoff time.Duration
	sleep   func(time.Duration)
	logger  *zap.Logger
}

// Option configures a CommandRunner.
type Option func(*CommandRunner)

// WithBackoff overrides the pause between attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *CommandRunner) { c.backoff = d }
}

// WithSleep replaces time.Sleep, mainly for tests.
func WithSleep(fn func(time.Duration)) Option {
	return func(c *CommandRunner) { c.sleep = fn }
}

// WithEnv sets the environment every command runs with.
func WithEnv(env []string) Option {
	return func(c *CommandRunner) { c.env = env }
}

// WithLogger sets the logger used for per-attempt lines.
func WithLogger(l *zap.Logger) Option {
	return func(c *CommandRunner) { c.logger = l }
}

func NewCommandRunner(exec runner.CommandExecutor, rc *models.RunContext, opts ...Option) *CommandRunner {
	c := &CommandRunner{
		exec:    exec,
		rc:      rc,
		backoff: DefaultBackoff,
		sleep:   time.Sleep,
		logger:  logger.ForComponent("executor"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes command in dir, retrying non-zero exits up to opts.MaxTrials
// times with a fixed backoff. The final attempt, successful or not, is
// appended to the result log and returned.
func (c *CommandRunner) Run(ctx context.Context, dir, command string, opts RunOptions) (models.CommandOutcome, error) {
	trials := opts.MaxTrials
	if trials < 1 {
		trials = 1
	}

	ctx, span := otel.Tracer("testbot/executor").Start(ctx, "command")
	defer span.End()
	span.SetAttributes(
		attribute.String("command.line", command),
		attribute.String("command.label", opts.Label),
		attribute.Int("command.max_trials", trials),
	)

	log := c.logger.With(zap.String("command", command), zap.String("dir", dir))
	start := time.Now()

	var (
		res   runner.Result
		trial int
	)
	for trial = 1; ; trial++ {
		log.Info("Running command", zap.Int("trial", trial), zap.Int("max_trials", trials))
		res = c.exec.Run(ctx, runner.Command{Line: command, Dir: dir, Env: c.env})
		metrics.RecordAttempt(res.ExitCode == 0)

		if res.ExitCode == 0 {
			log.Info("Command succeeded",
				zap.Int("trial", trial),
				zap.Int("exit_code", res.ExitCode),
				zap.Duration("duration", res.Duration))
			break
		}

		log.Warn("Command trial failed",
			zap.Int("trial", trial),
			zap.Int("max_trials", trials),
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", res.Stderr))

		if trial >= trials {
			log.Warn("Maximum number of trials reached", zap.Int("trials", trial))
			break
		}
		c.sleep(c.backoff)
	}

	outcome := models.NewCommandOutcome(opts.Label, command, res.ExitCode, res.Stdout, res.Stderr)
	outcome.Branch = c.rc.CurrentBranch
	outcome.Trials = trial
	outcome.Duration = time.Since(start)
	c.rc.Log.Append(outcome)
	metrics.RecordOutcome(outcome.Succeeded())

	span.SetAttributes(attribute.Int("command.exit_code", res.ExitCode), attribute.Int("command.trials", trial))
	if outcome.Succeeded() {
		return outcome, nil
	}

	span.SetStatus(codes.Error, "command failed")
	if opts.AbortOnFailure {
		return outcome, &models.CommandFailed{Command: command, ExitCode: res.ExitCode, Trials: trial}
	}
	return outcome, nil
}
