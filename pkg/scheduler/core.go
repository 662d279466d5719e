// Package scheduler fires orchestration passes on a cron schedule and on
// demand, never more than one at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"testbot/pkg/logger"
	"testbot/pkg/metrics"
	"testbot/pkg/models"
)

// Pass triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerStartup  = "startup"
)

var (
	// ErrPassRunning is returned when a pass is requested while one is active.
	ErrPassRunning = errors.New("a pass is already running")
	// ErrNotActive is returned for on-demand passes while Run is not active,
	// which includes nodes that do not hold the schedule leadership.
	ErrNotActive = errors.New("scheduler is not active on this node")
)

// PassFunc runs one pass over all targets.
type PassFunc func(ctx context.Context, trigger string) error

// Status describes the scheduler for the API.
type Status struct {
	Schedule     string    `json:"schedule"`
	Running      bool      `json:"running"`
	NextRun      time.Time `json:"next_run"`
	LastTrigger  string    `json:"last_trigger,omitempty"`
	LastStarted  time.Time `json:"last_started,omitempty"`
	LastFinished time.Time `json:"last_finished,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a five-field cron spec or a descriptor such as
// "@daily".
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, &models.ConfigurationError{Field: "SCHEDULE", Reason: fmt.Sprintf("invalid cron spec %q: %v", spec, err)}
	}
	return sched, nil
}

type Core struct {
	spec     string
	schedule cron.Schedule
	pass     PassFunc
	logger   *zap.Logger

	// running is held for the whole duration of a pass.
	running sync.Mutex
	wg      sync.WaitGroup

	mu     sync.RWMutex
	status Status

	// base is the context of the active Run; nil otherwise.
	base        context.Context
	passOnStart bool
}

func NewCore(spec string, pass PassFunc) (*Core, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	return &Core{
		spec:     spec,
		schedule: sched,
		pass:     pass,
		logger:   logger.ForComponent("scheduler"),
		status:   Status{Schedule: spec},
	}, nil
}

// RunOnStart makes Run start a pass as soon as it is active.
func (c *Core) RunOnStart() {
	c.mu.Lock()
	c.passOnStart = true
	c.mu.Unlock()
}

// Run fires passes on the schedule until ctx is cancelled, then waits for
// an active pass to finish. Every pass, including on-demand ones, is
// cancelled with ctx.
func (c *Core) Run(ctx context.Context) error {
	c.mu.Lock()
	c.base = ctx
	onStart := c.passOnStart
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.base = nil
		c.mu.Unlock()
	}()

	cl := cronLogger{c.logger}
	cr := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	cr.Schedule(c.schedule, cron.FuncJob(func() {
		if _, err := c.Trigger(ctx, TriggerSchedule); err != nil {
			c.logger.Warn("Scheduled pass finished with errors", zap.Error(err))
		}
	}))

	c.logger.Info("Scheduler started",
		zap.String("schedule", c.spec),
		zap.Time("next_run", c.schedule.Next(time.Now())))
	cr.Start()

	if onStart {
		if err := c.TriggerAsync(ctx, TriggerStartup); err != nil {
			c.logger.Warn("Startup pass not started", zap.Error(err))
		}
	}

	<-ctx.Done()
	c.logger.Info("Shutting down scheduler")
	<-cr.Stop().Done()
	c.Wait()
	return nil
}

// Trigger runs a pass synchronously unless one is already active, in which
// case it returns false without running anything.
func (c *Core) Trigger(ctx context.Context, trigger string) (bool, error) {
	if !c.running.TryLock() {
		c.skipped(trigger)
		return false, nil
	}
	c.wg.Add(1)
	defer c.wg.Done()
	defer c.running.Unlock()
	return true, c.runPass(ctx, trigger)
}

// TriggerAsync starts a pass in the background while Run is active. The
// pass keeps the values of ctx but is cancelled with Run's context, not ctx.
// It returns ErrNotActive outside Run and ErrPassRunning if a pass is active.
func (c *Core) TriggerAsync(ctx context.Context, trigger string) error {
	c.mu.RLock()
	base := c.base
	c.mu.RUnlock()
	if base == nil || base.Err() != nil {
		return ErrNotActive
	}

	if !c.running.TryLock() {
		c.skipped(trigger)
		return ErrPassRunning
	}
	passCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(base, cancel)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.running.Unlock()
		defer cancel()
		defer stop()
		if err := c.runPass(passCtx, trigger); err != nil {
			c.logger.Warn("Pass finished with errors", zap.String("trigger", trigger), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until no pass is running.
func (c *Core) Wait() {
	c.wg.Wait()
}

// Status returns a snapshot of the scheduler state.
func (c *Core) Status() Status {
	c.mu.RLock()
	s := c.status
	c.mu.RUnlock()
	s.NextRun = c.schedule.Next(time.Now())
	return s
}

func (c *Core) skipped(trigger string) {
	metrics.PassesSkipped.Inc()
	c.logger.Warn("Pass already running, skipping", zap.String("trigger", trigger))
}

func (c *Core) runPass(ctx context.Context, trigger string) error {
	c.mu.Lock()
	c.status.Running = true
	c.status.LastTrigger = trigger
	c.status.LastStarted = time.Now()
	c.mu.Unlock()

	err := c.pass(ctx, trigger)

	c.mu.Lock()
	c.status.Running = false
	c.status.LastFinished = time.Now()
	c.status.LastError = ""
	if err != nil {
		c.status.LastError = err.Error()
	}
	c.mu.Unlock()
	return err
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
