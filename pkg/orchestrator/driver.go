package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"testbot/pkg/logger"
	"testbot/pkg/metrics"
	"testbot/pkg/models"
	"testbot/pkg/notify"
)

// Driver runs a full pass over every configured target.
type Driver struct {
	targets []models.RunTarget
	deps    Deps
	logger  *zap.Logger

	// notifiers live as long as the driver so each channel's circuit breaker
	// sees every pass. A nil entry leaves the error to New.
	notifiers []notify.Notifier
}

// NewDriver creates a driver for targets sharing deps.
func NewDriver(targets []models.RunTarget, deps Deps) *Driver {
	d := &Driver{
		targets:   targets,
		deps:      deps,
		logger:    logger.ForComponent("driver"),
		notifiers: make([]notify.Notifier, len(targets)),
	}
	if deps.Notifier == nil {
		for i, target := range targets {
			if n, err := notify.Build(target.Notifier, deps.NotifyOptions...); err == nil {
				d.notifiers[i] = n
			}
		}
	}
	return d
}

// Targets returns the configured targets.
func (d *Driver) Targets() []models.RunTarget {
	return d.targets
}

// RunPass runs the targets strictly one after another. A failing target does
// not stop the pass; the returned error combines every target's failure. A
// cancelled ctx stops the pass before the next target starts.
func (d *Driver) RunPass(ctx context.Context, trigger string) error {
	d.logger.Info("Starting pass", zap.String("trigger", trigger), zap.Int("targets", len(d.targets)))

	var errs error
	for i, target := range d.targets {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		log := d.logger.With(zap.String("project", target.ProjectName), zap.String("env", target.EnvironmentName))
		deps := d.deps
		if deps.Notifier == nil {
			deps.Notifier = d.notifiers[i]
		}
		o, err := New(target, deps)
		if err != nil {
			log.Error("Invalid target configuration", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s/%s: %w", target.ProjectName, target.EnvironmentName, err))
			continue
		}

		if err := o.RunAll(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s/%s: %w", target.ProjectName, target.EnvironmentName, err))
		}
	}

	metrics.RecordPass(trigger, errs == nil)
	if errs != nil {
		d.logger.Warn("Pass finished with failures", zap.Int("failures", len(multierr.Errors(errs))))
		return errs
	}
	d.logger.Info("Pass finished")
	return nil
}
