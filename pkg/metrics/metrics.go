package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for testbot.
// Using promauto for automatic registration with default registry.
var (
	// --- Run Metrics ---

	// RunsTotal counts finished runs by target and status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testbot",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total number of finished runs by status",
		},
		[]string{"project", "env", "status"},
	)

	// RunDuration tracks wall-clock duration of a whole run.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "testbot",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Duration of runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~9h
		},
		[]string{"project", "env"},
	)

	// LastRunTimestamp records when a target last finished a run.
	LastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "testbot",
			Subsystem: "runs",
			Name:      "last_finished_timestamp_seconds",
			Help:      "Unix time of the last finished run",
		},
		[]string{"project", "env"},
	)

	// --- Command Metrics ---

	// CommandAttempts counts every attempt, including retries.
	CommandAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testbot",
			Subsystem: "commands",
			Name:      "attempts_total",
			Help:      "Total number of command attempts by result",
		},
		[]string{"result"},
	)

	// CommandOutcomes counts final outcomes, one per logged command.
	CommandOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testbot",
			Subsystem: "commands",
			Name:      "outcomes_total",
			Help:      "Total number of final command outcomes by result",
		},
		[]string{"result"},
	)

	// PhaseDuration tracks test suite phase duration.
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "testbot",
			Subsystem: "phases",
			Name:      "duration_seconds",
			Help:      "Duration of test suite phases in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16), // 0.1s to ~1.8h
		},
		[]string{"phase", "result"},
	)

	// --- Notification Metrics ---

	// NotificationsTotal counts notification attempts by channel and result.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testbot",
			Subsystem: "notifications",
			Name:      "total",
			Help:      "Total number of notifications by channel and result",
		},
		[]string{"channel", "result"},
	)

	// --- Scheduler Metrics ---

	// PassesTotal counts scheduled or manual passes over all targets.
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testbot",
			Subsystem: "scheduler",
			Name:      "passes_total",
			Help:      "Total number of passes by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	// PassesSkipped counts passes not started because one was already active.
	PassesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testbot",
			Subsystem: "scheduler",
			Name:      "passes_skipped_total",
			Help:      "Total number of passes skipped while another was running",
		},
	)
)

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}

// RecordAttempt records a single command attempt.
func RecordAttempt(ok bool) {
	CommandAttempts.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordOutcome records a final command outcome.
func RecordOutcome(ok bool) {
	CommandOutcomes.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordPhase records a finished test suite phase.
func RecordPhase(phase string, ok bool, durationSeconds float64) {
	PhaseDuration.WithLabelValues(phase, resultLabel(ok)).Observe(durationSeconds)
}

// RecordRun records a finished run.
func RecordRun(project, env, status string, durationSeconds float64, finishedUnix float64) {
	RunsTotal.WithLabelValues(project, env, status).Inc()
	RunDuration.WithLabelValues(project, env).Observe(durationSeconds)
	LastRunTimestamp.WithLabelValues(project, env).Set(finishedUnix)
}

// RecordNotification records a notification attempt.
func RecordNotification(channel string, ok bool) {
	NotificationsTotal.WithLabelValues(channel, resultLabel(ok)).Inc()
}

// RecordPass records a finished pass.
func RecordPass(trigger string, ok bool) {
	PassesTotal.WithLabelValues(trigger, resultLabel(ok)).Inc()
}
