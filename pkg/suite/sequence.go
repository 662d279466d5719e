// Package suite runs the fixed, ordered build and test phases for one branch
// of a target.
package suite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"testbot/pkg/executor"
	"testbot/pkg/logger"
	"testbot/pkg/metrics"
	"testbot/pkg/models"
	"testbot/pkg/storage"
)

// ArtifactTimeLayout keeps artifact names lexically sortable.
const ArtifactTimeLayout = "20060102-150405"

// CommandRunner is the subset of executor.CommandRunner used by a sequence.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string, opts executor.RunOptions) (models.CommandOutcome, error)
}

// Sequence executes its phases one after another in the working copy.
type Sequence struct {
	phases []Phase
	dir    string
	cmd    CommandRunner
	logs   storage.LogStore
	now    func() time.Time
	logger *zap.Logger
}

// NewSequence creates a sequence running in dir. Artifacts go to logs.
func NewSequence(phases []Phase, dir string, cmd CommandRunner, logs storage.LogStore) *Sequence {
	return &Sequence{
		phases: phases,
		dir:    dir,
		cmd:    cmd,
		logs:   logs,
		now:    time.Now,
		logger: logger.ForComponent("suite"),
	}
}

// Phases returns the ordered phase list.
func (s *Sequence) Phases() []Phase {
	out := make([]Phase, len(s.phases))
	copy(out, s.phases)
	return out
}

// Execute runs every phase in order. A phase that fails with
// AbortOnFailure stops the sequence; outcomes of earlier phases stay in the
// result log.
func (s *Sequence) Execute(ctx context.Context, variantFlags string) error {
	tracer := otel.Tracer("testbot/suite")

	for _, p := range s.phases {
		line := ExpandFlags(p.Command, variantFlags)
		log := s.logger.With(zap.String("phase", p.ID))
		log.Info("Starting phase", zap.String("command", line))

		phaseCtx, span := tracer.Start(ctx, "phase "+p.ID)
		started := s.now()
		outcome, err := s.cmd.Run(phaseCtx, s.dir, line, executor.RunOptions{
			MaxTrials:      p.MaxTrials,
			AbortOnFailure: p.AbortOnFailure,
			Label:          p.Name,
		})
		span.SetAttributes(attribute.Int("phase.exit_code", outcome.ExitCode))
		span.End()

		metrics.RecordPhase(p.ID, outcome.Succeeded(), outcome.Duration.Seconds())
		s.writeArtifact(ctx, log, p, started, outcome)

		if err != nil {
			log.Error("Phase failed, stopping sequence", zap.Error(err))
			return fmt.Errorf("phase %s: %w", p.ID, err)
		}
		log.Info("Phase finished", zap.Int("exit_code", outcome.ExitCode))
	}
	return nil
}

// writeArtifact stores the full phase output. Failing to write it is logged
// and does not affect the run.
func (s *Sequence) writeArtifact(ctx context.Context, log *zap.Logger, p Phase, started time.Time, o models.CommandOutcome) {
	if s.logs == nil {
		return
	}
	name := ArtifactName(p.ID, started)
	ref, err := s.logs.Store(ctx, name, FormatArtifact(p, o))
	if err != nil {
		log.Warn("Failed to store phase log", zap.String("artifact", name), zap.Error(err))
		return
	}
	log.Debug("Stored phase log", zap.String("ref", ref))
}

// ExpandFlags substitutes the variant flags into a command template.
func ExpandFlags(command, flags string) string {
	return strings.TrimSpace(strings.ReplaceAll(command, FlagsPlaceholder, flags))
}

// ArtifactName is "<phase>_<YYYYMMDD-HHMMSS>.log".
func ArtifactName(phaseID string, t time.Time) string {
	return fmt.Sprintf("%s_%s.log", phaseID, t.Format(ArtifactTimeLayout))
}

// FormatArtifact renders a phase outcome as plain text.
func FormatArtifact(p Phase, o models.CommandOutcome) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "phase: %s\n", p.ID)
	fmt.Fprintf(&b, "command: %s\n", o.Invocation)
	fmt.Fprintf(&b, "branch: %s\n", o.Branch)
	fmt.Fprintf(&b, "exit_code: %d\n", o.ExitCode)
	fmt.Fprintf(&b, "trials: %d\n", o.Trials)
	fmt.Fprintf(&b, "duration: %s\n", o.Duration)
	fmt.Fprintf(&b, "STDOUT:\n%s\nSTDERR:\n%s", o.Stdout, o.Stderr)
	return []byte(b.String())
}
