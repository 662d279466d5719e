package models

import "time"

// DefaultBranch is the branch name reported before any checkout succeeded.
const DefaultBranch = "default"

// CommandOutcome is the recorded result of a command's final attempt.
// It is never modified after the CommandRunner creates it.
type CommandOutcome struct {
	Label      string        `json:"label"`
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	Invocation string        `json:"invocation"`
	Branch     string        `json:"branch"`
	Trials     int           `json:"trials"`
	Duration   time.Duration `json:"duration"`
}

// NewCommandOutcome builds an outcome, deriving the display label from the
// task name when one is given and from the invocation otherwise.
func NewCommandOutcome(name, invocation string, exitCode int, stdout, stderr string) CommandOutcome {
	return CommandOutcome{
		Label:      OutcomeLabel(name, invocation),
		ExitCode:   exitCode,
		Stdout:     stdout,
		Stderr:     stderr,
		Invocation: invocation,
	}
}

// OutcomeLabel returns "Task: <name>" for named commands and
// "Command: <invocation>" for anonymous ones.
func OutcomeLabel(name, invocation string) string {
	if name != "" {
		return "Task: " + name
	}
	return "Command: " + invocation
}

// Succeeded reports whether the command exited with code zero.
func (o CommandOutcome) Succeeded() bool {
	return o.ExitCode == 0
}
