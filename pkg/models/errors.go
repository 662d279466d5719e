package models

import "fmt"

// ConfigurationError reports a malformed target or process configuration.
// A run that fails with it never started, so no notification is sent.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// SyncFailed reports that cloning, fetching or resetting the working copy
// exhausted its retry budget.
type SyncFailed struct {
	Op     string // clone or checkout
	Target string // repository URL or branch
	Err    error
}

func (e *SyncFailed) Error() string {
	return fmt.Sprintf("sync failed: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *SyncFailed) Unwrap() error {
	return e.Err
}

// CommandFailed reports that a command's final attempt exited non-zero and
// the caller asked for the pipeline step to abort.
type CommandFailed struct {
	Command  string
	ExitCode int
	Trials   int
}

func (e *CommandFailed) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d after %d trial(s)", e.Command, e.ExitCode, e.Trials)
}
