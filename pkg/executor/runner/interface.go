package runner

import (
	"context"
	"time"
)

// Command is one shell command line to execute.
type Command struct {
	Line string   // passed verbatim to the platform shell
	Dir  string   // working directory; empty means the current directory
	Env  []string // full environment; nil inherits the process environment
}

// Result captures the outcome of a single attempt.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error // detailed go error if any
}

// CommandExecutor runs a single command synchronously.
type CommandExecutor interface {
	// Run blocks until the child process exits. The context carries
	// request-scoped values only; a running child is never cancelled.
	Run(ctx context.Context, cmd Command) Result
}
