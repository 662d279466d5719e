package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"time"
)

type ShellRunner struct {
	goos string
}

func NewShellRunner() *ShellRunner {
	return &ShellRunner{goos: runtime.GOOS}
}

// shellArgv wraps a command line for the platform shell.
func shellArgv(goos, line string) []string {
	if goos == "windows" {
		return []string{"cmd", "/C", line}
	}
	return []string{"sh", "-c", line}
}

func (s *ShellRunner) Run(ctx context.Context, c Command) Result {
	start := time.Now()

	// Children run to completion; cancellation of the caller does not
	// propagate into them.
	argv := shellArgv(s.goos, c.Line)
	cmd := exec.CommandContext(context.WithoutCancel(ctx), argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	setProcessGroup(cmd)

	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Failed to start (missing shell, bad working directory).
			exitCode = -1
			if stderrBuf.Len() == 0 {
				stderrBuf.WriteString(err.Error())
			}
		}
	}

	return Result{
		ExitCode: exitCode,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
		Error:    err,
	}
}
