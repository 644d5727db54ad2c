// Package sshrunner abstracts subprocess execution behind a small interface
// so that session management and probing can be tested without spawning a
// real ssh binary.
package sshrunner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Result carries the outcome of a single subprocess invocation.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	TimedOut  bool
	LaunchErr error // non-nil if the process never started at all
}

// Runner executes an external command to completion or until ctx is done.
// The caller is responsible for attaching any timeout to ctx.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

// Exec is the production Runner, backed by os/exec.CommandContext.
type Exec struct{}

// NewExec returns the production subprocess Runner.
func NewExec() *Exec {
	return &Exec{}
}

// Run executes name with args under ctx. If ctx's deadline elapses before
// the process exits, Result.TimedOut is set and ExitCode is meaningless.
func (Exec) Run(ctx context.Context, name string, args ...string) Result {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		return res
	}

	if err == nil {
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res
	}

	res.LaunchErr = err
	res.ExitCode = -1
	return res
}
