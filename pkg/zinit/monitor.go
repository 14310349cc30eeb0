// Package zinit drives the zinit process supervisor: the `zinit` command line
// tool, its unix control socket and its service definition files.
package zinit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// DefaultBinary is the zinit executable looked up on PATH
const DefaultBinary = "zinit"

// waitDelay bounds how long Wait blocks on inherited output pipes once the
// child has been killed by its context.
const waitDelay = 2 * time.Second

// Observer is called after every zinit CLI invocation with its outcome
type Observer func(command, service string, took time.Duration, err error)

// Runner invokes the zinit command line tool.
// The zero value is usable and behaves like NewRunner().
type Runner struct {
	Binary   string        // executable name or path, defaults to DefaultBinary
	Timeout  time.Duration // 0 means block until zinit exits
	Env      []string      // extra KEY=VALUE entries appended to the environment
	Observer Observer
}

// NewRunner creates a runner for the zinit binary found on PATH
func NewRunner() *Runner {
	return &Runner{Binary: DefaultBinary}
}

var defaultRunner = NewRunner()

// Monitor asks zinit to start monitoring the named service, using the
// zinit binary found on PATH. It blocks until zinit exits.
func Monitor(ctx context.Context, name string) error {
	return defaultRunner.Monitor(ctx, name)
}

// Monitor runs `zinit monitor <name>`. A zero exit status is success; any
// other outcome is reported as *Error. The name is passed through unchanged.
func (r *Runner) Monitor(ctx context.Context, name string) error {
	return r.run(ctx, "monitor", name)
}

func (r *Runner) run(ctx context.Context, command, service string) error {
	started := time.Now()
	err := r.invoke(ctx, command, service)
	if r.Observer != nil {
		r.Observer(command, service, time.Since(started), err)
	}
	return err
}

func (r *Runner) invoke(ctx context.Context, command, service string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	binary := r.Binary
	if binary == "" {
		binary = DefaultBinary
	}

	cmd := exec.CommandContext(ctx, binary, command, service)
	cmd.WaitDelay = waitDelay
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Error{Kind: KindCanceled, Command: command, Service: service, ExitCode: -1, Err: ctxErr}
		}
		return &Error{Kind: KindLaunch, Command: command, Service: service, ExitCode: -1, Err: err}
	}

	err := cmd.Wait()
	if err == nil {
		return nil
	}

	zerr := &Error{
		Kind:     KindExit,
		Command:  command,
		Service:  service,
		ExitCode: -1,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Err:      err,
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		zerr.ExitCode = exitErr.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		zerr.Kind = KindCanceled
		zerr.Err = ctxErr
	}

	return zerr
}
