package zinit

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes a failed zinit command invocation
type ErrorKind int

const (
	KindUnknown  ErrorKind = iota
	KindLaunch             // executable missing or not startable
	KindExit               // ran and exited non-zero
	KindCanceled           // context canceled or timed out, child killed
)

func (k ErrorKind) String() string {
	switch k {
	case KindLaunch:
		return "launch_error"
	case KindExit:
		return "exit_error"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is returned by every failed zinit CLI invocation.
// Stdout and Stderr hold the raw captured output of the child, verbatim.
type Error struct {
	Kind     ErrorKind
	Command  string // zinit subcommand, e.g. "monitor"
	Service  string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Err      error
}

// Error implements error interface
func (e *Error) Error() string {
	switch e.Kind {
	case KindLaunch:
		return fmt.Sprintf("failed to %s service '%s': could not launch zinit: %v", e.Command, e.Service, e.Err)
	case KindCanceled:
		return fmt.Sprintf("failed to %s service '%s': %v: stdout: %q, stderr: %q",
			e.Command, e.Service, e.Err, e.Stdout, e.Stderr)
	default:
		return fmt.Sprintf("failed to %s service '%s': exit code %d, stdout: %q, stderr: %q",
			e.Command, e.Service, e.ExitCode, e.Stdout, e.Stderr)
	}
}

// Unwrap implements error unwrapping
func (e *Error) Unwrap() error {
	return e.Err
}

// IsLaunchError reports whether err is a zinit launch failure
func IsLaunchError(err error) bool {
	return KindOf(err) == KindLaunch
}

// IsExitError reports whether zinit ran and rejected the command
func IsExitError(err error) bool {
	return KindOf(err) == KindExit
}

// IsCanceled reports whether the command was cut short by its context
func IsCanceled(err error) bool {
	return KindOf(err) == KindCanceled
}

// KindOf returns the ErrorKind of err, KindUnknown for foreign errors
func KindOf(err error) ErrorKind {
	var zerr *Error
	if errors.As(err, &zerr) {
		return zerr.Kind
	}
	return KindUnknown
}
