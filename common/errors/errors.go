// Package errors attaches process exit codes to errors returned by commands.
package errors

// ExitCodeError is an error that says how the process should exit.
type ExitCodeError struct {
	code ExitCode
	error
}

func NewError(err error, exitCode ExitCode) *ExitCodeError {
	if err == nil {
		return nil
	}
	return &ExitCodeError{exitCode, err}
}

func (e *ExitCodeError) GetExitCode() ExitCode {
	if e == nil {
		return 0
	}
	return e.code
}

func (e *ExitCodeError) Unwrap() error {
	return e.error
}

// Cause lets pkg/errors.Cause see through the exit code.
func (e *ExitCodeError) Cause() error {
	return e.error
}

// ExitCodeOf returns the exit code carried by err, 1 for other errors and 0 for nil.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if e, ok := err.(*ExitCodeError); ok {
		return int(e.code)
	}
	return 1
}
