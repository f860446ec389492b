package main

import (
	"errors"

	inteldeskerrors "github.com/odvcencio/inteldesk/pkg/errors"
)

const (
	exitFailure = 1
	exitConfig  = 2
	exitBus     = 3
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitFailure
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// exitCodeForError prefers an explicit exit code, then falls back to the
// error's category.
func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	switch {
	case inteldeskerrors.IsCode(err, inteldeskerrors.ErrCodeConfigInvalid),
		inteldeskerrors.IsCode(err, inteldeskerrors.ErrCodeConfigParse),
		inteldeskerrors.IsCode(err, inteldeskerrors.ErrCodeConfigLoad):
		return exitConfig
	case inteldeskerrors.IsCode(err, inteldeskerrors.ErrCodeTransport):
		return exitBus
	}
	return exitFailure
}
