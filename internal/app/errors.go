// Package app wires the adapter, session, filter registry, command
// surface, configuration and scripts into a runnable application.
package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrAlreadyRunning indicates the application is already running.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrNotRunning indicates the application is not running.
	ErrNotRunning = errors.New("application not running")

	// ErrNoTarget indicates neither a program to launch nor an attach
	// address was given.
	ErrNoTarget = errors.New("no program or attach address")
)

// OpError is an error from a named startup or session operation.
type OpError struct {
	Op     string
	Target string
	Err    error
}

// NewOpError wraps err for an operation against a target.
func NewOpError(op, target string, err error) *OpError {
	return &OpError{Op: op, Target: target, Err: err}
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.Target != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Target)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OpError) Unwrap() error {
	return e.Err
}
