package command

import "errors"

// Command errors.
var (
	// ErrUnknownCommand indicates no handler is registered for a name.
	ErrUnknownCommand = errors.New("command: unknown command")

	// ErrDuplicateCommand indicates a name is already registered.
	ErrDuplicateCommand = errors.New("command: duplicate command")
)
