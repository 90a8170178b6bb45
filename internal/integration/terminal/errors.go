package terminal

import "errors"

var (
	// ErrEmptyCommand is returned when a request carries no arguments.
	ErrEmptyCommand = errors.New("runInTerminal request has no command")

	// ErrCommandNotFound is returned when the program cannot be resolved.
	ErrCommandNotFound = errors.New("command not found")

	// ErrUnsupportedKind is returned for terminal kinds other than integrated and external.
	ErrUnsupportedKind = errors.New("unsupported terminal kind")

	// ErrSpawnerClosed is returned by Spawn after Close.
	ErrSpawnerClosed = errors.New("terminal spawner is closed")
)
