package command

import "errors"

// Domain errors for the command package.
var (
	// ErrInvalidCommand is returned when the device ID or action is empty.
	ErrInvalidCommand = errors.New("command: invalid command")

	// ErrCommandNotFound is returned when a command ID is unknown or the
	// command has already reached a terminal state.
	ErrCommandNotFound = errors.New("command: not found")

	// ErrNotStaged is returned when confirming a command that was sent directly.
	ErrNotStaged = errors.New("command: not staged")

	// ErrPublishFailed is returned when the command could not be handed to
	// the transport. The command is recorded as failed.
	ErrPublishFailed = errors.New("command: publish failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("command: correlator closed")
)
