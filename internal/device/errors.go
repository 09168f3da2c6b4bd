package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID has never been observed
	// or was removed.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidID is returned for an empty device ID.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrCommandExists is returned when a pending command ID is reused.
	ErrCommandExists = errors.New("device: command already pending")

	// ErrInvalidCommand is returned when a pending command is missing its
	// ID or action.
	ErrInvalidCommand = errors.New("device: invalid command")
)
