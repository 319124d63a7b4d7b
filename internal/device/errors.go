package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not present.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrNotReleased is returned by Reclaim for a device that was never released.
	ErrNotReleased = errors.New("device: not released")

	// ErrRegistryStopped is returned for operations after Stop.
	ErrRegistryStopped = errors.New("device: registry stopped")

	// ErrNotStarted is reported by HealthCheck before Start.
	ErrNotStarted = errors.New("device: registry not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("device: registry already started")

	// ErrNoMatch is returned when a hardware signature matches no device class.
	ErrNoMatch = errors.New("device: no matching class")
)
