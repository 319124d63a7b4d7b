package session

import (
	"errors"

	"github.com/nerrad567/projectorctl/internal/transport"
)

// Error taxonomy for sessions and commands.
//
// ErrConnection and ErrIO are the transport sentinels, re-exported so
// callers only import this package:
//
//	if errors.Is(err, session.ErrDeviceUnavailable) {
//	    // device absent, released, reconnecting or shutting down
//	}
var (
	// ErrConnection means the endpoint could not be opened.
	ErrConnection = transport.ErrConnection

	// ErrIO means the link broke while a command was being written or awaited.
	ErrIO = transport.ErrIO

	// ErrTimeout means no matching response arrived before the deadline,
	// or the caller gave up while the command was queued.
	ErrTimeout = errors.New("session: command timed out")

	// ErrDeviceUnavailable means the device has no Ready session: it is
	// absent, released, reconnecting, or the daemon is shutting down.
	ErrDeviceUnavailable = errors.New("session: device unavailable")

	// ErrProtocolAnomaly marks a frame that matched no outstanding command
	// or could not be decoded. It is recorded, never returned to callers.
	ErrProtocolAnomaly = errors.New("session: protocol anomaly")

	// ErrInvalidCommand means the command could not be encoded.
	ErrInvalidCommand = errors.New("session: invalid command")

	// ErrInvalidCodec is returned for an unusable codec configuration.
	ErrInvalidCodec = errors.New("session: invalid codec")
)
