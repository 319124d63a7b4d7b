package transport

import "errors"

// Domain-specific errors for transport operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnection is returned by Open when the endpoint is unreachable.
	ErrConnection = errors.New("transport: connection failed")

	// ErrIO is returned when an established link breaks mid-use.
	ErrIO = errors.New("transport: i/o failure")

	// ErrClosed is returned for operations on a closed transport.
	// It always arrives wrapped in ErrIO.
	ErrClosed = errors.New("transport: closed")

	// ErrFrameTooLarge is returned when a length field announces a frame
	// above the configured maximum. The stream cannot be resynchronised.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrUnsupportedEndpoint is returned for an unknown endpoint kind.
	ErrUnsupportedEndpoint = errors.New("transport: unsupported endpoint")

	// ErrInvalidFraming is returned when a framing configuration is unusable.
	ErrInvalidFraming = errors.New("transport: invalid framing")
)
