package projector

import "errors"

// Domain errors for projector controls.
//
//	if errors.Is(err, projector.ErrPowerIsDown) {
//	    // switch the projector on first
//	}
var (
	// ErrPowerIsDown is returned when a status read needs the projector
	// powered on and it is not.
	ErrPowerIsDown = errors.New("projector: power is down")

	// ErrUnsupported is returned for a control or action the device's
	// profile does not define.
	ErrUnsupported = errors.New("projector: unsupported command")

	// ErrNotWritable is returned when "status" is used as a write action.
	ErrNotWritable = errors.New("projector: status is read-only")

	// ErrRejected is returned when the projector answered with an error status.
	ErrRejected = errors.New("projector: command rejected by device")

	// ErrBadReply is returned when a status reply is too short to decode.
	ErrBadReply = errors.New("projector: reply cannot be decoded")

	// ErrInvalidProfile is returned when a profile file fails validation.
	ErrInvalidProfile = errors.New("projector: invalid profile")
)
