// Package session keeps one control session per present projector and
// dispatches commands to it.
//
// A Session is a small state machine run by one goroutine:
//
//	Disconnected -> Connecting -> Ready -> (fault) Faulted -> Connecting ...
//
// Faults (open failure, broken link, response timeout) are followed by an
// exponential backoff before the next attempt. Removal or release of the
// device cancels the session from any state.
//
// While Ready the same goroutine is the command dispatcher: commands are
// taken from a bounded FIFO one at a time, encoded by the device class
// codec, written, and matched against the next decodable reply. Frames
// that match nothing are reported as protocol anomalies and dropped.
//
// Every submitted command resolves exactly once: with a Response, or with
// ErrTimeout, ErrIO or ErrDeviceUnavailable.
package session
