package session

import (
	"fmt"
	"time"
)

// State is the connection state of a session.
type State int

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateDisconnected, StateConnecting, StateReady, StateFaulted} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", b)
}

// Command is one operation for a device. The dispatcher assigns the wire
// correlation id; RequestID is the caller's own tracing id, echoed back.
// A positive Timeout replaces the class response timeout for this command.
type Command struct {
	Opcode    byte
	Payload   []byte
	RequestID string
	Timeout   time.Duration
}

// Status is the outcome of a resolved command.
type Status string

// Command outcomes.
const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Response is the resolution of one Command.
type Response struct {
	CorrelationID uint32        `json:"correlation_id"`
	RequestID     string        `json:"request_id,omitempty"`
	Status        Status        `json:"status"`
	Payload       []byte        `json:"payload,omitempty"`
	Latency       time.Duration `json:"latency"`
}

// Info is a point-in-time view of one session.
type Info struct {
	DeviceID    string     `json:"device_id"`
	Class       string     `json:"class"`
	Endpoint    string     `json:"endpoint"`
	State       State      `json:"state"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Pending     int        `json:"pending"`
}
