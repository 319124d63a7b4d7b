package influxdb

import (
	"time"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/session"
)

// Measurement names.
const (
	measurementSession  = "projector_session"
	measurementCommand  = "projector_command"
	measurementAnomaly  = "projector_anomaly"
	measurementPresence = "projector_presence"
)

var _ session.Observer = (*Client)(nil)

// StateChanged records a projector_session point per transition.
func (c *Client) StateChanged(deviceID string, state session.State, err error) {
	fields := map[string]any{
		"ready":   state == session.StateReady,
		"faulted": state == session.StateFaulted,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	c.record(measurementSession, map[string]string{
		"device_id": deviceID,
		"state":     state.String(),
	}, fields)
}

// CommandResolved records latency in milliseconds, tagged by outcome.
func (c *Client) CommandResolved(deviceID string, cmd session.Command, resp session.Response, _ error) {
	c.record(measurementCommand, map[string]string{
		"device_id": deviceID,
		"status":    string(resp.Status),
	}, map[string]any{
		"latency_ms": float64(resp.Latency) / float64(time.Millisecond),
		"opcode":     int64(cmd.Opcode),
	})
}

// Anomaly records one discarded frame.
func (c *Client) Anomaly(deviceID string, frame []byte, _ error) {
	c.record(measurementAnomaly, map[string]string{
		"device_id": deviceID,
	}, map[string]any{
		"count":     int64(1),
		"frame_len": int64(len(frame)),
	})
}

// DeviceEvent records presence: 1 on arrival, 0 on removal. The class tag
// is only known on arrival.
func (c *Client) DeviceEvent(ev device.Event) {
	tags := map[string]string{"device_id": ev.Device.ID}
	present := int64(0)
	if ev.Kind == device.Arrived {
		present = 1
		tags["class"] = ev.Device.Class
	}
	c.record(measurementPresence, tags, map[string]any{"present": present})
}
