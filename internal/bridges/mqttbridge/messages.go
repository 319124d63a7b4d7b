package mqttbridge

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/projector"
	"github.com/nerrad567/projectorctl/internal/session"
)

// ControlRequest is the payload of a control set topic. Either a JSON
// object or a bare action word ("up", "down", "status") is accepted.
type ControlRequest struct {
	Action    projector.Action `json:"action"`
	RequestID string           `json:"request_id,omitempty"`
}

// ResultStatus is the outcome of a control request.
type ResultStatus string

// Control request outcomes.
const (
	ResultOK     ResultStatus = "ok"
	ResultFailed ResultStatus = "failed"
)

// Result error codes.
const (
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeUnavailable    = "unavailable"
	CodeTimeout        = "timeout"
	CodeIO             = "io_error"
	CodePowerDown      = "power_down"
	CodeUnsupported    = "unsupported"
	CodeNotWritable    = "not_writable"
	CodeRejected       = "rejected"
	CodeBadReply       = "bad_reply"
	CodeInternal       = "internal"
)

// ControlResult is published on the control result topic once a request
// has been carried out or has failed.
type ControlResult struct {
	RequestID string           `json:"request_id,omitempty"`
	DeviceID  string           `json:"device_id"`
	Control   string           `json:"control"`
	Action    projector.Action `json:"action,omitempty"`
	Status    ResultStatus     `json:"status"`
	Value     any              `json:"value,omitempty"`
	Error     *ResultError     `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ResultError describes a failed control request.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage is the retained payload of a device state topic.
type StateMessage struct {
	DeviceID  string        `json:"device_id"`
	State     session.State `json:"state"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// InfoMessage is the retained payload of a device info topic.
type InfoMessage struct {
	Device    device.Device `json:"device"`
	Timestamp time.Time     `json:"timestamp"`
}

// AnomalyMessage reports a discarded frame.
type AnomalyMessage struct {
	DeviceID  string    `json:"device_id"`
	Frame     string    `json:"frame"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseControlRequest decodes a control set payload.
func ParseControlRequest(payload []byte) (ControlRequest, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return ControlRequest{}, fmt.Errorf("%w: empty payload", errInvalidRequest)
	}

	var req ControlRequest
	if payload[0] == '{' {
		if err := json.Unmarshal(payload, &req); err != nil {
			return ControlRequest{}, fmt.Errorf("%w: %w", errInvalidRequest, err)
		}
	} else {
		req.Action = projector.Action(payload)
	}

	action, err := projector.ParseAction(string(req.Action))
	if err != nil {
		return ControlRequest{}, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	req.Action = action
	return req, nil
}

var errInvalidRequest = errors.New("mqttbridge: invalid control request")

// errorCode maps an error from the controller or registry to a result code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, device.ErrDeviceNotFound):
		return CodeNotFound
	case errors.Is(err, session.ErrDeviceUnavailable):
		return CodeUnavailable
	case errors.Is(err, session.ErrTimeout):
		return CodeTimeout
	case errors.Is(err, session.ErrIO), errors.Is(err, session.ErrConnection):
		return CodeIO
	case errors.Is(err, projector.ErrPowerIsDown):
		return CodePowerDown
	case errors.Is(err, projector.ErrNotWritable):
		return CodeNotWritable
	case errors.Is(err, projector.ErrUnsupported), errors.Is(err, session.ErrInvalidCommand):
		return CodeUnsupported
	case errors.Is(err, projector.ErrRejected):
		return CodeRejected
	case errors.Is(err, projector.ErrBadReply):
		return CodeBadReply
	default:
		return CodeInternal
	}
}

func newAnomalyMessage(deviceID string, frame []byte, reason error, now time.Time) AnomalyMessage {
	msg := AnomalyMessage{
		DeviceID:  deviceID,
		Frame:     hex.EncodeToString(frame),
		Timestamp: now,
	}
	if reason != nil {
		msg.Reason = reason.Error()
	}
	return msg
}
