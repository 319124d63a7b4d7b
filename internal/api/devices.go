package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/session"
)

// maxCommandTimeout caps a client supplied command deadline.
const maxCommandTimeout = 60 * time.Second

// deviceView is a device joined with its live session, if any.
type deviceView struct {
	device.Device
	Session *session.Info `json:"session,omitempty"`
}

// commandRequest is the request body for POST /devices/{id}/commands.
type commandRequest struct {
	Opcode    *int   `json:"opcode"`
	Payload   string `json:"payload"`
	RequestID string `json:"request_id"`
	TimeoutMS int    `json:"timeout_ms"`
}

// commandResponse is the response body for POST /devices/{id}/commands.
type commandResponse struct {
	DeviceID      string  `json:"device_id"`
	CorrelationID uint32  `json:"correlation_id"`
	RequestID     string  `json:"request_id,omitempty"`
	Status        string  `json:"status"`
	Payload       string  `json:"payload,omitempty"`
	LatencyMS     float64 `json:"latency_ms"`
}

func (s *Server) view(d device.Device) deviceView {
	v := deviceView{Device: d}
	if info, ok := s.sessions.Info(d.ID); ok {
		v.Session = &info
	}
	return v
}

// handleListDevices returns every known device with its session.
//
// Query parameters:
//   - state: present or released
//   - class: device class name
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state, class := q.Get("state"), q.Get("class")

	views := make([]deviceView, 0)
	for _, d := range s.registry.List() {
		if state != "" && string(d.State) != state {
			continue
		}
		if class != "" && d.Class != class {
			continue
		}
		views = append(views, s.view(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns one device with its session.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.Get(deviceIDParam(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(d))
}

// handleSendCommand submits a raw command to a device and waits for the
// response. A device error reply is a 200 with status "error"; transport
// and queue failures map to 5xx.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id := deviceIDParam(r)

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Opcode == nil || *req.Opcode < 0 || *req.Opcode > 0xFF {
		writeBadRequest(w, "opcode must be an integer between 0 and 255")
		return
	}
	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		writeBadRequest(w, "payload must be hex encoded")
		return
	}
	if req.TimeoutMS < 0 {
		writeBadRequest(w, "timeout_ms must not be negative")
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestIDFrom(r.Context())
	}

	if _, err := s.registry.Get(id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	ctx := r.Context()
	cmd := session.Command{Opcode: byte(*req.Opcode), Payload: payload, RequestID: req.RequestID}
	if req.TimeoutMS > 0 {
		cmd.Timeout = min(time.Duration(req.TimeoutMS)*time.Millisecond, maxCommandTimeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	resp, err := s.sessions.Submit(ctx, id, cmd)
	if err != nil {
		s.logger.Debug("command failed",
			"device_id", id,
			"opcode", *req.Opcode,
			"request_id", req.RequestID,
			"error", err,
		)
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, commandResponse{
		DeviceID:      id,
		CorrelationID: resp.CorrelationID,
		RequestID:     resp.RequestID,
		Status:        string(resp.Status),
		Payload:       hex.EncodeToString(resp.Payload),
		LatencyMS:     float64(resp.Latency.Microseconds()) / 1000,
	})
}

// handleReleaseDevice closes a device's session and keeps it closed until
// reclaimed, so another program can use the port.
func (s *Server) handleReleaseDevice(w http.ResponseWriter, r *http.Request) {
	id := deviceIDParam(r)
	if err := s.registry.Release(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("device released",
		"device_id", id,
		"client_id", callerFrom(r.Context()).id,
	)
	writeJSON(w, http.StatusOK, map[string]string{"device_id": id, "state": string(device.StateReleased)})
}

// handleReclaimDevice returns a released device to the daemon.
func (s *Server) handleReclaimDevice(w http.ResponseWriter, r *http.Request) {
	id := deviceIDParam(r)
	if err := s.registry.Reclaim(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("device reclaimed",
		"device_id", id,
		"client_id", callerFrom(r.Context()).id,
	)
	writeJSON(w, http.StatusOK, map[string]string{"device_id": id, "state": string(device.StatePresent)})
}

// deviceIDParam returns the {id} path parameter. IDs that contain "/"
// arrive percent-encoded; chi routes on the raw path, so decode here.
func deviceIDParam(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}
