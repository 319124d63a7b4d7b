package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/projectorctl/internal/projector"
)

// controlRequest is the request body for PUT /devices/{id}/controls/{control}.
type controlRequest struct {
	State string `json:"state"`
}

// handleListControls returns the controls of the device's profile.
func (s *Server) handleListControls(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.Get(deviceIDParam(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.controls == nil {
		writeError(w, http.StatusNotFound, ErrCodeUnsupported, "no projector profiles loaded")
		return
	}
	p, err := s.controls.ProfileFor(d)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	type controlView struct {
		Name          string `json:"name"`
		RequiresPower bool   `json:"requires_power"`
		Readable      bool   `json:"readable"`
		Writable      bool   `json:"writable"`
	}
	views := make([]controlView, 0, len(p.Controls))
	for _, name := range p.ControlNames() {
		c := p.Controls[name]
		views = append(views, controlView{
			Name:          name,
			RequiresPower: c.RequiresPower,
			Readable:      c.Status != nil,
			Writable:      c.Up != nil || c.Down != nil,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": d.ID, "profile": p.Name, "controls": views})
}

// handleReadControl queries a control's status.
func (s *Server) handleReadControl(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.Get(deviceIDParam(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.controls == nil {
		writeError(w, http.StatusNotFound, ErrCodeUnsupported, "no projector profiles loaded")
		return
	}

	reading, err := s.controls.Read(r.Context(), d, chi.URLParam(r, "control"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": d.ID,
		"control":   reading.Control,
		"value":     reading.Value,
	})
}

// handleWriteControl performs an up or down action on a control.
func (s *Server) handleWriteControl(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.Get(deviceIDParam(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.controls == nil {
		writeError(w, http.StatusNotFound, ErrCodeUnsupported, "no projector profiles loaded")
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	action, err := projector.ParseAction(req.State)
	if err != nil {
		writeBadRequest(w, `state must be "up" or "down"`)
		return
	}

	control := chi.URLParam(r, "control")
	if err := s.controls.Write(r.Context(), d, control, action); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": d.ID,
		"control":   control,
		"state":     string(action),
	})
}
