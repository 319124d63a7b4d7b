package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/projectorctl/internal/audit"
)

// handleListCommands returns paginated command log entries.
//
// Query parameters:
//   - device_id: only this device
//   - status: ok, error, timeout or anomaly
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.commandLog == nil {
		writeInternalError(w, "command log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Status:   q.Get("status"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.commandLog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command log", "error", err)
		writeInternalError(w, "failed to list command log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
