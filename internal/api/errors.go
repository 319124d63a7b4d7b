package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/projector"
	"github.com/nerrad567/projectorctl/internal/session"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeUnauthorized      = "unauthorised"
	ErrCodeForbidden         = "forbidden"
	ErrCodeConflict          = "conflict"
	ErrCodeInternal          = "internal_error"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeDeviceUnavailable = "device_unavailable"
	ErrCodeTimeout           = "timeout"
	ErrCodeIO                = "io_error"
	ErrCodePowerDown         = "power_down"
	ErrCodeUnsupported       = "unsupported"
	ErrCodeNotWritable       = "not_writable"
	ErrCodeRejected          = "rejected"
	ErrCodeBadReply          = "bad_reply"
	ErrCodeInvalidCommand    = "invalid_command"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// domainErrors maps domain sentinels to responses, most specific first.
var domainErrors = []struct {
	err    error
	status int
	code   string
}{
	{device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{device.ErrNotReleased, http.StatusConflict, ErrCodeConflict},
	{session.ErrDeviceUnavailable, http.StatusServiceUnavailable, ErrCodeDeviceUnavailable},
	{session.ErrTimeout, http.StatusGatewayTimeout, ErrCodeTimeout},
	{session.ErrInvalidCommand, http.StatusBadRequest, ErrCodeInvalidCommand},
	{session.ErrIO, http.StatusBadGateway, ErrCodeIO},
	{session.ErrConnection, http.StatusBadGateway, ErrCodeIO},
	{projector.ErrPowerIsDown, http.StatusConflict, ErrCodePowerDown},
	{projector.ErrUnsupported, http.StatusNotFound, ErrCodeUnsupported},
	{projector.ErrNotWritable, http.StatusNotAcceptable, ErrCodeNotWritable},
	{projector.ErrRejected, http.StatusBadGateway, ErrCodeRejected},
	{projector.ErrBadReply, http.StatusBadGateway, ErrCodeBadReply},
}

// writeDomainError maps err onto a status and code. Unknown errors are
// logged and answered with 500.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, de := range domainErrors {
		if errors.Is(err, de.err) {
			writeError(w, de.status, de.code, err.Error())
			return
		}
	}
	s.logger.Error("unhandled error",
		"path", r.URL.Path,
		"request_id", requestIDFrom(r.Context()),
		"error", err,
	)
	writeInternalError(w, "internal server error")
}
