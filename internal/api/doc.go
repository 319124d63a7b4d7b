// Package api implements the HTTP REST API and WebSocket event stream of
// projectorctld.
//
// This package provides:
//   - Device listing with live session state, raw command submission,
//     release and reclaim
//   - Named projector controls backed by the device's profile
//   - The command log
//   - A WebSocket hub relaying registry and session events
//   - Client key to JWT exchange, with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit,
//     rate limit, bearer auth)
//
// # Error Mapping
//
// Domain errors become stable status codes:
//
//	session.ErrDeviceUnavailable  503 device_unavailable
//	session.ErrTimeout            504 timeout
//	session.ErrIO                 502 io_error
//	projector.ErrPowerIsDown      409 power_down
//	projector.ErrUnsupported      404 unsupported
//	projector.ErrNotWritable      406 not_writable
//	device.ErrDeviceNotFound      404 not_found
//
// # Security
//
// When security.jwt.secret is empty every request is served as admin,
// which suits a daemon bound to localhost. Otherwise clients exchange an
// id and key for a bearer token at POST /api/v1/auth/token.
package api
