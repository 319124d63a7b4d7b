package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/projectorctl/internal/auth"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	if s.secCfg.RateLimit.Enabled && s.secCfg.RateLimit.RequestsPerMinute > 0 {
		r.Use(s.rateLimitMiddleware())
	}

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/token", s.handleToken)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
					r.With(s.requirePermission(auth.PermDeviceOperate)).Post("/commands", s.handleSendCommand)
					r.With(s.requirePermission(auth.PermDeviceRelease)).Post("/release", s.handleReleaseDevice)
					r.With(s.requirePermission(auth.PermDeviceRelease)).Post("/reclaim", s.handleReclaimDevice)

					r.Route("/controls", func(r chi.Router) {
						r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListControls)
						r.With(s.requirePermission(auth.PermDeviceRead)).Get("/{control}", s.handleReadControl)
						r.With(s.requirePermission(auth.PermDeviceOperate)).Put("/{control}", s.handleWriteControl)
					})
				})
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/commands", s.handleListCommands)
			r.With(s.requirePermission(auth.PermSystemAdmin)).Get("/system/metrics", s.handleSystemMetrics)
		})
	})

	return r
}

// handleHealth reports overall status and each registered component.
// Any failing component turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	components := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
