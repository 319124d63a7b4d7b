package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/projectorctl/internal/audit"
	"github.com/nerrad567/projectorctl/internal/auth"
	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
	"github.com/nerrad567/projectorctl/internal/infrastructure/logging"
	"github.com/nerrad567/projectorctl/internal/projector"
	"github.com/nerrad567/projectorctl/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceRegistry is the registry surface the API uses.
// *device.Registry implements it.
type DeviceRegistry interface {
	List() []device.Device
	Get(id string) (device.Device, error)
	Release(ctx context.Context, id string) error
	Reclaim(ctx context.Context, id string) error
}

// SessionManager is the session surface the API uses.
// *session.Manager implements it.
type SessionManager interface {
	Submit(ctx context.Context, deviceID string, cmd session.Command) (session.Response, error)
	Info(deviceID string) (session.Info, bool)
	Sessions() []session.Info
}

// ControlService reads and writes named projector controls.
// *projector.Controller implements it.
type ControlService interface {
	ProfileFor(dev device.Device) (*projector.Profile, error)
	Read(ctx context.Context, dev device.Device, control string) (projector.Reading, error)
	Write(ctx context.Context, dev device.Device, control string, action projector.Action) error
}

// HealthChecker is implemented by components reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Registry DeviceRegistry
	Sessions SessionManager

	// Controls is optional; without it control routes answer 404.
	Controls ControlService

	// CommandLog is optional; without it GET /commands answers 500.
	CommandLog audit.Repository

	// Auth is required; a disabled authenticator serves everyone as admin.
	Auth *auth.Authenticator

	// Metrics serves GET /metrics when set.
	Metrics http.Handler

	// Checks are reported by GET /health, keyed by component name.
	Checks map[string]HealthChecker

	// DB is reported on /system/metrics when set.
	DB *sql.DB

	// Hub is the event hub; one is created when nil.
	Hub *Hub

	Version string
}

// Server is the HTTP API server.
//
// It is created with New, started with Start and stopped with Close.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	registry   DeviceRegistry
	sessions   SessionManager
	controls   ControlService
	commandLog audit.Repository
	auth       *auth.Authenticator
	metrics    http.Handler
	checks     map[string]HealthChecker
	db         *sql.DB
	hub        *Hub
	tickets    *ticketStore
	version    string
	startTime  time.Time

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates an API server. It is not listening until Start.
//
// Returns:
//   - error: if a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		registry:   deps.Registry,
		sessions:   deps.Sessions,
		controls:   deps.Controls,
		commandLog: deps.CommandLog,
		auth:       deps.Auth,
		metrics:    deps.Metrics,
		checks:     deps.Checks,
		db:         deps.DB,
		hub:        hub,
		tickets:    newTicketStore(),
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// Hub returns the server's event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine. Binding
// errors are returned; serve errors after that are logged.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server listening", "address", ln.Addr().String(), "auth", s.auth.Enabled())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
