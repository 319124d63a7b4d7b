package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
	"github.com/nerrad567/projectorctl/internal/transport"
)

// drainPoll is how often Shutdown checks for outstanding commands.
const drainPoll = 20 * time.Millisecond

// Logger defines the logging interface used by sessions.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// OptionsFromConfig converts the sessions configuration section.
func OptionsFromConfig(cfg config.SessionsConfig) Options {
	return Options{
		BackoffMin:     cfg.BackoffMin,
		BackoffMax:     cfg.BackoffMax,
		ConnectTimeout: cfg.ConnectTimeout,
		CommandTimeout: cfg.CommandTimeout,
		QueueDepth:     cfg.QueueDepth,
	}
}

// Manager keeps exactly one Session per present device. It follows the
// registry's event stream: Arrived opens a session, Removed tears it down.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
type Manager struct {
	opts     Options
	classes  map[string]config.DeviceClassConfig
	opener   transport.Opener
	observer Observer
	logger   Logger

	mu        sync.RWMutex
	sessions  map[string]*Session
	admitting bool
	baseCtx   context.Context
	baseStop  context.CancelFunc
}

// NewManager creates a session manager. opener is usually transport.Dialer{}.
func NewManager(opts Options, classes []config.DeviceClassConfig, opener transport.Opener) *Manager {
	byName := make(map[string]config.DeviceClassConfig, len(classes))
	for _, cl := range classes {
		byName[cl.Name] = cl
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:      opts,
		classes:   byName,
		opener:    opener,
		observer:  Observers(nil),
		logger:    noopLogger{},
		sessions:  make(map[string]*Session),
		admitting: true,
		baseCtx:   ctx,
		baseStop:  cancel,
	}
}

// SetLogger sets the logger for the manager and the sessions it creates.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetObserver sets the notification sink. Call before Run.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// Run consumes registry events until the channel closes or ctx ends.
// Sessions outlive Run; Shutdown ends them.
func (m *Manager) Run(ctx context.Context, events <-chan device.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case device.Arrived:
				if err := m.open(ev.Device); err != nil {
					m.logger.Error("cannot open session", "device_id", ev.Device.ID, "error", err)
				}
			case device.Removed:
				m.close(ev.Device.ID)
			}
		}
	}
}

func (m *Manager) open(dev device.Device) error {
	cl, ok := m.classes[dev.Class]
	if !ok {
		return fmt.Errorf("unknown device class %q", dev.Class)
	}
	framer, err := transport.NewFramer(cl.Framing)
	if err != nil {
		return err
	}
	codec, err := NewCodec(cl.Codec, cl.Framing)
	if err != nil {
		return err
	}
	timeout := cl.CommandTimeout
	if timeout <= 0 {
		timeout = m.opts.CommandTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.admitting {
		return ErrDeviceUnavailable
	}
	if _, exists := m.sessions[dev.ID]; exists {
		return nil
	}
	s := newSession(dev, m.opts, timeout, m.opener, framer, codec, m.observer, m.logger)
	m.sessions[dev.ID] = s
	s.start(m.baseCtx)
	m.logger.Info("session opened", "device_id", dev.ID, "class", dev.Class)
	return nil
}

// close removes and stops the session for id. The map entry goes first
// so no caller can reach a session that is being torn down.
func (m *Manager) close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.stop()
	m.logger.Info("session closed", "device_id", id)
}

// Submit routes cmd to the device's session and waits for the response.
//
// Returns:
//   - Response: always populated with at least the status
//   - error: ErrDeviceUnavailable, ErrTimeout, ErrIO or ErrInvalidCommand
func (m *Manager) Submit(ctx context.Context, deviceID string, cmd Command) (Response, error) {
	m.mu.RLock()
	s, ok := m.sessions[deviceID]
	admitting := m.admitting
	m.mu.RUnlock()

	if !admitting {
		return Response{RequestID: cmd.RequestID, Status: StatusError},
			fmt.Errorf("%w: shutting down", ErrDeviceUnavailable)
	}
	if !ok {
		return Response{RequestID: cmd.RequestID, Status: StatusError},
			fmt.Errorf("%w: no session for %s", ErrDeviceUnavailable, deviceID)
	}
	return s.Submit(ctx, cmd)
}

// Info returns the session snapshot for deviceID.
func (m *Manager) Info(deviceID string) (Info, bool) {
	m.mu.RLock()
	s, ok := m.sessions[deviceID]
	m.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return s.Info(), true
}

// Sessions returns snapshots of every session, sorted by device ID.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// HealthCheck fails once Shutdown has begun.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.admitting {
		return fmt.Errorf("%w: shutting down", ErrDeviceUnavailable)
	}
	return nil
}

// Shutdown stops admitting commands and waits for queued and in-flight
// commands to finish until ctx expires. Then every session is torn down,
// closing its transport and resolving leftovers with ErrDeviceUnavailable.
// It returns ctx.Err() when the grace period ran out with work pending.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.admitting = false
	m.mu.Unlock()

	drainErr := m.drain(ctx)
	if drainErr != nil {
		m.logger.Warn("shutdown grace period expired, force-closing sessions", "pending", m.pending())
	}

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	m.baseStop()
	for _, s := range sessions {
		<-s.done
	}
	m.logger.Info("all sessions closed", "count", len(sessions))
	return drainErr
}

func (m *Manager) drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for m.pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (m *Manager) pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		n += s.Pending()
	}
	return n
}
