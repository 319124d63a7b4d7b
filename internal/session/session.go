package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/transport"
)

// Options are the per-session timing and queue settings.
type Options struct {
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	QueueDepth     int
}

type request struct {
	ctx    context.Context
	cmd    Command
	result chan result
}

type result struct {
	resp Response
	err  error
}

// Session owns the connection to one present device. A single goroutine
// runs the state machine and the command dispatcher, and is the only user
// of the transport.
//
// Thread Safety:
//   - Submit, Info and State are safe for concurrent use.
type Session struct {
	dev      device.Device
	opts     Options
	timeout  time.Duration
	opener   transport.Opener
	framer   transport.Framer
	codec    Codec
	observer Observer
	logger   Logger

	// slots bounds admitted commands: one in flight plus QueueDepth waiting.
	// queue has the same capacity, so a holder of a slot never blocks on it.
	slots chan struct{}
	queue chan *request

	mu          sync.RWMutex
	state       State
	closed      bool
	attempts    int
	lastErr     error
	connectedAt time.Time

	nextID  uint32
	cancel  context.CancelFunc
	closing chan struct{}
	done    chan struct{}
}

func newSession(dev device.Device, opts Options, timeout time.Duration, opener transport.Opener,
	framer transport.Framer, codec Codec, observer Observer, logger Logger) *Session {
	capacity := opts.QueueDepth + 1
	return &Session{
		dev:      dev,
		opts:     opts,
		timeout:  timeout,
		opener:   opener,
		framer:   framer,
		codec:    codec,
		observer: observer,
		logger:   logger,
		slots:    make(chan struct{}, capacity),
		queue:    make(chan *request, capacity),
		state:    StateDisconnected,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Session) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// stop tears the session down and waits for its goroutine. The in-flight
// command and everything queued resolve with ErrDeviceUnavailable.
func (s *Session) stop() {
	s.cancel()
	<-s.done
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Pending returns the number of admitted, unresolved commands.
func (s *Session) Pending() int {
	return len(s.slots)
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		DeviceID: s.dev.ID,
		Class:    s.dev.Class,
		Endpoint: s.dev.Endpoint.String(),
		State:    s.state,
		Attempts: s.attempts,
		Pending:  len(s.slots),
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	if s.state == StateReady {
		at := s.connectedAt
		info.ConnectedAt = &at
	}
	return info
}

// Submit queues cmd behind earlier commands and waits for its resolution.
//
// A session that is not Ready rejects immediately with
// ErrDeviceUnavailable. When the queue is full Submit waits for room until
// ctx ends and then fails with ErrTimeout.
func (s *Session) Submit(ctx context.Context, cmd Command) (Response, error) {
	if s.State() != StateReady {
		return s.unavailable(cmd)
	}

	select {
	case s.slots <- struct{}{}:
	case <-s.closing:
		return s.unavailable(cmd)
	case <-ctx.Done():
		return Response{RequestID: cmd.RequestID, Status: StatusTimeout},
			fmt.Errorf("%w: queue full: %w", ErrTimeout, ctx.Err())
	}

	req := &request{ctx: ctx, cmd: cmd, result: make(chan result, 1)}

	s.mu.RLock()
	if s.closed || s.state != StateReady {
		s.mu.RUnlock()
		<-s.slots
		return s.unavailable(cmd)
	}
	s.queue <- req
	s.mu.RUnlock()

	select {
	case r := <-req.result:
		return r.resp, r.err
	case <-ctx.Done():
		return Response{RequestID: cmd.RequestID, Status: StatusTimeout},
			fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

func (s *Session) unavailable(cmd Command) (Response, error) {
	return Response{RequestID: cmd.RequestID, Status: StatusError},
		fmt.Errorf("%w: %s is %s", ErrDeviceUnavailable, s.dev.ID, s.State())
}

// resolve delivers the outcome of req and frees its slot.
func (s *Session) resolve(req *request, resp Response, err error) {
	resp.RequestID = req.cmd.RequestID
	req.result <- result{resp: resp, err: err}
	<-s.slots
	s.observer.CommandResolved(s.dev.ID, req.cmd, resp, err)
}

// rejectQueued resolves every queued request with ErrDeviceUnavailable.
// Callers must first make sure nothing new can be enqueued.
func (s *Session) rejectQueued(reason string) {
	for {
		select {
		case req := <-s.queue:
			s.resolve(req, Response{Status: StatusError},
				fmt.Errorf("%w: %s %s", ErrDeviceUnavailable, s.dev.ID, reason))
		default:
			return
		}
	}
}

func (s *Session) setState(state State, cause error) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	switch state {
	case StateReady:
		s.connectedAt = time.Now()
		s.attempts = 0
		s.lastErr = nil
	case StateFaulted:
		s.lastErr = cause
	}
	s.mu.Unlock()

	if prev == state {
		return
	}
	s.logger.Debug("session state changed",
		"device_id", s.dev.ID,
		"from", prev.String(),
		"to", state.String(),
	)
	s.observer.StateChanged(s.dev.ID, state, cause)
}

// run is the session state machine:
//
//	Connecting --open ok--> Ready --fault--> Faulted --backoff--> Connecting
//
// Cancelling ctx from any state ends in Disconnected.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.close()

	delays := newBackoff(s.opts.BackoffMin, s.opts.BackoffMax)

	for {
		s.setState(StateConnecting, nil)
		link, err := s.connect(ctx)
		if err == nil {
			delays.Reset()
			s.setState(StateReady, nil)
			s.logger.Info("session ready", "device_id", s.dev.ID, "endpoint", s.dev.Endpoint.String())

			err = s.serve(ctx, link)
			if cerr := link.Close(); cerr != nil {
				s.logger.Debug("closing transport", "device_id", s.dev.ID, "error", cerr)
			}
		}
		if ctx.Err() != nil {
			return
		}

		s.fault(err)

		wait := delays.NextBackOff()
		s.logger.Warn("session faulted, reconnecting",
			"device_id", s.dev.ID,
			"error", err,
			"retry_in", wait,
		)
		if !s.backoff(ctx, wait) {
			return
		}
	}
}

func (s *Session) connect(ctx context.Context) (transport.Transport, error) {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()

	dialCtx := ctx
	if s.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}
	return s.opener.Open(dialCtx, s.dev.Endpoint, s.framer)
}

// fault moves to Faulted and rejects whatever was queued behind the
// failed command.
func (s *Session) fault(err error) {
	s.setState(StateFaulted, err)
	s.rejectQueued("faulted")
}

// backoff waits before the next connect attempt. Commands that slipped
// into the queue are rejected as they arrive. It returns false when ctx
// ends first.
func (s *Session) backoff(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case req := <-s.queue:
			s.resolve(req, Response{Status: StatusError},
				fmt.Errorf("%w: %s reconnecting", ErrDeviceUnavailable, s.dev.ID))
		}
	}
}

// close runs once when the session ends. After it nothing can be
// enqueued and every admitted command has been resolved.
func (s *Session) close() {
	close(s.closing)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.setState(StateDisconnected, nil)
	s.rejectQueued("removed")
}

func (s *Session) anomaly(frame []byte, reason error) {
	if !errors.Is(reason, ErrProtocolAnomaly) {
		reason = fmt.Errorf("%w: %w", ErrProtocolAnomaly, reason)
	}
	s.logger.Warn("protocol anomaly",
		"device_id", s.dev.ID,
		"frame", fmt.Sprintf("% x", frame),
		"reason", reason,
	)
	s.observer.Anomaly(s.dev.ID, frame, reason)
}
