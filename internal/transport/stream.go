package transport

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Transport is a framed byte stream to one projector.
type Transport interface {
	// Write sends one encoded frame. Fails with ErrIO on a broken link.
	Write(frame []byte) error

	// ReadFrame blocks until a complete frame arrives or the link fails
	// (ErrIO).
	ReadFrame() ([]byte, error)

	// Close releases the underlying handle. It is idempotent.
	Close() error

	// Endpoint reports where the transport is connected.
	Endpoint() Endpoint
}

// Stream adapts any io.ReadWriteCloser into a Transport.
type Stream struct {
	conn     io.ReadWriteCloser
	reader   *bufio.Reader
	framer   Framer
	endpoint Endpoint

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps conn with framer. The Stream owns conn from now on.
func NewStream(conn io.ReadWriteCloser, endpoint Endpoint, framer Framer) *Stream {
	return &Stream{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		framer:   framer,
		endpoint: endpoint,
	}
}

// Write implements Transport.
func (s *Stream) Write(frame []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", ErrIO, ErrClosed)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for len(frame) > 0 {
		n, err := s.conn.Write(frame)
		if err != nil {
			return s.ioError("write", err)
		}
		frame = frame[n:]
	}
	return nil
}

// ReadFrame implements Transport. Only one goroutine may call it at a time.
func (s *Stream) ReadFrame() ([]byte, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: %w", ErrIO, ErrClosed)
	}
	frame, err := s.framer.ReadFrame(s.reader)
	if err != nil {
		return nil, s.ioError("read", err)
	}
	return frame, nil
}

// Close implements Transport.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Endpoint implements Transport.
func (s *Stream) Endpoint() Endpoint {
	return s.endpoint
}

func (s *Stream) ioError(op string, err error) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: %s: %w", ErrIO, op, ErrClosed)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, s.endpoint, err)
}
