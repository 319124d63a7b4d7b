package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/projectorctl/internal/transport"
)

type inbound struct {
	frame []byte
	err   error
}

// serve dispatches queued commands over link, one at a time, until the
// link fails, a command times out, or ctx ends. It always returns a
// non-nil error.
func (s *Session) serve(ctx context.Context, link transport.Transport) error {
	frames := make(chan inbound)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			frame, err := link.ReadFrame()
			select {
			case frames <- inbound{frame: frame, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	defer func() {
		close(stop)
		// Closing unblocks a reader stuck in ReadFrame.
		link.Close() //nolint:errcheck // closed again by the caller
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-frames:
			if in.err != nil {
				return in.err
			}
			s.anomaly(in.frame, fmt.Errorf("%w: frame while idle", ErrProtocolAnomaly))
		case req := <-s.queue:
			if err := s.execute(ctx, link, frames, req); err != nil {
				return err
			}
		}
	}
}

// execute writes one command and waits for its response. A non-nil return
// faults the session; the request itself is always resolved.
func (s *Session) execute(ctx context.Context, link transport.Transport, frames <-chan inbound, req *request) error {
	if err := req.ctx.Err(); err != nil {
		s.resolve(req, Response{Status: StatusTimeout}, fmt.Errorf("%w: abandoned while queued: %w", ErrTimeout, err))
		return nil
	}

	s.nextID++
	id := s.nextID

	frame, err := s.codec.Encode(id, req.cmd)
	if err != nil {
		s.resolve(req, Response{CorrelationID: id, Status: StatusError}, err)
		return nil
	}

	started := time.Now()
	if err := link.Write(frame); err != nil {
		s.resolve(req, Response{CorrelationID: id, Status: StatusError, Latency: time.Since(started)}, err)
		return err
	}

	wait := s.timeout
	if req.cmd.Timeout > 0 {
		wait = req.cmd.Timeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.resolve(req, Response{CorrelationID: id, Status: StatusError, Latency: time.Since(started)},
				fmt.Errorf("%w: %s removed", ErrDeviceUnavailable, s.dev.ID))
			return ctx.Err()

		case <-timer.C:
			err := fmt.Errorf("%w: no response to #%d within %s", ErrTimeout, id, wait)
			s.resolve(req, Response{CorrelationID: id, Status: StatusTimeout, Latency: time.Since(started)}, err)
			return err

		// The caller gave up with the command on the wire. Its reply can no
		// longer be matched, so the link is treated like a timeout.
		case <-req.ctx.Done():
			err := fmt.Errorf("%w: caller abandoned #%d: %w", ErrTimeout, id, req.ctx.Err())
			s.resolve(req, Response{CorrelationID: id, Status: StatusTimeout, Latency: time.Since(started)}, err)
			return err

		case in := <-frames:
			if in.err != nil {
				s.resolve(req, Response{CorrelationID: id, Status: StatusError, Latency: time.Since(started)}, in.err)
				return in.err
			}
			reply, err := s.codec.Decode(in.frame)
			if err != nil {
				s.anomaly(in.frame, err)
				continue
			}
			if reply.Tagged && reply.CorrelationID != id {
				s.anomaly(in.frame, fmt.Errorf("%w: reply #%d while #%d in flight", ErrProtocolAnomaly, reply.CorrelationID, id))
				continue
			}
			s.resolve(req, Response{
				CorrelationID: id,
				Status:        reply.Status,
				Payload:       reply.Payload,
				Latency:       time.Since(started),
			}, nil)
			return nil
		}
	}
}
