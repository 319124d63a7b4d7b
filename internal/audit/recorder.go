package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nerrad567/projectorctl/internal/session"
)

// writeTimeout bounds a single command log insert.
const writeTimeout = 2 * time.Second

// Logger defines the logging interface used by the recorder.
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

// Recorder is a session.Observer that writes resolved commands and
// protocol anomalies to the command log. Notifications are queued and
// written by Run so session goroutines never wait on the database; when
// the queue is full entries are dropped and counted.
type Recorder struct {
	repo    Repository
	entries chan *CommandEntry
	logger  Logger
	dropped atomic.Int64
}

var _ session.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder with room for buffer pending entries.
func NewRecorder(repo Repository, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		repo:    repo,
		entries: make(chan *CommandEntry, buffer),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// StateChanged implements session.Observer. State changes are not logged.
func (r *Recorder) StateChanged(string, session.State, error) {}

// CommandResolved implements session.Observer.
func (r *Recorder) CommandResolved(deviceID string, cmd session.Command, resp session.Response, err error) {
	e := &CommandEntry{
		DeviceID:      deviceID,
		RequestID:     resp.RequestID,
		CorrelationID: resp.CorrelationID,
		Opcode:        cmd.Opcode,
		Status:        string(resp.Status),
		LatencyMS:     float64(resp.Latency) / float64(time.Millisecond),
		CreatedAt:     time.Now(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	r.enqueue(e)
}

// Anomaly implements session.Observer.
func (r *Recorder) Anomaly(deviceID string, frame []byte, reason error) {
	e := &CommandEntry{
		DeviceID:  deviceID,
		Status:    StatusAnomaly,
		CreatedAt: time.Now(),
	}
	if len(frame) > 0 {
		e.Opcode = frame[0]
	}
	if reason != nil {
		e.Error = reason.Error()
	}
	r.enqueue(e)
}

func (r *Recorder) enqueue(e *CommandEntry) {
	select {
	case r.entries <- e:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("command log queue full, entry dropped", "device_id", e.DeviceID, "dropped", n)
	}
}

// Run writes queued entries until ctx ends, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case e := <-r.entries:
			r.write(context.Background(), e)
		}
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) flush() {
	for {
		select {
		case e := <-r.entries:
			r.write(context.Background(), e)
		default:
			return
		}
	}
}

func (r *Recorder) write(parent context.Context, e *CommandEntry) {
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("writing command log entry", "device_id", e.DeviceID, "error", err)
	}
}
