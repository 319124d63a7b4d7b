package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
	"github.com/nerrad567/projectorctl/internal/transport"
)

// replyFunc is the fake projector: it returns the frames sent back for
// one written frame.
type replyFunc func(link *fakeLink, frame []byte) [][]byte

type fakeLink struct {
	endpoint transport.Endpoint
	reply    replyFunc
	in       chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	dropOnce  sync.Once
	dropped   chan struct{}

	mu     sync.Mutex
	writes [][]byte
}

func newFakeLink(ep transport.Endpoint, reply replyFunc) *fakeLink {
	return &fakeLink{
		endpoint: ep,
		reply:    reply,
		in:       make(chan []byte, 64),
		closed:   make(chan struct{}),
		dropped:  make(chan struct{}),
	}
}

func (l *fakeLink) Write(frame []byte) error {
	select {
	case <-l.closed:
		return fmt.Errorf("%w: %w", transport.ErrIO, transport.ErrClosed)
	case <-l.dropped:
		return fmt.Errorf("%w: link dropped", transport.ErrIO)
	default:
	}
	l.mu.Lock()
	l.writes = append(l.writes, append([]byte(nil), frame...))
	l.mu.Unlock()
	if l.reply != nil {
		for _, r := range l.reply(l, frame) {
			l.in <- r
		}
	}
	return nil
}

func (l *fakeLink) ReadFrame() ([]byte, error) {
	select {
	case <-l.closed:
		return nil, fmt.Errorf("%w: %w", transport.ErrIO, transport.ErrClosed)
	case <-l.dropped:
		return nil, fmt.Errorf("%w: link dropped", transport.ErrIO)
	case f := <-l.in:
		return f, nil
	}
}

func (l *fakeLink) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeLink) Endpoint() transport.Endpoint { return l.endpoint }

// drop simulates the cable being pulled.
func (l *fakeLink) drop() {
	l.dropOnce.Do(func() { close(l.dropped) })
}

func (l *fakeLink) written() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.writes...)
}

type fakeOpener struct {
	mu       sync.Mutex
	failures int
	opens    int
	reply    replyFunc
	links    []*fakeLink
}

func (o *fakeOpener) Open(ctx context.Context, ep transport.Endpoint, _ transport.Framer) (transport.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrConnection, err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.failures != 0 {
		if o.failures > 0 {
			o.failures--
		}
		return nil, fmt.Errorf("%w: %s: refused", transport.ErrConnection, ep)
	}
	link := newFakeLink(ep, o.reply)
	o.links = append(o.links, link)
	return link, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func (o *fakeOpener) link(i int) *fakeLink {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= len(o.links) {
		return nil
	}
	return o.links[i]
}

type recorder struct {
	mu        sync.Mutex
	states    []State
	resolved  []Response
	anomalies []error
}

func (r *recorder) StateChanged(_ string, state State, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) CommandResolved(_ string, _ Command, resp Response, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, resp)
}

func (r *recorder) Anomaly(_ string, _ []byte, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies = append(r.anomalies, reason)
}

func (r *recorder) stateLog() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) anomalyErrs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.anomalies...)
}

func (r *recorder) anomalyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.anomalies)
}

const testDeviceID = "serial:0403:6001:A10K3"

func rawClass() config.DeviceClassConfig {
	return config.DeviceClassConfig{
		Name: "binary-serial",
		Framing: config.FramingConfig{
			Type: "length", HeaderSize: 5, LengthOffset: 3, LengthSize: 1, Adjust: 1,
		},
		Codec: config.CodecConfig{Type: "raw", Checksum: "sum8", ChecksumFrom: 1},
	}
}

func taggedClass() config.DeviceClassConfig {
	return config.DeviceClassConfig{
		Name: "tagged",
		Framing: config.FramingConfig{
			Type: "length", HeaderSize: 2, LengthOffset: 0, LengthSize: 2, BigEndian: true,
		},
		Codec: config.CodecConfig{Type: "tagged"},
	}
}

func lineClass() config.DeviceClassConfig {
	return config.DeviceClassConfig{
		Name:    "ascii",
		Framing: config.FramingConfig{Type: "delimiter", Delimiter: "\r", MaxFrame: 128},
		Codec:   config.CodecConfig{Type: "line", ErrorPrefix: "ERR"},
	}
}

func testOptions() Options {
	return Options{
		BackoffMin:     10 * time.Millisecond,
		BackoffMax:     40 * time.Millisecond,
		ConnectTimeout: time.Second,
		CommandTimeout: time.Second,
		QueueDepth:     8,
	}
}

type harness struct {
	m       *Manager
	opener  *fakeOpener
	obs     *recorder
	events  chan device.Event
	runDone chan struct{}
	class   string
}

func newHarness(t *testing.T, opts Options, class config.DeviceClassConfig, opener *fakeOpener) *harness {
	t.Helper()
	h := &harness{
		m:       NewManager(opts, []config.DeviceClassConfig{class}, opener),
		opener:  opener,
		obs:     &recorder{},
		events:  make(chan device.Event),
		runDone: make(chan struct{}),
		class:   class.Name,
	}
	h.m.SetObserver(h.obs)
	go func() {
		defer close(h.runDone)
		h.m.Run(context.Background(), h.events) //nolint:errcheck // returns nil
	}()
	t.Cleanup(func() {
		close(h.events)
		<-h.runDone
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		h.m.Shutdown(ctx) //nolint:errcheck // grace may expire in cleanup
	})
	return h
}

func (h *harness) arrive(id string) {
	h.events <- device.Event{Kind: device.Arrived, Device: device.Device{
		ID:       id,
		Class:    h.class,
		Endpoint: transport.Endpoint{Kind: transport.KindSerial, Address: "/dev/ttyUSB0"},
		State:    device.StatePresent,
	}}
}

func (h *harness) remove(id string) {
	h.events <- device.Event{Kind: device.Removed, Device: device.Device{ID: id}}
}

func (h *harness) waitState(t *testing.T, id string, want State) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%s to be %s", id, want), func() bool {
		info, ok := h.m.Info(id)
		return ok && info.State == want
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// rawFrame appends the sum8 checksum to b.
func rawFrame(b ...byte) []byte {
	return append(b, Sum8(b[1:]))
}

// echoAck answers every frame with a short acknowledgement.
func echoAck(_ *fakeLink, frame []byte) [][]byte {
	return [][]byte{rawFrame(frame[0], 0x14, 0x00, 0x00, 0x00)}
}

func powerOn() Command {
	return Command{Opcode: 0x06, Payload: []byte{0x14, 0x00, 0x04, 0x00, 0x34, 0x11, 0x00, 0x00}}
}
