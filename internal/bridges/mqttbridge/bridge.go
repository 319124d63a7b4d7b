package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/infrastructure/mqtt"
	"github.com/nerrad567/projectorctl/internal/projector"
	"github.com/nerrad567/projectorctl/internal/session"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one control request from the broker.
	commandTimeout = 10 * time.Second

	// defaultBuffer is the outbound queue size when none is given.
	defaultBuffer = 256
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Devices resolves device IDs. *device.Registry implements it.
type Devices interface {
	Get(id string) (device.Device, error)
}

// Controls carries out control requests. *projector.Controller
// implements it.
type Controls interface {
	Read(ctx context.Context, dev device.Device, control string) (projector.Reading, error)
	Write(ctx context.Context, dev device.Device, control string, action projector.Action) error
}

// Logger defines the logging interface used by the bridge.
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

// Options holds what a bridge needs.
type Options struct {
	Client   MQTTClient
	Devices  Devices
	Controls Controls

	// QoS is used for every publish and the control subscription.
	QoS byte

	// Buffer is the outbound queue size.
	Buffer int
}

// outbound is one queued publish.
type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// Bridge mirrors projectorctld onto MQTT.
//
// Outbound it is a session.Observer publishing retained session state and
// anomaly reports, and it publishes retained device records from registry
// events. Inbound it subscribes to control set topics and runs each
// request through the projector controller, publishing the outcome.
//
// Observer and DeviceEvent calls only enqueue; Run does the publishing so
// session goroutines never wait on the broker. When the queue is full
// messages are dropped and counted.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client   MQTTClient
	devices  Devices
	controls Controls
	qos      byte
	topics   mqtt.Topics

	out     chan outbound
	dropped atomic.Int64

	// ctx is set by Run and cancelled when it returns; in-flight control
	// requests derive from it.
	ctxMu sync.RWMutex
	ctx   context.Context
	wg    sync.WaitGroup

	logger Logger
	now    func() time.Time
}

var _ session.Observer = (*Bridge)(nil)

// New creates a bridge. Call Run to start it.
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if opts.Devices == nil {
		return nil, fmt.Errorf("device lookup is required")
	}
	if opts.Controls == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	return &Bridge{
		client:   opts.Client,
		devices:  opts.Devices,
		controls: opts.Controls,
		qos:      opts.QoS,
		out:      make(chan outbound, opts.Buffer),
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Run subscribes to control requests and publishes queued messages until
// ctx ends. Queued messages are flushed and in-flight control requests
// are cancelled and awaited before it returns.
func (b *Bridge) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	b.ctxMu.Lock()
	b.ctx = runCtx
	b.ctxMu.Unlock()
	defer func() {
		cancel()
		b.ctxMu.Lock()
		b.ctx = nil
		b.ctxMu.Unlock()
		b.wg.Wait()
		b.flush()
	}()

	topic := b.topics.AllControlSets()
	if err := b.client.Subscribe(topic, b.qos, b.handleControlSet); err != nil {
		return fmt.Errorf("subscribe to control requests: %w", err)
	}
	b.logger.Info("mqtt bridge started", "topic", topic)

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-b.out:
			b.publish(m)
		}
	}
}

// Dropped returns how many outbound messages were discarded.
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}

// StateChanged implements session.Observer.
func (b *Bridge) StateChanged(deviceID string, state session.State, err error) {
	msg := StateMessage{DeviceID: deviceID, State: state, Timestamp: b.now()}
	if err != nil {
		msg.Error = err.Error()
	}
	b.enqueueJSON(b.topics.DeviceState(deviceID), msg, true)
}

// CommandResolved implements session.Observer. Individual commands are
// not mirrored; control requests report their own results.
func (b *Bridge) CommandResolved(string, session.Command, session.Response, error) {}

// Anomaly implements session.Observer.
func (b *Bridge) Anomaly(deviceID string, frame []byte, reason error) {
	b.enqueueJSON(b.topics.DeviceAnomaly(deviceID), newAnomalyMessage(deviceID, frame, reason, b.now()), false)
}

// DeviceEvent publishes the device record on arrival and clears the
// retained info and state topics on removal.
func (b *Bridge) DeviceEvent(ev device.Event) {
	id := ev.Device.ID
	switch ev.Kind {
	case device.Arrived:
		b.enqueueJSON(b.topics.DeviceInfo(id), InfoMessage{Device: ev.Device, Timestamp: b.now()}, true)
	case device.Removed:
		b.enqueue(outbound{topic: b.topics.DeviceInfo(id), retained: true})
		b.enqueue(outbound{topic: b.topics.DeviceState(id), retained: true})
	}
}

// handleControlSet runs on paho's delivery goroutine. The request itself
// runs in its own goroutine so slow projectors do not stall delivery.
func (b *Bridge) handleControlSet(topic string, payload []byte) error {
	deviceID, control, ok := mqtt.ParseControlSet(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}

	req, err := ParseControlRequest(payload)
	if err != nil {
		b.publishResult(ControlResult{DeviceID: deviceID, Control: control}, nil, err)
		return err
	}

	b.ctxMu.RLock()
	parent := b.ctx
	if parent == nil {
		b.ctxMu.RUnlock()
		return errors.New("bridge not running")
	}
	b.wg.Add(1)
	b.ctxMu.RUnlock()

	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(parent, commandTimeout)
		defer cancel()
		b.execute(ctx, deviceID, control, req)
	}()
	return nil
}

func (b *Bridge) execute(ctx context.Context, deviceID, control string, req ControlRequest) {
	res := ControlResult{
		RequestID: req.RequestID,
		DeviceID:  deviceID,
		Control:   control,
		Action:    req.Action,
	}

	dev, err := b.devices.Get(deviceID)
	if err != nil {
		b.publishResult(res, nil, err)
		return
	}

	b.logger.Debug("mqtt control request", "device_id", deviceID, "control", control,
		"action", string(req.Action), "request_id", req.RequestID)

	if req.Action == projector.ActionStatus {
		reading, err := b.controls.Read(ctx, dev, control)
		b.publishResult(res, reading.Value, err)
		return
	}
	b.publishResult(res, nil, b.controls.Write(ctx, dev, control, req.Action))
}

func (b *Bridge) publishResult(res ControlResult, value any, err error) {
	res.Timestamp = b.now()
	if err != nil {
		res.Status = ResultFailed
		res.Error = &ResultError{Code: errorCode(err), Message: err.Error()}
		b.logger.Warn("mqtt control request failed", "device_id", res.DeviceID,
			"control", res.Control, "code", res.Error.Code, "error", err)
	} else {
		res.Status = ResultOK
		res.Value = value
	}
	b.enqueueJSON(b.topics.ControlResult(res.DeviceID, res.Control), res, false)
}

func (b *Bridge) enqueueJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("marshalling mqtt payload", "topic", topic, "error", err)
		return
	}
	b.enqueue(outbound{topic: topic, payload: payload, retained: retained})
}

func (b *Bridge) enqueue(m outbound) {
	select {
	case b.out <- m:
	default:
		n := b.dropped.Add(1)
		b.logger.Warn("mqtt outbound queue full, message dropped", "topic", m.topic, "dropped", n)
	}
}

func (b *Bridge) flush() {
	for {
		select {
		case m := <-b.out:
			b.publish(m)
		default:
			return
		}
	}
}

func (b *Bridge) publish(m outbound) {
	if err := b.client.Publish(m.topic, m.payload, b.qos, m.retained); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			b.logger.Debug("mqtt publish skipped, broker disconnected", "topic", m.topic)
			return
		}
		b.logger.Warn("mqtt publish failed", "topic", m.topic, "error", err)
	}
}
