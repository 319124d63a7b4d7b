package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/infrastructure/mqtt"
	"github.com/nerrad567/projectorctl/internal/projector"
	"github.com/nerrad567/projectorctl/internal/session"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeClient struct {
	mu           sync.Mutex
	messages     []published
	handlers     map[string]mqtt.MessageHandler
	subscribeErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic, payload, retained})
	return nil
}

func (f *fakeClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeClient) handler() mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[mqtt.Topics{}.AllControlSets()]
}

// waitFor returns the first message published on topic.
func (f *fakeClient) waitFor(t *testing.T, topic string) published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, m := range f.messages {
			if m.topic == topic {
				f.mu.Unlock()
				return m
			}
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("nothing published on %s", topic)
	return published{}
}

type fakeDevices map[string]device.Device

func (f fakeDevices) Get(id string) (device.Device, error) {
	d, ok := f[id]
	if !ok {
		return device.Device{}, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, id)
	}
	return d, nil
}

type writeCall struct {
	deviceID string
	control  string
	action   projector.Action
}

type fakeControls struct {
	mu       sync.Mutex
	writes   []writeCall
	writeErr error
	value    any
	readErr  error
}

func (f *fakeControls) Read(_ context.Context, _ device.Device, control string) (projector.Reading, error) {
	if f.readErr != nil {
		return projector.Reading{}, f.readErr
	}
	return projector.Reading{Control: control, Value: f.value}, nil
}

func (f *fakeControls) Write(_ context.Context, dev device.Device, control string, action projector.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, writeCall{dev.ID, control, action})
	return f.writeErr
}

const testDevice = "serial:/dev/ttyUSB0"

type harness struct {
	client   *fakeClient
	controls *fakeControls
	bridge   *Bridge
}

// startBridge runs a bridge until the test ends.
func startBridge(t *testing.T, controls *fakeControls) *harness {
	t.Helper()
	h := &harness{client: newFakeClient(), controls: controls}
	b, err := New(Options{
		Client:   h.client,
		Devices:  fakeDevices{testDevice: {ID: testDevice, Class: "binary-serial"}},
		Controls: controls,
		QoS:      1,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.bridge = b

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for h.client.handler() == nil {
		if time.Now().After(deadline) {
			t.Fatal("bridge did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return h
}

func (h *harness) send(t *testing.T, deviceID, control, payload string) ControlResult {
	t.Helper()
	_ = h.client.handler()(mqtt.Topics{}.ControlSet(deviceID, control), []byte(payload))
	m := h.client.waitFor(t, mqtt.Topics{}.ControlResult(deviceID, control))
	if m.retained {
		t.Error("result published retained")
	}
	var res ControlResult
	if err := json.Unmarshal(m.payload, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return res
}

func TestNew_RequiresDependencies(t *testing.T) {
	full := Options{Client: newFakeClient(), Devices: fakeDevices{}, Controls: &fakeControls{}}
	tests := []struct {
		name string
		edit func(*Options)
	}{
		{"no client", func(o *Options) { o.Client = nil }},
		{"no devices", func(o *Options) { o.Devices = nil }},
		{"no controls", func(o *Options) { o.Controls = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := full
			tt.edit(&opts)
			if _, err := New(opts); err == nil {
				t.Error("New() error = nil")
			}
		})
	}
}

func TestRun_SubscribeError(t *testing.T) {
	fc := newFakeClient()
	fc.subscribeErr = mqtt.ErrNotConnected
	b, err := New(Options{Client: fc, Devices: fakeDevices{}, Controls: &fakeControls{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Run(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Run() error = %v, want ErrNotConnected", err)
	}
}

func TestBridge_ControlWrite(t *testing.T) {
	h := startBridge(t, &fakeControls{})

	res := h.send(t, testDevice, "power", `{"action":"up","request_id":"r-1"}`)
	if res.Status != ResultOK || res.RequestID != "r-1" || res.Action != projector.ActionUp {
		t.Errorf("result = %+v", res)
	}

	h.controls.mu.Lock()
	defer h.controls.mu.Unlock()
	want := writeCall{testDevice, "power", projector.ActionUp}
	if len(h.controls.writes) != 1 || h.controls.writes[0] != want {
		t.Errorf("writes = %+v, want [%+v]", h.controls.writes, want)
	}
}

func TestBridge_ControlStatus(t *testing.T) {
	h := startBridge(t, &fakeControls{value: true})

	res := h.send(t, testDevice, "power", "status")
	if res.Status != ResultOK || res.Value != true {
		t.Errorf("result = %+v", res)
	}
}

func TestBridge_ControlFailures(t *testing.T) {
	tests := []struct {
		name     string
		controls *fakeControls
		deviceID string
		payload  string
		wantCode string
	}{
		{"bad action", &fakeControls{}, testDevice, "toggle", CodeInvalidRequest},
		{"bad json", &fakeControls{}, testDevice, "{", CodeInvalidRequest},
		{"unknown device", &fakeControls{}, "static:gone", "up", CodeNotFound},
		{"power down", &fakeControls{readErr: projector.ErrPowerIsDown}, testDevice, "status", CodePowerDown},
		{"unavailable", &fakeControls{writeErr: session.ErrDeviceUnavailable}, testDevice, "up", CodeUnavailable},
		{"timeout", &fakeControls{writeErr: fmt.Errorf("wrapped: %w", session.ErrTimeout)}, testDevice, "down", CodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startBridge(t, tt.controls)
			res := h.send(t, tt.deviceID, "power", tt.payload)
			if res.Status != ResultFailed || res.Error == nil || res.Error.Code != tt.wantCode {
				t.Errorf("result = %+v, want code %s", res, tt.wantCode)
			}
		})
	}
}

func TestBridge_StateAndAnomaly(t *testing.T) {
	h := startBridge(t, &fakeControls{})

	h.bridge.StateChanged(testDevice, session.StateFaulted, session.ErrTimeout)
	m := h.client.waitFor(t, mqtt.Topics{}.DeviceState(testDevice))
	if !m.retained {
		t.Error("state not retained")
	}
	var state struct {
		State string `json:"state"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(m.payload, &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.State != "faulted" || state.Error != session.ErrTimeout.Error() {
		t.Errorf("state = %+v", state)
	}

	h.bridge.Anomaly(testDevice, []byte{0x1D, 0x14}, session.ErrProtocolAnomaly)
	m = h.client.waitFor(t, mqtt.Topics{}.DeviceAnomaly(testDevice))
	var anomaly AnomalyMessage
	if err := json.Unmarshal(m.payload, &anomaly); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.retained || anomaly.Frame != "1d14" {
		t.Errorf("anomaly = %+v retained=%v", anomaly, m.retained)
	}
}

func TestBridge_DeviceEvents(t *testing.T) {
	h := startBridge(t, &fakeControls{})
	dev := device.Device{ID: "mdns:lobby", Class: "tcp"}

	h.bridge.DeviceEvent(device.Event{Kind: device.Arrived, Device: dev})
	m := h.client.waitFor(t, mqtt.Topics{}.DeviceInfo(dev.ID))
	var info InfoMessage
	if err := json.Unmarshal(m.payload, &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !m.retained || info.Device.ID != dev.ID {
		t.Errorf("info = %+v retained=%v", info, m.retained)
	}

	h.bridge.DeviceEvent(device.Event{Kind: device.Removed, Device: device.Device{ID: dev.ID}})
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.client.mu.Lock()
		var cleared int
		for _, p := range h.client.messages {
			if len(p.payload) == 0 && p.retained {
				cleared++
			}
		}
		h.client.mu.Unlock()
		if cleared == 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("cleared %d retained topics, want 2", cleared)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBridge_DropsWhenQueueFull(t *testing.T) {
	b, err := New(Options{Client: newFakeClient(), Devices: fakeDevices{}, Controls: &fakeControls{}, Buffer: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b.StateChanged("a", session.StateReady, nil)
	b.StateChanged("a", session.StateFaulted, nil)
	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestBridge_HandlerBeforeRun(t *testing.T) {
	b, err := New(Options{Client: newFakeClient(), Devices: fakeDevices{}, Controls: &fakeControls{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.handleControlSet(mqtt.Topics{}.ControlSet("x", "power"), []byte("up")); err == nil {
		t.Error("handleControlSet() before Run error = nil")
	}
	if err := b.handleControlSet("projectorctl/devices/x/state", []byte("up")); err == nil {
		t.Error("handleControlSet() on wrong topic error = nil")
	}
}

func TestParseControlRequest(t *testing.T) {
	tests := []struct {
		payload string
		want    ControlRequest
		wantErr bool
	}{
		{"up", ControlRequest{Action: projector.ActionUp}, false},
		{" Down\n", ControlRequest{Action: projector.ActionDown}, false},
		{`{"action":"status","request_id":"x"}`, ControlRequest{Action: projector.ActionStatus, RequestID: "x"}, false},
		{`{"action":"flip"}`, ControlRequest{}, true},
		{"", ControlRequest{}, true},
		{`{"action":`, ControlRequest{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := ParseControlRequest([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, errInvalidRequest) {
					t.Errorf("error = %v, want errInvalidRequest", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseControlRequest() = %+v, %v, want %+v", got, err, tt.want)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{session.ErrIO, CodeIO},
		{session.ErrConnection, CodeIO},
		{projector.ErrUnsupported, CodeUnsupported},
		{session.ErrInvalidCommand, CodeUnsupported},
		{projector.ErrNotWritable, CodeNotWritable},
		{projector.ErrRejected, CodeRejected},
		{projector.ErrBadReply, CodeBadReply},
		{errors.New("other"), CodeInternal},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
