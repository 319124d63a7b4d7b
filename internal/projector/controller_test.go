package projector

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
	"github.com/nerrad567/projectorctl/internal/session"
)

// fakeProjector answers status queries keyed by the two register bytes at
// payload[7:9] and acknowledges everything else.
type fakeProjector struct {
	mu      sync.Mutex
	values  map[string][]byte
	status  session.Status
	err     error
	sent    []session.Command
	devices []string
}

func (f *fakeProjector) Submit(_ context.Context, deviceID string, cmd session.Command) (session.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	f.devices = append(f.devices, deviceID)
	if f.err != nil {
		return session.Response{Status: session.StatusError}, f.err
	}
	status := f.status
	if status == "" {
		status = session.StatusOK
	}

	header := []byte{0x1D, 0x14, 0x00, 0x03, 0x00}
	if cmd.Opcode == 0x07 && len(cmd.Payload) >= 9 {
		body := f.values[hex.EncodeToString(cmd.Payload[7:9])]
		header[3] = byte(len(body))
		return session.Response{Status: status, Payload: append(header, body...)}, nil
	}
	return session.Response{Status: status, Payload: append(header, 0x00, 0x00, 0x00)}, nil
}

func (f *fakeProjector) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestController(t *testing.T, fp *fakeProjector) (*Controller, device.Device) {
	t.Helper()
	catalog := NewCatalog(loadShippedProfiles(t))
	classes := []config.DeviceClassConfig{
		{Name: "binary-serial", Profile: "binary-serial"},
		{Name: "no-profile"},
		{Name: "missing-profile", Profile: "gone"},
	}
	dev := device.Device{ID: "serial:0403:6001:a10k3", Class: "binary-serial"}
	return NewController(catalog, fp, classes), dev
}

func poweredOn(extra map[string][]byte) map[string][]byte {
	v := map[string][]byte{"1100": {0x00, 0x00, 0x01}}
	for k, b := range extra {
		v[k] = b
	}
	return v
}

func TestController_Read(t *testing.T) {
	tests := []struct {
		name      string
		values    map[string][]byte
		control   string
		want      any
		wantSent  int
		wantErrIs error
	}{
		{
			name:     "power on",
			values:   poweredOn(nil),
			control:  "power",
			want:     true,
			wantSent: 1,
		},
		{
			name:     "power off",
			values:   map[string][]byte{"1100": {0x00, 0x00, 0x00}},
			control:  "power",
			want:     false,
			wantSent: 1,
		},
		{
			name:     "eco mode",
			values:   poweredOn(map[string][]byte{"1110": {0x00, 0x00, 0x03}}),
			control:  "eco",
			want:     true,
			wantSent: 2,
		},
		{
			name:     "eco normal",
			values:   poweredOn(map[string][]byte{"1110": {0x00, 0x00, 0x02}}),
			control:  "eco",
			want:     false,
			wantSent: 2,
		},
		{
			name:     "volume",
			values:   poweredOn(map[string][]byte{"1403": {0x00, 0x00, 0x17}}),
			control:  "volume",
			want:     uint64(0x17),
			wantSent: 2,
		},
		{
			name:     "lamp time",
			values:   poweredOn(map[string][]byte{"1501": {0x00, 0x00, 0x10, 0x27, 0x00, 0x00}}),
			control:  "lamp_time",
			want:     uint64(10000),
			wantSent: 2,
		},
		{
			name:      "volume while off",
			values:    map[string][]byte{"1100": {0x00, 0x00, 0x00}},
			control:   "volume",
			wantSent:  1,
			wantErrIs: ErrPowerIsDown,
		},
		{
			name:      "unknown control",
			values:    poweredOn(nil),
			control:   "focus",
			wantErrIs: ErrUnsupported,
		},
		{
			name:      "short reply",
			values:    poweredOn(map[string][]byte{"1403": {0x00}}),
			control:   "volume",
			wantSent:  2,
			wantErrIs: ErrBadReply,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakeProjector{values: tt.values}
			c, dev := newTestController(t, fp)

			got, err := c.Read(context.Background(), dev, tt.control)
			if n := fp.sentCount(); n != tt.wantSent {
				t.Errorf("sent %d commands, want %d", n, tt.wantSent)
			}
			if tt.wantErrIs != nil {
				if !errors.Is(err, tt.wantErrIs) {
					t.Errorf("Read() error = %v, want %v", err, tt.wantErrIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if got.Control != tt.control || got.Value != tt.want {
				t.Errorf("Read() = %+v, want value %v", got, tt.want)
			}
		})
	}
}

func TestController_ReadPropagatesSessionErrors(t *testing.T) {
	fp := &fakeProjector{err: session.ErrDeviceUnavailable}
	c, dev := newTestController(t, fp)

	if _, err := c.Read(context.Background(), dev, "volume"); !errors.Is(err, session.ErrDeviceUnavailable) {
		t.Errorf("Read() error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestController_Write(t *testing.T) {
	tests := []struct {
		name      string
		control   string
		action    Action
		status    session.Status
		wantFrame string
		wantErrIs error
	}{
		{name: "power up", control: "power", action: ActionUp, wantFrame: "061400040034110000"},
		{name: "power down", control: "power", action: ActionDown, wantFrame: "061400040034110100"},
		{name: "source down", control: "source", action: ActionDown, wantFrame: "061400040034130107"},
		{name: "mute up", control: "mute", action: ActionUp, wantFrame: "061400040034140001"},
		{name: "status not writable", control: "power", action: ActionStatus, wantErrIs: ErrNotWritable},
		{name: "lamp time read-only", control: "lamp_time", action: ActionUp, wantErrIs: ErrUnsupported},
		{name: "unknown control", control: "zoom", action: ActionUp, wantErrIs: ErrUnsupported},
		{name: "device rejects", control: "power", action: ActionUp, status: session.StatusError, wantFrame: "061400040034110000", wantErrIs: ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakeProjector{status: tt.status}
			c, dev := newTestController(t, fp)

			err := c.Write(context.Background(), dev, tt.control, tt.action)
			if tt.wantErrIs != nil {
				if !errors.Is(err, tt.wantErrIs) {
					t.Errorf("Write() error = %v, want %v", err, tt.wantErrIs)
				}
			} else if err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			if tt.wantFrame == "" {
				if n := fp.sentCount(); n != 0 {
					t.Errorf("sent %d commands, want none", n)
				}
				return
			}
			if fp.sentCount() != 1 {
				t.Fatalf("sent %d commands, want 1", fp.sentCount())
			}
			cmd := fp.sent[0]
			got := hex.EncodeToString(append([]byte{cmd.Opcode}, cmd.Payload...))
			if got != tt.wantFrame {
				t.Errorf("frame = %s, want %s", got, tt.wantFrame)
			}
			if fp.devices[0] != dev.ID {
				t.Errorf("device = %s, want %s", fp.devices[0], dev.ID)
			}
		})
	}
}

func TestController_ProfileFor(t *testing.T) {
	c, _ := newTestController(t, &fakeProjector{})

	tests := []struct {
		class   string
		wantErr bool
	}{
		{"binary-serial", false},
		{"no-profile", true},
		{"missing-profile", true},
		{"unconfigured", true},
	}
	for _, tt := range tests {
		p, err := c.ProfileFor(device.Device{ID: "x", Class: tt.class})
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupported) {
				t.Errorf("ProfileFor(%s) error = %v, want ErrUnsupported", tt.class, err)
			}
			continue
		}
		if err != nil || p.Name != "binary-serial" {
			t.Errorf("ProfileFor(%s) = %v, %v", tt.class, p, err)
		}
	}
}
