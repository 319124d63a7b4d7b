package device

import (
	"errors"
	"testing"

	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
	"github.com/nerrad567/projectorctl/internal/transport"
)

func testClasses() []config.DeviceClassConfig {
	return []config.DeviceClassConfig{
		{
			Name:   "binary-serial",
			Match:  config.MatchConfig{USBVendorID: "0403", USBProductID: "6001"},
			Serial: config.SerialLine{BaudRate: 115200, DataBits: 8, Parity: "none", StopBits: 1},
		},
		{
			Name:    "pjlink",
			Match:   config.MatchConfig{MDNSService: "_pjlink._tcp"},
			TCPPort: 4352,
		},
		{
			Name:    "lab-bench",
			Match:   config.MatchConfig{Static: true},
			TCPPort: 7000,
		},
		{
			Name:  "prolific",
			Match: config.MatchConfig{USBVendorID: "067B", USBProductID: "23a3"},
		},
	}
}

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier(testClasses())

	tests := []struct {
		name    string
		s       Sighting
		want    string
		wantErr error
	}{
		{
			name: "usb vid pid",
			s:    Sighting{Signature: Signature{VendorID: "0403", ProductID: "6001"}},
			want: "binary-serial",
		},
		{
			name: "usb ids are case insensitive",
			s:    Sighting{Signature: Signature{VendorID: "067b", ProductID: "23A3"}},
			want: "prolific",
		},
		{
			name:    "vid match with wrong pid",
			s:       Sighting{Signature: Signature{VendorID: "0403", ProductID: "6015"}},
			wantErr: ErrNoMatch,
		},
		{
			name: "mdns service with trailing dot",
			s:    Sighting{Signature: Signature{Service: "_PJLink._tcp."}},
			want: "pjlink",
		},
		{
			name: "forced class",
			s:    Sighting{Class: "lab-bench"},
			want: "lab-bench",
		},
		{
			name:    "forced unknown class",
			s:       Sighting{Class: "nope"},
			wantErr: ErrNoMatch,
		},
		{
			name:    "static-only rule never matches discovery",
			s:       Sighting{Signature: Signature{}},
			wantErr: ErrNoMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl, err := c.Classify(tt.s)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Classify() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if cl.Name != tt.want {
				t.Errorf("Classify() = %q, want %q", cl.Name, tt.want)
			}
		})
	}
}

func TestClassifier_FirstMatchWins(t *testing.T) {
	classes := []config.DeviceClassConfig{
		{Name: "specific", Match: config.MatchConfig{USBVendorID: "0403", USBProductID: "6001"}},
		{Name: "vendor-wide", Match: config.MatchConfig{USBVendorID: "0403"}},
	}
	c := NewClassifier(classes)

	cl, err := c.Classify(Sighting{Signature: Signature{VendorID: "0403", ProductID: "6001"}})
	if err != nil || cl.Name != "specific" {
		t.Errorf("Classify() = %q, %v; want specific", cl.Name, err)
	}
	cl, err = c.Classify(Sighting{Signature: Signature{VendorID: "0403", ProductID: "6010"}})
	if err != nil || cl.Name != "vendor-wide" {
		t.Errorf("Classify() = %q, %v; want vendor-wide", cl.Name, err)
	}
}

func TestResolveEndpoint(t *testing.T) {
	classes := testClasses()

	t.Run("serial gets line settings", func(t *testing.T) {
		ep := ResolveEndpoint(classes[0], transport.Endpoint{Kind: transport.KindSerial, Address: "/dev/ttyUSB0"})
		if ep.Line.BaudRate != 115200 || ep.Line.DataBits != 8 || ep.Line.StopBits != 1 {
			t.Errorf("Line = %+v", ep.Line)
		}
	})

	t.Run("tcp without port gets class port", func(t *testing.T) {
		ep := ResolveEndpoint(classes[1], transport.Endpoint{Kind: transport.KindTCP, Address: "10.0.0.5"})
		if ep.Address != "10.0.0.5:4352" {
			t.Errorf("Address = %q, want 10.0.0.5:4352", ep.Address)
		}
	})

	t.Run("tcp with port is kept", func(t *testing.T) {
		ep := ResolveEndpoint(classes[1], transport.Endpoint{Kind: transport.KindTCP, Address: "10.0.0.5:9000"})
		if ep.Address != "10.0.0.5:9000" {
			t.Errorf("Address = %q, want 10.0.0.5:9000", ep.Address)
		}
	})

	t.Run("ipv6 without port", func(t *testing.T) {
		ep := ResolveEndpoint(classes[1], transport.Endpoint{Kind: transport.KindTCP, Address: "fe80::1"})
		if ep.Address != "[fe80::1]:4352" {
			t.Errorf("Address = %q, want [fe80::1]:4352", ep.Address)
		}
	})
}
