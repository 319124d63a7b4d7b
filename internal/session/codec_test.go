package session

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
)

func TestRawCodec_Encode(t *testing.T) {
	c := RawCodec{Checksum: true, ChecksumFrom: 1}

	tests := []struct {
		name string
		cmd  Command
		want []byte
	}{
		{
			name: "power on",
			cmd:  powerOn(),
			want: []byte{0x06, 0x14, 0x00, 0x04, 0x00, 0x34, 0x11, 0x00, 0x00, 0x5D},
		},
		{
			name: "power status query",
			cmd:  Command{Opcode: 0x07, Payload: []byte{0x14, 0x00, 0x05, 0x00, 0x34, 0x00, 0x00, 0x11, 0x00}},
			want: []byte{0x07, 0x14, 0x00, 0x05, 0x00, 0x34, 0x00, 0x00, 0x11, 0x00, 0x5E},
		},
		{
			name: "opcode only",
			cmd:  Command{Opcode: 0x01},
			want: []byte{0x01, 0x00},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Encode(1, tt.cmd)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestRawCodec_ChecksumBeyondFrame(t *testing.T) {
	c := RawCodec{Checksum: true, ChecksumFrom: 5}
	if _, err := c.Encode(1, Command{Opcode: 0x01}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Encode() error = %v, want ErrInvalidCommand", err)
	}
}

func TestRawCodec_Decode(t *testing.T) {
	c := RawCodec{Checksum: true, ChecksumFrom: 1}

	tests := []struct {
		name    string
		frame   []byte
		want    []byte
		wantErr bool
	}{
		{
			name:  "valid status reply",
			frame: rawFrame(0x07, 0x14, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01),
			want:  []byte{0x07, 0x14, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01},
		},
		{
			name:    "bad checksum",
			frame:   []byte{0x07, 0x14, 0x00, 0x00, 0x00, 0x00},
			wantErr: true,
		},
		{
			name:    "empty",
			frame:   nil,
			wantErr: true,
		},
		{
			name:    "shorter than checksum start",
			frame:   []byte{0x00},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := c.Decode(tt.frame)
			if tt.wantErr {
				if !errors.Is(err, ErrProtocolAnomaly) {
					t.Errorf("Decode() error = %v, want ErrProtocolAnomaly", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if r.Tagged || r.Status != StatusOK || !bytes.Equal(r.Payload, tt.want) {
				t.Errorf("Decode() = %+v", r)
			}
		})
	}
}

func TestRawCodec_NoChecksum(t *testing.T) {
	var c RawCodec
	frame, err := c.Encode(9, Command{Opcode: 0xAA, Payload: []byte{0x01}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.Equal(frame, []byte{0xAA, 0x01}) {
		t.Errorf("Encode() = % x", frame)
	}
	r, err := c.Decode([]byte{0x01, 0x02})
	if err != nil || !bytes.Equal(r.Payload, []byte{0x01, 0x02}) {
		t.Errorf("Decode() = %+v, %v", r, err)
	}
}

func TestTaggedCodec(t *testing.T) {
	var c TaggedCodec

	frame, err := c.Encode(0x01020304, Command{Opcode: 0x10, Payload: []byte{0xAB}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := []byte{0x00, 0x06, 0x01, 0x02, 0x03, 0x04, 0x10, 0xAB}
	if !bytes.Equal(frame, want) {
		t.Fatalf("Encode() = % x, want % x", frame, want)
	}

	tests := []struct {
		name       string
		frame      []byte
		wantID     uint32
		wantStatus Status
		wantErr    bool
	}{
		{"ok reply", []byte{0x00, 0x06, 0x00, 0x00, 0x00, 0x07, 0x00, 0xFF}, 7, StatusOK, false},
		{"error reply", []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x08, 0x02}, 8, StatusError, false},
		{"too short", []byte{0x00, 0x04, 0x00, 0x00, 0x00, 0x08}, 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := c.Decode(tt.frame)
			if tt.wantErr {
				if !errors.Is(err, ErrProtocolAnomaly) {
					t.Errorf("Decode() error = %v, want ErrProtocolAnomaly", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !r.Tagged || r.CorrelationID != tt.wantID || r.Status != tt.wantStatus {
				t.Errorf("Decode() = %+v", r)
			}
		})
	}
}

func TestLineCodec(t *testing.T) {
	c := LineCodec{Delim: '\r', ErrorPrefix: []byte("ERR")}

	frame, err := c.Encode(1, Command{Opcode: 0x55, Payload: []byte("%1POWR 1")})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(frame) != "%1POWR 1\r" {
		t.Errorf("Encode() = %q", frame)
	}

	if _, err := c.Encode(1, Command{Payload: []byte("x\ry")}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Encode() error = %v, want ErrInvalidCommand", err)
	}

	tests := []struct {
		frame      string
		wantBody   string
		wantStatus Status
	}{
		{"%1POWR=OK\r\n", "%1POWR=OK", StatusOK},
		{"ERR 3\r", "ERR 3", StatusError},
		{"", "", StatusOK},
	}
	for _, tt := range tests {
		r, err := c.Decode([]byte(tt.frame))
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", tt.frame, err)
		}
		if string(r.Payload) != tt.wantBody || r.Status != tt.wantStatus {
			t.Errorf("Decode(%q) = %+v", tt.frame, r)
		}
	}
}

func TestNewCodec(t *testing.T) {
	length2 := config.FramingConfig{Type: "length", HeaderSize: 2, LengthSize: 2, BigEndian: true}
	delim := config.FramingConfig{Type: "delimiter", Delimiter: "\r"}

	tests := []struct {
		name    string
		codec   config.CodecConfig
		framing config.FramingConfig
		want    Codec
		wantErr bool
	}{
		{"default raw", config.CodecConfig{}, delim, RawCodec{}, false},
		{"raw sum8", config.CodecConfig{Type: "raw", Checksum: "sum8", ChecksumFrom: 1}, delim, RawCodec{Checksum: true, ChecksumFrom: 1}, false},
		{"raw negative start", config.CodecConfig{Type: "raw", Checksum: "sum8", ChecksumFrom: -1}, delim, nil, true},
		{"raw unknown checksum", config.CodecConfig{Type: "raw", Checksum: "crc16"}, delim, nil, true},
		{"tagged", config.CodecConfig{Type: "tagged"}, length2, TaggedCodec{}, false},
		{"tagged little endian", config.CodecConfig{Type: "tagged"}, config.FramingConfig{Type: "length", HeaderSize: 2, LengthSize: 2}, nil, true},
		{"tagged on delimiter", config.CodecConfig{Type: "tagged"}, delim, nil, true},
		{"line on length", config.CodecConfig{Type: "line"}, length2, nil, true},
		{"unknown", config.CodecConfig{Type: "protobuf"}, delim, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewCodec(tt.codec, tt.framing)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCodec) {
					t.Errorf("NewCodec() error = %v, want ErrInvalidCodec", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewCodec() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("NewCodec() = %#v, want %#v", got, tt.want)
			}
		})
	}

	c, err := NewCodec(config.CodecConfig{Type: "line", ErrorPrefix: "ERR"}, delim)
	if err != nil {
		t.Fatalf("NewCodec(line) error = %v", err)
	}
	lc, ok := c.(LineCodec)
	if !ok || lc.Delim != '\r' || string(lc.ErrorPrefix) != "ERR" {
		t.Errorf("NewCodec(line) = %#v", c)
	}
}
