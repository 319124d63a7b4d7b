package session

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
)

// Reply is a decoded frame.
type Reply struct {
	// CorrelationID is only meaningful when Tagged is true.
	CorrelationID uint32
	Tagged        bool
	Status        Status
	Payload       []byte
}

// Codec maps commands to frames and frames to replies for one device class.
type Codec interface {
	Encode(id uint32, cmd Command) ([]byte, error)
	Decode(frame []byte) (Reply, error)
}

// NewCodec builds the codec described by a device class.
func NewCodec(cfg config.CodecConfig, framing config.FramingConfig) (Codec, error) {
	switch cfg.Type {
	case "", "raw":
		switch cfg.Checksum {
		case "":
			return RawCodec{}, nil
		case "sum8":
			if cfg.ChecksumFrom < 0 {
				return nil, fmt.Errorf("%w: negative checksum_from", ErrInvalidCodec)
			}
			return RawCodec{Checksum: true, ChecksumFrom: cfg.ChecksumFrom}, nil
		default:
			return nil, fmt.Errorf("%w: unknown checksum %q", ErrInvalidCodec, cfg.Checksum)
		}
	case "tagged":
		if framing.Type != "length" || framing.HeaderSize != taggedLengthSize ||
			framing.LengthOffset != 0 || framing.LengthSize != taggedLengthSize || !framing.BigEndian {
			return nil, fmt.Errorf("%w: tagged codec needs a 2 byte big-endian length header", ErrInvalidCodec)
		}
		return TaggedCodec{}, nil
	case "line":
		if framing.Type != "delimiter" || framing.Delimiter == "" {
			return nil, fmt.Errorf("%w: line codec needs delimiter framing", ErrInvalidCodec)
		}
		return LineCodec{Delim: framing.Delimiter[0], ErrorPrefix: []byte(cfg.ErrorPrefix)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidCodec, cfg.Type)
	}
}

// RawCodec sends the opcode byte followed by the payload, optionally
// terminated by an 8-bit additive checksum over frame[ChecksumFrom:].
// Replies carry no correlation id and the returned payload is the whole
// frame with any checksum removed.
type RawCodec struct {
	Checksum     bool
	ChecksumFrom int
}

// Encode implements Codec.
func (c RawCodec) Encode(_ uint32, cmd Command) ([]byte, error) {
	frame := make([]byte, 0, len(cmd.Payload)+2)
	frame = append(frame, cmd.Opcode)
	frame = append(frame, cmd.Payload...)
	if c.Checksum {
		if c.ChecksumFrom > len(frame) {
			return nil, fmt.Errorf("%w: checksum starts at %d, frame is %d bytes", ErrInvalidCommand, c.ChecksumFrom, len(frame))
		}
		frame = append(frame, Sum8(frame[c.ChecksumFrom:]))
	}
	return frame, nil
}

// Decode implements Codec.
func (c RawCodec) Decode(frame []byte) (Reply, error) {
	if len(frame) == 0 {
		return Reply{}, fmt.Errorf("%w: empty frame", ErrProtocolAnomaly)
	}
	if c.Checksum {
		end := len(frame) - 1
		if end < c.ChecksumFrom {
			return Reply{}, fmt.Errorf("%w: %d byte frame too short for checksum", ErrProtocolAnomaly, len(frame))
		}
		if got, want := frame[end], Sum8(frame[c.ChecksumFrom:end]); got != want {
			return Reply{}, fmt.Errorf("%w: checksum %#02x, want %#02x", ErrProtocolAnomaly, got, want)
		}
		frame = frame[:end]
	}
	return Reply{Status: StatusOK, Payload: frame}, nil
}

// Sum8 is the 8-bit additive checksum of b.
func Sum8(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// taggedLengthSize is the size of the tagged codec's length prefix.
const taggedLengthSize = 2

// TaggedCodec frames are a 2 byte big-endian length, a 4 byte big-endian
// correlation id, an opcode (requests) or status (replies) byte, then the
// payload. A zero status byte is success.
type TaggedCodec struct{}

// Encode implements Codec.
func (TaggedCodec) Encode(id uint32, cmd Command) ([]byte, error) {
	body := 4 + 1 + len(cmd.Payload)
	if body > 0xffff {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrInvalidCommand, len(cmd.Payload))
	}
	frame := make([]byte, taggedLengthSize+body)
	binary.BigEndian.PutUint16(frame, uint16(body))
	binary.BigEndian.PutUint32(frame[2:], id)
	frame[6] = cmd.Opcode
	copy(frame[7:], cmd.Payload)
	return frame, nil
}

// Decode implements Codec.
func (TaggedCodec) Decode(frame []byte) (Reply, error) {
	if len(frame) < taggedLengthSize+5 {
		return Reply{}, fmt.Errorf("%w: %d byte tagged frame", ErrProtocolAnomaly, len(frame))
	}
	r := Reply{
		CorrelationID: binary.BigEndian.Uint32(frame[2:]),
		Tagged:        true,
		Status:        StatusOK,
		Payload:       frame[7:],
	}
	if frame[6] != 0 {
		r.Status = StatusError
	}
	return r, nil
}

// LineCodec sends the payload followed by the delimiter; the opcode is
// not transmitted. Replies starting with ErrorPrefix resolve as errors.
type LineCodec struct {
	Delim       byte
	ErrorPrefix []byte
}

// Encode implements Codec.
func (c LineCodec) Encode(_ uint32, cmd Command) ([]byte, error) {
	if bytes.IndexByte(cmd.Payload, c.Delim) >= 0 {
		return nil, fmt.Errorf("%w: payload contains the delimiter", ErrInvalidCommand)
	}
	frame := make([]byte, 0, len(cmd.Payload)+1)
	frame = append(frame, cmd.Payload...)
	return append(frame, c.Delim), nil
}

// Decode implements Codec.
func (c LineCodec) Decode(frame []byte) (Reply, error) {
	frame = bytes.TrimRight(frame, "\r\n")
	r := Reply{Status: StatusOK, Payload: frame}
	if len(c.ErrorPrefix) > 0 && bytes.HasPrefix(frame, c.ErrorPrefix) {
		r.Status = StatusError
	}
	return r, nil
}
