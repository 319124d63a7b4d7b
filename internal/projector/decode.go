package projector

import (
	"encoding/binary"
	"fmt"
)

// Decoder kinds.
const (
	// DecodeState is true when the byte at Offset is non-zero.
	DecodeState = "state"

	// DecodeStateEq is true when the byte at Offset equals Equals.
	DecodeStateEq = "state_eq"

	// DecodeU8 is the byte at Offset.
	DecodeU8 = "u8"

	// DecodeU32LE is the little-endian uint32 starting at Offset.
	DecodeU32LE = "u32le"
)

// Decoder extracts a value from a status reply payload. A negative Offset
// counts back from the end of the payload.
type Decoder struct {
	Kind   string
	Offset int
	Equals byte
}

func newDecoder(kind string, offset, equals int) (Decoder, error) {
	switch kind {
	case DecodeState, DecodeU8, DecodeU32LE:
	case DecodeStateEq:
		if equals < 0 || equals > 0xff {
			return Decoder{}, fmt.Errorf("equals %d out of byte range", equals)
		}
	default:
		return Decoder{}, fmt.Errorf("unknown decode %q", kind)
	}
	return Decoder{Kind: kind, Offset: offset, Equals: byte(equals)}, nil
}

func (d Decoder) width() int {
	if d.Kind == DecodeU32LE {
		return 4
	}
	return 1
}

// Decode returns a bool for state decoders and a uint64 for numeric ones.
func (d Decoder) Decode(payload []byte) (any, error) {
	off := d.Offset
	if off < 0 {
		off += len(payload)
	}
	if off < 0 || off+d.width() > len(payload) {
		return nil, fmt.Errorf("%w: %s at offset %d of %d byte payload", ErrBadReply, d.Kind, d.Offset, len(payload))
	}

	switch d.Kind {
	case DecodeState:
		return payload[off] > 0, nil
	case DecodeStateEq:
		return payload[off] == d.Equals, nil
	case DecodeU8:
		return uint64(payload[off]), nil
	case DecodeU32LE:
		return uint64(binary.LittleEndian.Uint32(payload[off:])), nil
	default:
		return nil, fmt.Errorf("%w: unknown decode %q", ErrBadReply, d.Kind)
	}
}
