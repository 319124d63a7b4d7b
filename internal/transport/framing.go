package transport

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
)

// defaultMaxFrame bounds frame size when the configuration leaves it unset.
const defaultMaxFrame = 4096

// Framer splits a byte stream into frames.
// ReadFrame blocks until one complete frame is available.
type Framer interface {
	ReadFrame(r *bufio.Reader) ([]byte, error)
}

// LengthField reads frames that start with a fixed-size header carrying
// the length of the remainder. The returned frame includes the header.
//
// The remainder size is value(header[LengthOffset:LengthOffset+LengthSize])
// plus Adjust. A 5 byte header whose fourth byte holds "remaining minus
// one" is LengthField{HeaderSize: 5, LengthOffset: 3, LengthSize: 1, Adjust: 1}.
type LengthField struct {
	HeaderSize   int
	LengthOffset int
	LengthSize   int
	BigEndian    bool
	Adjust       int
	MaxFrame     int
}

// ReadFrame implements Framer.
func (f LengthField) ReadFrame(r *bufio.Reader) ([]byte, error) {
	header := make([]byte, f.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	field := header[f.LengthOffset : f.LengthOffset+f.LengthSize]
	var n uint64
	switch f.LengthSize {
	case 1:
		n = uint64(field[0])
	case 2:
		if f.BigEndian {
			n = uint64(binary.BigEndian.Uint16(field))
		} else {
			n = uint64(binary.LittleEndian.Uint16(field))
		}
	case 4:
		if f.BigEndian {
			n = uint64(binary.BigEndian.Uint32(field))
		} else {
			n = uint64(binary.LittleEndian.Uint32(field))
		}
	}

	rest := int64(n) + int64(f.Adjust)
	limit := f.MaxFrame
	if limit <= 0 {
		limit = defaultMaxFrame
	}
	if rest < 0 || int64(f.HeaderSize)+rest > int64(limit) {
		return nil, fmt.Errorf("%w: header announces %d bytes, limit %d", ErrFrameTooLarge, rest, limit)
	}

	frame := make([]byte, f.HeaderSize+int(rest))
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[f.HeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// Delimiter reads frames terminated by a single byte. The delimiter is
// stripped from the returned frame.
type Delimiter struct {
	Delim    byte
	MaxFrame int
}

// ReadFrame implements Framer.
func (f Delimiter) ReadFrame(r *bufio.Reader) ([]byte, error) {
	limit := f.MaxFrame
	if limit <= 0 {
		limit = defaultMaxFrame
	}

	var buf bytes.Buffer
	for {
		chunk, err := r.ReadSlice(f.Delim)
		if buf.Len()+len(chunk) > limit+1 {
			return nil, fmt.Errorf("%w: no delimiter within %d bytes", ErrFrameTooLarge, limit)
		}
		buf.Write(chunk)
		switch err {
		case nil:
			frame := buf.Bytes()
			return frame[:len(frame)-1], nil
		case bufio.ErrBufferFull:
			continue
		default:
			return nil, err
		}
	}
}

// NewFramer builds the Framer described by a device class configuration.
func NewFramer(cfg config.FramingConfig) (Framer, error) {
	switch cfg.Type {
	case "length":
		switch cfg.LengthSize {
		case 1, 2, 4:
		default:
			return nil, fmt.Errorf("%w: length_size %d", ErrInvalidFraming, cfg.LengthSize)
		}
		if cfg.LengthOffset < 0 || cfg.LengthOffset+cfg.LengthSize > cfg.HeaderSize {
			return nil, fmt.Errorf("%w: length field outside %d byte header", ErrInvalidFraming, cfg.HeaderSize)
		}
		return LengthField{
			HeaderSize:   cfg.HeaderSize,
			LengthOffset: cfg.LengthOffset,
			LengthSize:   cfg.LengthSize,
			BigEndian:    cfg.BigEndian,
			Adjust:       cfg.Adjust,
			MaxFrame:     cfg.MaxFrame,
		}, nil
	case "delimiter":
		if cfg.Delimiter == "" {
			return nil, fmt.Errorf("%w: empty delimiter", ErrInvalidFraming)
		}
		return Delimiter{Delim: cfg.Delimiter[0], MaxFrame: cfg.MaxFrame}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidFraming, cfg.Type)
	}
}
