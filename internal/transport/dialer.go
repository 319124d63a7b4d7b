package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.bug.st/serial"
)

// tcpKeepAlive detects dead projector sockets between commands.
const tcpKeepAlive = 15 * time.Second

// Opener opens transports. Sessions depend on this interface so tests
// can substitute in-process links.
type Opener interface {
	Open(ctx context.Context, endpoint Endpoint, framer Framer) (Transport, error)
}

// Dialer opens serial and TCP transports.
type Dialer struct{}

// Open connects to endpoint and wraps the link with framer.
//
// Returns:
//   - Transport: ready for Write/ReadFrame
//   - error: wraps ErrConnection when the endpoint cannot be opened, or
//     ErrUnsupportedEndpoint for an unknown kind
func (Dialer) Open(ctx context.Context, endpoint Endpoint, framer Framer) (Transport, error) {
	switch endpoint.Kind {
	case KindTCP:
		return openTCP(ctx, endpoint, framer)
	case KindSerial:
		return openSerial(ctx, endpoint, framer)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEndpoint, endpoint.Kind)
	}
}

func openTCP(ctx context.Context, endpoint Endpoint, framer Framer) (Transport, error) {
	d := net.Dialer{KeepAlive: tcpKeepAlive}
	conn, err := d.DialContext(ctx, "tcp", endpoint.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, endpoint, err)
	}
	return NewStream(conn, endpoint, framer), nil
}

func openSerial(ctx context.Context, endpoint Endpoint, framer Framer) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, endpoint, err)
	}

	mode, err := serialMode(endpoint.Line)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, endpoint, err)
	}

	// No read timeout: reads block until data arrives or Close unblocks
	// them. Response deadlines are enforced by the session.
	port, err := serial.Open(endpoint.Address, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, endpoint, err)
	}
	return NewStream(port, endpoint, framer), nil
}

func serialMode(line SerialLine) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: line.BaudRate,
		DataBits: line.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = 115200
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	switch strings.ToLower(line.Parity) {
	case "", "none":
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unknown parity %q", line.Parity)
	}

	switch line.StopBits {
	case 0, 1:
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", line.StopBits)
	}

	return mode, nil
}
