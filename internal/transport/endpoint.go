package transport

import "fmt"

// Kind identifies the physical link type of an endpoint.
type Kind string

// Endpoint kinds.
const (
	KindSerial Kind = "serial"
	KindTCP    Kind = "tcp"
)

// Endpoint is the address of one projector link.
type Endpoint struct {
	Kind Kind `json:"kind"`

	// Address is a device path for serial links or host:port for TCP.
	Address string `json:"address"`

	// Line holds serial settings; ignored for TCP.
	Line SerialLine `json:"-"`
}

// SerialLine contains the settings of a serial link.
type SerialLine struct {
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
}

// String returns "kind:address".
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%s", e.Kind, e.Address)
}
