package device

import (
	"time"

	"github.com/nerrad567/projectorctl/internal/transport"
)

// State is the registry lifecycle state of a device.
type State string

// Device states.
const (
	// StatePresent devices are attached and have a session.
	StatePresent State = "present"

	// StateReleased devices are attached but were released through the API.
	// They have no session until reclaimed.
	StateReleased State = "released"

	// StateRemoved devices have disappeared from the host.
	StateRemoved State = "removed"
)

// Source names recorded on sightings.
const (
	SourceUdev   = "udev"
	SourceSerial = "serial"
	SourceMDNS   = "mdns"
	SourceStatic = "static"
)

// Signature is the hardware fingerprint a discovery source reports.
// Device classes match against it.
type Signature struct {
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
	Service      string `json:"service,omitempty"`
	Instance     string `json:"instance,omitempty"`
}

// Device is a projector endpoint recognised by the registry.
// Values returned by the registry are copies.
type Device struct {
	ID           string             `json:"id"`
	Class        string             `json:"class"`
	Source       string             `json:"source"`
	Endpoint     transport.Endpoint `json:"endpoint"`
	Signature    Signature          `json:"signature"`
	State        State              `json:"state"`
	DiscoveredAt time.Time          `json:"discovered_at"`
	RemovedAt    *time.Time         `json:"removed_at,omitempty"`
}

// Sighting is a raw add or remove report from a discovery source.
type Sighting struct {
	// Key is the stable hardware identity and becomes the device ID.
	Key string

	// Present is false for removals. Removals only need Key.
	Present bool

	Source    string
	Endpoint  transport.Endpoint
	Signature Signature

	// Class forces a device class, skipping signature matching.
	// Static entries use it.
	Class string
}

// EventKind distinguishes registry events.
type EventKind int

// Registry event kinds.
const (
	Arrived EventKind = iota + 1
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Arrived:
		return "arrived"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is emitted by the registry when a device arrives or is removed.
// Device is populated for both kinds; for Removed only ID is guaranteed.
type Event struct {
	Kind   EventKind
	Device Device
}
