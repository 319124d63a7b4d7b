// Package device tracks which projectors are attached to the host.
//
// Discovery sources (udev, serial enumeration, mDNS, static configuration)
// report raw Sightings. The Registry classifies each sighting against the
// configured device classes, keeps the set of attached devices, and emits
// Arrived and Removed events that the session layer consumes.
//
// # Identity
//
// A device ID is the stable hardware key the discovery source reports:
// "serial:<vid>:<pid>:<serial>" for USB adapters with a serial number,
// "serial:<devnode>" otherwise, "mdns:<instance>" for networked projectors
// and "static:<id>" for configured entries. Replugging the same adapter
// yields the same ID.
//
// # Release
//
// Release takes a device away from session control without unplugging it,
// so another tool can use the port. A released device stays in List with
// state "released" and produces no events until Reclaim.
//
// # Persistence
//
// Sightings are written to the device_sightings table through a
// SightingRepository. A write failure is logged and never blocks events.
package device
