// Package discovery provides the device.Source implementations that feed
// the registry: a supervised udevadm monitor, serial port enumeration with
// an optional /dev watch, DNS-SD browsing and static configuration.
//
// Sources only report what they see. Matching against device classes,
// de-duplication and release handling happen in the registry.
package discovery
