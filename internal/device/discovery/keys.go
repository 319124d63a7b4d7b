package discovery

import "strings"

// SerialKey returns the stable identity of a serial device. USB adapters
// with a serial number keep their identity across ports and replugs;
// anything else is identified by its device node.
func SerialKey(vendorID, productID, serialNumber, devnode string) string {
	if vendorID != "" && productID != "" && serialNumber != "" {
		return "serial:" + strings.ToLower(vendorID) + ":" + strings.ToLower(productID) + ":" + serialNumber
	}
	return "serial:" + devnode
}

// MDNSKey returns the identity of a DNS-SD instance.
func MDNSKey(instance string) string {
	return "mdns:" + strings.ToLower(instance)
}

// StaticKey returns the identity of a configured static device.
func StaticKey(id string) string {
	return "static:" + id
}
