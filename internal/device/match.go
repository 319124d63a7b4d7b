package device

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
	"github.com/nerrad567/projectorctl/internal/transport"
)

// Classifier matches sightings against the configured device classes.
// Classes are tried in configuration order; the first match wins.
type Classifier struct {
	classes []config.DeviceClassConfig
}

// NewClassifier creates a Classifier over classes.
func NewClassifier(classes []config.DeviceClassConfig) *Classifier {
	return &Classifier{classes: classes}
}

// Classify returns the device class for s, or ErrNoMatch.
func (c *Classifier) Classify(s Sighting) (config.DeviceClassConfig, error) {
	if s.Class != "" {
		for _, cl := range c.classes {
			if cl.Name == s.Class {
				return cl, nil
			}
		}
		return config.DeviceClassConfig{}, fmt.Errorf("%w: class %q not configured", ErrNoMatch, s.Class)
	}

	for _, cl := range c.classes {
		if matches(cl.Match, s.Signature) {
			return cl, nil
		}
	}
	return config.DeviceClassConfig{}, ErrNoMatch
}

// matches reports whether every set field of m agrees with sig.
// A match rule with only Static set never matches a discovered device.
func matches(m config.MatchConfig, sig Signature) bool {
	if m.USBVendorID == "" && m.USBProductID == "" && m.MDNSService == "" {
		return false
	}
	if m.USBVendorID != "" && !strings.EqualFold(m.USBVendorID, sig.VendorID) {
		return false
	}
	if m.USBProductID != "" && !strings.EqualFold(m.USBProductID, sig.ProductID) {
		return false
	}
	if m.MDNSService != "" && normaliseService(m.MDNSService) != normaliseService(sig.Service) {
		return false
	}
	return true
}

func normaliseService(s string) string {
	return strings.ToLower(strings.TrimSuffix(s, "."))
}

// ResolveEndpoint completes ep with the class's serial line settings or
// default TCP port.
func ResolveEndpoint(cl config.DeviceClassConfig, ep transport.Endpoint) transport.Endpoint {
	switch ep.Kind {
	case transport.KindSerial:
		ep.Line = transport.SerialLine{
			BaudRate: cl.Serial.BaudRate,
			DataBits: cl.Serial.DataBits,
			Parity:   cl.Serial.Parity,
			StopBits: cl.Serial.StopBits,
		}
	case transport.KindTCP:
		if _, _, err := net.SplitHostPort(ep.Address); err != nil && cl.TCPPort > 0 {
			ep.Address = net.JoinHostPort(ep.Address, strconv.Itoa(cl.TCPPort))
		}
	}
	return ep
}
