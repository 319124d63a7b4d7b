package mqtt

import (
	"net/url"
	"strings"
)

// TopicPrefix is the root of every projectorctl topic.
const TopicPrefix = "projectorctl"

// Topic levels under TopicPrefix.
const (
	levelSystem   = "system"
	levelDevices  = "devices"
	levelControls = "controls"
)

// Topics provides builders for projectorctl MQTT topics.
//
// Device IDs may contain characters that are significant to MQTT
// ("/", "+", "#"), so each ID is escaped into a single topic level:
//
//	topics := mqtt.Topics{}
//	topics.DeviceState("serial:/dev/ttyUSB0")
//	// Returns: "projectorctl/devices/serial:%2Fdev%2FttyUSB0/state"
type Topics struct{}

// SystemStatus returns the retained daemon status topic. The broker
// publishes the Last Will here when the daemon dies.
//
// Example: projectorctl/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/" + levelSystem + "/status"
}

// DeviceInfo returns the retained topic carrying a device's registry
// record. It is cleared when the device is removed.
//
// Example: projectorctl/devices/mdns:lobby/info
func (Topics) DeviceInfo(deviceID string) string {
	return deviceTopic(deviceID, "info")
}

// DeviceState returns the retained session state topic of a device.
//
// Example: projectorctl/devices/mdns:lobby/state
func (Topics) DeviceState(deviceID string) string {
	return deviceTopic(deviceID, "state")
}

// DeviceAnomaly returns the topic for discarded frames of a device.
//
// Example: projectorctl/devices/mdns:lobby/anomaly
func (Topics) DeviceAnomaly(deviceID string) string {
	return deviceTopic(deviceID, "anomaly")
}

// ControlSet returns the topic clients publish control actions to.
//
// Example: projectorctl/devices/mdns:lobby/controls/power/set
func (Topics) ControlSet(deviceID, control string) string {
	return deviceTopic(deviceID, levelControls, EscapeLevel(control), "set")
}

// ControlResult returns the topic the outcome of a control action is
// published to.
//
// Example: projectorctl/devices/mdns:lobby/controls/power/result
func (Topics) ControlResult(deviceID, control string) string {
	return deviceTopic(deviceID, levelControls, EscapeLevel(control), "result")
}

// AllControlSets returns the wildcard matching every ControlSet topic.
func (Topics) AllControlSets() string {
	return TopicPrefix + "/" + levelDevices + "/+/" + levelControls + "/+/set"
}

// AllDevices returns the wildcard matching every device topic.
func (Topics) AllDevices() string {
	return TopicPrefix + "/" + levelDevices + "/#"
}

// ParseControlSet extracts the device ID and control name from a
// ControlSet topic. ok is false for any other topic.
func ParseControlSet(topic string) (deviceID, control string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 6 || parts[0] != TopicPrefix || parts[1] != levelDevices ||
		parts[3] != levelControls || parts[5] != "set" {
		return "", "", false
	}
	deviceID, err := UnescapeLevel(parts[2])
	if err != nil || deviceID == "" {
		return "", "", false
	}
	control, err = UnescapeLevel(parts[4])
	if err != nil || control == "" {
		return "", "", false
	}
	return deviceID, control, true
}

var levelEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"+", "%2B",
	"#", "%23",
)

// EscapeLevel percent-encodes the characters that would split or
// wildcard an MQTT topic level.
func EscapeLevel(s string) string {
	return levelEscaper.Replace(s)
}

// UnescapeLevel reverses EscapeLevel.
func UnescapeLevel(s string) (string, error) {
	return url.PathUnescape(s)
}

func deviceTopic(deviceID string, levels ...string) string {
	return TopicPrefix + "/" + levelDevices + "/" + EscapeLevel(deviceID) + "/" + strings.Join(levels, "/")
}
