// Package mqttbridge exposes projectors on an MQTT broker.
//
// Device records and session states are published as retained messages
// so dashboards and home automation see the current picture as soon as
// they subscribe. Other systems drive projectors by publishing an action
// to a control's set topic:
//
//	topic:   projectorctl/devices/{id}/controls/power/set
//	payload: up
//	payload: {"action":"status","request_id":"abc"}
//
// The outcome, including the decoded value for status requests, is
// published on the matching result topic.
package mqttbridge
