package mqtt

import "fmt"

// maxPayloadSize caps outgoing payloads at the common 1MB broker limit.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker acknowledgment
// (QoS 1 and 2) or the socket write (QoS 0).
//
// Device state and info topics are published retained so a dashboard
// that subscribes late still sees the current picture. Control results
// and anomalies are events and are not retained.
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or a wrapped
//     ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.paho.Publish(topic, qos, retained, payload), defaultPublishTimeout, ErrPublishFailed)
}

// PublishRetained publishes a retained message at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.qos, true)
}

// ClearRetained deletes the retained message on topic.
func (c *Client) ClearRetained(topic string) error {
	return c.Publish(topic, nil, c.qos, true)
}
