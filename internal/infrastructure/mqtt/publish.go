package mqtt

import (
	"fmt"
	"strings"
)

// maxPayloadSize caps one outgoing message. A full server status with a few
// dozen clients is well under it.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to accept it.
//
// Retained messages are replayed to every new subscriber, which is what
// the state and health topics rely on. Events are never retained. A nil
// or empty retained payload deletes the topic's retained message.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "" || strings.ContainsAny(topic, "+#"):
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}

	if err := waitToken(c.paho.Publish(topic, qos, retained, payload), defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}
