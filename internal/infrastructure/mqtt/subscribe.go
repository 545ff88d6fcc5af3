package mqtt

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subscription is one topic filter the client keeps on the broker.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// subscriptionSet remembers filters across clean-session reconnects.
type subscriptionSet struct {
	mu      sync.Mutex
	byTopic map[string]subscription
}

func (s *subscriptionSet) put(sub subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTopic == nil {
		s.byTopic = make(map[string]subscription)
	}
	s.byTopic[sub.topic] = sub
}

func (s *subscriptionSet) drop(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTopic, topic)
}

// snapshot returns the filters sorted by topic.
func (s *subscriptionSet) snapshot() []subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]subscription, 0, len(s.byTopic))
	for _, sub := range s.byTopic {
		out = append(out, sub)
	}
	slices.SortFunc(out, func(a, b subscription) int { return strings.Compare(a.topic, b.topic) })
	return out
}

// Subscribe delivers messages matching topic to handler until Unsubscribe.
// The filter may use + and # wildcards, for example
// Topics.AllSnapcastCommands. It is renewed after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	case !c.IsConnected():
		return ErrNotConnected
	}

	// Recorded first so a reconnect racing this call still renews it.
	sub := subscription{topic: topic, qos: qos, handler: handler}
	c.subs.put(sub)

	if err := waitToken(c.paho.Subscribe(topic, qos, c.dispatch(handler)), defaultPublishTimeout); err != nil {
		c.subs.drop(topic)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Unsubscribe removes topic. Messages already in flight may still arrive.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subs.drop(topic)
	if err := waitToken(c.paho.Unsubscribe(topic), defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}
	return nil
}

// resubscribe renews every remembered filter after a reconnect. Failures
// are logged; the filter stays remembered for the next reconnect.
func (c *Client) resubscribe() {
	for _, sub := range c.subs.snapshot() {
		token := c.paho.Subscribe(sub.topic, sub.qos, c.dispatch(sub.handler))
		if err := waitToken(token, defaultPublishTimeout); err != nil {
			c.warn("MQTT resubscribe failed", "topic", sub.topic, "error", err)
		}
	}
}

// dispatch adapts a MessageHandler to paho, logging its errors and
// containing its panics so one bad message cannot stop delivery.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				c.logError("MQTT handler panic recovered", "topic", topic, "panic", r)
			}
		}()

		if err := handler(topic, msg.Payload()); err != nil {
			c.warn("MQTT handler returned error", "topic", topic, "error", err)
		}
	}
}
