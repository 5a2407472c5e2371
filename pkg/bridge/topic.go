package bridge

import (
	"fmt"
	"strings"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/settings"
)

// DefaultMQTTTopic is the topic FixedTopic uses when given an empty topic.
const DefaultMQTTTopic = "mqtt/topic"

// TopicPolicy decides the MQTT topic of the publish built from an inbound message.
type TopicPolicy func(msg InboundMessage, s settings.Settings) (string, error)

// FixedTopic publishes every message to the same topic.
func FixedTopic(topic string) TopicPolicy {
	if topic == "" {
		topic = DefaultMQTTTopic
	}
	return func(InboundMessage, settings.Settings) (string, error) {
		return topic, nil
	}
}

// TopicFromSetting uses the first value of the named setting, or fallback
// when the setting is absent. An empty fallback makes the setting mandatory.
func TopicFromSetting(name, fallback string) TopicPolicy {
	return func(_ InboundMessage, s settings.Settings) (string, error) {
		if v, ok := s.First(name); ok && v != "" {
			return v, nil
		}
		if fallback == "" {
			return "", fmt.Errorf("%w: setting %q is not configured", ErrInvalidTopic, name)
		}
		return fallback, nil
	}
}

// TopicFromPubSubTopic joins prefix with the last path segment of the
// Pub/Sub topic, so "projects/p/topics/alerts" with prefix "pubsub/" becomes
// "pubsub/alerts".
func TopicFromPubSubTopic(prefix string) TopicPolicy {
	return func(msg InboundMessage, _ settings.Settings) (string, error) {
		name := msg.Topic
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		if name == "" {
			return "", fmt.Errorf("%w: inbound message has no pubsub topic", ErrInvalidTopic)
		}
		return prefix + name, nil
	}
}
