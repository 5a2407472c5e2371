package bridge

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxMQTTTopicLength     = 65535
	minPubSubTopicIDLength = 3
	maxPubSubTopicIDLength = 255
	maxAttributeKeyBytes   = 256
	maxAttributeValueBytes = 1024
	reservedPubSubPrefix   = "goog"
)

// ValidatePublishTopic checks that topic can be used in an MQTT PUBLISH.
func ValidatePublishTopic(topic string) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: mqtt topic cannot be empty", ErrInvalidTopic)
	case len(topic) > maxMQTTTopicLength:
		return fmt.Errorf("%w: mqtt topic length %d exceeds %d", ErrInvalidTopic, len(topic), maxMQTTTopicLength)
	case strings.ContainsAny(topic, "+#"):
		return fmt.Errorf("%w: mqtt topic %q contains a wildcard", ErrInvalidTopic, topic)
	case strings.Contains(topic, "\x00"):
		return fmt.Errorf("%w: mqtt topic contains a null byte", ErrInvalidTopic)
	case !utf8.ValidString(topic):
		return fmt.Errorf("%w: mqtt topic is not valid UTF-8", ErrInvalidTopic)
	}
	return nil
}

// ValidatePubSubTopic accepts a bare topic id or a full
// "projects/<project>/topics/<id>" resource name.
func ValidatePubSubTopic(name string) error {
	id := name
	if strings.HasPrefix(name, "projects/") {
		parts := strings.Split(name, "/")
		if len(parts) != 4 || parts[1] == "" || parts[2] != "topics" {
			return fmt.Errorf("%w: malformed pubsub topic resource %q", ErrInvalidTopic, name)
		}
		id = parts[3]
	}

	if len(id) < minPubSubTopicIDLength || len(id) > maxPubSubTopicIDLength {
		return fmt.Errorf("%w: pubsub topic id %q must be %d-%d characters", ErrInvalidTopic, id, minPubSubTopicIDLength, maxPubSubTopicIDLength)
	}
	if strings.HasPrefix(strings.ToLower(id), reservedPubSubPrefix) {
		return fmt.Errorf("%w: pubsub topic id %q uses the reserved prefix %q", ErrInvalidTopic, id, reservedPubSubPrefix)
	}
	first := id[0]
	if !(first >= 'a' && first <= 'z' || first >= 'A' && first <= 'Z') {
		return fmt.Errorf("%w: pubsub topic id %q must start with a letter", ErrInvalidTopic, id)
	}
	for _, r := range id {
		if !isPubSubTopicRune(r) {
			return fmt.Errorf("%w: pubsub topic id %q contains %q", ErrInvalidTopic, id, r)
		}
	}
	return nil
}

func isPubSubTopicRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("-_.~+%", r):
		return true
	}
	return false
}

// ValidateAttribute applies the Pub/Sub attribute limits.
func ValidateAttribute(key, value string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: attribute key cannot be empty", ErrInvalidAttribute)
	case len(key) > maxAttributeKeyBytes:
		return fmt.Errorf("%w: attribute key %.32q... exceeds %d bytes", ErrInvalidAttribute, key, maxAttributeKeyBytes)
	case strings.HasPrefix(strings.ToLower(key), reservedPubSubPrefix):
		return fmt.Errorf("%w: attribute key %q uses the reserved prefix %q", ErrInvalidAttribute, key, reservedPubSubPrefix)
	case len(value) > maxAttributeValueBytes:
		return fmt.Errorf("%w: value of attribute %q exceeds %d bytes", ErrInvalidAttribute, key, maxAttributeValueBytes)
	}
	return nil
}
