package bridge

import (
	"fmt"
	"strconv"
	"strings"
)

// QoS is the MQTT quality of service level.
type QoS uint8

const (
	// AtMostOnce is QoS 0.
	AtMostOnce QoS = 0
	// AtLeastOnce is QoS 1.
	AtLeastOnce QoS = 1
	// ExactlyOnce is QoS 2.
	ExactlyOnce QoS = 2
)

// QoSFromInt maps a numeric level onto QoS.
func QoSFromInt(level int) (QoS, error) {
	switch level {
	case 0, 1, 2:
		return QoS(level), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidQoS, level)
	}
}

// ParseQoS parses a decimal QoS level such as "1".
func ParseQoS(s string) (QoS, error) {
	level, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidQoS, s)
	}
	return QoSFromInt(level)
}

// Valid reports whether q is one of the three MQTT levels.
func (q QoS) Valid() bool { return q <= ExactlyOnce }

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	default:
		return fmt.Sprintf("qos(%d)", uint8(q))
	}
}

// UserProperty is an MQTT 5 user property. Names may repeat.
type UserProperty struct {
	Name  string
	Value string
}

// Publish is an MQTT publish, either handed to the bridge by the host
// (outbound direction) or produced by it (inbound direction).
type Publish struct {
	Topic  string
	QoS    QoS
	Retain bool
	// Payload is nil when the publish carries no payload. Publishes produced
	// by the InboundTransformer always carry a non-nil payload.
	Payload        []byte
	UserProperties []UserProperty
}

// Read lets a Publish act as its own PublishReader.
func (p Publish) Read() (Publish, error) { return p, nil }

// InboundMessage is a message delivered from a Pub/Sub subscription.
type InboundMessage struct {
	// Topic is the Pub/Sub topic the message was published to.
	Topic string
	// Data is nil when the message has no data.
	Data       []byte
	Attributes map[string]string
}

// Read lets an InboundMessage act as its own InboundReader.
func (m InboundMessage) Read() (InboundMessage, error) { return m, nil }

// OutboundMessage is a Pub/Sub message produced for one destination topic.
type OutboundMessage struct {
	TopicName  string
	Attributes map[string]string
	// Data is nil when the source publish had no payload.
	Data []byte
}

// InboundReader gives the InboundTransformer access to the message being
// bridged. Reading may fail, in which case nothing is produced.
type InboundReader interface {
	Read() (InboundMessage, error)
}

// PublishReader gives the OutboundTransformer access to the publish being bridged.
type PublishReader interface {
	Read() (Publish, error)
}

// Setting names read by the transformers.
const (
	SettingQoS         = "qos"
	SettingDestination = "destination"
)

// Attribute keys the OutboundTransformer always sets, overriding any user
// property with the same name.
const (
	AttributeMQTTTopic = "mqtt-topic"
	AttributeRetained  = "retained"
	AttributeQoS       = "qos"
)
