package bridge

import (
	"fmt"
	"maps"
)

// PublishBuilder assembles one MQTT publish. Build validates the result.
type PublishBuilder interface {
	SetTopic(topic string)
	SetQoS(qos QoS)
	SetPayload(payload []byte)
	AddUserProperty(name, value string)
	Build() (Publish, error)
}

// MessageBuilder assembles one outbound Pub/Sub message. Build validates the result.
type MessageBuilder interface {
	SetTopicName(name string)
	// SetAttribute sets key to value, replacing any earlier value.
	SetAttribute(key, value string)
	SetData(data []byte)
	Build() (OutboundMessage, error)
}

// publishBuilder is the default PublishBuilder.
type publishBuilder struct {
	topic      string
	qos        QoS
	payload    []byte
	properties []UserProperty
}

// NewPublishBuilder returns a builder whose QoS is defaultQoS unless SetQoS is called.
func NewPublishBuilder(defaultQoS QoS) PublishBuilder {
	return &publishBuilder{qos: defaultQoS}
}

func (b *publishBuilder) SetTopic(topic string) { b.topic = topic }
func (b *publishBuilder) SetQoS(qos QoS)        { b.qos = qos }

func (b *publishBuilder) SetPayload(payload []byte) {
	b.payload = payload
}

func (b *publishBuilder) AddUserProperty(name, value string) {
	b.properties = append(b.properties, UserProperty{Name: name, Value: value})
}

func (b *publishBuilder) Build() (Publish, error) {
	if err := ValidatePublishTopic(b.topic); err != nil {
		return Publish{}, err
	}
	if !b.qos.Valid() {
		return Publish{}, fmt.Errorf("%w: %d", ErrInvalidQoS, uint8(b.qos))
	}
	if b.payload == nil {
		return Publish{}, ErrMissingPayload
	}

	payload := make([]byte, len(b.payload))
	copy(payload, b.payload)
	var props []UserProperty
	if len(b.properties) > 0 {
		props = make([]UserProperty, len(b.properties))
		copy(props, b.properties)
	}
	return Publish{
		Topic:          b.topic,
		QoS:            b.qos,
		Payload:        payload,
		UserProperties: props,
	}, nil
}

// messageBuilder is the default MessageBuilder.
type messageBuilder struct {
	topicName  string
	attributes map[string]string
	data       []byte
}

// NewMessageBuilder returns the default outbound message builder.
func NewMessageBuilder() MessageBuilder {
	return &messageBuilder{attributes: make(map[string]string)}
}

func (b *messageBuilder) SetTopicName(name string)       { b.topicName = name }
func (b *messageBuilder) SetAttribute(key, value string) { b.attributes[key] = value }
func (b *messageBuilder) SetData(data []byte)            { b.data = data }

func (b *messageBuilder) Build() (OutboundMessage, error) {
	if err := ValidatePubSubTopic(b.topicName); err != nil {
		return OutboundMessage{}, err
	}
	for k, v := range b.attributes {
		if err := ValidateAttribute(k, v); err != nil {
			return OutboundMessage{}, err
		}
	}

	var data []byte
	if b.data != nil {
		data = make([]byte, len(b.data))
		copy(data, b.data)
	}
	return OutboundMessage{
		TopicName:  b.topicName,
		Attributes: maps.Clone(b.attributes),
		Data:       data,
	}, nil
}
