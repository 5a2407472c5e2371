package messagepipeline

import (
	"time"
)

// Message is the internal representation of an event flowing through a bridge
// flow, whichever transport it arrived on.
type Message struct {
	MessageData

	// Topic is the topic the message arrived on: the Pub/Sub topic behind the
	// subscription, or the MQTT topic of the publish.
	Topic string

	// QoS and Retained are only meaningful for messages consumed from MQTT.
	QoS      byte
	Retained bool

	// Attributes holds the Pub/Sub attributes of the message. MQTT messages
	// have none.
	Attributes map[string]string

	// Ack signals that the message was handled and must not be redelivered.
	Ack func()

	// Nack signals that handling failed and the source should redeliver.
	Nack func()
}

// MessageData holds the identity and payload of a message.
type MessageData struct {
	ID string `json:"id"`

	// Payload is nil when the source message carried no data.
	Payload []byte `json:"payload"`

	PublishTime time.Time `json:"publishTime"`
}
