package messagepipeline

import (
	"context"
)

// MessageConsumer is a message source (a Pub/Sub subscription or a set of
// MQTT topic filters) feeding a flow.
type MessageConsumer interface {
	// Messages returns the channel workers receive from. It is closed once
	// the consumer has stopped.
	Messages() <-chan Message
	Start(ctx context.Context) error
	// Stop ceases consumption and waits for background tasks to finish.
	Stop(ctx context.Context) error
	Done() <-chan struct{}
}

// MessageTransformer turns a consumed Message into a payload of type T.
//
// Returning skip=true Acks the message without calling the processor. This is
// how a flow drops a message that produced nothing to deliver.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// StreamProcessor delivers one transformed payload. A returned error Nacks
// the original message.
type StreamProcessor[T any] func(ctx context.Context, original Message, payload *T) error

// ConnectionReporter is implemented by transports that hold a live
// connection, so readiness probes can ask about it.
type ConnectionReporter interface {
	IsConnected() bool
}
