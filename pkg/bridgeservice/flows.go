package bridgeservice

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/bridge"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/metrics"
	"github.com/rs/zerolog"
)

// MQTTSink delivers transformed publishes to an MQTT broker.
type MQTTSink interface {
	Start(ctx context.Context) error
	Publish(ctx context.Context, pubs []bridge.Publish) error
	Stop(ctx context.Context) error
}

// PubSubSink delivers transformed messages to Pub/Sub topics.
type PubSubSink interface {
	Publish(ctx context.Context, msgs []bridge.OutboundMessage) error
	Stop(ctx context.Context) error
}

// InboundTransform adapts an InboundTransformer to the pipeline. A message
// that yields no publish is skipped, which Acks it.
func InboundTransform(t *bridge.InboundTransformer) messagepipeline.MessageTransformer[[]bridge.Publish] {
	return func(_ context.Context, msg *messagepipeline.Message) (*[]bridge.Publish, bool, error) {
		pubs := t.Transform(bridge.InboundMessage{
			Topic:      msg.Topic,
			Data:       msg.Payload,
			Attributes: msg.Attributes,
		})
		if len(pubs) == 0 {
			return nil, true, nil
		}
		return &pubs, false, nil
	}
}

// OutboundTransform adapts an OutboundTransformer to the pipeline. A publish
// with no deliverable destination is skipped, which Acks it.
func OutboundTransform(t *bridge.OutboundTransformer) messagepipeline.MessageTransformer[[]bridge.OutboundMessage] {
	return func(_ context.Context, msg *messagepipeline.Message) (*[]bridge.OutboundMessage, bool, error) {
		qos, err := bridge.QoSFromInt(int(msg.QoS))
		if err != nil {
			return nil, false, fmt.Errorf("mqtt message %s: %w", msg.ID, err)
		}
		out := t.Transform(bridge.Publish{
			Topic:   msg.Topic,
			QoS:     qos,
			Retain:  msg.Retained,
			Payload: msg.Payload,
		})
		if len(out) == 0 {
			return nil, true, nil
		}
		return &out, false, nil
	}
}

// NewInboundFlow wires Pub/Sub consumption through the InboundTransformer to
// an MQTT sink.
func NewInboundFlow(
	workers int,
	consumer messagepipeline.MessageConsumer,
	transformer *bridge.InboundTransformer,
	sink MQTTSink,
	counters metrics.CounterFactory,
	logger zerolog.Logger,
) (*messagepipeline.StreamingService[[]bridge.Publish], error) {
	if transformer == nil || sink == nil {
		return nil, fmt.Errorf("inbound flow needs a transformer and an MQTT sink")
	}
	processor := func(ctx context.Context, _ messagepipeline.Message, pubs *[]bridge.Publish) error {
		return sink.Publish(ctx, *pubs)
	}
	return messagepipeline.NewStreamingService[[]bridge.Publish](
		messagepipeline.StreamingServiceConfig{Name: "inbound", NumWorkers: workers, Metrics: counters},
		consumer, InboundTransform(transformer), processor, logger)
}

// NewOutboundFlow wires MQTT consumption through the OutboundTransformer to
// a Pub/Sub sink. Payloads larger than Pub/Sub accepts are dropped.
func NewOutboundFlow(
	workers int,
	consumer messagepipeline.MessageConsumer,
	transformer *bridge.OutboundTransformer,
	sink PubSubSink,
	counters metrics.CounterFactory,
	logger zerolog.Logger,
) (*messagepipeline.StreamingService[[]bridge.OutboundMessage], error) {
	if transformer == nil || sink == nil {
		return nil, fmt.Errorf("outbound flow needs a transformer and a Pub/Sub sink")
	}
	processor := func(ctx context.Context, _ messagepipeline.Message, msgs *[]bridge.OutboundMessage) error {
		return sink.Publish(ctx, *msgs)
	}
	return messagepipeline.NewStreamingService[[]bridge.OutboundMessage](
		messagepipeline.StreamingServiceConfig{Name: "outbound", NumWorkers: workers, Metrics: counters},
		consumer, messagepipeline.WithPayloadLimit(OutboundTransform(transformer), messagepipeline.MaxPubSubMessageBytes, logger),
		processor, logger)
}
