package bridge

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/metrics"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/settings"
	"github.com/rs/zerolog"
)

// OutboundConfig configures an OutboundTransformer.
type OutboundConfig struct {
	// NewMessageBuilder overrides the builder used for each destination.
	NewMessageBuilder func() MessageBuilder
}

// OutboundInit is everything the host hands an OutboundTransformer at Init.
// Metrics is optional.
type OutboundInit struct {
	Connection settings.Connection
	Settings   settings.Source
	Metrics    metrics.CounterFactory
}

type outboundState struct {
	resolved
	failed  metrics.Counter
	dropped metrics.Counter
}

// OutboundTransformer fans an MQTT publish out to one Pub/Sub message per
// configured "destination" setting.
type OutboundTransformer struct {
	cfg    OutboundConfig
	logger zerolog.Logger
	once   sync.Once
	state  atomic.Pointer[outboundState]
}

// NewOutboundTransformer creates an Uninitialized transformer.
func NewOutboundTransformer(cfg OutboundConfig, logger zerolog.Logger) *OutboundTransformer {
	if cfg.NewMessageBuilder == nil {
		cfg.NewMessageBuilder = NewMessageBuilder
	}
	return &OutboundTransformer{
		cfg:    cfg,
		logger: logger.With().Str("component", "OutboundTransformer").Logger(),
	}
}

// State reports whether Init has completed.
func (t *OutboundTransformer) State() State {
	if t.state.Load() == nil {
		return Uninitialized
	}
	return Ready
}

// Init resolves the settings once. A failure is logged and leaves the
// transformer without destinations.
func (t *OutboundTransformer) Init(in OutboundInit) {
	called := false
	t.once.Do(func() {
		called = true
		logger := t.logger.With().Str("connection_id", in.Connection.ID).Logger()
		st := &outboundState{resolved: resolved{connection: in.Connection, logger: logger}}

		s, err := resolveSettings(in.Settings)
		if err != nil {
			logger.Error().Err(err).Msg("MQTT to Pub/Sub transformer initialisation failed.")
		} else {
			st.settings, st.hasSettings = s, true
		}

		factory := in.Metrics
		if factory == nil {
			factory = metrics.Discard
		}
		st.failed, _ = resolveCounter(factory, OutboundFailedCounterName)
		st.dropped, _ = resolveCounter(factory, DestinationDroppedCounterName)

		t.state.Store(st)
		if err == nil {
			logger.Info().
				Str("project_id", in.Connection.ProjectID).
				Int("destinations", len(s.All(SettingDestination))).
				Msg("MQTT to Pub/Sub transformer initialized.")
		}
	})
	if !called {
		t.logger.Warn().Str("connection_id", in.Connection.ID).Msg("Init called more than once, ignoring.")
	}
}

func (t *OutboundTransformer) current() *outboundState {
	if st := t.state.Load(); st != nil {
		return st
	}
	return &outboundState{
		resolved: resolved{logger: t.logger},
		failed:   metrics.Discard.Counter(OutboundFailedCounterName),
		dropped:  metrics.Discard.Counter(DestinationDroppedCounterName),
	}
}

// Destinations returns the configured destination topics in declaration order.
func (t *OutboundTransformer) Destinations() []string {
	st := t.current()
	if !st.hasSettings {
		return nil
	}
	return st.settings.All(SettingDestination)
}

// Transform builds one message per destination, in destination order.
// A destination whose message cannot be built is logged and left out; the
// others are still produced. If the publish itself cannot be read the result
// is empty. Transform never panics and never returns nil.
func (t *OutboundTransformer) Transform(in PublishReader) []OutboundMessage {
	st := t.current()

	pub := guard(func() (Publish, error) {
		if in == nil {
			return Publish{}, fmt.Errorf("publish reader: %w", ErrNilInput)
		}
		return in.Read()
	})
	if pub.failed() {
		st.logger.Error().Err(pub.err).Msg("MQTT to Pub/Sub transformation failed.")
		st.failed.Inc()
		return []OutboundMessage{}
	}

	var destinations []string
	if st.hasSettings {
		destinations = st.settings.All(SettingDestination)
	}
	out := make([]OutboundMessage, 0, len(destinations))
	for _, destination := range destinations {
		o := guard(func() (OutboundMessage, error) { return t.buildMessage(destination, pub.value) })
		if o.failed() {
			st.logger.Error().Err(o.err).
				Str("mqtt_topic", pub.value.Topic).
				Str("destination", destination).
				Msg("Could not create a Pub/Sub message from MQTT publish.")
			st.dropped.Inc()
			continue
		}
		out = append(out, o.value)
	}
	return out
}

func (t *OutboundTransformer) buildMessage(destination string, pub Publish) (OutboundMessage, error) {
	b := t.cfg.NewMessageBuilder()
	if b == nil {
		return OutboundMessage{}, fmt.Errorf("message builder: %w", ErrNilInput)
	}
	b.SetTopicName(destination)
	for _, p := range pub.UserProperties {
		b.SetAttribute(p.Name, p.Value)
	}
	// Transport metadata always wins over user properties of the same name.
	b.SetAttribute(AttributeMQTTTopic, pub.Topic)
	b.SetAttribute(AttributeRetained, strconv.FormatBool(pub.Retain))
	b.SetAttribute(AttributeQoS, strconv.Itoa(int(pub.QoS)))
	if pub.Payload != nil {
		b.SetData(pub.Payload)
	}

	msg, err := b.Build()
	if err != nil {
		return OutboundMessage{}, fmt.Errorf("build message for destination %s: %w", destination, err)
	}
	return msg, nil
}
