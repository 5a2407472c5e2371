package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/metrics"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/settings"
	"github.com/rs/zerolog"
)

// InboundConfig configures an InboundTransformer. The zero value publishes
// to DefaultMQTTTopic with the builder's default QoS of AtMostOnce.
type InboundConfig struct {
	// TopicPolicy picks the MQTT topic. Defaults to FixedTopic(DefaultMQTTTopic).
	TopicPolicy TopicPolicy
	// DefaultQoS applies when the settings carry no "qos" entry.
	DefaultQoS QoS
	// NewPublishBuilder overrides the builder used for each publish.
	NewPublishBuilder func() PublishBuilder
}

// InboundInit is everything the host hands an InboundTransformer at Init.
type InboundInit struct {
	Connection settings.Connection
	Settings   settings.Source
	Metrics    metrics.CounterFactory
}

type inboundState struct {
	resolved
	missingData metrics.Counter
	failed      metrics.Counter
}

// InboundTransformer turns Pub/Sub messages into MQTT publishes.
//
// Init runs once before Transform; after that the transformer only reads its
// state, so Transform is safe for concurrent use. The missing-data counter is
// the only shared value written by Transform and it is atomic.
type InboundTransformer struct {
	cfg    InboundConfig
	logger zerolog.Logger
	once   sync.Once
	state  atomic.Pointer[inboundState]
}

// NewInboundTransformer creates an Uninitialized transformer.
func NewInboundTransformer(cfg InboundConfig, logger zerolog.Logger) *InboundTransformer {
	if cfg.TopicPolicy == nil {
		cfg.TopicPolicy = FixedTopic(DefaultMQTTTopic)
	}
	if cfg.NewPublishBuilder == nil {
		defaultQoS := cfg.DefaultQoS
		cfg.NewPublishBuilder = func() PublishBuilder { return NewPublishBuilder(defaultQoS) }
	}
	return &InboundTransformer{
		cfg:    cfg,
		logger: logger.With().Str("component", "InboundTransformer").Logger(),
	}
}

// State reports whether Init has completed.
func (t *InboundTransformer) State() State {
	if t.state.Load() == nil {
		return Uninitialized
	}
	return Ready
}

// Init resolves settings and counters. Failures are logged and leave the
// transformer degraded: missing settings act as an empty configuration and a
// missing counter records nothing. Only the first call has any effect.
func (t *InboundTransformer) Init(in InboundInit) {
	called := false
	t.once.Do(func() {
		called = true
		logger := t.logger.With().Str("connection_id", in.Connection.ID).Logger()
		st := &inboundState{resolved: resolved{connection: in.Connection, logger: logger}}

		s, err := resolveSettings(in.Settings)
		if err != nil {
			logger.Error().Err(err).Msg("Pub/Sub to MQTT transformer initialisation failed: settings unavailable.")
		} else {
			st.settings, st.hasSettings = s, true
		}

		var cerr error
		if st.missingData, cerr = resolveCounter(in.Metrics, MissingDataCounterName); cerr != nil {
			logger.Error().Err(cerr).Msg("Pub/Sub to MQTT transformer initialisation failed: metrics unavailable.")
		}
		st.failed, _ = resolveCounter(in.Metrics, InboundFailedCounterName)

		t.state.Store(st)
		if err == nil && cerr == nil {
			logger.Info().Str("project_id", in.Connection.ProjectID).Msg("Pub/Sub to MQTT transformer initialized.")
		}
	})
	if !called {
		t.logger.Warn().Str("connection_id", in.Connection.ID).Msg("Init called more than once, ignoring.")
	}
}

// current returns the state published by Init, or an empty one before Init.
func (t *InboundTransformer) current() *inboundState {
	if st := t.state.Load(); st != nil {
		return st
	}
	return &inboundState{
		resolved:    resolved{logger: t.logger},
		missingData: metrics.Discard.Counter(MissingDataCounterName),
		failed:      metrics.Discard.Counter(InboundFailedCounterName),
	}
}

// Transform builds exactly one publish from the message, or none if any
// step fails. It never panics and never returns an error; failures are
// logged and counted.
func (t *InboundTransformer) Transform(in InboundReader) []Publish {
	st := t.current()
	o := guard(func() (Publish, error) { return t.transform(st, in) })
	if o.failed() {
		st.logger.Error().Err(o.err).Msg("Pub/Sub to MQTT transformation failed.")
		st.failed.Inc()
		return nil
	}
	return []Publish{o.value}
}

func (t *InboundTransformer) transform(st *inboundState, in InboundReader) (Publish, error) {
	if in == nil {
		return Publish{}, fmt.Errorf("inbound reader: %w", ErrNilInput)
	}
	msg, err := in.Read()
	if err != nil {
		return Publish{}, fmt.Errorf("read inbound message: %w", err)
	}

	b := t.cfg.NewPublishBuilder()
	if b == nil {
		return Publish{}, fmt.Errorf("publish builder: %w", ErrNilInput)
	}

	topic, err := t.cfg.TopicPolicy(msg, st.settings)
	if err != nil {
		return Publish{}, fmt.Errorf("resolve mqtt topic: %w", err)
	}
	b.SetTopic(topic)

	if st.hasSettings {
		if raw, ok := st.settings.First(SettingQoS); ok {
			qos, err := ParseQoS(raw)
			if err != nil {
				st.logger.Debug().Err(err).Msg("Could not parse qos from custom settings. Using qos 0.")
				qos = AtMostOnce
			}
			b.SetQoS(qos)
		}
	}

	if msg.Data != nil {
		b.SetPayload(msg.Data)
	} else {
		// A publish needs at least an empty payload.
		b.SetPayload([]byte{})
		st.missingData.Inc()
	}

	for _, k := range sortedKeys(msg.Attributes) {
		b.AddUserProperty(k, msg.Attributes[k])
	}

	p, err := b.Build()
	if err != nil {
		return Publish{}, fmt.Errorf("build publish for topic %s: %w", topic, err)
	}
	return p, nil
}
