package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/bridge"
	"github.com/rs/zerolog"
)

// MqttPublisher delivers bridge.Publish values to an MQTT broker.
//
// paho speaks MQTT 3.1.1, which has no user properties. They are logged at
// debug level and not sent.
type MqttPublisher struct {
	client         mqtt.Client
	cfg            *MQTTClientConfig
	logger         zerolog.Logger
	publishTimeout time.Duration
}

// NewMqttPublisher creates a publisher. client may be nil, in which case one
// is built from cfg.
func NewMqttPublisher(cfg *MQTTClientConfig, client mqtt.Client, logger zerolog.Logger) (*MqttPublisher, error) {
	logger = logger.With().Str("component", "MqttPublisher").Logger()
	if client == nil {
		if cfg.BrokerURL == "" {
			return nil, fmt.Errorf("MQTT broker URL is required")
		}
		opts := newClientOptions(cfg, "publisher", logger)
		opts.SetOnConnectHandler(func(mqtt.Client) {
			logger.Info().Str("broker", cfg.BrokerURL).Msg("Paho publisher connected to MQTT broker.")
		})
		client = mqtt.NewClient(opts)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MqttPublisher{client: client, cfg: cfg, logger: logger, publishTimeout: timeout}, nil
}

// Start connects to the broker. A failed connection is returned; paho keeps
// retrying in the background either way.
func (p *MqttPublisher) Start(ctx context.Context) error {
	if p.client.IsConnected() {
		return nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()
	if err := waitToken(connectCtx, p.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect MQTT publisher: %w", err)
	}
	return nil
}

// IsConnected reports the state of the underlying paho client.
func (p *MqttPublisher) IsConnected() bool { return p.client.IsConnected() }

// Publish sends each publish in order and waits for the broker to confirm
// it at the requested QoS. The first failure stops the batch.
func (p *MqttPublisher) Publish(ctx context.Context, pubs []bridge.Publish) error {
	for _, pub := range pubs {
		if len(pub.UserProperties) > 0 {
			p.logger.Debug().
				Str("topic", pub.Topic).
				Int("user_properties", len(pub.UserProperties)).
				Msg("MQTT 3.1.1 cannot carry user properties, dropping them.")
		}
		payload := pub.Payload
		if payload == nil {
			payload = []byte{}
		}

		publishCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
		err := waitToken(publishCtx, p.client.Publish(pub.Topic, byte(pub.QoS), pub.Retain, payload))
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("timed out waiting for broker: %w", err)
			}
			return fmt.Errorf("publish to %s: %w", pub.Topic, err)
		}
		p.logger.Debug().Str("topic", pub.Topic).Stringer("qos", pub.QoS).Msg("Published MQTT message.")
	}
	return nil
}

// Stop disconnects from the broker, allowing in-flight work a short grace
// period.
func (p *MqttPublisher) Stop(_ context.Context) error {
	if p.client.IsConnected() {
		p.client.Disconnect(500)
	}
	p.logger.Info().Msg("MqttPublisher stopped.")
	return nil
}
