package messagepipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MqttConsumer implements MessageConsumer for a set of MQTT topic filters.
// Messages are acknowledged to the broker only when the flow Acks them.
type MqttConsumer struct {
	client     mqtt.Client
	ownsClient bool
	cfg        *MQTTClientConfig
	logger     zerolog.Logger

	mu         sync.RWMutex
	closed     bool
	outputChan chan Message
	stopChan   chan struct{}
	doneChan   chan struct{}
	stopOnce   sync.Once
}

// NewMqttConsumer creates a consumer. client may be nil, in which case one is
// built from cfg when Start is called.
func NewMqttConsumer(cfg *MQTTClientConfig, client mqtt.Client, logger zerolog.Logger) (*MqttConsumer, error) {
	if cfg.BrokerURL == "" && client == nil {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("at least one MQTT topic filter is required")
	}
	return &MqttConsumer{
		client:     client,
		cfg:        cfg,
		logger:     logger.With().Str("component", "MqttConsumer").Logger(),
		outputChan: make(chan Message, 1000),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// Messages returns the channel of consumed messages.
func (c *MqttConsumer) Messages() <-chan Message { return c.outputChan }

// Done is closed when the consumer has stopped.
func (c *MqttConsumer) Done() <-chan struct{} { return c.doneChan }

// IsConnected reports the state of the underlying paho client.
func (c *MqttConsumer) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Start connects and subscribes. A failed initial connection is logged and
// left to paho's reconnect loop; subscriptions are renewed on every connect.
func (c *MqttConsumer) Start(ctx context.Context) error {
	if c.client == nil {
		opts := newClientOptions(c.cfg, "consumer", c.logger)
		opts.SetAutoAckDisabled(true)
		opts.SetOnConnectHandler(func(client mqtt.Client) {
			c.logger.Info().Str("broker", c.cfg.BrokerURL).Msg("Paho client connected to MQTT broker.")
			go c.subscribe(ctx, client)
		})
		c.client = mqtt.NewClient(opts)
		c.ownsClient = true
	}

	c.logger.Info().Strs("topics", c.cfg.Topics).Msg("Connecting to MQTT broker...")
	if !c.client.IsConnected() {
		token := c.client.Connect()
		if token.WaitTimeout(c.connectTimeout()) && token.Error() != nil {
			c.logger.Error().Err(token.Error()).Msg("Failed to connect to MQTT broker on startup, paho will keep retrying.")
		}
	}
	if !c.ownsClient {
		c.subscribe(ctx, c.client)
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop(context.Background())
		case <-c.stopChan:
		}
	}()
	return nil
}

func (c *MqttConsumer) connectTimeout() time.Duration {
	if c.cfg.ConnectTimeout > 0 {
		return c.cfg.ConnectTimeout
	}
	return 10 * time.Second
}

func (c *MqttConsumer) subscribe(ctx context.Context, client mqtt.Client) {
	handler := c.handleIncomingMessage(ctx)
	for _, topic := range c.cfg.Topics {
		token := client.Subscribe(topic, c.cfg.QoS, handler)
		if token.WaitTimeout(c.connectTimeout()) && token.Error() != nil {
			c.logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe to MQTT topic.")
			continue
		}
		c.logger.Info().Str("topic", topic).Uint8("qos", c.cfg.QoS).Msg("Subscribed to MQTT topic.")
	}
}

func (c *MqttConsumer) handleIncomingMessage(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		payload := make([]byte, len(msg.Payload()))
		copy(payload, msg.Payload())

		consumed := Message{
			MessageData: MessageData{
				ID:          strconv.Itoa(int(msg.MessageID())),
				Payload:     payload,
				PublishTime: time.Now().UTC(),
			},
			Topic:    msg.Topic(),
			QoS:      msg.Qos(),
			Retained: msg.Retained(),
			Ack:      msg.Ack,
			// MQTT has no negative acknowledgement. Leaving the message
			// unacked makes a persistent session redeliver it.
			Nack: func() {},
		}

		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.closed {
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer stopped, dropping MQTT message.")
			return
		}
		select {
		case c.outputChan <- consumed:
		case <-ctx.Done():
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer is shutting down, dropping MQTT message.")
		case <-c.stopChan:
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer is shutting down, dropping MQTT message.")
		}
	}
}

// Stop unsubscribes, disconnects an owned client and closes the output channel.
func (c *MqttConsumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping MqttConsumer...")
		close(c.stopChan)
		if c.client != nil && c.client.IsConnected() {
			if token := c.client.Unsubscribe(c.cfg.Topics...); token.WaitTimeout(2*time.Second) && token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Msg("Failed to unsubscribe from MQTT topics.")
			}
			c.client.Disconnect(500)
		}
		c.mu.Lock()
		c.closed = true
		close(c.outputChan)
		c.mu.Unlock()
		close(c.doneChan)
		c.logger.Info().Msg("MqttConsumer stopped.")
	})
	return nil
}
