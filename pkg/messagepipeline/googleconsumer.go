package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// GooglePubsubConsumerConfig configures a GooglePubsubConsumer.
type GooglePubsubConsumerConfig struct {
	ProjectID              string
	SubscriptionID         string
	MaxOutstandingMessages int
	NumGoroutines          int
	// SubscriptionCheckTimeout bounds the existence check made at construction.
	SubscriptionCheckTimeout time.Duration
}

// NewGooglePubsubConsumerDefaults returns a config with sensible defaults for
// the given subscription.
func NewGooglePubsubConsumerDefaults(subID string) *GooglePubsubConsumerConfig {
	return &GooglePubsubConsumerConfig{
		SubscriptionID:           subID,
		MaxOutstandingMessages:   100,
		NumGoroutines:            5,
		SubscriptionCheckTimeout: 20 * time.Second,
	}
}

// GooglePubsubConsumer receives from a Pub/Sub subscription and emits each
// message as a Message carrying the subscription's topic.
type GooglePubsubConsumer struct {
	subscription       *pubsub.Subscription
	topic              string
	logger             zerolog.Logger
	outputChan         chan Message
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
	started            bool
}

// NewGooglePubsubConsumer checks that the subscription exists and resolves the
// topic it is attached to.
func NewGooglePubsubConsumer(cfg *GooglePubsubConsumerConfig, client *pubsub.Client, logger zerolog.Logger) (*GooglePubsubConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for consumer")
	}
	if cfg.SubscriptionCheckTimeout <= 0 {
		cfg.SubscriptionCheckTimeout = 20 * time.Second
	}
	sub := client.Subscription(cfg.SubscriptionID)

	checkCtx, cancel := context.WithTimeout(context.Background(), cfg.SubscriptionCheckTimeout)
	defer cancel()
	exists, err := sub.Exists(checkCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}

	logger = logger.With().Str("component", "GooglePubsubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger()

	var topic string
	subCfg, err := sub.Config(checkCtx)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not read subscription config, messages will carry no topic.")
	} else if subCfg.Topic != nil {
		topic = subCfg.Topic.String()
	}

	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	bufferSize := cfg.MaxOutstandingMessages
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &GooglePubsubConsumer{
		subscription: sub,
		topic:        topic,
		logger:       logger,
		outputChan:   make(chan Message, bufferSize),
		doneChan:     make(chan struct{}),
	}, nil
}

// Messages returns the channel of consumed messages.
func (c *GooglePubsubConsumer) Messages() <-chan Message { return c.outputChan }

// Done is closed once the receive loop has exited.
func (c *GooglePubsubConsumer) Done() <-chan struct{} { return c.doneChan }

// Start launches the receive loop in the background.
func (c *GooglePubsubConsumer) Start(ctx context.Context) error {
	c.logger.Info().Str("topic", c.topic).Msg("Starting Pub/Sub message consumption...")
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel
	c.started = true

	go func() {
		defer close(c.doneChan)
		defer close(c.outputChan)

		err := c.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			consumed := c.toMessage(msg)
			select {
			case c.outputChan <- consumed:
			case <-receiveCtx.Done():
				msg.Nack()
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message.")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error.")
		}
		c.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")
	}()
	return nil
}

// toMessage copies the payload so the Message outlives the receive callback.
// Zero-length data is treated as an absent payload.
func (c *GooglePubsubConsumer) toMessage(msg *pubsub.Message) Message {
	var payload []byte
	if len(msg.Data) > 0 {
		payload = make([]byte, len(msg.Data))
		copy(payload, msg.Data)
	}
	attributes := make(map[string]string, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attributes[k] = v
	}
	return Message{
		MessageData: MessageData{
			ID:          msg.ID,
			Payload:     payload,
			PublishTime: msg.PublishTime,
		},
		Topic:      c.topic,
		Attributes: attributes,
		Ack:        msg.Ack,
		Nack:       msg.Nack,
	}
}

// Stop cancels the receive loop and waits for it to exit, bounded by ctx.
func (c *GooglePubsubConsumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if !c.started {
			close(c.outputChan)
			close(c.doneChan)
			return
		}
		c.cancelSubscription()
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("Pub/Sub consumer stopped.")
		case <-ctx.Done():
			err = ctx.Err()
			c.logger.Error().Err(err).Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
		}
	})
	return err
}
