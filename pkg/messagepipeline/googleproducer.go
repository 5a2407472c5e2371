package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/bridge"
	"github.com/rs/zerolog"
)

// GooglePubsubProducerConfig holds configuration for the Pub/Sub producer.
type GooglePubsubProducerConfig struct {
	ProjectID                  string
	BatchSize                  int           // Pub/Sub CountThreshold.
	BatchDelay                 time.Duration // Pub/Sub DelayThreshold.
	NumGoroutines              int
	PublishConfirmationTimeout time.Duration
}

// NewGooglePubsubProducerDefaults provides a config with sensible defaults.
func NewGooglePubsubProducerDefaults(projectID string) *GooglePubsubProducerConfig {
	return &GooglePubsubProducerConfig{
		ProjectID:                  projectID,
		BatchSize:                  100,
		BatchDelay:                 10 * time.Millisecond,
		NumGoroutines:              5,
		PublishConfirmationTimeout: 20 * time.Second,
	}
}

// GooglePubsubProducer publishes bridge.OutboundMessage values to the topic
// each message names. Topic handles are created on first use and reused.
type GooglePubsubProducer struct {
	client *pubsub.Client
	cfg    GooglePubsubProducerConfig
	logger zerolog.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	closed bool
}

// NewGooglePubsubProducer creates a producer. Destination topics are not
// checked up front; they come from per-connection settings.
func NewGooglePubsubProducer(cfg *GooglePubsubProducerConfig, client *pubsub.Client, logger zerolog.Logger) (*GooglePubsubProducer, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for producer")
	}
	if cfg.PublishConfirmationTimeout <= 0 {
		cfg.PublishConfirmationTimeout = 20 * time.Second
	}
	return &GooglePubsubProducer{
		client: client,
		cfg:    *cfg,
		logger: logger.With().Str("component", "GooglePubsubProducer").Logger(),
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// topic resolves a bare topic id or a fully qualified
// "projects/<p>/topics/<id>" name to a cached handle.
func (p *GooglePubsubProducer) topic(name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("producer is stopped")
	}
	if t, ok := p.topics[name]; ok {
		return t, nil
	}

	var t *pubsub.Topic
	if rest, ok := strings.CutPrefix(name, "projects/"); ok {
		project, id, found := strings.Cut(rest, "/topics/")
		if !found {
			return nil, fmt.Errorf("%w: %s", bridge.ErrInvalidTopic, name)
		}
		t = p.client.TopicInProject(id, project)
	} else {
		t = p.client.Topic(name)
	}
	t.PublishSettings.CountThreshold = p.cfg.BatchSize
	t.PublishSettings.DelayThreshold = p.cfg.BatchDelay
	if p.cfg.NumGoroutines > 0 {
		t.PublishSettings.NumGoroutines = p.cfg.NumGoroutines
	}
	p.topics[name] = t
	p.logger.Debug().Str("topic", name).Msg("Created publisher for topic.")
	return t, nil
}

// Publish sends every message and waits for all results. The returned error
// joins every failed publish, so a caller Nacking on error gets redelivery
// for the whole batch.
func (p *GooglePubsubProducer) Publish(ctx context.Context, msgs []bridge.OutboundMessage) error {
	type pending struct {
		topic string
		res   *pubsub.PublishResult
	}
	results := make([]pending, 0, len(msgs))
	var errs []error

	for _, m := range msgs {
		t, err := p.topic(m.TopicName)
		if err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", m.TopicName, err))
			continue
		}
		results = append(results, pending{
			topic: m.TopicName,
			res:   t.Publish(ctx, &pubsub.Message{Data: m.Data, Attributes: m.Attributes}),
		})
	}

	getCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishConfirmationTimeout)
	defer cancel()
	for _, r := range results {
		id, err := r.res.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Str("topic", r.topic).Msg("Failed to publish message.")
			errs = append(errs, fmt.Errorf("publish to %s: %w", r.topic, err))
			continue
		}
		p.logger.Debug().Str("topic", r.topic).Str("pubsub_msg_id", id).Msg("Message published.")
	}
	return errors.Join(errs...)
}

// Stop flushes and stops every topic publisher, bounded by ctx.
func (p *GooglePubsubProducer) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	topics := make([]*pubsub.Topic, 0, len(p.topics))
	for _, t := range p.topics {
		topics = append(topics, t)
	}
	p.mu.Unlock()

	p.logger.Info().Int("topics", len(topics)).Msg("Flushing and stopping Pub/Sub publishers...")
	stopDone := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, t := range topics {
			wg.Add(1)
			go func(t *pubsub.Topic) {
				defer wg.Done()
				t.Stop()
			}(t)
		}
		wg.Wait()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		p.logger.Info().Msg("Pub/Sub producer stopped.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for Pub/Sub publishers to flush.")
		return ctx.Err()
	}
}
