package messagepipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/metrics"
	"github.com/rs/zerolog"
)

// StreamingServiceConfig holds configuration for a StreamingService.
type StreamingServiceConfig struct {
	// Name identifies the flow in logs and counter names, e.g. "inbound".
	Name       string
	NumWorkers int
	// Metrics is optional. When set the service counts processed, skipped
	// and nacked messages as "<Name>.processed.count" and so on.
	Metrics metrics.CounterFactory
}

// StreamingService runs a pool of workers that take messages from a consumer,
// transform them and hand each result straight to a processor. Every message
// is Acked or Nacked exactly once.
type StreamingService[T any] struct {
	name        string
	numWorkers  int
	consumer    MessageConsumer
	transformer MessageTransformer[T]
	processor   StreamProcessor[T]
	logger      zerolog.Logger
	wg          sync.WaitGroup

	processed metrics.Counter
	skipped   metrics.Counter
	nacked    metrics.Counter
}

// NewStreamingService creates a new StreamingService.
func NewStreamingService[T any](
	cfg StreamingServiceConfig,
	consumer MessageConsumer,
	transformer MessageTransformer[T],
	processor StreamProcessor[T],
	logger zerolog.Logger,
) (*StreamingService[T], error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5
	}
	if cfg.Name == "" {
		cfg.Name = "stream"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Discard
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if transformer == nil {
		return nil, fmt.Errorf("transformer cannot be nil")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}

	return &StreamingService[T]{
		name:        cfg.Name,
		numWorkers:  cfg.NumWorkers,
		consumer:    consumer,
		transformer: transformer,
		processor:   processor,
		logger:      logger.With().Str("service", "StreamingService").Str("flow", cfg.Name).Logger(),
		processed:   cfg.Metrics.Counter(cfg.Name + ".processed.count"),
		skipped:     cfg.Metrics.Counter(cfg.Name + ".skipped.count"),
		nacked:      cfg.Metrics.Counter(cfg.Name + ".nacked.count"),
	}, nil
}

// Start starts the consumer and then the worker pool.
func (s *StreamingService[T]) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting streaming service...")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting processing workers...")
	s.wg.Add(s.numWorkers)
	for i := 0; i < s.numWorkers; i++ {
		go s.worker(ctx, i)
	}

	s.logger.Info().Msg("Streaming service started.")
	return nil
}

// Stop stops the consumer first, then waits for in-flight messages.
func (s *StreamingService[T]) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping streaming service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()

	select {
	case <-workerDone:
		s.logger.Info().Msg("All processing workers completed.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing workers to finish.")
		return ctx.Err()
	}

	s.logger.Info().Msg("Streaming service stopped.")
	return nil
}

func (s *StreamingService[T]) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Processing worker started.")
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Int("worker_id", workerID).Msg("Processing worker shutting down due to context cancellation.")
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.processConsumedMessage(ctx, msg)
		}
	}
}

func (s *StreamingService[T]) processConsumedMessage(ctx context.Context, msg Message) {
	logger := s.logger.With().Str("msg_id", msg.ID).Str("topic", msg.Topic).Logger()

	payload, skip, err := s.transformer(ctx, &msg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to transform message, Nacking.")
		s.nack(msg)
		return
	}
	if skip {
		logger.Debug().Msg("Nothing to deliver for message, Acking.")
		s.skipped.Inc()
		ack(msg)
		return
	}

	if err := s.processor(ctx, msg, payload); err != nil {
		logger.Error().Err(err).Msg("Processor failed to handle message, Nacking.")
		s.nack(msg)
		return
	}

	logger.Debug().Msg("Message processed, Acking.")
	s.processed.Inc()
	ack(msg)
}

func (s *StreamingService[T]) nack(msg Message) {
	s.nacked.Inc()
	if msg.Nack != nil {
		msg.Nack()
	}
}

func ack(msg Message) {
	if msg.Ack != nil {
		msg.Ack()
	}
}
