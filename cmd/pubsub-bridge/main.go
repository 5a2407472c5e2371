// Command pubsub-bridge moves messages between a Pub/Sub subscription and an
// MQTT broker in both directions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/bridge"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/bridgeconfig"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/bridgeservice"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/metrics"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/settings"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

func main() {
	configPath := flag.String("config", "bridge.yaml", "path to the YAML config file; a missing file is ignored")
	flag.Parse()

	cfg, err := bridgeconfig.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Bridge exited with error")
	}
}

func newLogger(cfg *bridgeconfig.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().
		Str("service", "pubsub-bridge").
		Str("connection_id", cfg.Connection.ID).
		Logger()
}

func clientOptions(cfg *bridgeconfig.Config) []option.ClientOption {
	if cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
}

// newSettingsProvider returns the provider selected by settings.source and a
// cleanup for any client it opened.
func newSettingsProvider(ctx context.Context, cfg *bridgeconfig.Config, logger zerolog.Logger) (settings.Provider, func(), error) {
	noop := func() {}
	newFirestore := func() (settings.Provider, func(), error) {
		fsCfg := cfg.Settings.Firestore
		client, err := firestore.NewClient(ctx, fsCfg.ProjectID, clientOptions(cfg)...)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create firestore client: %w", err)
		}
		p, err := settings.NewFirestoreProvider(&fsCfg, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return p, func() { _ = client.Close() }, nil
	}

	switch cfg.Settings.Source {
	case bridgeconfig.SourceRedis:
		p, err := settings.NewRedisProvider(ctx, &cfg.Settings.Redis, logger)
		return p, noop, err
	case bridgeconfig.SourceFirestore:
		return newFirestore()
	case bridgeconfig.SourceCached:
		redisProvider, err := settings.NewRedisProvider(ctx, &cfg.Settings.Redis, logger)
		if err != nil {
			return nil, noop, err
		}
		fsProvider, cleanup, err := newFirestore()
		if err != nil {
			_ = redisProvider.Close()
			return nil, noop, err
		}
		p, err := settings.NewFallbackProvider(redisProvider, fsProvider, logger)
		return p, cleanup, err
	default:
		return settings.NewInMemoryProvider(map[string]settings.Settings{
			cfg.Connection.ID: cfg.InlineSettings(),
		}), noop, nil
	}
}

func run(ctx context.Context, cfg *bridgeconfig.Config, logger zerolog.Logger) error {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	counters := metrics.NewRegistry(metrics.RegistryConfig{
		Namespace:   cfg.Metrics.Namespace,
		ConstLabels: prometheus.Labels{"connection_id": cfg.Connection.ID},
	}, promRegistry, logger)

	provider, closeProvider, err := newSettingsProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("settings provider: %w", err)
	}
	defer closeProvider()
	defer func() { _ = provider.Close() }()
	source := settings.ProviderSource(ctx, provider, cfg.Connection.ID)

	psClient, err := pubsub.NewClient(ctx, cfg.Connection.ProjectID, clientOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to create pubsub client: %w", err)
	}
	defer func() { _ = psClient.Close() }()

	opts := bridgeservice.Options{HTTPPort: cfg.HTTPPort, Counters: counters, Gatherer: promRegistry}

	if cfg.Inbound.Enabled {
		in, err := newInbound(cfg, psClient, source, counters, logger)
		if err != nil {
			return err
		}
		opts.Inbound = in
	}
	if cfg.Outbound.Enabled {
		out, err := newOutbound(cfg, psClient, source, counters, logger)
		if err != nil {
			return err
		}
		opts.Outbound = out
	}

	svc, err := bridgeservice.NewService(opts, logger)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("Bridge stopped.")
	return nil
}

func newInbound(
	cfg *bridgeconfig.Config,
	client *pubsub.Client,
	source settings.Source,
	counters metrics.CounterFactory,
	logger zerolog.Logger,
) (*bridgeservice.InboundComponents, error) {
	policy, err := cfg.TopicPolicy()
	if err != nil {
		return nil, err
	}
	defaultQoS, err := cfg.DefaultQoS()
	if err != nil {
		return nil, err
	}
	transformer := bridge.NewInboundTransformer(bridge.InboundConfig{TopicPolicy: policy, DefaultQoS: defaultQoS}, logger)
	transformer.Init(bridge.InboundInit{Connection: cfg.Connection, Settings: source, Metrics: counters})

	consumerCfg := messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Inbound.SubscriptionID)
	consumerCfg.ProjectID = cfg.Connection.ProjectID
	consumer, err := messagepipeline.NewGooglePubsubConsumer(consumerCfg, client, logger)
	if err != nil {
		return nil, err
	}
	publisher, err := messagepipeline.NewMqttPublisher(&cfg.MQTT, nil, logger)
	if err != nil {
		return nil, err
	}
	return &bridgeservice.InboundComponents{
		Workers:     cfg.Inbound.Workers,
		Consumer:    consumer,
		Transformer: transformer,
		Sink:        publisher,
	}, nil
}

func newOutbound(
	cfg *bridgeconfig.Config,
	client *pubsub.Client,
	source settings.Source,
	counters metrics.CounterFactory,
	logger zerolog.Logger,
) (*bridgeservice.OutboundComponents, error) {
	transformer := bridge.NewOutboundTransformer(bridge.OutboundConfig{}, logger)
	transformer.Init(bridge.OutboundInit{Connection: cfg.Connection, Settings: source, Metrics: counters})
	if len(transformer.Destinations()) == 0 {
		logger.Warn().Msg("No destination settings configured, MQTT messages will be acknowledged and dropped.")
	}

	consumer, err := messagepipeline.NewMqttConsumer(&cfg.MQTT, nil, logger)
	if err != nil {
		return nil, err
	}
	producer, err := messagepipeline.NewGooglePubsubProducer(
		messagepipeline.NewGooglePubsubProducerDefaults(cfg.Connection.ProjectID), client, logger)
	if err != nil {
		return nil, err
	}
	return &bridgeservice.OutboundComponents{
		Workers:     cfg.Outbound.Workers,
		Consumer:    consumer,
		Transformer: transformer,
		Sink:        producer,
	}, nil
}
