package bridgeservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/bridge"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/metrics"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/microservice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// InboundComponents are the parts of the Pub/Sub to MQTT flow.
type InboundComponents struct {
	Workers     int
	Consumer    messagepipeline.MessageConsumer
	Transformer *bridge.InboundTransformer
	Sink        MQTTSink
}

// OutboundComponents are the parts of the MQTT to Pub/Sub flow.
type OutboundComponents struct {
	Workers     int
	Consumer    messagepipeline.MessageConsumer
	Transformer *bridge.OutboundTransformer
	Sink        PubSubSink
}

// Options configure a Service. At least one of Inbound and Outbound is set.
type Options struct {
	HTTPPort string
	Inbound  *InboundComponents
	Outbound *OutboundComponents
	// Counters receives flow counters. Gatherer, when set, is served on /metrics.
	Counters metrics.CounterFactory
	Gatherer prometheus.Gatherer
}

type probe struct {
	name     string
	reporter messagepipeline.ConnectionReporter
}

// Service runs the enabled bridge flows behind the shared HTTP server.
type Service struct {
	*microservice.BaseServer
	inbound      *messagepipeline.StreamingService[[]bridge.Publish]
	inboundSink  MQTTSink
	outbound     *messagepipeline.StreamingService[[]bridge.OutboundMessage]
	outboundSink PubSubSink
	probes       []probe
	logger       zerolog.Logger
}

// NewService builds the flows named in opts.
func NewService(opts Options, logger zerolog.Logger) (*Service, error) {
	if opts.Inbound == nil && opts.Outbound == nil {
		return nil, errors.New("at least one bridge flow must be enabled")
	}
	if opts.Counters == nil {
		opts.Counters = metrics.Discard
	}

	s := &Service{
		BaseServer: microservice.NewBaseServer(logger, opts.HTTPPort),
		logger:     logger.With().Str("component", "BridgeService").Logger(),
	}

	if in := opts.Inbound; in != nil {
		flow, err := NewInboundFlow(in.Workers, in.Consumer, in.Transformer, in.Sink, opts.Counters, logger)
		if err != nil {
			return nil, fmt.Errorf("inbound flow: %w", err)
		}
		s.inbound, s.inboundSink = flow, in.Sink
		s.addProbe("pubsub consumer", in.Consumer)
		s.addProbe("mqtt publisher", in.Sink)
	}
	if out := opts.Outbound; out != nil {
		flow, err := NewOutboundFlow(out.Workers, out.Consumer, out.Transformer, out.Sink, opts.Counters, logger)
		if err != nil {
			return nil, fmt.Errorf("outbound flow: %w", err)
		}
		s.outbound, s.outboundSink = flow, out.Sink
		s.addProbe("mqtt consumer", out.Consumer)
	}

	s.SetReadinessCheck(s.ready)
	if opts.Gatherer != nil {
		s.HandleMetrics(opts.Gatherer)
	}
	return s, nil
}

func (s *Service) addProbe(name string, v any) {
	if r, ok := v.(messagepipeline.ConnectionReporter); ok {
		s.probes = append(s.probes, probe{name: name, reporter: r})
	}
}

func (s *Service) ready() error {
	var errs []error
	for _, p := range s.probes {
		if !p.reporter.IsConnected() {
			errs = append(errs, fmt.Errorf("%s not connected", p.name))
		}
	}
	return errors.Join(errs...)
}

// Start brings up the sinks, then the flows, then the HTTP server.
func (s *Service) Start(ctx context.Context) error {
	if s.inbound != nil {
		if err := s.inboundSink.Start(ctx); err != nil {
			return fmt.Errorf("failed to start MQTT sink: %w", err)
		}
		if err := s.inbound.Start(ctx); err != nil {
			return fmt.Errorf("failed to start inbound flow: %w", err)
		}
	}
	if s.outbound != nil {
		if err := s.outbound.Start(ctx); err != nil {
			return fmt.Errorf("failed to start outbound flow: %w", err)
		}
	}
	if err := s.BaseServer.Start(); err != nil {
		return err
	}
	s.logger.Info().Bool("inbound", s.inbound != nil).Bool("outbound", s.outbound != nil).Msg("Bridge service started.")
	return nil
}

// Shutdown stops the flows before their sinks so in-flight messages can
// still be delivered, then stops the HTTP server.
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error
	if s.inbound != nil {
		errs = append(errs, s.inbound.Stop(ctx), s.inboundSink.Stop(ctx))
	}
	if s.outbound != nil {
		errs = append(errs, s.outbound.Stop(ctx), s.outboundSink.Stop(ctx))
	}
	errs = append(errs, s.BaseServer.Shutdown(ctx))
	return errors.Join(errs...)
}
