package messagepipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type streamTestPayload struct {
	Data string
}

func newTestStreamingService(
	t *testing.T,
	cfg messagepipeline.StreamingServiceConfig,
	processor messagepipeline.StreamProcessor[streamTestPayload],
) (*messagepipeline.StreamingService[streamTestPayload], *MockMessageConsumer) {
	t.Helper()
	consumer := NewMockMessageConsumer(10)

	transformer := func(_ context.Context, msg *messagepipeline.Message) (*streamTestPayload, bool, error) {
		switch string(msg.Payload) {
		case "skip":
			return nil, true, nil
		case "transform_error":
			return nil, false, errors.New("transformation failed")
		}
		return &streamTestPayload{Data: string(msg.Payload)}, false, nil
	}

	service, err := messagepipeline.NewStreamingService[streamTestPayload](cfg, consumer, transformer, processor, zerolog.Nop())
	require.NoError(t, err)
	return service, consumer
}

type ackRecorder struct {
	acks  atomic.Int32
	nacks atomic.Int32
}

func (r *ackRecorder) message(id, payload string) messagepipeline.Message {
	return messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: id, Payload: []byte(payload)},
		Ack:         func() { r.acks.Add(1) },
		Nack:        func() { r.nacks.Add(1) },
	}
}

func TestNewStreamingService_Validation(t *testing.T) {
	transformer := func(context.Context, *messagepipeline.Message) (*streamTestPayload, bool, error) { return nil, true, nil }
	processor := func(context.Context, messagepipeline.Message, *streamTestPayload) error { return nil }
	consumer := NewMockMessageConsumer(1)

	_, err := messagepipeline.NewStreamingService[streamTestPayload](messagepipeline.StreamingServiceConfig{}, nil, transformer, processor, zerolog.Nop())
	assert.Error(t, err)
	_, err = messagepipeline.NewStreamingService[streamTestPayload](messagepipeline.StreamingServiceConfig{}, consumer, nil, processor, zerolog.Nop())
	assert.Error(t, err)
	_, err = messagepipeline.NewStreamingService[streamTestPayload](messagepipeline.StreamingServiceConfig{}, consumer, transformer, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestStreamingService_Lifecycle(t *testing.T) {
	processor := func(context.Context, messagepipeline.Message, *streamTestPayload) error { return nil }
	service, consumer := newTestStreamingService(t, messagepipeline.StreamingServiceConfig{NumWorkers: 2}, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, service.Start(ctx))
	assert.Equal(t, 1, consumer.GetStartCount())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))
	assert.Equal(t, 1, consumer.GetStopCount())
}

func TestStreamingService_StartError(t *testing.T) {
	processor := func(context.Context, messagepipeline.Message, *streamTestPayload) error { return nil }
	service, consumer := newTestStreamingService(t, messagepipeline.StreamingServiceConfig{}, processor)
	consumer.startErr = errors.New("boom")

	assert.Error(t, service.Start(context.Background()))
}

func TestStreamingService_AckNack(t *testing.T) {
	testCases := []struct {
		name         string
		payload      string
		processorErr error
		wantAcks     int32
		wantNacks    int32
		wantCounter  string
	}{
		{name: "Processed message is Acked", payload: "original", wantAcks: 1, wantCounter: "test.processed.count"},
		{name: "Skipped message is Acked", payload: "skip", wantAcks: 1, wantCounter: "test.skipped.count"},
		{name: "Transform error Nacks", payload: "transform_error", wantNacks: 1, wantCounter: "test.nacked.count"},
		{name: "Processor error Nacks", payload: "original", processorErr: errors.New("sink down"), wantNacks: 1, wantCounter: "test.nacked.count"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			registry := metrics.NewRegistry(metrics.RegistryConfig{}, nil, zerolog.Nop())
			var got atomic.Pointer[streamTestPayload]
			processor := func(_ context.Context, _ messagepipeline.Message, payload *streamTestPayload) error {
				got.Store(payload)
				return tc.processorErr
			}
			service, consumer := newTestStreamingService(t,
				messagepipeline.StreamingServiceConfig{Name: "test", NumWorkers: 1, Metrics: registry}, processor)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, service.Start(ctx))
			t.Cleanup(func() { _ = service.Stop(context.Background()) })

			rec := &ackRecorder{}
			consumer.Push(rec.message("msg-1", tc.payload))

			require.Eventually(t, func() bool {
				return rec.acks.Load()+rec.nacks.Load() == 1
			}, time.Second, 10*time.Millisecond)
			assert.Equal(t, tc.wantAcks, rec.acks.Load())
			assert.Equal(t, tc.wantNacks, rec.nacks.Load())
			assert.Equal(t, int64(1), registry.Counter(tc.wantCounter).Count())
			if tc.payload == "original" {
				require.NotNil(t, got.Load())
				assert.Equal(t, "original", got.Load().Data)
			}
		})
	}
}

func TestStreamingService_StopDrainsWorkers(t *testing.T) {
	var processed atomic.Int32
	processor := func(context.Context, messagepipeline.Message, *streamTestPayload) error {
		processed.Add(1)
		return nil
	}
	service, consumer := newTestStreamingService(t, messagepipeline.StreamingServiceConfig{NumWorkers: 3}, processor)
	require.NoError(t, service.Start(context.Background()))

	rec := &ackRecorder{}
	for i := 0; i < 5; i++ {
		consumer.Push(rec.message("msg", "data"))
	}
	require.Eventually(t, func() bool { return processed.Load() == 5 }, time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, service.Stop(stopCtx))
	assert.Equal(t, int32(5), rec.acks.Load())
}
