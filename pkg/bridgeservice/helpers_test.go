package bridgeservice_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/bridge"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/messagepipeline"
)

type mockConsumer struct {
	msgs      chan messagepipeline.Message
	done      chan struct{}
	stopOnce  sync.Once
	connected atomic.Bool
}

func newMockConsumer() *mockConsumer {
	return &mockConsumer{msgs: make(chan messagepipeline.Message, 10), done: make(chan struct{})}
}

func (m *mockConsumer) Messages() <-chan messagepipeline.Message { return m.msgs }
func (m *mockConsumer) Done() <-chan struct{}                    { return m.done }
func (m *mockConsumer) IsConnected() bool                        { return m.connected.Load() }
func (m *mockConsumer) Start(context.Context) error {
	m.connected.Store(true)
	return nil
}
func (m *mockConsumer) Stop(context.Context) error {
	m.stopOnce.Do(func() {
		m.connected.Store(false)
		close(m.msgs)
		close(m.done)
	})
	return nil
}

// ackState records how the flow settled a message.
type ackState struct {
	acks  atomic.Int32
	nacks atomic.Int32
}

func (a *ackState) settled() bool { return a.acks.Load()+a.nacks.Load() > 0 }

func (a *ackState) attach(msg messagepipeline.Message) messagepipeline.Message {
	msg.Ack = func() { a.acks.Add(1) }
	msg.Nack = func() { a.nacks.Add(1) }
	return msg
}

type fakeMQTTSink struct {
	mu        sync.Mutex
	published []bridge.Publish
	err       error
	started   atomic.Bool
	stopped   atomic.Bool
}

func (f *fakeMQTTSink) Start(context.Context) error { f.started.Store(true); return nil }
func (f *fakeMQTTSink) Stop(context.Context) error  { f.stopped.Store(true); return nil }
func (f *fakeMQTTSink) IsConnected() bool           { return f.started.Load() && !f.stopped.Load() }
func (f *fakeMQTTSink) Publish(_ context.Context, pubs []bridge.Publish) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, pubs...)
	return nil
}
func (f *fakeMQTTSink) snapshot() []bridge.Publish {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bridge.Publish(nil), f.published...)
}

type fakePubSubSink struct {
	mu        sync.Mutex
	published []bridge.OutboundMessage
	calls     int
	err       error
	stopped   atomic.Bool
}

func (f *fakePubSubSink) Stop(context.Context) error { f.stopped.Store(true); return nil }
func (f *fakePubSubSink) Publish(_ context.Context, msgs []bridge.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msgs...)
	return nil
}
func (f *fakePubSubSink) snapshot() ([]bridge.OutboundMessage, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bridge.OutboundMessage(nil), f.published...), f.calls
}

var errSinkDown = errors.New("sink down")
