package bridge_test

import (
	"errors"
	"sync"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/bridge"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/settings"
)

// testConnection mirrors the connection a host would hand over at Init.
var testConnection = settings.Connection{ID: "test-connection", ProjectID: "test-project"}

// failingSource is a settings.Source whose retrieval always fails.
type failingSource struct{}

func (failingSource) Settings() (settings.Settings, error) {
	return settings.Settings{}, errors.New("TEST_FAILED")
}

// panickingSource is a settings.Source that panics during retrieval.
type panickingSource struct{}

func (panickingSource) Settings() (settings.Settings, error) {
	panic("TEST_FAILED")
}

// failingInbound is an InboundReader that cannot be read.
type failingInbound struct{ panics bool }

func (f failingInbound) Read() (bridge.InboundMessage, error) {
	if f.panics {
		panic("TEST_EXCEPTION")
	}
	return bridge.InboundMessage{}, errors.New("TEST_EXCEPTION")
}

// failingPublish is a PublishReader that cannot be read.
type failingPublish struct{}

func (failingPublish) Read() (bridge.Publish, error) {
	return bridge.Publish{}, errors.New("TEST_EXCEPTION")
}

// recordingPublishBuilder wraps the default builder and remembers whether
// SetQoS was called.
type recordingPublishBuilder struct {
	bridge.PublishBuilder
	mu     sync.Mutex
	qos    *bridge.QoS
	topics []string
}

func newRecordingPublishBuilder() *recordingPublishBuilder {
	return &recordingPublishBuilder{PublishBuilder: bridge.NewPublishBuilder(bridge.AtLeastOnce)}
}

func (r *recordingPublishBuilder) SetQoS(q bridge.QoS) {
	r.mu.Lock()
	r.qos = &q
	r.mu.Unlock()
	r.PublishBuilder.SetQoS(q)
}

func (r *recordingPublishBuilder) SetTopic(topic string) {
	r.mu.Lock()
	r.topics = append(r.topics, topic)
	r.mu.Unlock()
	r.PublishBuilder.SetTopic(topic)
}

// failingMessageBuilderFactory fails Build for the n-th builder handed out (1-based).
type failingMessageBuilderFactory struct {
	mu     sync.Mutex
	count  int
	failOn int
	panics bool
}

func (f *failingMessageBuilderFactory) New() bridge.MessageBuilder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	if f.count == f.failOn {
		return &brokenMessageBuilder{MessageBuilder: bridge.NewMessageBuilder(), panics: f.panics}
	}
	return bridge.NewMessageBuilder()
}

type brokenMessageBuilder struct {
	bridge.MessageBuilder
	panics bool
}

func (b *brokenMessageBuilder) Build() (bridge.OutboundMessage, error) {
	if b.panics {
		panic(errors.New("TEST_EXCEPTION"))
	}
	return bridge.OutboundMessage{}, errors.New("TEST_EXCEPTION")
}
