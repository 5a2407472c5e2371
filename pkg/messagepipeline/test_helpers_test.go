package messagepipeline_test

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/messagepipeline"
)

// --- MockMessageConsumer ---

// MockMessageConsumer simulates a message source for service tests.
type MockMessageConsumer struct {
	msgChan    chan messagepipeline.Message
	doneChan   chan struct{}
	stopOnce   sync.Once
	startErr   error
	mu         sync.Mutex
	startCount int
	stopCount  int
}

func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	return &MockMessageConsumer{
		msgChan:  make(chan messagepipeline.Message, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *MockMessageConsumer) Messages() <-chan messagepipeline.Message { return m.msgChan }
func (m *MockMessageConsumer) Done() <-chan struct{}                    { return m.doneChan }

func (m *MockMessageConsumer) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return m.startErr
}

func (m *MockMessageConsumer) Stop(_ context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopCount++
		m.mu.Unlock()
		close(m.msgChan)
		close(m.doneChan)
	})
	return nil
}

// Push queues a message as if it had arrived from the source.
func (m *MockMessageConsumer) Push(msg messagepipeline.Message) { m.msgChan <- msg }

func (m *MockMessageConsumer) GetStartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}

func (m *MockMessageConsumer) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// --- Mocks for the paho MQTT client ---

type mockToken struct{ err error }

func (m *mockToken) Wait() bool                     { return true }
func (m *mockToken) WaitTimeout(time.Duration) bool { return true }
func (m *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (m *mockToken) Error() error { return m.err }

type mockMqttMessage struct {
	topic     string
	payload   []byte
	messageID uint16
	qos       byte
	retained  bool
	acked     bool
}

func (m *mockMqttMessage) Topic() string     { return m.topic }
func (m *mockMqttMessage) Payload() []byte   { return m.payload }
func (m *mockMqttMessage) MessageID() uint16 { return m.messageID }
func (m *mockMqttMessage) Duplicate() bool   { return false }
func (m *mockMqttMessage) Qos() byte         { return m.qos }
func (m *mockMqttMessage) Retained() bool    { return m.retained }
func (m *mockMqttMessage) Ack()              { m.acked = true }

type publishedMqtt struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type mockMqttClient struct {
	mu               sync.Mutex
	isConnected      bool
	disconnectCalled bool
	subscribed       map[string]byte
	messageHandler   mqtt.MessageHandler
	published        []publishedMqtt
	publishErr       error
}

func newMockMqttClient() *mockMqttClient {
	return &mockMqttClient{subscribed: make(map[string]byte)}
}

func (m *mockMqttClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isConnected
}
func (m *mockMqttClient) IsConnectionOpen() bool { return m.IsConnected() }
func (m *mockMqttClient) Connect() mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isConnected = true
	return &mockToken{}
}
func (m *mockMqttClient) Disconnect(uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isConnected = false
	m.disconnectCalled = true
}
func (m *mockMqttClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed[topic] = qos
	m.messageHandler = callback
	return &mockToken{}
}
func (m *mockMqttClient) Unsubscribe(...string) mqtt.Token { return &mockToken{} }
func (m *mockMqttClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return &mockToken{err: m.publishErr}
	}
	data, _ := payload.([]byte)
	m.published = append(m.published, publishedMqtt{topic: topic, qos: qos, retained: retained, payload: data})
	return &mockToken{}
}
func (m *mockMqttClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &mockToken{}
}
func (m *mockMqttClient) AddRoute(string, mqtt.MessageHandler) {}
func (m *mockMqttClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func (m *mockMqttClient) handler() mqtt.MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messageHandler
}

func (m *mockMqttClient) publishes() []publishedMqtt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMqtt(nil), m.published...)
}
