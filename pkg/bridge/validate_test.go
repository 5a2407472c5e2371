package bridge_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/bridge"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQoS(t *testing.T) {
	testCases := []struct {
		in      string
		want    bridge.QoS
		wantErr bool
	}{
		{in: "0", want: bridge.AtMostOnce},
		{in: "1", want: bridge.AtLeastOnce},
		{in: " 2 ", want: bridge.ExactlyOnce},
		{in: "3", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "ONE", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := bridge.ParseQoS(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, bridge.ErrInvalidQoS))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidatePublishTopic(t *testing.T) {
	assert.NoError(t, bridge.ValidatePublishTopic("sensors/room-1/temp"))
	assert.Error(t, bridge.ValidatePublishTopic(""))
	assert.Error(t, bridge.ValidatePublishTopic("sensors/+/temp"))
	assert.Error(t, bridge.ValidatePublishTopic("sensors/#"))
	assert.Error(t, bridge.ValidatePublishTopic("a\x00b"))
	assert.Error(t, bridge.ValidatePublishTopic(string([]byte{0xff, 0xfe})))
}

func TestValidatePubSubTopic(t *testing.T) {
	valid := []string{"topic-1", "my.topic_name~x+y%z", "projects/my-project/topics/topic-1"}
	for _, name := range valid {
		assert.NoError(t, bridge.ValidatePubSubTopic(name), name)
	}

	invalid := []string{"", "ab", "1topic", "goog-topic", "has space", strings.Repeat("a", 256),
		"projects//topics/topic-1", "projects/p/subscriptions/s-1", "projects/p/topics/"}
	for _, name := range invalid {
		err := bridge.ValidatePubSubTopic(name)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, bridge.ErrInvalidTopic), name)
	}
}

func TestValidateAttribute(t *testing.T) {
	assert.NoError(t, bridge.ValidateAttribute("device", "sensor-1"))
	assert.Error(t, bridge.ValidateAttribute("", "v"))
	assert.Error(t, bridge.ValidateAttribute("googKey", "v"))
	assert.Error(t, bridge.ValidateAttribute(strings.Repeat("k", 257), "v"))
	assert.Error(t, bridge.ValidateAttribute("k", strings.Repeat("v", 1025)))
}

func TestPublishBuilder(t *testing.T) {
	t.Run("Nil payload is rejected", func(t *testing.T) {
		b := bridge.NewPublishBuilder(bridge.AtMostOnce)
		b.SetTopic("a/b")
		_, err := b.Build()
		assert.True(t, errors.Is(err, bridge.ErrMissingPayload))
	})

	t.Run("Invalid qos is rejected", func(t *testing.T) {
		b := bridge.NewPublishBuilder(bridge.QoS(5))
		b.SetTopic("a/b")
		b.SetPayload([]byte{})
		_, err := b.Build()
		assert.True(t, errors.Is(err, bridge.ErrInvalidQoS))
	})

	t.Run("User properties keep insertion order and repeats", func(t *testing.T) {
		b := bridge.NewPublishBuilder(bridge.AtMostOnce)
		b.SetTopic("a/b")
		b.SetPayload([]byte("x"))
		b.AddUserProperty("k", "1")
		b.AddUserProperty("k", "2")
		p, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, []bridge.UserProperty{{Name: "k", Value: "1"}, {Name: "k", Value: "2"}}, p.UserProperties)
	})
}

func TestTopicPolicies(t *testing.T) {
	msg := bridge.InboundMessage{Topic: "projects/p/topics/alerts"}

	topic, err := bridge.FixedTopic("")(msg, settings.Settings{})
	require.NoError(t, err)
	assert.Equal(t, bridge.DefaultMQTTTopic, topic)

	policy := bridge.TopicFromSetting("mqtt-topic", "fallback/topic")
	topic, err = policy(msg, settings.FromPairs("mqtt-topic", "configured/topic"))
	require.NoError(t, err)
	assert.Equal(t, "configured/topic", topic)
	topic, err = policy(msg, settings.Settings{})
	require.NoError(t, err)
	assert.Equal(t, "fallback/topic", topic)

	_, err = bridge.TopicFromSetting("mqtt-topic", "")(msg, settings.Settings{})
	assert.Error(t, err)

	topic, err = bridge.TopicFromPubSubTopic("")(bridge.InboundMessage{Topic: "alerts"}, settings.Settings{})
	require.NoError(t, err)
	assert.Equal(t, "alerts", topic)

	_, err = bridge.TopicFromPubSubTopic("x/")(bridge.InboundMessage{}, settings.Settings{})
	assert.Error(t, err)
}
