// Package bridgeconfig loads the bridge service configuration from an
// optional YAML file overlaid with BRIDGE__ environment variables.
package bridgeconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/bridge"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/settings"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override file values.
// Nesting uses "__", so BRIDGE__MQTT__BROKER_URL sets mqtt.broker_url.
const EnvPrefix = "BRIDGE__"

// Settings sources.
const (
	SourceInline    = "inline"
	SourceRedis     = "redis"
	SourceFirestore = "firestore"
	// SourceCached reads Redis first and falls back to Firestore, writing
	// misses back into Redis.
	SourceCached = "cached"
)

// Inbound topic policies.
const (
	TopicPolicyFixed       = "fixed"
	TopicPolicySetting     = "setting"
	TopicPolicyPubSubTopic = "pubsub_topic"
)

// Config is the complete service configuration.
type Config struct {
	LogLevel        string                           `koanf:"log_level"`
	LogFormat       string                           `koanf:"log_format"`
	HTTPPort        string                           `koanf:"http_port"`
	Connection      settings.Connection              `koanf:"connection"`
	CredentialsFile string                           `koanf:"credentials_file"`
	Inbound         InboundConfig                    `koanf:"inbound"`
	Outbound        OutboundConfig                   `koanf:"outbound"`
	MQTT            messagepipeline.MQTTClientConfig `koanf:"mqtt"`
	Settings        SettingsConfig                   `koanf:"settings"`
	Metrics         MetricsConfig                    `koanf:"metrics"`
}

// InboundConfig configures the Pub/Sub to MQTT flow.
type InboundConfig struct {
	Enabled        bool   `koanf:"enabled"`
	SubscriptionID string `koanf:"subscription_id"`
	Workers        int    `koanf:"workers"`
	// DefaultQoS applies when no "qos" setting is configured.
	DefaultQoS   int    `koanf:"default_qos"`
	TopicPolicy  string `koanf:"topic_policy"`
	Topic        string `koanf:"topic"`
	TopicSetting string `koanf:"topic_setting"`
	TopicPrefix  string `koanf:"topic_prefix"`
}

// OutboundConfig configures the MQTT to Pub/Sub flow.
type OutboundConfig struct {
	Enabled bool `koanf:"enabled"`
	Workers int  `koanf:"workers"`
}

// SettingsConfig selects where per-connection custom settings come from.
type SettingsConfig struct {
	Source    string                   `koanf:"source"`
	Inline    []settings.Setting       `koanf:"inline"`
	Redis     settings.RedisConfig     `koanf:"redis"`
	Firestore settings.FirestoreConfig `koanf:"firestore"`
}

// MetricsConfig configures the exported counters.
type MetricsConfig struct {
	Namespace string `koanf:"namespace"`
}

// Default returns the configuration used for every key the file and the
// environment leave unset.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "json",
		HTTPPort:  ":8080",
		Inbound: InboundConfig{
			Enabled:     true,
			Workers:     5,
			DefaultQoS:  int(bridge.AtMostOnce),
			TopicPolicy: TopicPolicyFixed,
			Topic:       bridge.DefaultMQTTTopic,
		},
		Outbound: OutboundConfig{Enabled: true, Workers: 5},
		MQTT:     messagepipeline.DefaultMQTTClientConfig(),
		Settings: SettingsConfig{
			Source:    SourceInline,
			Redis:     settings.RedisConfig{KeyPrefix: settings.DefaultRedisKeyPrefix},
			Firestore: settings.FirestoreConfig{CollectionName: "bridge-settings"},
		},
		Metrics: MetricsConfig{Namespace: "bridge"},
	}
}

// Load merges the YAML file at path (a missing file is fine) and the
// environment over Default, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Settings.Firestore.ProjectID == "" {
		cfg.Settings.Firestore.ProjectID = cfg.Connection.ProjectID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Connection.ID == "" {
		errs = append(errs, errors.New("connection.id is required"))
	}
	if c.Connection.ProjectID == "" {
		errs = append(errs, errors.New("connection.project_id is required"))
	}
	if !c.Inbound.Enabled && !c.Outbound.Enabled {
		errs = append(errs, errors.New("at least one of inbound.enabled and outbound.enabled must be true"))
	}
	if c.Inbound.Enabled || c.Outbound.Enabled {
		if c.MQTT.BrokerURL == "" {
			errs = append(errs, errors.New("mqtt.broker_url is required"))
		}
		if _, err := bridge.QoSFromInt(int(c.MQTT.QoS)); err != nil {
			errs = append(errs, fmt.Errorf("mqtt.qos: %w", err))
		}
	}
	if c.Inbound.Enabled {
		if c.Inbound.SubscriptionID == "" {
			errs = append(errs, errors.New("inbound.subscription_id is required"))
		}
		if _, err := c.DefaultQoS(); err != nil {
			errs = append(errs, fmt.Errorf("inbound.default_qos: %w", err))
		}
		if _, err := c.TopicPolicy(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Outbound.Enabled && len(c.MQTT.Topics) == 0 {
		errs = append(errs, errors.New("mqtt.topics must name at least one filter for the outbound flow"))
	}

	switch c.Settings.Source {
	case SourceInline:
	case SourceRedis:
		errs = append(errs, c.requireRedis()...)
	case SourceFirestore:
		errs = append(errs, c.requireFirestore()...)
	case SourceCached:
		errs = append(errs, c.requireRedis()...)
		errs = append(errs, c.requireFirestore()...)
	default:
		errs = append(errs, fmt.Errorf("settings.source %q is not one of inline, redis, firestore, cached", c.Settings.Source))
	}
	return errors.Join(errs...)
}

func (c *Config) requireRedis() []error {
	if c.Settings.Redis.Addr == "" {
		return []error{errors.New("settings.redis.addr is required")}
	}
	return nil
}

func (c *Config) requireFirestore() []error {
	if c.Settings.Firestore.CollectionName == "" {
		return []error{errors.New("settings.firestore.collection is required")}
	}
	return nil
}

// DefaultQoS returns the inbound default QoS.
func (c *Config) DefaultQoS() (bridge.QoS, error) {
	return bridge.QoSFromInt(c.Inbound.DefaultQoS)
}

// TopicPolicy builds the inbound topic policy.
func (c *Config) TopicPolicy() (bridge.TopicPolicy, error) {
	switch c.Inbound.TopicPolicy {
	case TopicPolicyFixed, "":
		if c.Inbound.Topic != "" {
			if err := bridge.ValidatePublishTopic(c.Inbound.Topic); err != nil {
				return nil, fmt.Errorf("inbound.topic: %w", err)
			}
		}
		return bridge.FixedTopic(c.Inbound.Topic), nil
	case TopicPolicySetting:
		if c.Inbound.TopicSetting == "" {
			return nil, errors.New("inbound.topic_setting is required for the setting topic policy")
		}
		return bridge.TopicFromSetting(c.Inbound.TopicSetting, c.Inbound.Topic), nil
	case TopicPolicyPubSubTopic:
		return bridge.TopicFromPubSubTopic(c.Inbound.TopicPrefix), nil
	default:
		return nil, fmt.Errorf("inbound.topic_policy %q is not one of fixed, setting, pubsub_topic", c.Inbound.TopicPolicy)
	}
}

// InlineSettings returns the settings listed in the config file.
func (c *Config) InlineSettings() settings.Settings {
	return settings.New(c.Settings.Inline...)
}
