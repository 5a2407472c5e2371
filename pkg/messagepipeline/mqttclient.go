package messagepipeline

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MQTTClientConfig holds the connection settings shared by MqttConsumer and
// MqttPublisher.
type MQTTClientConfig struct {
	// BrokerURL is the full URL of the broker, e.g. "tls://mqtt.example.com:8883".
	BrokerURL string `koanf:"broker_url"`
	// Topics are the filters the consumer subscribes to.
	Topics []string `koanf:"topics"`
	// QoS is used for subscriptions.
	QoS byte `koanf:"qos"`
	// ClientIDPrefix is extended with a random suffix, as brokers require
	// unique client ids.
	ClientIDPrefix   string        `koanf:"client_id_prefix"`
	Username         string        `koanf:"username"`
	Password         string        `koanf:"password"`
	KeepAlive        time.Duration `koanf:"keep_alive"`
	ConnectTimeout   time.Duration `koanf:"connect_timeout"`
	ReconnectWaitMax time.Duration `koanf:"reconnect_wait_max"`
	// Optional TLS material, used for tls:// and ssl:// brokers.
	CACertFile         string `koanf:"ca_cert_file"`
	ClientCertFile     string `koanf:"client_cert_file"`
	ClientKeyFile      string `koanf:"client_key_file"`
	InsecureSkipVerify bool   `koanf:"insecure_skip_verify"`
}

// DefaultMQTTClientConfig returns the defaults applied before any file or
// environment overrides.
func DefaultMQTTClientConfig() MQTTClientConfig {
	return MQTTClientConfig{
		QoS:              1,
		ClientIDPrefix:   "pubsub-bridge-",
		KeepAlive:        60 * time.Second,
		ConnectTimeout:   10 * time.Second,
		ReconnectWaitMax: 120 * time.Second,
	}
}

// newClientOptions assembles paho options from cfg. role ("consumer" or
// "publisher") keeps the two client ids of one process apart.
func newClientOptions(cfg *MQTTClientConfig, role string, logger zerolog.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(fmt.Sprintf("%s%s-%s", cfg.ClientIDPrefix, role, uuid.NewString()[:8]))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	if cfg.ReconnectWaitMax > 0 {
		opts.SetMaxReconnectInterval(cfg.ReconnectWaitMax)
	}
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})

	broker := strings.ToLower(cfg.BrokerURL)
	if strings.HasPrefix(broker, "tls://") || strings.HasPrefix(broker, "ssl://") {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create TLS config, proceeding without it.")
		} else {
			opts.SetTLSConfig(tlsConfig)
		}
	}
	return opts
}

func newTLSConfig(cfg *MQTTClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// waitToken waits for a paho token, giving up when ctx is done.
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
