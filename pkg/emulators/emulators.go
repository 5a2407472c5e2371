// Package emulators starts throwaway containers for integration tests.
// Every helper registers its own cleanup with the test.
package emulators

import (
	"context"
	"fmt"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
)

type ImageContainer struct {
	EmulatorImage string
	EmulatorPort  string
}

// Connection is the address a test uses to reach a started emulator.
type Connection struct {
	EmulatorAddress string
}

const (
	defaultRedisImage     = "redis:7-alpine"
	defaultRedisPort      = "6379"
	defaultMosquittoImage = "eclipse-mosquitto:2.0"
	defaultMosquittoPort  = "1883"
	defaultFirestoreImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	defaultFirestorePort  = "8080"
	defaultPubsubImage    = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	defaultPubsubPort     = "8085"
)

func GetDefaultRedisImageContainer() ImageContainer {
	return ImageContainer{EmulatorImage: defaultRedisImage, EmulatorPort: defaultRedisPort}
}

func GetDefaultMqttImageContainer() ImageContainer {
	return ImageContainer{EmulatorImage: defaultMosquittoImage, EmulatorPort: defaultMosquittoPort}
}

func GetDefaultPubsubImageContainer() ImageContainer {
	return ImageContainer{EmulatorImage: defaultPubsubImage, EmulatorPort: defaultPubsubPort}
}

func GetDefaultFirestoreImageContainer() ImageContainer {
	return ImageContainer{EmulatorImage: defaultFirestoreImage, EmulatorPort: defaultFirestorePort}
}

// SetupRedisContainer starts Redis and returns its host:port.
func SetupRedisContainer(t *testing.T, ctx context.Context, cfg ImageContainer) Connection {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{cfg.EmulatorPort + "/tcp"},
		WaitingFor:   wait.ForListeningPort(nat.Port(cfg.EmulatorPort + "/tcp")),
	}
	host := startContainer(t, ctx, req, cfg.EmulatorPort)
	return Connection{EmulatorAddress: host}
}

// SetupMosquittoContainer starts an anonymous Mosquitto broker and returns a tcp:// URL.
func SetupMosquittoContainer(t *testing.T, ctx context.Context, cfg ImageContainer) Connection {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{cfg.EmulatorPort + "/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort(nat.Port(cfg.EmulatorPort + "/tcp")),
	}
	host := startContainer(t, ctx, req, cfg.EmulatorPort)
	return Connection{EmulatorAddress: "tcp://" + host}
}

// PubsubConnection carries the client options for a started Pub/Sub emulator.
type PubsubConnection struct {
	Connection
	ClientOptions []option.ClientOption
}

// SetupPubsubEmulator starts the Pub/Sub emulator and creates every topic in
// topicSubs together with its subscription (topic id -> subscription id).
func SetupPubsubEmulator(t *testing.T, ctx context.Context, cfg ImageContainer, projectID string, topicSubs map[string]string) PubsubConnection {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{cfg.EmulatorPort + "/tcp"},
		Cmd: []string{"gcloud", "beta", "emulators", "pubsub", "start",
			fmt.Sprintf("--project=%s", projectID),
			fmt.Sprintf("--host-port=0.0.0.0:%s", cfg.EmulatorPort)},
		WaitingFor: wait.ForListeningPort(nat.Port(cfg.EmulatorPort + "/tcp")),
	}
	host := startContainer(t, ctx, req, cfg.EmulatorPort)
	t.Setenv("PUBSUB_EMULATOR_HOST", host)
	opts := []option.ClientOption{option.WithEndpoint(host), option.WithoutAuthentication()}

	admin, err := pubsub.NewClient(ctx, projectID, opts...)
	require.NoError(t, err)
	defer func() { _ = admin.Close() }()

	for topicID, subID := range topicSubs {
		topic, err := admin.CreateTopic(ctx, topicID)
		require.NoError(t, err, "failed to create Pub/Sub topic %s", topicID)
		if subID == "" {
			continue
		}
		_, err = admin.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
		require.NoError(t, err, "failed to create Pub/Sub subscription %s", subID)
	}
	return PubsubConnection{Connection: Connection{EmulatorAddress: host}, ClientOptions: opts}
}

// SetupFirestoreEmulator starts the Firestore emulator and sets FIRESTORE_EMULATOR_HOST
// for the duration of the test so firestore.NewClient connects to it.
func SetupFirestoreEmulator(t *testing.T, ctx context.Context, cfg ImageContainer, projectID string) Connection {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{cfg.EmulatorPort + "/tcp"},
		Cmd: []string{"gcloud", "beta", "emulators", "firestore", "start",
			fmt.Sprintf("--project=%s", projectID),
			fmt.Sprintf("--host-port=0.0.0.0:%s", cfg.EmulatorPort)},
		WaitingFor: wait.ForListeningPort(nat.Port(cfg.EmulatorPort + "/tcp")),
	}
	host := startContainer(t, ctx, req, cfg.EmulatorPort)
	t.Setenv("FIRESTORE_EMULATOR_HOST", host)
	return Connection{EmulatorAddress: host}
}

func startContainer(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate %s container: %v", req.Image, err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port+"/tcp"))
	require.NoError(t, err)

	addr := fmt.Sprintf("%s:%s", host, mapped.Port())
	t.Logf("%s container started, listening on: %s", req.Image, addr)
	return addr
}
