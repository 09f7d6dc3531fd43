package mqttclient

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestBroker provides a testcontainers-based Mosquitto broker for testing
type TestBroker struct {
	container testcontainers.Container
	URL       string
	Host      string
	Port      int
}

// NewSharedTestBroker starts a Mosquitto container for use in TestMain.
// Unlike NewTestBroker, this doesn't require testing.T and returns errors.
func NewSharedTestBroker() (*TestBroker, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start mosquitto container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	mapped, err := container.MappedPort(ctx, "1883")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	port, err := strconv.Atoi(mapped.Port())
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("invalid mapped port %q: %w", mapped.Port(), err)
	}

	return &TestBroker{
		container: container,
		URL:       BrokerURL(host, port, false),
		Host:      host,
		Port:      port,
	}, nil
}

// NewTestBroker starts a Mosquitto container that is terminated when the
// test ends.
func NewTestBroker(t testing.TB) *TestBroker {
	t.Helper()

	broker, err := NewSharedTestBroker()
	if err != nil {
		t.Fatalf("Failed to start test broker: %v", err)
	}
	t.Cleanup(broker.Terminate)
	return broker
}

// Terminate stops the container
func (b *TestBroker) Terminate() {
	if b.container != nil {
		_ = b.container.Terminate(context.Background()) // Best effort test cleanup
	}
}
