package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testNATSImage    = "nats:2.11.7-alpine"
	testStartTimeout = 30 * time.Second
	testTimeout      = 5 * time.Second
)

// TestClient provides a testcontainers-based NATS server and a connected client.
type TestClient struct {
	container testcontainers.Container
	Client    *Client
	URL       string
}

// NewTestClient starts a NATS container and connects a client to it. Extra
// client options are applied after the test defaults. The container is
// terminated when the test ends.
func NewTestClient(t testing.TB, opts ...ClientOption) *TestClient {
	t.Helper()

	tc, err := startTestClient(opts)
	if err != nil {
		t.Fatalf("Failed to create NATS test client: %v", err)
	}
	t.Cleanup(tc.terminate)
	return tc
}

func startTestClient(opts []ClientOption) (*TestClient, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        testNATSImage,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(testStartTimeout),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start NATS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	// No reconnects unless the test asks for them
	clientOpts := append([]ClientOption{WithTimeout(testTimeout), WithMaxReconnects(0)}, opts...)
	client, err := NewClient(url, clientOpts...)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &TestClient{container: container, Client: client, URL: url}, nil
}

func (tc *TestClient) terminate() {
	_ = tc.Client.Close(context.Background())
	_ = tc.container.Terminate(context.Background())
}
