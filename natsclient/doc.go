// Package natsclient manages the optional NATS connection used to relay
// metric updates to other services.
//
// The Client wraps nats.go with a connection status, reconnect callbacks and
// context-aware Connect and Close. Publish and Subscribe return
// ErrNotConnected while the connection is down, so callers never block on a
// broker that is unavailable.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("sparkbridge"),
//		natsclient.WithLogger(logger),
//	)
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.Publish(ctx, "sparkbridge.updates", []byte("Injection-E3/oee = 0.87"))
//
// TestClient starts a NATS server in a testcontainer for integration tests.
package natsclient
