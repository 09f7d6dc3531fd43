// Package mqttclient manages the upstream MQTT connection used by the bridge.
//
// The Client wraps Eclipse Paho. It delivers every received message to a
// single MessageHandler as (topic, payload), reports connection lifecycle
// through OnConnect and OnConnectionLost callbacks, and exposes Subscribe
// and Publish that wait for the broker's acknowledgement or ctx.
//
// Connection failures are classified: a failed attempt is transient and is
// retried according to the configured RetryConfig; running out of attempts
// is fatal for the session. With auto-reconnect disabled, a lost connection
// ends the session and is reported once on Lost, leaving restart to the
// process supervisor.
//
// Basic usage:
//
//	client, err := mqttclient.NewClient(mqttclient.BrokerURL("10.2.25.11", 1883, false),
//		mqttclient.WithClientID("sparkbridge"),
//		mqttclient.WithCredentials("mes", "mes"),
//		mqttclient.WithMessageHandler(handler.Handle),
//		mqttclient.WithOnConnect(func() { coordinator.HandleConnected(ctx) }),
//	)
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
package mqttclient
