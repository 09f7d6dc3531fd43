// Package config loads the bridge configuration.
//
// Configuration is layered and read once at startup:
//
//  1. Defaults from Default()
//  2. Optional YAML files, applied in order; unknown keys are rejected
//  3. Environment overrides
//  4. Validate()
//
// The historical variables MQTT_HOST, MQTT_PORT, MQTT_USERNAME, MQTT_PASSWORD
// and MACHINES_TO_MONITOR (comma separated) are honoured as-is. Every other
// knob has a SPARKBRIDGE_ prefixed variable, for example:
//
//	SPARKBRIDGE_HTTP_ADDR=:9000
//	SPARKBRIDGE_QUEUE_CAPACITY=0          # unbounded
//	SPARKBRIDGE_QUEUE_OVERFLOW=drop_newest
//	SPARKBRIDGE_SETTLE_DELAY=2s
//	SPARKBRIDGE_AUTO_RECONNECT=true
//	SPARKBRIDGE_NATS_URL=nats://localhost:4222
//
// Example file:
//
//	mqtt:
//	  host: 10.2.25.11
//	  port: 1883
//	  username: mes
//	  password: mes
//	sparkplug:
//	  machines: [Injection-E3, Injection-E4]
//	  allow_list: [oee, status]
//	rebirth:
//	  settle_delay: 1.5s
//	queue:
//	  capacity: 4096
//	  overflow: drop_oldest
//
// There is no hot reload.
package config
