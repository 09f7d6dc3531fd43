// Package natsrelay republishes metric updates to a NATS subject.
//
// A Relay is a fanout.Subscriber: once registered with the broadcaster it
// receives the cached snapshot followed by every live update, and publishes
// each one as a message on its subject. The payload is the same
// "key = value" text WebSocket clients receive, or a JSON object when the
// relay is created with WithJSON:
//
//	{"key":"Injection-E3/oee","value":"0.87","timestamp":1700000000123}
//
// A failed publish is returned to the broadcaster, which removes the relay
// like any other failing subscriber.
package natsrelay
