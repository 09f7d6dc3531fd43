// Package websocket serves live metric updates to WebSocket clients.
//
// Handler upgrades an HTTP request, registers the connection with the
// broadcaster as a fanout.Subscriber and then keeps the connection alive
// until either side closes it. Each registered client first receives one
// text frame per cached key, in ascending key order, followed by every live
// update as it happens:
//
//	Injection-E3/oee = 0.87
//
// Frames sent by clients are read and discarded. Pong frames extend the read
// deadline; a client that stops answering pings is dropped.
//
// # Write discipline
//
// gorilla/websocket allows one concurrent writer per connection. Data frames
// are serialized by a per-client mutex. Pings and the close frame go through
// WriteControl, which is safe to call alongside other writes.
//
// # Metrics
//
// When a MetricsRegistry is supplied the handler exports, under the
// sparkbridge_websocket subsystem:
//
//   - clients_connected: currently open connections
//   - client_connections_total: accepted upgrades
//   - client_disconnections_total{disconnect_reason}
//   - messages_sent_total and bytes_sent_total
//   - errors_total{error_type}
package websocket
