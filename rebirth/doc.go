// Package rebirth drives the startup handshake that makes upstream edge
// nodes and devices republish their full state.
//
// A Coordinator runs once per upstream connection:
//
//	Disconnected -> Subscribing -> AwaitingRebirthWindow -> Rebirthing -> Steady
//
// On HandleConnected it subscribes to every configured pattern, waits a
// fixed settle delay, then publishes one rebirth command per Target at QoS 0
// without the retain flag. Commands are fire-and-forget: a failed publish is
// logged and the next target is tried, and no acknowledgement is awaited.
// HandleDisconnected cancels an in-flight handshake and resets the state, so
// every reconnect repeats the whole sequence.
package rebirth
