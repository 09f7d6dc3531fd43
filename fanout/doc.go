// Package fanout owns the bridge's last-value cache and its live subscribers.
//
// A single Broadcaster goroutine drains the handoff queue. For each update it
// overwrites the cache entry and pushes the text "key = value" to every
// registered subscriber in parallel, waiting for all pushes before taking the
// next update so each subscriber sees updates in enqueue order. A subscriber
// whose push fails is removed and closed.
//
// Registration and removal are serialized through the same goroutine. A new
// subscriber is sent every cached entry before it joins the registry, so it
// sees the state as of its registration followed by every later update, with
// no replay and no gap.
//
// Readers on other goroutines (the HTTP query surface) use Snapshot, Lookup
// and Keys, which return copies taken under the cache's read lock.
package fanout
