// Package testutil provides shared test doubles for sparkbridge packages.
//
// Doubles record what they were asked to do and can be told to fail, so tests
// drive real components against them instead of mocks with expectations:
//
//   - RecordingSubscriber: a push subscriber that captures every text frame
//     and can fail on demand or block until its context expires.
//   - RecordingUpstream: the upstream connection seen by the rebirth
//     coordinator, recording subscriptions and command publishes.
//   - RecordingPublisher: in-memory NATS publish side for the relay.
//   - Sparkplug builders: encoded payloads for ingestion tests.
//   - NewPKI: a throwaway CA with server and client certificates.
//
// All doubles are safe for concurrent use. Integration tests that need a real
// broker use testcontainers instead and are gated behind INTEGRATION_TESTS.
package testutil
