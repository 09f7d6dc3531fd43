// Package sparkbridge bridges Sparkplug B machine telemetry to browser clients.
//
// # Architecture
//
// The bridge holds one MQTT session to a plant broker, extracts a configured
// set of operator-interface metrics, keeps the latest value of each and pushes
// every change to connected WebSocket clients:
//
//	┌─────────────────────────────┐
//	│   MQTT broker (Sparkplug B) │
//	└─────────────────────────────┘
//	       ↓ NBIRTH/DBIRTH/NDATA/DDATA        ↑ NCMD/DCMD rebirth
//	┌─────────────────────────────┐   ┌───────────────────────┐
//	│  mqttclient  →  ingest      │   │  rebirth.Coordinator  │
//	└─────────────────────────────┘   └───────────────────────┘
//	       ↓ fanout.Update (bounded handoff queue)
//	┌─────────────────────────────┐
//	│  fanout.Broadcaster         │  last-value cache, subscriber registry
//	└─────────────────────────────┘
//	       ↓ "key = value"
//	┌──────────────────┐ ┌──────────────────┐
//	│ output/websocket │ │ output/natsrelay │
//	└──────────────────┘ └──────────────────┘
//
// Keys are "<entity>/<metric>", for example "Injection-E3/oee".
//
// # Rebirth handshake
//
// On every successful connection the coordinator subscribes to
// "<namespace>/<machine>/#" for each monitored machine, waits a settle delay,
// then sends one "Node Control/Rebirth" command per machine and one
// "Device Control/Rebirth" command per machine. Edge nodes answer with fresh
// birth certificates, so the cache fills without waiting for the next change.
//
// # Concurrency
//
// The broadcaster goroutine is the only writer of the cache and the only
// consumer of the handoff queue. Registration runs on that goroutine, so a new
// subscriber receives the full snapshot before any live update and never sees
// a gap or a duplicate.
//
// # Packages
//
//   - sparkplug: Sparkplug B payload codec, topic parsing, values
//   - ingest: topic filtering and template member extraction
//   - fanout: broadcaster, subscriber contract, key/value text format
//   - rebirth: handshake state machine and command targets
//   - mqttclient, natsclient: broker connections
//   - output/websocket, output/natsrelay: subscriber kinds
//   - gateway: HTTP query API, WebSocket endpoint, metrics and health
//   - config, metric, health, errors: ambient infrastructure
//   - pkg/buffer, pkg/cache, pkg/security, pkg/tlsutil: reusable building blocks
package sparkbridge
