// Package ingest turns raw upstream deliveries into cache updates.
//
// Handle runs on the upstream receive goroutine. For each (topic, payload)
// it resolves the topic, skips topics ending in the ignored sentinel
// segment, decodes the Sparkplug payload and walks the members of the
// configured template metric. Members on the allow-list become
// fanout.Update values keyed "entity/metric" and are written to the handoff
// queue; everything else is counted as filtered.
//
// Handle never blocks on subscribers and never returns an error to the
// receive loop. Decode failures and filter misses are distinct outcomes in
// the returned Result.
package ingest
