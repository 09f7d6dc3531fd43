// Package buffer provides the handoff queue between the ingestion side and the
// single fanout consumer, with built-in statistics and optional Prometheus
// metrics.
//
// # Quick Start
//
//	q, err := buffer.NewQueue[Update](4096,
//		buffer.WithOverflowPolicy[Update](buffer.DropOldest),
//		buffer.WithMetrics[Update](registry, "handoff"),
//	)
//
//	// producer side, never blocks under DropOldest/DropNewest
//	_ = q.Write(update)
//
//	// consumer side, waits without polling
//	for {
//		select {
//		case <-ctx.Done():
//			return
//		case <-q.Ready():
//		}
//		for _, u := range q.ReadBatch(256) {
//			handle(u)
//		}
//	}
//
// Ready coalesces wakeups: one receive may cover many writes, so the consumer
// must drain until Read reports empty before waiting again.
//
// # Overflow Policies
//
//   - DropOldest: Remove oldest item to make room (default)
//   - DropNewest: Reject new items when full
//   - Block: Write waits for space; use WriteContext to bound the wait
//
// A capacity of 0 makes the queue unbounded: the ring doubles whenever it
// fills and no item is ever dropped.
//
// # Observability
//
// Statistics are always on (Stats()). Prometheus counters and gauges are
// registered under the sparkbridge_queue_* names when WithMetrics is given.
package buffer
