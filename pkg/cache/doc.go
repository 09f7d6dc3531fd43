// Package cache provides a generic, thread-safe last-value store.
//
// The bridge keeps exactly one value per metric key and never evicts, so the
// package offers a single implementation with no eviction policy:
//
//	c, err := cache.NewSimple[sparkplug.Value](
//		cache.WithMetrics[sparkplug.Value](registry, "metric_cache"),
//	)
//	_, _ = c.Set("Injection-E3/oee", sparkplug.Double(0.87))
//	v, ok := c.Get("Injection-E3/oee")
//
// Statistics are always collected; Prometheus export is optional.
//
// Readers outside the owning goroutine must use Snapshot or Keys, which copy
// under a read lock, rather than holding on to values across writes.
package cache
