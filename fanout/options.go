package fanout

import (
	"log/slog"
	"time"

	"github.com/c360/sparkbridge/metric"
)

// Default tuning values.
const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultBatchSize    = 256
)

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records fanout metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Broadcaster) {
		if registry != nil {
			b.registry = registry
			b.metrics = registry.CoreMetrics()
		}
	}
}

// WithWriteTimeout bounds every individual push. Zero or negative disables
// the bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Broadcaster) {
		b.writeTimeout = d
	}
}

// WithBatchSize sets how many updates are taken from the queue per read.
func WithBatchSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.batchSize = n
		}
	}
}
