package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the bridge-level metrics shared by ingestion, fanout and
// the rebirth handshake.
type Metrics struct {
	// Ingestion
	MessagesReceived *prometheus.CounterVec // by message type
	MessagesSkipped  *prometheus.CounterVec // by reason
	DecodeErrors     prometheus.Counter
	MetricsFiltered  prometheus.Counter
	ValuesAbsent     prometheus.Counter
	UpdatesEnqueued  prometheus.Counter
	UpdatesDropped   prometheus.Counter

	// Fanout
	UpdatesBroadcast  prometheus.Counter
	CacheKeys         prometheus.Gauge
	Subscribers       prometheus.Gauge
	SubscriberPushes  *prometheus.CounterVec // by result
	SubscribersPruned prometheus.Counter
	BroadcastDuration prometheus.Histogram

	// Upstream
	UpstreamConnected prometheus.Gauge
	UpstreamConnects  prometheus.Counter
	UpstreamLost      prometheus.Counter
	RebirthCommands   *prometheus.CounterVec // by scope, result
	RebirthState      prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sparkbridge",
				Subsystem: "ingest",
				Name:      "messages_received_total",
				Help:      "Upstream messages received, by Sparkplug message type",
			},
			[]string{"type"},
		),
		MessagesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sparkbridge",
				Subsystem: "ingest",
				Name:      "messages_skipped_total",
				Help:      "Upstream messages skipped before decoding, by reason",
			},
			[]string{"reason"},
		),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "ingest",
			Name:      "decode_errors_total",
			Help:      "Payloads that failed to decode",
		}),
		MetricsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "ingest",
			Name:      "metrics_filtered_total",
			Help:      "Decoded template members not on the allow-list",
		}),
		ValuesAbsent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "ingest",
			Name:      "values_absent_total",
			Help:      "Decoded metrics that carried no value",
		}),
		UpdatesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "ingest",
			Name:      "updates_enqueued_total",
			Help:      "Metric updates handed to the fanout queue",
		}),
		UpdatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "ingest",
			Name:      "updates_dropped_total",
			Help:      "Metric updates dropped by the queue overflow policy",
		}),

		UpdatesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "fanout",
			Name:      "updates_total",
			Help:      "Metric updates applied to the cache and broadcast",
		}),
		CacheKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sparkbridge",
			Subsystem: "fanout",
			Name:      "cache_keys",
			Help:      "Number of keys in the last-value cache",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sparkbridge",
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Currently registered subscribers",
		}),
		SubscriberPushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sparkbridge",
				Subsystem: "fanout",
				Name:      "pushes_total",
				Help:      "Pushes to individual subscribers, by result",
			},
			[]string{"result"},
		),
		SubscribersPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "fanout",
			Name:      "subscribers_pruned_total",
			Help:      "Subscribers removed after a failed push",
		}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sparkbridge",
			Subsystem: "fanout",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to push one update to every subscriber",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 10},
		}),

		UpstreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sparkbridge",
			Subsystem: "upstream",
			Name:      "connected",
			Help:      "Upstream broker connection status (0=disconnected, 1=connected)",
		}),
		UpstreamConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "upstream",
			Name:      "connects_total",
			Help:      "Successful upstream connections, including reconnects",
		}),
		UpstreamLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "upstream",
			Name:      "connection_lost_total",
			Help:      "Upstream connection losses",
		}),
		RebirthCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sparkbridge",
				Subsystem: "rebirth",
				Name:      "commands_total",
				Help:      "Rebirth commands issued, by scope and result",
			},
			[]string{"scope", "result"},
		),
		RebirthState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sparkbridge",
			Subsystem: "rebirth",
			Name:      "state",
			Help:      "Rebirth coordinator state (0=disconnected, 1=subscribing, 2=awaiting, 3=rebirthing, 4=steady)",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.MessagesReceived, c.MessagesSkipped, c.DecodeErrors, c.MetricsFiltered,
		c.ValuesAbsent, c.UpdatesEnqueued, c.UpdatesDropped,
		c.UpdatesBroadcast, c.CacheKeys, c.Subscribers, c.SubscriberPushes,
		c.SubscribersPruned, c.BroadcastDuration,
		c.UpstreamConnected, c.UpstreamConnects, c.UpstreamLost, c.RebirthCommands, c.RebirthState,
	}
}

// RecordMessageReceived increments the received counter for a message type
func (c *Metrics) RecordMessageReceived(messageType string) {
	c.MessagesReceived.WithLabelValues(messageType).Inc()
}

// RecordSkipped increments the skip counter for a reason
func (c *Metrics) RecordSkipped(reason string) {
	c.MessagesSkipped.WithLabelValues(reason).Inc()
}

// RecordPush increments the per-subscriber push counter
func (c *Metrics) RecordPush(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.SubscriberPushes.WithLabelValues(result).Inc()
}

// RecordBroadcast observes one completed fanout pass
func (c *Metrics) RecordBroadcast(d time.Duration) {
	c.UpdatesBroadcast.Inc()
	c.BroadcastDuration.Observe(d.Seconds())
}

// RecordRebirthCommand increments the rebirth command counter
func (c *Metrics) RecordRebirthCommand(scope string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.RebirthCommands.WithLabelValues(scope, result).Inc()
}

// RecordUpstreamStatus updates the connection gauge
func (c *Metrics) RecordUpstreamStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
		c.UpstreamConnects.Inc()
	} else {
		c.UpstreamLost.Inc()
	}
	c.UpstreamConnected.Set(value)
}
