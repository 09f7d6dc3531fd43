package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/metric"
)

// Metrics holds Prometheus metrics for the WebSocket handler
type Metrics struct {
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	messagesSent       prometheus.Counter
	bytesSent          prometheus.Counter
	errorsTotal        *prometheus.CounterVec
}

// newMetrics creates and registers handler metrics. A nil registry disables
// metrics.
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sparkbridge",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total text frames sent to clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to clients",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sparkbridge",
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "WebSocket server errors",
		}, []string{"error_type"}),
	}

	regs := []error{
		registry.RegisterGauge("websocket", "clients_connected", m.clientsConnected),
		registry.RegisterCounter("websocket", "client_connections_total", m.connectionTotal),
		registry.RegisterCounterVec("websocket", "client_disconnections_total", m.disconnectionTotal),
		registry.RegisterCounter("websocket", "messages_sent_total", m.messagesSent),
		registry.RegisterCounter("websocket", "bytes_sent_total", m.bytesSent),
		registry.RegisterCounterVec("websocket", "errors_total", m.errorsTotal),
	}
	for _, err := range regs {
		if err != nil {
			return nil, errors.Wrap(err, "websocket", "newMetrics", "register metrics")
		}
	}
	return m, nil
}

func (m *Metrics) recordSent(n int) {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) recordError(kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(kind).Inc()
}
