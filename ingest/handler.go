package ingest

import (
	"log/slog"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/fanout"
	"github.com/c360/sparkbridge/metric"
	"github.com/c360/sparkbridge/sparkplug"
)

// Outcome classifies what happened to one delivery.
type Outcome int

const (
	// OutcomeEnqueued means at least one update reached the queue.
	OutcomeEnqueued Outcome = iota
	// OutcomeFiltered means the payload decoded but nothing matched.
	OutcomeFiltered
	// OutcomeSkipped means the topic was ignored before decoding.
	OutcomeSkipped
	// OutcomeDecodeError means the payload could not be decoded.
	OutcomeDecodeError
	// OutcomeQueueError means matching updates could not be enqueued.
	OutcomeQueueError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEnqueued:
		return "enqueued"
	case OutcomeFiltered:
		return "filtered"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDecodeError:
		return "decode_error"
	case OutcomeQueueError:
		return "queue_error"
	default:
		return "unknown"
	}
}

// Result reports the handling of one delivery.
type Result struct {
	Outcome  Outcome
	Topic    sparkplug.Topic
	Enqueued int
	Filtered int
	Absent   int
	Err      error
}

// Sink receives updates. buffer.Queue[fanout.Update] satisfies it.
type Sink interface {
	Write(item fanout.Update) error
}

// Config selects which metrics become cache updates.
type Config struct {
	// TemplateMetric is the top-level template whose members are extracted.
	TemplateMetric string
	// AllowList names the template members to forward.
	AllowList []string
	// IgnoreSegment skips topics whose last level equals it. Empty disables.
	IgnoreSegment string
}

// Handler is the ingestion entry point.
type Handler struct {
	sink     Sink
	template string
	allow    map[string]struct{}
	ignore   string
	metrics  *metric.Metrics
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records ingestion metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(h *Handler) {
		if registry != nil {
			h.metrics = registry.CoreMetrics()
		}
	}
}

// NewHandler creates a Handler writing matches to sink.
func NewHandler(sink Sink, cfg Config, opts ...Option) (*Handler, error) {
	if sink == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Handler", "NewHandler", "sink required")
	}
	if cfg.TemplateMetric == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Handler", "NewHandler", "template metric required")
	}

	h := &Handler{
		sink:     sink,
		template: cfg.TemplateMetric,
		allow:    make(map[string]struct{}, len(cfg.AllowList)),
		ignore:   cfg.IgnoreSegment,
		logger:   slog.Default(),
	}
	for _, name := range cfg.AllowList {
		h.allow[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "ingest")
	return h, nil
}

// Handle processes one upstream delivery.
func (h *Handler) Handle(topic string, payload []byte) Result {
	t := sparkplug.ParseTopic(topic)
	res := Result{Topic: t}

	if h.metrics != nil {
		h.metrics.RecordMessageReceived(string(t.Type))
	}

	if t.HasTrailingSegment(h.ignore) {
		res.Outcome = OutcomeSkipped
		if h.metrics != nil {
			h.metrics.RecordSkipped("ignored_segment")
		}
		return res
	}

	if t.Type.IsBirth() {
		h.logger.Info("Birth message received", "topic", topic, "type", t.Type)
	}

	p, err := sparkplug.Decode(payload)
	if err != nil {
		h.logger.Warn("Failed to decode Sparkplug payload", "topic", topic, "error", err)
		if h.metrics != nil {
			h.metrics.DecodeErrors.Inc()
		}
		res.Outcome = OutcomeDecodeError
		res.Err = err
		return res
	}

	entity := t.EntityID()
	for i := range p.Metrics {
		m := &p.Metrics[i]
		if m.Name != h.template || m.Value.Kind() != sparkplug.KindTemplate {
			res.Filtered++
			continue
		}
		h.extract(entity, topic, m, &res)
	}

	if h.metrics != nil {
		h.metrics.MetricsFiltered.Add(float64(res.Filtered))
		h.metrics.ValuesAbsent.Add(float64(res.Absent))
		h.metrics.UpdatesEnqueued.Add(float64(res.Enqueued))
	}

	switch {
	case res.Err != nil:
		res.Outcome = OutcomeQueueError
	case res.Enqueued > 0:
		res.Outcome = OutcomeEnqueued
	default:
		res.Outcome = OutcomeFiltered
	}
	return res
}

// extract forwards the allow-listed members of one template metric. Members
// nested deeper than one level are decoded but never keyed.
func (h *Handler) extract(entity, topic string, tmpl *sparkplug.Metric, res *Result) {
	for _, member := range tmpl.Nested {
		if _, ok := h.allow[member.Name]; !ok || member.Value.Kind() == sparkplug.KindTemplate {
			res.Filtered++
			continue
		}
		if member.Value.IsAbsent() {
			res.Absent++
			h.logger.Warn("Metric has no value", "topic", topic, "metric", member.Name)
			continue
		}

		u := fanout.Update{Key: entity + sparkplug.TopicSeparator + member.Name, Value: member.Value}
		if err := h.sink.Write(u); err != nil {
			// Only a closed queue fails a write; later members fail the same way
			h.logger.Error("Failed to enqueue update", "key", u.Key, "error", err)
			res.Err = err
			return
		}
		h.logger.Debug("Update enqueued", "key", u.Key, "value", member.Value.String())
		res.Enqueued++
	}
}
