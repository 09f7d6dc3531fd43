package natsrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/fanout"
)

// DefaultSubject is the subject updates are published on by default.
const DefaultSubject = "sparkbridge.updates"

// Publisher is the NATS connection surface the relay needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Message is the JSON form of one update.
type Message struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// Relay publishes every update it receives to a NATS subject.
type Relay struct {
	id        string
	publisher Publisher
	subject   string
	asJSON    bool
	now       func() time.Time
	logger    *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
	closed    atomic.Bool
}

var _ fanout.Subscriber = (*Relay)(nil)

// Option configures a Relay.
type Option func(*Relay)

// WithJSON publishes Message objects instead of "key = value" text.
func WithJSON() Option {
	return func(r *Relay) {
		r.asJSON = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces the wall clock used for JSON timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Relay publishing on subject.
func New(publisher Publisher, subject string, opts ...Option) (*Relay, error) {
	if publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Relay", "New", "publisher required")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	if strings.ContainsAny(subject, " \t\r\n") {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Relay", "New", fmt.Sprintf("subject %q contains whitespace", subject))
	}

	r := &Relay{
		id:        "nats-relay-" + uuid.NewString(),
		publisher: publisher,
		subject:   subject,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "natsrelay", "subject", subject)
	return r, nil
}

// ID returns the subscriber identifier
func (r *Relay) ID() string {
	return r.id
}

// Subject returns the publish subject
func (r *Relay) Subject() string {
	return r.subject
}

// Send publishes one "key = value" update.
func (r *Relay) Send(ctx context.Context, text string) error {
	if r.closed.Load() {
		return errors.WrapTransient(errors.ErrAlreadyStopped, "Relay", "Send", "publish update")
	}

	data, err := r.encode(text)
	if err != nil {
		return err
	}

	if err := r.publisher.Publish(ctx, r.subject, data); err != nil {
		r.failed.Add(1)
		return err
	}
	r.published.Add(1)
	return nil
}

func (r *Relay) encode(text string) ([]byte, error) {
	if !r.asJSON {
		return []byte(text), nil
	}

	key, value, ok := strings.Cut(text, " = ")
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Relay", "encode", "split update text")
	}
	data, err := json.Marshal(Message{Key: key, Value: value, Timestamp: r.now().UnixMilli()})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Relay", "encode", "marshal update")
	}
	return data, nil
}

// Close stops the relay. The NATS connection is owned by the caller.
func (r *Relay) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		r.logger.Info("Relay closed", "published", r.published.Load(), "failed", r.failed.Load())
	}
	return nil
}

// Closed reports whether Close has been called
func (r *Relay) Closed() bool {
	return r.closed.Load()
}

// Published returns the number of successful publishes
func (r *Relay) Published() int64 {
	return r.published.Load()
}
