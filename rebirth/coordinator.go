package rebirth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/metric"
	"github.com/c360/sparkbridge/sparkplug"
)

// DefaultSettleDelay is the wait between subscribing and sending commands.
const DefaultSettleDelay = 1500 * time.Millisecond

// CommandQoS is the delivery level used for every rebirth command.
const CommandQoS byte = 0

// State is the handshake position for the current connection.
type State int32

const (
	StateDisconnected State = iota
	StateSubscribing
	StateAwaitingRebirthWindow
	StateRebirthing
	StateSteady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSubscribing:
		return "subscribing"
	case StateAwaitingRebirthWindow:
		return "awaiting_rebirth_window"
	case StateRebirthing:
		return "rebirthing"
	case StateSteady:
		return "steady"
	default:
		return "unknown"
	}
}

// Upstream is the connection the coordinator subscribes and publishes on.
type Upstream interface {
	Subscribe(ctx context.Context, pattern string, qos byte) error
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// Coordinator runs the rebirth handshake for each upstream connection.
type Coordinator struct {
	upstream Upstream
	targets  []Target
	patterns []string

	settle time.Duration
	after  func(time.Duration) <-chan time.Time
	now    func() time.Time

	logger  *slog.Logger
	metrics *metric.Metrics

	mu         sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSettleDelay sets the wait between subscribing and sending commands.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.settle = d
		}
	}
}

// WithClock replaces the timer and wall clock, for tests.
func WithClock(after func(time.Duration) <-chan time.Time, now func() time.Time) Option {
	return func(c *Coordinator) {
		if after != nil {
			c.after = after
		}
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records handshake metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Coordinator) {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
	}
}

// NewCoordinator creates a Coordinator for the given targets and patterns.
func NewCoordinator(upstream Upstream, targets []Target, patterns []string, opts ...Option) (*Coordinator, error) {
	if upstream == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Coordinator", "NewCoordinator", "upstream required")
	}

	c := &Coordinator{
		upstream: upstream,
		targets:  append([]Target(nil), targets...),
		patterns: append([]string(nil), patterns...),
		settle:   DefaultSettleDelay,
		after:    time.After,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "rebirth")
	return c, nil
}

// HandleConnected starts the handshake for a new connection, abandoning any
// handshake still running for a previous one. It returns immediately.
func (c *Coordinator) HandleConnected(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.generation++
	gen := c.generation
	c.setStateLocked(StateSubscribing)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.run(runCtx, gen)
	}()
}

// HandleDisconnected cancels any in-flight handshake and resets to
// Disconnected.
func (c *Coordinator) HandleDisconnected(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	c.setStateLocked(StateDisconnected)

	if cause != nil {
		c.logger.Warn("Upstream disconnected", "error", cause)
	}
}

// State returns the current handshake state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until every started handshake goroutine has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels any in-flight handshake and waits for it to exit.
func (c *Coordinator) Close() {
	c.HandleDisconnected(nil)
	c.Wait()
}

// Targets returns the configured rebirth targets.
func (c *Coordinator) Targets() []Target {
	return append([]Target(nil), c.targets...)
}

func (c *Coordinator) run(ctx context.Context, gen uint64) {
	for _, p := range c.patterns {
		if err := c.upstream.Subscribe(ctx, p, CommandQoS); err != nil {
			if ctx.Err() == nil {
				c.logger.Error("Subscription failed; rebirth not issued", "pattern", p,
					"error", errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrSubscribe, err), "Coordinator", "run", "subscribe"))
			}
			return
		}
		c.logger.Info("Subscribed", "pattern", p)
	}

	if !c.transition(gen, StateAwaitingRebirthWindow) {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-c.after(c.settle):
	}

	if !c.transition(gen, StateRebirthing) {
		return
	}

	now := c.now()
	for _, t := range c.targets {
		if ctx.Err() != nil {
			return
		}
		c.issue(ctx, t, now)
	}

	c.transition(gen, StateSteady)
}

// issue publishes one rebirth command. Failures are logged, never retried.
func (c *Coordinator) issue(ctx context.Context, t Target, now time.Time) {
	payload := sparkplug.Encode(sparkplug.NewRebirthCommand(t.Scope == ScopeDevice, now))

	err := c.upstream.Publish(ctx, t.Topic, CommandQoS, false, payload)
	if c.metrics != nil {
		c.metrics.RecordRebirthCommand(string(t.Scope), err == nil)
	}
	if err != nil {
		c.logger.Warn("Rebirth command failed", "topic", t.Topic, "scope", t.Scope,
			"error", errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrPublish, err), "Coordinator", "issue", "publish rebirth"))
		return
	}
	c.logger.Info("Rebirth command sent", "topic", t.Topic, "scope", t.Scope, "entity", t.EntityID)
}

// transition moves to s if gen is still the current connection.
func (c *Coordinator) transition(gen uint64, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.setStateLocked(s)
	return true
}

func (c *Coordinator) setStateLocked(s State) {
	if c.state != s {
		c.logger.Debug("Rebirth state change", "from", c.state, "to", s)
	}
	c.state = s
	if c.metrics != nil {
		c.metrics.RebirthState.Set(float64(s))
	}
}
