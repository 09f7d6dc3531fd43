package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/metric"
	"github.com/c360/sparkbridge/pkg/buffer"
	"github.com/c360/sparkbridge/pkg/cache"
	"github.com/c360/sparkbridge/sparkplug"
)

type controlOp int

const (
	opRegister controlOp = iota
	opUnregister
)

type controlRequest struct {
	op    controlOp
	sub   Subscriber
	id    string
	reply chan error
}

// Broadcaster is the single consumer of the handoff queue. It owns the metric
// cache and the subscriber registry; both are mutated only on the Run goroutine.
type Broadcaster struct {
	queue buffer.Queue[Update]
	cache cache.Cache[sparkplug.Value]

	// Owned by the Run goroutine
	subscribers map[string]Subscriber

	control chan controlRequest
	done    chan struct{}
	running atomic.Bool
	count   atomic.Int64

	writeTimeout time.Duration
	batchSize    int
	registry     *metric.MetricsRegistry
	metrics      *metric.Metrics
	logger       *slog.Logger
}

// New creates a Broadcaster draining queue.
func New(queue buffer.Queue[Update], opts ...Option) (*Broadcaster, error) {
	if queue == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Broadcaster", "New", "queue required")
	}

	b := &Broadcaster{
		queue:        queue,
		subscribers:  make(map[string]Subscriber),
		control:      make(chan controlRequest),
		done:         make(chan struct{}),
		writeTimeout: DefaultWriteTimeout,
		batchSize:    DefaultBatchSize,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "broadcaster")

	var cacheOpts []cache.Option[sparkplug.Value]
	if b.metrics != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics[sparkplug.Value](b.registry, "metric_cache"))
	}
	c, err := cache.NewSimple[sparkplug.Value](cacheOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Broadcaster", "New", "cache creation")
	}
	b.cache = c

	return b, nil
}

// Run drains the queue until ctx is done or the queue is closed and empty.
// All registered subscribers are closed on return. Run may be called once.
func (b *Broadcaster) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Broadcaster", "Run", "start loop")
	}
	defer b.shutdown()

	b.logger.Info("Broadcaster started", "write_timeout", b.writeTimeout, "queue_capacity", b.queue.Capacity())

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Broadcaster stopping", "reason", ctx.Err())
			return nil

		case req := <-b.control:
			b.handleControl(ctx, req)

		case <-b.queue.Ready():
			if b.drain(ctx) {
				b.logger.Info("Broadcaster stopping", "reason", "queue closed")
				return nil
			}
		}
	}
}

// drain processes queued updates until the queue is empty. It reports
// whether the queue has been closed.
func (b *Broadcaster) drain(ctx context.Context) bool {
	for {
		batch := b.queue.ReadBatch(b.batchSize)
		if len(batch) == 0 {
			return b.queue.Closed()
		}
		for _, u := range batch {
			if ctx.Err() != nil {
				return false
			}
			b.apply(ctx, u)
		}

		// Let waiting registrations in between batches
		b.serviceControl(ctx)
	}
}

func (b *Broadcaster) serviceControl(ctx context.Context) {
	for {
		select {
		case req := <-b.control:
			b.handleControl(ctx, req)
		default:
			return
		}
	}
}

func (b *Broadcaster) apply(ctx context.Context, u Update) {
	if _, err := b.cache.Set(u.Key, u.Value); err != nil {
		b.logger.Warn("Dropping update", "key", u.Key, "error", err)
		return
	}
	if b.metrics != nil {
		b.metrics.CacheKeys.Set(float64(b.cache.Size()))
	}
	b.broadcast(ctx, u.Text())
}

// broadcast pushes text to every subscriber concurrently and prunes the
// ones that failed. It returns after every push has finished.
func (b *Broadcaster) broadcast(ctx context.Context, text string) {
	start := time.Now()

	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}

	results := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s Subscriber) {
			defer wg.Done()
			results[i] = b.send(ctx, s, text)
		}(i, s)
	}
	wg.Wait()

	for i, err := range results {
		if b.metrics != nil {
			b.metrics.RecordPush(err == nil)
		}
		if err != nil {
			b.prune(subs[i], err)
		}
	}

	if b.metrics != nil {
		b.metrics.RecordBroadcast(time.Since(start))
	}
}

func (b *Broadcaster) send(ctx context.Context, s Subscriber, text string) error {
	if b.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.writeTimeout)
		defer cancel()
	}
	if err := s.Send(ctx, text); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrSubscriberSend, err),
			"Broadcaster", "send", "push to subscriber "+s.ID())
	}
	return nil
}

func (b *Broadcaster) prune(s Subscriber, cause error) {
	delete(b.subscribers, s.ID())
	b.count.Store(int64(len(b.subscribers)))
	_ = s.Close()

	b.logger.Warn("Subscriber removed after failed push", "subscriber", s.ID(), "error", cause)
	if b.metrics != nil {
		b.metrics.SubscribersPruned.Inc()
		b.metrics.Subscribers.Set(float64(len(b.subscribers)))
	}
}

func (b *Broadcaster) handleControl(ctx context.Context, req controlRequest) {
	switch req.op {
	case opRegister:
		req.reply <- b.register(ctx, req.sub)
	case opUnregister:
		req.reply <- b.unregister(req.id)
	}
}

// register pushes the current cache contents to s and then adds it to the
// registry. Running on the loop goroutine means no update can slip between
// the snapshot and the first live push.
func (b *Broadcaster) register(ctx context.Context, s Subscriber) error {
	id := s.ID()
	if _, exists := b.subscribers[id]; exists {
		return errors.WrapInvalid(errors.ErrDuplicateSubscriber, "Broadcaster", "Register", "register "+id)
	}

	snapshot := b.cache.Snapshot()
	for _, key := range sortedKeys(snapshot) {
		if err := b.send(ctx, s, FormatEntry(key, snapshot[key])); err != nil {
			_ = s.Close()
			b.logger.Warn("Subscriber failed during snapshot", "subscriber", id, "error", err)
			if b.metrics != nil {
				b.metrics.RecordPush(false)
			}
			return err
		}
	}

	b.subscribers[id] = s
	b.count.Store(int64(len(b.subscribers)))
	if b.metrics != nil {
		b.metrics.Subscribers.Set(float64(len(b.subscribers)))
	}
	b.logger.Debug("Subscriber registered", "subscriber", id, "snapshot_entries", len(snapshot))
	return nil
}

func (b *Broadcaster) unregister(id string) error {
	s, exists := b.subscribers[id]
	if !exists {
		return errors.WrapInvalid(errors.ErrKeyNotFound, "Broadcaster", "Unregister", "unregister "+id)
	}
	delete(b.subscribers, id)
	b.count.Store(int64(len(b.subscribers)))
	_ = s.Close()

	if b.metrics != nil {
		b.metrics.Subscribers.Set(float64(len(b.subscribers)))
	}
	b.logger.Debug("Subscriber unregistered", "subscriber", id)
	return nil
}

func (b *Broadcaster) shutdown() {
	for id, s := range b.subscribers {
		_ = s.Close()
		delete(b.subscribers, id)
	}
	b.count.Store(0)
	if b.metrics != nil {
		b.metrics.Subscribers.Set(0)
	}
	close(b.done)
}

// Register hands s to the broadcaster loop, which sends it the cached state
// and then starts live delivery. It blocks until the loop has handled the
// request, ctx is done or the broadcaster has stopped. A subscriber whose
// snapshot push fails is closed and not registered.
func (b *Broadcaster) Register(ctx context.Context, s Subscriber) error {
	return b.request(ctx, controlRequest{op: opRegister, sub: s, reply: make(chan error, 1)}, "Register")
}

// Unregister removes and closes the subscriber with the given id.
func (b *Broadcaster) Unregister(ctx context.Context, id string) error {
	return b.request(ctx, controlRequest{op: opUnregister, id: id, reply: make(chan error, 1)}, "Unregister")
}

func (b *Broadcaster) request(ctx context.Context, req controlRequest, method string) error {
	select {
	case b.control <- req:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Broadcaster", method, "submit request")
	case <-b.done:
		return errors.WrapTransient(errors.ErrShuttingDown, "Broadcaster", method, "submit request")
	}

	// The loop always answers an accepted request
	return <-req.reply
}

// Done is closed once Run has returned.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

// Snapshot returns a consistent copy of the cache.
func (b *Broadcaster) Snapshot() map[string]sparkplug.Value {
	return b.cache.Snapshot()
}

// Lookup returns the cached value for key.
func (b *Broadcaster) Lookup(key string) (sparkplug.Value, bool) {
	return b.cache.Get(key)
}

// Keys returns every cached key in ascending order.
func (b *Broadcaster) Keys() []string {
	return b.cache.Keys()
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	return int(b.count.Load())
}

// CacheStats exposes cache statistics for health reporting.
func (b *Broadcaster) CacheStats() cache.StatsSummary {
	return b.cache.Stats().Summary()
}

// Running reports whether Run is active.
func (b *Broadcaster) Running() bool {
	select {
	case <-b.done:
		return false
	default:
		return b.running.Load()
	}
}

func sortedKeys(m map[string]sparkplug.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
