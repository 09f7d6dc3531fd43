package buffer

import (
	"context"
	"sync"

	"github.com/c360/sparkbridge/errors"
)

// initialUnboundedSize is the starting ring size for unbounded queues.
const initialUnboundedSize = 64

// ringQueue is a thread-safe ring buffer. Bounded queues keep a fixed ring;
// unbounded queues double the ring when it fills.
type ringQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int // 0 = unbounded
	size     int
	head     int // Points to the next write position
	tail     int // Points to the next read position
	stats    *Statistics   // ALWAYS initialized for observability
	metrics  *queueMetrics // Optional Prometheus metrics
	opts     *bufferOptions[T]

	ready   chan struct{} // cap 1, coalesces wakeups
	notFull *sync.Cond    // For Block policy
	closed  bool
}

func newRingQueue[T any](capacity int, opts *bufferOptions[T]) (*ringQueue[T], error) {
	if capacity < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Queue", "NewQueue", "negative capacity")
	}

	var metrics *queueMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newQueueMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Queue", "NewQueue", "metrics registration")
		}
	}

	ringSize := capacity
	if ringSize == 0 {
		ringSize = initialUnboundedSize
	}

	q := &ringQueue[T]{
		items:    make([]T, ringSize),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
		ready:    make(chan struct{}, 1),
	}
	q.notFull = sync.NewCond(&q.mu)
	return q, nil
}

// Write appends item according to the overflow policy.
func (q *ringQueue[T]) Write(item T) error {
	return q.write(context.Background(), item)
}

// WriteContext is Write with cancellation for the Block policy.
func (q *ringQueue[T]) WriteContext(ctx context.Context, item T) error {
	return q.write(ctx, item)
}

func (q *ringQueue[T]) write(ctx context.Context, item T) error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Write", "queue closed")
	}

	var dropped *T
	switch {
	case q.capacity == 0 && q.size == len(q.items):
		q.grow()

	case q.capacity > 0 && q.size == q.capacity:
		switch q.opts.overflowPolicy {
		case DropOldest:
			old := q.pop()
			dropped = &old
			q.recordDrop()

		case DropNewest:
			q.recordDrop()
			q.mu.Unlock()
			if q.opts.dropCallback != nil {
				q.opts.dropCallback(item)
			}
			return nil

		case Block:
			if err := q.waitForSpace(ctx); err != nil {
				q.mu.Unlock()
				return err
			}
		}
	}

	q.items[q.head] = item
	q.head = (q.head + 1) % len(q.items)
	q.size++

	q.stats.Write()
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordWrite(q.size, q.capacity)
	}
	q.mu.Unlock()

	q.signal()

	// Callback runs outside the lock
	if dropped != nil && q.opts.dropCallback != nil {
		q.opts.dropCallback(*dropped)
	}
	return nil
}

// waitForSpace blocks on notFull until a slot frees up, the queue closes or
// ctx is done. Called with q.mu held.
func (q *ringQueue[T]) waitForSpace(ctx context.Context) error {
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.notFull.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
	}

	for q.size == q.capacity && !q.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.notFull.Wait()
	}
	if q.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Write", "queue closed during blocking wait")
	}
	return ctx.Err()
}

// grow doubles the ring, unrolling it so tail starts at 0. Called with q.mu held.
func (q *ringQueue[T]) grow() {
	next := make([]T, len(q.items)*2)
	n := copy(next, q.items[q.tail:])
	copy(next[n:], q.items[:q.tail])
	q.items = next
	q.tail = 0
	q.head = q.size
}

// pop removes the oldest item. Called with q.mu held and size > 0.
func (q *ringQueue[T]) pop() T {
	var zero T
	item := q.items[q.tail]
	q.items[q.tail] = zero // Clear for GC
	q.tail = (q.tail + 1) % len(q.items)
	q.size--
	return item
}

func (q *ringQueue[T]) recordDrop() {
	q.stats.Overflow()
	q.stats.Drop()
	if q.metrics != nil {
		q.metrics.recordDrop()
	}
}

func (q *ringQueue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Read removes the oldest item.
func (q *ringQueue[T]) Read() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		var zero T
		return zero, false
	}

	item := q.pop()
	q.stats.Read()
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordRead(1, q.size, q.capacity)
	}
	q.notFull.Signal()
	return item, true
}

// ReadBatch removes up to max items.
func (q *ringQueue[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}

	n := max
	if n > q.size {
		n = q.size
	}
	result := make([]T, n)
	for i := range result {
		result[i] = q.pop()
		q.stats.Read()
	}

	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordRead(n, q.size, q.capacity)
	}
	q.notFull.Broadcast()
	return result
}

// Ready returns the wakeup channel.
func (q *ringQueue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of queued items.
func (q *ringQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity returns the bound, or 0 for unbounded queues.
func (q *ringQueue[T]) Capacity() int {
	return q.capacity // This is immutable, so no lock needed
}

// Stats returns queue statistics (always available for observability).
func (q *ringQueue[T]) Stats() *Statistics {
	return q.stats
}

// Close shuts the queue for writing.
func (q *ringQueue[T]) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.notFull.Broadcast()
	q.mu.Unlock()

	q.signal()
	return nil
}

// Closed reports whether Close has been called.
func (q *ringQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
