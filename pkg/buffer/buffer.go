package buffer

import (
	"context"
	"strings"
)

// Queue is a many-producer, single-consumer FIFO.
type Queue[T any] interface {
	// Write appends an item. It never blocks unless the policy is Block and the
	// queue is full. Returns an error once the queue is closed.
	Write(item T) error

	// WriteContext is Write with cancellation while blocked under the Block policy.
	WriteContext(ctx context.Context, item T) error

	// Read removes the oldest item. Returns false if the queue is empty.
	Read() (T, bool)

	// ReadBatch removes up to max items in FIFO order.
	ReadBatch(max int) []T

	// Ready is signalled after writes. A receive means "items may be
	// available"; the consumer drains with Read or ReadBatch until empty.
	// The channel is also signalled once on Close.
	Ready() <-chan struct{}

	// Len returns the number of queued items.
	Len() int

	// Capacity returns the bound, or 0 when unbounded.
	Capacity() int

	// Stats returns queue statistics.
	Stats() *Statistics

	// Close rejects further writes and wakes blocked producers and the consumer.
	// Items already queued can still be read.
	Close() error

	// Closed reports whether Close has been called.
	Closed() bool
}

// OverflowPolicy defines how a bounded queue behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the queue is full.
	DropNewest

	// Block causes Write operations to block until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

var policySeparators = strings.NewReplacer("_", "", "-", "")

// ParseOverflowPolicy accepts the names produced by String case-insensitively,
// with or without "_" or "-" separators.
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch strings.ToLower(policySeparators.Replace(s)) {
	case "dropoldest":
		return DropOldest, true
	case "dropnewest":
		return DropNewest, true
	case "block":
		return Block, true
	}
	return DropOldest, false
}

// DropCallback is called when an item is dropped due to overflow policy.
// It receives the item that was dropped.
type DropCallback[T any] func(item T)

// NewQueue creates a queue. A capacity of 0 makes it unbounded, in which case
// the overflow policy is never consulted.
// Returns an error if metrics registration fails when metrics are requested.
func NewQueue[T any](capacity int, options ...Option[T]) (Queue[T], error) {
	opts := applyOptions(options...)
	return newRingQueue(capacity, opts)
}
