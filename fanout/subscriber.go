package fanout

import (
	"context"

	"github.com/c360/sparkbridge/sparkplug"
)

// Subscriber is one live push connection.
type Subscriber interface {
	// ID is unique among registered subscribers.
	ID() string

	// Send delivers one text frame. Implementations must return once ctx is
	// done. A non-nil error removes the subscriber.
	Send(ctx context.Context, text string) error

	// Close releases the underlying connection. It may be called more than once.
	Close() error
}

// Update is one metric change travelling from ingestion to the broadcaster.
type Update struct {
	Key   string
	Value sparkplug.Value
}

// Text renders the update as pushed to subscribers.
func (u Update) Text() string {
	return FormatEntry(u.Key, u.Value)
}

// FormatEntry renders a cache entry as "key = value".
func FormatEntry(key string, value sparkplug.Value) string {
	return key + " = " + value.String()
}
