package cache

import (
	"github.com/c360/sparkbridge/errors"
)

// Cache is a generic keyed last-value store.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found, zero value and false otherwise.
	Get(key string) (V, bool)

	// Set stores value under key, replacing any previous value.
	// Returns true if a new entry was created, false if updated.
	Set(key string, value V) (bool, error)

	// Size returns the current number of entries.
	Size() int

	// Keys returns all keys in ascending order.
	Keys() []string

	// Snapshot returns a point-in-time copy of every entry. The returned map
	// is owned by the caller.
	Snapshot() map[string]V

	// Stats returns cache statistics.
	Stats() *Statistics
}

// NewSimple creates a cache with no eviction policy. Entries live as long as
// the cache.
func NewSimple[V any](options ...Option[V]) (Cache[V], error) {
	return newSimpleCache(applyOptions(options...))
}

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
