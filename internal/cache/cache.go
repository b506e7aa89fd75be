// Package cache provides the concurrent key-value cache the engine uses for
// authorization decisions and inheritance chains. The cache is advisory:
// every cached value is re-derivable from source data, so eviction is always
// safe and there is no corruption error path.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL key-value store safe for concurrent use.
type Cache interface {
	// Get returns the value for key and whether it was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl. A non-positive ttl stores without
	// expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
