package cache

import "time"

// Store is the contract the gateway's cache backends must satisfy.
// Values are opaque JSON bytes; callers own marshalling.
type Store interface {
	// Get returns the value for key, or false if the key is absent or its
	// TTL has elapsed. An expired entry is never returned.
	Get(key string) ([]byte, bool)

	// Set stores value under key for the given TTL, replacing any
	// previous entry.
	Set(key string, value []byte, ttl time.Duration)

	// Has reports whether key holds an unexpired value.
	Has(key string) bool

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key string)
}
