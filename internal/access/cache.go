package access

import (
	"context"
	"time"
)

// permissionsNamespace prefixes every resolver cache key so the engine can
// share a backend with unrelated caches without collisions.
const permissionsNamespace = "user:permissions"

// DefaultCacheTTL bounds the staleness window of cached permission sets.
const DefaultCacheTTL = 300 * time.Second

// permissionsKey builds the cache key for one principal's resolved set.
func permissionsKey(principalID string) string {
	return permissionsNamespace + ":" + principalID
}

// permissionsPattern is the prefix matching every principal's cache entry,
// used for bulk invalidation when a role's own permission set changes.
func permissionsPattern() string {
	return permissionsNamespace + ":"
}

// Cache stores serialized permission snapshots with an expiry. Backends must
// be safe for concurrent use and their Set must be atomic from the caller's
// view. Callers treat any backend error as a miss: availability of
// authorization never depends on cache availability.
type Cache interface {
	// Get returns the value for key, reporting whether an unexpired entry
	// was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeletePattern removes every key with the given prefix.
	DeletePattern(ctx context.Context, prefix string) error
	// CleanupExpired compacts entries whose TTL has lapsed and returns how
	// many were removed. Expiry itself is lazy; this exists for optional
	// periodic compaction and for tests.
	CleanupExpired(ctx context.Context) (int, error)
}
