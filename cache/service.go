package cache

import (
	"context"
	"time"
)

// FetchFn is the function signature the facade invokes to load a value from
// the source of truth on a cache miss.
type FetchFn[T any] func(ctx context.Context) (T, error)

// WriteFn is the function signature the facade invokes to commit a value to
// the source of truth during a write-through.
type WriteFn[T any] func(ctx context.Context) (T, error)

// Store is the external key/value collaborator the facade runs against.
// Implementations may be an in-process cache, Redis, or anything that can
// honor the key-space convention
// {globalPrefix}:{domainPrefix}:clinic_{clinicId}:{identifier}, with pattern
// deletion using a trailing wildcard on the identifier segment.
type Store interface {
	// Get returns the payload stored under key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes a payload under key with the provided TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// DeleteByPattern removes every key matching the pattern.
	DeleteByPattern(ctx context.Context, pattern string) error

	// IsAvailable reports whether the store is reachable. The facade only
	// surfaces this through Stats; it degrades gracefully either way.
	IsAvailable(ctx context.Context) bool
}
