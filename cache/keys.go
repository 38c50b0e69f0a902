package cache

import "fmt"

// KeyBuilder produces cache keys following the shared key-space convention.
// The same domain prefix, identifier, and clinic id always yield the same
// key, which is what makes later invalidation matching possible.
type KeyBuilder struct {
	globalPrefix string
}

// NewKeyBuilder creates a KeyBuilder rooted at the provided global prefix.
func NewKeyBuilder(globalPrefix string) KeyBuilder {
	return KeyBuilder{globalPrefix: globalPrefix}
}

// Key builds the cache key for a single entry:
// {globalPrefix}:{domainPrefix}:clinic_{clinicID}:{identifier}.
func (b KeyBuilder) Key(domainPrefix, identifier string, clinicID int64) string {
	return fmt.Sprintf("%s:%s:clinic_%d:%s", b.globalPrefix, domainPrefix, clinicID, identifier)
}

// Pattern builds the wildcard pattern covering every entry under a domain and
// clinic: {globalPrefix}:{domainPrefix}:clinic_{clinicID}:*.
func (b KeyBuilder) Pattern(domainPrefix string, clinicID int64) string {
	return fmt.Sprintf("%s:%s:clinic_%d:*", b.globalPrefix, domainPrefix, clinicID)
}
