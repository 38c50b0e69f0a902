// Package cacheinfra provides the in-process cache.Store implementation
// backed by sturdyc. Production deployments typically point the facade at a
// shared store instead; this adapter covers single-node deployments, tests,
// and local development.
package cacheinfra

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/viccon/sturdyc"
)

// Config holds the settings for the sturdyc-backed store.
type Config struct {
	// Capacity is the maximum number of entries the cache holds.
	Capacity int

	// NumShards controls sharding for concurrent access.
	NumShards int

	// MaxTTL is the ceiling sturdyc applies to every entry. Per-key TTLs
	// shorter than this are enforced by the adapter itself; longer ones are
	// clamped.
	MaxTTL time.Duration

	// EvictionPercentage is the share of entries evicted when the cache is
	// full. Must be between 1 and 100.
	EvictionPercentage int

	// EvictionInterval sets how often expired entries are scanned for.
	// Zero uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultConfig returns settings suitable for a single-node deployment.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		MaxTTL:             time.Hour,
		EvictionPercentage: 10,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}
	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}
	if c.MaxTTL <= 0 {
		return &ConfigError{Field: "MaxTTL", Message: "must be greater than 0"}
	}
	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}
	return nil
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "cacheinfra config error in field " + e.Field + ": " + e.Message
}

// entry wraps a payload with its own deadline. sturdyc evicts on the
// client-wide TTL; the per-key deadline below is what the facade's
// per-domain TTLs actually rely on.
type entry struct {
	payload   []byte
	expiresAt time.Time
}

// SturdycStore implements cache.Store on top of a sturdyc client.
type SturdycStore struct {
	client *sturdyc.Client[entry]
	maxTTL time.Duration
	closed atomic.Bool
}

// NewSturdycStore validates cfg and builds the store.
func NewSturdycStore(cfg Config) (*SturdycStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var options []sturdyc.Option
	if cfg.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(cfg.EvictionInterval))
	}

	client := sturdyc.New[entry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.MaxTTL,
		cfg.EvictionPercentage,
		options...,
	)

	return &SturdycStore{client: client, maxTTL: cfg.MaxTTL}, nil
}

// Get returns the payload stored under key. Entries past their per-key
// deadline are dropped and reported as absent.
func (s *SturdycStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, ok := s.client.Get(key)
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		s.client.Delete(key)
		return nil, false, nil
	}
	return e.payload, true, nil
}

// Set stores a payload under key. TTLs above the configured ceiling are
// clamped to it.
func (s *SturdycStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	s.client.Set(key, entry{payload: value, expiresAt: time.Now().Add(ttl)})
	return nil
}

// Delete removes a single key.
func (s *SturdycStore) Delete(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPattern removes every key matching the pattern. Only trailing-star
// patterns are supported, matching the shared key-space convention.
func (s *SturdycStore) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// IsAvailable reports whether the store accepts traffic.
func (s *SturdycStore) IsAvailable(ctx context.Context) bool {
	return !s.closed.Load()
}

// Close marks the store unavailable. The in-process client has no resources
// to release; this exists so operators can drain a node.
func (s *SturdycStore) Close() {
	s.closed.Store(true)
}
