package cache

import (
	"context"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// populateTimeout bounds the background cache population that follows a miss.
// The caller has already returned by then, so the write gets its own context.
const populateTimeout = 5 * time.Second

// Facade provides the cache-aside read path and write-through write path over
// an external Store, with tenant-aware key construction and pattern-based
// invalidation.
//
// Store failures never surface to callers: lookups fall back to the source of
// truth, writes and invalidations are logged and dropped. A cache outage
// shows up as degraded latency, never as an error.
type Facade struct {
	store    Store
	keys     KeyBuilder
	domains  map[string]DomainConfig
	recorder *Recorder
	log      *zap.Logger
	pending  sync.WaitGroup
}

// Stats combines the recorder snapshot with the store-availability flag.
type Stats struct {
	Cache          Metrics `json:"cache"`
	StoreAvailable bool    `json:"store_available"`
}

// NewFacade validates cfg and builds a Facade over the provided store.
// Configuration errors (unknown or malformed domains) surface here, at
// startup, not at call time.
func NewFacade(store Store, cfg Config, log *zap.Logger) (*Facade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	normalized := cfg.normalized()
	return &Facade{
		store:    store,
		keys:     NewKeyBuilder(normalized.GlobalPrefix),
		domains:  normalized.Domains,
		recorder: NewRecorder(),
		log:      log.Named("cache"),
	}, nil
}

// Recorder exposes the facade's metrics recorder, mainly for wiring it into
// dashboards and tests.
func (f *Facade) Recorder() *Recorder {
	return f.recorder
}

// Keys exposes the facade's key builder so collaborating components build
// identical keys.
func (f *Facade) Keys() KeyBuilder {
	return f.keys
}

// Stats returns the current metrics snapshot plus store availability.
func (f *Facade) Stats(ctx context.Context) Stats {
	return Stats{
		Cache:          f.recorder.Snapshot(),
		StoreAvailable: f.store.IsAvailable(ctx),
	}
}

// Invalidate removes a single entry. Best effort: store errors are logged and
// ignored so an invalidation failure cannot crash a write path.
func (f *Facade) Invalidate(ctx context.Context, domain, identifier string, clinicID int64) {
	dc, ok := f.domainConfig(domain)
	if !ok {
		return
	}
	key := f.keys.Key(dc.KeyPrefix, identifier, clinicID)
	if err := f.store.Delete(ctx, key); err != nil {
		f.log.Warn("cache invalidation failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// InvalidatePattern removes every entry under a domain and clinic. Best
// effort, same as Invalidate.
func (f *Facade) InvalidatePattern(ctx context.Context, domain string, clinicID int64) {
	dc, ok := f.domainConfig(domain)
	if !ok {
		return
	}
	pattern := f.keys.Pattern(dc.KeyPrefix, clinicID)
	if err := f.store.DeleteByPattern(ctx, pattern); err != nil {
		f.log.Warn("cache pattern invalidation failed",
			zap.String("pattern", pattern),
			zap.Error(err))
	}
}

// HasDomain reports whether a domain is registered. Components that bind to
// a domain at construction time use this to fail fast instead of bypassing
// the cache on every call.
func (f *Facade) HasDomain(domain string) bool {
	_, ok := f.domains[domain]
	return ok
}

// EntityTTL returns the single-entity TTL configured for a domain, or zero
// when the domain is unknown.
func (f *Facade) EntityTTL(domain string) time.Duration {
	return f.domains[domain].TTL
}

// ListTTL returns the list/aggregate TTL configured for a domain, or zero
// when the domain is unknown.
func (f *Facade) ListTTL(domain string) time.Duration {
	return f.domains[domain].ListTTL
}

// Flush waits for in-flight background cache populations to settle. Intended
// for shutdown hooks and tests.
func (f *Facade) Flush() {
	f.pending.Wait()
}

func (f *Facade) domainConfig(domain string) (DomainConfig, bool) {
	dc, ok := f.domains[domain]
	if !ok {
		f.log.Warn("cache domain not configured, bypassing cache",
			zap.String("domain", domain))
	}
	return dc, ok
}

// populateAsync writes a freshly fetched value to the store without blocking
// the caller. Failures inside the goroutine are logged, never propagated.
func (f *Facade) populateAsync(key string, ttl time.Duration, value any) {
	f.pending.Add(1)
	go func() {
		defer f.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				f.log.Error("cache population panicked",
					zap.String("key", key),
					zap.Any("panic", r))
			}
		}()

		payload, err := msgpack.Marshal(value)
		if err != nil {
			f.log.Warn("cache payload encoding failed",
				zap.String("key", key),
				zap.Error(err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), populateTimeout)
		defer cancel()

		if err := f.store.Set(ctx, key, payload, ttl); err != nil {
			f.log.Warn("background cache write failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}()
}

// CacheAside reads a value through the facade. On a hit the cached payload is
// decoded and returned. On a miss (or any store trouble) fetch runs
// synchronously within the caller's execution and its result is returned; the
// cache write happens in the background so the caller never waits for it.
//
// ttl overrides the domain's entity TTL when positive; pass 0 for the
// default. Use the domain's ListTTL (via EntityTTL/ListTTL helpers on the
// repository side) for list-shaped identifiers.
func CacheAside[T any](ctx context.Context, f *Facade, domain, identifier string, clinicID int64, ttl time.Duration, fetch FetchFn[T]) (T, error) {
	var zero T
	start := time.Now()

	dc, ok := f.domainConfig(domain)
	if !ok {
		return fetch(ctx)
	}
	if ttl <= 0 {
		ttl = dc.TTL
	}
	key := f.keys.Key(dc.KeyPrefix, identifier, clinicID)

	payload, found, err := f.store.Get(ctx, key)
	if err != nil {
		f.log.Warn("cache lookup failed, falling back to source",
			zap.String("key", key),
			zap.Error(err))
		value, ferr := fetch(ctx)
		if ferr != nil {
			return zero, ferr
		}
		f.recorder.RecordResponseTime(time.Since(start))
		return value, nil
	}

	if found {
		var value T
		if derr := msgpack.Unmarshal(payload, &value); derr == nil {
			f.recorder.RecordHit(time.Since(start))
			return value, nil
		}
		// Undecodable payload: treat as a miss and refetch.
		f.log.Warn("cache payload corrupt, refetching",
			zap.String("key", key))
	}

	f.recorder.RecordMiss()
	value, err := fetch(ctx)
	if err != nil {
		return zero, err
	}

	f.populateAsync(key, ttl, value)
	f.recorder.RecordResponseTime(time.Since(start))
	return value, nil
}

// WriteThrough commits a value to the source of truth and then brings the
// cache in line. write always runs first and runs exactly once; the facade
// never retries it, so writers need no idempotence guarantees. Once write
// succeeds the remaining stages are best effort, in fixed order: the entry is
// stored under its key, then every other entry under the same domain and
// clinic is swept (a single write can stale list and aggregate entries the
// facade cannot enumerate). The sweep also removes the entry written a moment
// earlier; the next read repopulates it.
//
// Between the store commit and the sweep a concurrent reader can still see a
// stale entry. That window is accepted and bounded by the domain TTL.
func WriteThrough[T any](ctx context.Context, f *Facade, domain, identifier string, clinicID int64, write WriteFn[T]) (T, error) {
	var zero T

	result, err := write(ctx)
	if err != nil {
		return zero, err
	}

	dc, ok := f.domainConfig(domain)
	if !ok {
		return result, nil
	}
	key := f.keys.Key(dc.KeyPrefix, identifier, clinicID)

	if payload, merr := msgpack.Marshal(result); merr != nil {
		f.log.Warn("cache payload encoding failed",
			zap.String("key", key),
			zap.Error(merr))
	} else if serr := f.store.Set(ctx, key, payload, dc.TTL); serr != nil {
		f.log.Warn("write-through cache update failed",
			zap.String("key", key),
			zap.Error(serr))
	}

	f.InvalidatePattern(ctx, domain, clinicID)
	return result, nil
}
