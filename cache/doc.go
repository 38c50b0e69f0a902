// Package cache implements the tenant-aware caching facade used by the
// tenant-scoped repositories.
//
// # Overview
//
// The facade wraps an external key/value Store behind two patterns:
//
//   - Cache-aside reads: CacheAside checks the store first, falls back to the
//     source of truth on a miss, and populates the cache in the background so
//     the caller never waits for the cache write.
//   - Write-through writes: WriteThrough commits to the source of truth
//     first, then updates the written entry and sweeps the rest of the
//     domain+clinic key space as a defensive consistency measure.
//
// Keys follow one convention everywhere:
//
//	{globalPrefix}:{domainPrefix}:clinic_{clinicId}:{identifier}
//
// so pattern invalidation is a trailing wildcard on the identifier segment.
//
// # Failure policy
//
// Store failures are absorbed here and never propagate. A failed lookup
// falls back to the fetch function, a failed write or invalidation is logged
// and dropped. Callers observe a cache outage only as degraded latency.
//
// # Metrics
//
// Each Facade owns a Recorder: hit/miss counters plus a bounded window of
// the most recent 1000 response-time samples (FIFO eviction), from which the
// snapshot derives hit rate, average, p95, and p99. The recorder is safe for
// concurrent callers; it is the one piece of shared mutable state in this
// package and is guarded by a single mutex.
//
// # Configuration
//
// Config maps domain names to key prefixes and TTLs. It is validated once,
// in NewFacade, so unknown or malformed domains fail at startup rather than
// on the hot path.
package cache
