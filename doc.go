// Package asynccache provides a memoizing cache of asynchronously produced values.
//
// Value of a key is produced once, concurrent requests share the pending production
// and later requests receive the settled result until it expires.
//
// Features:
//
//   - Single production per key, waiters share a Future.
//   - Production is detached from requesting callers, a caller that gives up does not cancel it.
//   - Failures are cached like values, there is no automatic retry.
//   - Absolute and sliding expiration, configurable per cache and per call.
//   - Eviction hooks with removal reason.
//   - Context-aware Mutex.
//   - Pluggable stores, in-memory xsync map or go-cache.
//   - Logging with ctxd, stats with bool64/stats or Prometheus, OpenTelemetry spans.
//   - Dump and restore of resolved entries for warm restarts.
package asynccache
