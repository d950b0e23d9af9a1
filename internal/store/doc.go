// Package store provides the keyed TTL storage the engine shares
// between request-handling processes and workers: a generic KeyValue
// backend (Redis in production, in-memory in tests), the results cache
// with its deduplication markers, and the job record store.
package store
