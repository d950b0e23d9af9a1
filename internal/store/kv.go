package store

import (
	"context"
	"errors"
	"time"
)

// Common store errors.
var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("key not found")

	// ErrConflict is returned when an atomic update could not be applied
	// after repeated attempts because of concurrent writers.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrSkipUpdate is returned by an Update mutate callback to abandon
	// the update without writing. Update then returns nil; the stored
	// value and its TTL are untouched.
	ErrSkipUpdate = errors.New("skip update")
)

// KeyValue is the keyed TTL store the engine runs on. All mutations to
// a single key are atomic; SetIfAbsent is the set-if-not-exists
// primitive the dedup protocol is built on, and Update is a
// compare-and-set read-modify-write. No other coordination primitive
// is required or used.
type KeyValue interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL, overwriting any
	// previous value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent stores value only when key does not exist. It reports
	// whether the write won.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Update atomically applies mutate to the current value of key and
	// stores the result with the given TTL. Returns ErrNotFound when the
	// key does not exist and ErrConflict when concurrent writers starve
	// the update. Errors returned by mutate abort the update unchanged;
	// ErrSkipUpdate aborts it silently without touching the stored
	// value or its TTL.
	Update(ctx context.Context, key string, ttl time.Duration, mutate func(current []byte) ([]byte, error)) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
