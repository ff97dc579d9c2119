package kvsession

import (
	"context"
	"time"
)

// Backend is the raw key-value client a Connection drives. Keys it receives
// are already prefixed. Implementations report transport and command failures
// as errors; the Connection decides how they surface.
type Backend interface {
	// Connect establishes (or verifies) connectivity with the store.
	Connect(ctx context.Context) error
	// Get returns the value stored at key. found is false on a miss.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// SetEx stores value at key with the given time-to-live.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes key and returns the number of keys removed.
	Del(ctx context.Context, key string) (int64, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Expire resets the time-to-live of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Scan returns one page of keys matching a glob pattern and the cursor for
	// the next page. A returned cursor of zero ends the iteration.
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
	// Close releases client resources.
	Close() error
}

// Sweeper is implemented by backends that emulate expiry and must remove
// expired entries themselves.
type Sweeper interface {
	// Sweep deletes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int64, error)
}
