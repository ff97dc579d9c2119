package kvsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedBackend implements Backend using Memcached. Memcached has no key
// enumeration, so Scan always fails with ErrScanUnsupported and owner-scoped
// administration is unavailable on this backend.
type MemcachedBackend struct {
	client *memcache.Client
	now    func() time.Time
}

// MemcachedConfig holds configuration for the Memcached backend.
type MemcachedConfig struct {
	Servers      []string
	Timeout      time.Duration // Timeout for Memcached operations. Defaults to 0 (no timeout) if not set.
	MaxIdleConns int
}

// NewMemcachedBackend creates a MemcachedBackend for the given servers.
func NewMemcachedBackend(servers ...string) *MemcachedBackend {
	return NewMemcachedBackendWithConfig(MemcachedConfig{
		Servers: servers,
		// Security: Set a default timeout to prevent indefinite hanging if Memcached is down.
		// 1 second is usually sufficient for local/network cache.
		Timeout: 1 * time.Second,
	})
}

// NewMemcachedBackendWithConfig creates a MemcachedBackend with custom configuration.
func NewMemcachedBackendWithConfig(cfg MemcachedConfig) *MemcachedBackend {
	client := memcache.New(cfg.Servers...)
	client.Timeout = cfg.Timeout
	if cfg.MaxIdleConns > 0 {
		client.MaxIdleConns = cfg.MaxIdleConns
	}

	return &MemcachedBackend{
		client: client,
		now:    time.Now,
	}
}

func (b *MemcachedBackend) Connect(ctx context.Context) error {
	if err := b.client.Ping(); err != nil {
		return fmt.Errorf("failed to ping memcached: %w", err)
	}
	return nil
}

func (b *MemcachedBackend) Get(ctx context.Context, key string) (string, bool, error) {
	item, err := b.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get from memcached: %w", err)
	}
	return string(item.Value), true, nil
}

func (b *MemcachedBackend) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	err := b.client.Set(&memcache.Item{
		Key:        key,
		Value:      []byte(value),
		Expiration: calculateMemcachedExpiration(b.now(), ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to save to memcached: %w", err)
	}
	return nil
}

func (b *MemcachedBackend) Del(ctx context.Context, key string) (int64, error) {
	err := b.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete from memcached: %w", err)
	}
	return 1, nil
}

func (b *MemcachedBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, found, err := b.Get(ctx, key)
	return found, err
}

func (b *MemcachedBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	err := b.client.Touch(key, calculateMemcachedExpiration(b.now(), ttl))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to touch memcached key: %w", err)
	}
	return true, nil
}

func (b *MemcachedBackend) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return nil, 0, ErrScanUnsupported
}

// Close is a no-op for Memcached client.
func (b *MemcachedBackend) Close() error {
	return nil
}

// calculateMemcachedExpiration calculates the expiration value for Memcached.
// Memcached treats values > 30 days (60*60*24*30 seconds) as absolute Unix timestamps.
// Values <= 30 days are treated as a delta from the current time.
func calculateMemcachedExpiration(now time.Time, ttl time.Duration) int32 {
	const maxDelta = 30 * 24 * 60 * 60 // 30 days in seconds

	// If ttl exceeds 30 days, we MUST use absolute Unix timestamp.
	// Otherwise, Memcached will interpret a large delta as a timestamp in 1970 (expired).
	if ttl > maxDelta*time.Second {
		return int32(now.Add(ttl).Unix())
	}

	if ttl <= 0 {
		return 0
	}
	// Sub-second TTLs round up so the entry does not become immortal (0).
	secs := int32(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}
