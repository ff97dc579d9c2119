package kvsession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// scanBatchSize is the COUNT hint sent with every SCAN page.
	scanBatchSize = 100

	// maxBackoff caps the exponential delay between connection attempts.
	maxBackoff = 5 * time.Second
)

// Connection wraps a Backend with retry-with-backoff connection handling, key
// prefixing and deduplicated enumeration.
//
// A Connection is meant to serve one unit of work at a time. Concurrent units
// of work should each own a Connection (they may share the Backend).
//
// Failure semantics: when the store cannot be reached, operations return an
// error wrapping ErrConnection. Once connected, a failing command is logged
// and reported through the operation's zero result (false, empty) with a nil
// error.
type Connection struct {
	backend   Backend
	cfg       ConnectionConfig
	logger    zerolog.Logger
	connected bool
}

// NewConnection validates cfg and returns an unconnected Connection.
func NewConnection(backend Backend, cfg ConnectionConfig, logger zerolog.Logger) (*Connection, error) {
	if backend == nil {
		return nil, configError("backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Connection{
		backend: backend,
		cfg:     cfg,
		logger:  logger.With().Str("component", "connection").Logger(),
	}, nil
}

// Config returns a copy of the connection configuration.
func (c *Connection) Config() ConnectionConfig {
	return c.cfg
}

// IsConnected reports whether a previous Connect succeeded.
func (c *Connection) IsConnected() bool {
	return c.connected
}

// Connect establishes connectivity, retrying with exponential backoff up to
// MaxRetries attempts. It is a no-op when already connected.
func (c *Connection) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	attempts := c.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.dial(ctx)
		if err == nil {
			c.connected = true
			if attempt > 1 {
				c.logger.Info().
					Int("attempts", attempt).
					Msg("connection recovered")
			}
			return nil
		}
		lastErr = err

		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("connection attempt failed")

		if attempt == attempts {
			break
		}
		if err := sleepContext(ctx, c.backoff(attempt)); err != nil {
			return fmt.Errorf("%w: interrupted after %d attempts: %v", ErrConnection, attempt, err)
		}
	}

	return fmt.Errorf("%w: giving up after %d attempts: %v", ErrConnection, attempts, lastErr)
}

func (c *Connection) dial(ctx context.Context) error {
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	return c.backend.Connect(ctx)
}

// backoff returns RetryInterval doubled for every attempt already made.
func (c *Connection) backoff(attempt int) time.Duration {
	delay := c.cfg.RetryInterval
	for i := 1; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close resets the connected state so the next command reconnects. The
// backend stays open; it belongs to whoever created it and may be shared.
func (c *Connection) Close() {
	c.connected = false
}

func (c *Connection) key(k string) string {
	return c.cfg.KeyPrefix + k
}

// unprefix strips the configured prefix once from the start of a stored key.
func (c *Connection) unprefix(k string) string {
	stripped, _ := strings.CutPrefix(k, c.cfg.KeyPrefix)
	return stripped
}

func (c *Connection) ensureConnected(ctx context.Context) error {
	if c.connected {
		return nil
	}
	return c.Connect(ctx)
}

func (c *Connection) commandFailed(op, key string, err error) {
	c.logger.Error().
		Err(err).
		Str("op", op).
		Str("key", key).
		Msg("store command failed")
}

// Get returns the value at key and whether it was found.
func (c *Connection) Get(ctx context.Context, key string) (string, bool, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return "", false, err
	}
	val, found, err := c.backend.Get(ctx, c.key(key))
	if err != nil {
		c.commandFailed("get", key, err)
		return "", false, nil
	}
	return val, found, nil
}

// Set stores value at key with the given time-to-live, which must be positive.
func (c *Connection) Set(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, configError("ttl must be positive, got %s", ttl)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return false, err
	}
	if err := c.backend.SetEx(ctx, c.key(key), value, ttl); err != nil {
		c.commandFailed("set", key, err)
		return false, nil
	}
	return true, nil
}

// Delete removes key. It reports true only when something was deleted.
func (c *Connection) Delete(ctx context.Context, key string) (bool, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return false, err
	}
	n, err := c.backend.Del(ctx, c.key(key))
	if err != nil {
		c.commandFailed("delete", key, err)
		return false, nil
	}
	return n > 0, nil
}

// Exists reports whether key is present.
func (c *Connection) Exists(ctx context.Context, key string) (bool, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return false, err
	}
	ok, err := c.backend.Exists(ctx, c.key(key))
	if err != nil {
		c.commandFailed("exists", key, err)
		return false, nil
	}
	return ok, nil
}

// Expire resets the time-to-live of key without touching its value.
func (c *Connection) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, configError("ttl must be positive, got %s", ttl)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return false, err
	}
	ok, err := c.backend.Expire(ctx, c.key(key), ttl)
	if err != nil {
		c.commandFailed("expire", key, err)
		return false, nil
	}
	return ok, nil
}

// Scan returns every key matching pattern, unprefixed and deduplicated. The
// store may report a key more than once while keys are mutated mid-iteration.
// pattern is a glob; the configured prefix is escaped before it is prepended.
// A backend that cannot enumerate keys fails with ErrScanUnsupported.
func (c *Connection) Scan(ctx context.Context, pattern string) ([]string, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	match := EscapePattern(c.cfg.KeyPrefix) + pattern
	seen := make(map[string]struct{})
	keys := make([]string, 0)

	var cursor uint64
	for {
		batch, next, err := c.backend.Scan(ctx, cursor, match, scanBatchSize)
		if errors.Is(err, ErrScanUnsupported) {
			return nil, err
		}
		if err != nil {
			c.commandFailed("scan", match, err)
			return []string{}, nil
		}
		for _, raw := range batch {
			if _, dup := seen[raw]; dup {
				continue
			}
			seen[raw] = struct{}{}
			keys = append(keys, c.unprefix(raw))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}
