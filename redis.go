package kvsession

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on top of go-redis.
type RedisBackend struct {
	client redis.UniversalClient
	owned  bool
}

// NewRedisBackend builds a client from cfg. Client-side retries are disabled
// because retry policy belongs to the Connection.
func NewRedisBackend(cfg ConnectionConfig) *RedisBackend {
	opts := &redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:     cfg.Credential,
		DB:           cfg.StoreIndex,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.ReadTimeout,
		MaxRetries:   -1,
	}
	if cfg.PersistentConnection {
		opts.MinIdleConns = 1
		opts.ConnMaxIdleTime = -1
	} else {
		opts.PoolSize = 1
	}

	return &RedisBackend{
		client: redis.NewClient(opts),
		owned:  true,
	}
}

// NewRedisBackendFromClient wraps an existing client. Close does not close it.
func NewRedisBackendFromClient(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Connect(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := b.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func (b *RedisBackend) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Del(ctx context.Context, key string) (int64, error) {
	return b.client.Del(ctx, key).Result()
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return b.client.Expire(ctx, key, ttl).Result()
}

func (b *RedisBackend) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return b.client.Scan(ctx, cursor, match, count).Result()
}

func (b *RedisBackend) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}
