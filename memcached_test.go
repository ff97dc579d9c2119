package kvsession

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestMemcachedBackendConfig(t *testing.T) {
	backend := NewMemcachedBackend("localhost:11211")
	if backend.client.Timeout != 1*time.Second {
		t.Errorf("expected default timeout 1s, got %v", backend.client.Timeout)
	}

	backend = NewMemcachedBackendWithConfig(MemcachedConfig{
		Servers:      []string{"localhost:11211"},
		Timeout:      250 * time.Millisecond,
		MaxIdleConns: 8,
	})
	if backend.client.Timeout != 250*time.Millisecond {
		t.Errorf("expected timeout 250ms, got %v", backend.client.Timeout)
	}
	if backend.client.MaxIdleConns != 8 {
		t.Errorf("expected 8 idle conns, got %d", backend.client.MaxIdleConns)
	}
}

func TestCalculateMemcachedExpiration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	thirtyDays := 30 * 24 * time.Hour

	tests := []struct {
		name string
		ttl  time.Duration
		want int32
	}{
		{"zero never expires", 0, 0},
		{"negative never expires", -time.Minute, 0},
		{"sub-second rounds up", 300 * time.Millisecond, 1},
		{"fractional rounds up", 1500 * time.Millisecond, 2},
		{"relative delta", 1440 * time.Second, 1440},
		{"exactly thirty days is a delta", thirtyDays, int32(thirtyDays / time.Second)},
		{"beyond thirty days is absolute", thirtyDays + time.Hour, int32(now.Add(thirtyDays + time.Hour).Unix())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateMemcachedExpiration(now, tt.ttl); got != tt.want {
				t.Errorf("calculateMemcachedExpiration(%v) = %d, want %d", tt.ttl, got, tt.want)
			}
		})
	}
}

func TestMemcachedBackend_ScanUnsupported(t *testing.T) {
	backend := NewMemcachedBackend("localhost:11211")
	_, _, err := backend.Scan(context.Background(), 0, "*", 10)
	if !errors.Is(err, ErrScanUnsupported) {
		t.Errorf("expected ErrScanUnsupported, got %v", err)
	}
}

func TestMemcachedBackend_Live(t *testing.T) {
	addr := os.Getenv("MEMCACHED_TEST_ADDR")
	if addr == "" {
		addr = "localhost:11211"
	}
	backend := NewMemcachedBackendWithConfig(MemcachedConfig{
		Servers: []string{addr},
		Timeout: 200 * time.Millisecond,
	})
	ctx := context.Background()
	if err := backend.Connect(ctx); err != nil {
		t.Skipf("Skipping Memcached test: %v (is Memcached running?)", err)
	}

	key := "kvsession-test-" + time.Now().Format("150405.000000")
	if err := backend.SetEx(ctx, key, "a:0:{}", time.Minute); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	got, found, err := backend.Get(ctx, key)
	if err != nil || !found || got != "a:0:{}" {
		t.Errorf("unexpected get result %q found=%v err=%v", got, found, err)
	}
	if ok, err := backend.Expire(ctx, key, 2*time.Minute); err != nil || !ok {
		t.Errorf("expected touch to succeed (err=%v)", err)
	}
	if n, err := backend.Del(ctx, key); err != nil || n != 1 {
		t.Errorf("expected 1 deletion, got %d (err=%v)", n, err)
	}
	if n, err := backend.Del(ctx, key); err != nil || n != 0 {
		t.Errorf("expected 0 deletions, got %d (err=%v)", n, err)
	}
	if ok, err := backend.Exists(ctx, key); err != nil || ok {
		t.Errorf("expected key to be gone (err=%v)", err)
	}
}
