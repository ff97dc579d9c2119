package kvsession

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() ConnectionConfig {
	return ConnectionConfig{
		Host:          "localhost",
		Port:          6379,
		RetryInterval: time.Millisecond,
		MaxRetries:    3,
	}
}

type logLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func parseLogs(t *testing.T, buf *bytes.Buffer) []logLine {
	t.Helper()
	var lines []logLine
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var l logLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	return lines
}

func countLevel(lines []logLine, level string) int {
	n := 0
	for _, l := range lines {
		if l.Level == level {
			n++
		}
	}
	return n
}

func newMiniredisConnection(t *testing.T, prefix string) (*miniredis.Miniredis, *Connection) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := testConfig()
	cfg.KeyPrefix = prefix
	conn, err := NewConnection(NewRedisBackendFromClient(client), cfg, zerolog.Nop())
	require.NoError(t, err)
	return mr, conn
}

func TestNewConnection_Validation(t *testing.T) {
	_, err := NewConnection(nil, testConfig(), zerolog.Nop())
	assert.ErrorIs(t, err, ErrConfiguration)

	tests := []struct {
		name   string
		mutate func(*ConnectionConfig)
	}{
		{"port zero", func(c *ConnectionConfig) { c.Port = 0 }},
		{"port too large", func(c *ConnectionConfig) { c.Port = 65536 }},
		{"missing host", func(c *ConnectionConfig) { c.Host = "" }},
		{"negative retries", func(c *ConnectionConfig) { c.MaxRetries = -1 }},
		{"negative timeout", func(c *ConnectionConfig) { c.ConnectTimeout = -time.Second }},
		{"negative index", func(c *ConnectionConfig) { c.StoreIndex = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewConnection(newFakeBackend(), cfg, zerolog.Nop())
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestConnection_ConnectRecoversAfterFailures(t *testing.T) {
	var buf bytes.Buffer
	fb := newFakeBackend()
	fb.connectFailures = 2

	conn, err := NewConnection(fb, testConfig(), zerolog.New(&buf))
	require.NoError(t, err)

	require.NoError(t, conn.Connect(context.Background()))
	assert.True(t, conn.IsConnected())
	assert.Equal(t, 3, fb.connectCalls)

	lines := parseLogs(t, &buf)
	assert.Equal(t, 2, countLevel(lines, "warn"))
	assert.Equal(t, 1, countLevel(lines, "info"))
	assert.Equal(t, "connection recovered", lines[len(lines)-1].Message)
}

func TestConnection_ConnectExhausted(t *testing.T) {
	fb := newFakeBackend()
	fb.connectFailures = 10

	conn, err := NewConnection(fb, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	err = conn.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnection)
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Equal(t, 3, fb.connectCalls)
	assert.False(t, conn.IsConnected())
}

func TestConnection_ZeroRetriesStillTriesOnce(t *testing.T) {
	fb := newFakeBackend()
	cfg := testConfig()
	cfg.MaxRetries = 0

	conn, err := NewConnection(fb, cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, 1, fb.connectCalls)
}

func TestConnection_ConnectHonorsCancellation(t *testing.T) {
	fb := newFakeBackend()
	fb.connectFailures = 10
	cfg := testConfig()
	cfg.RetryInterval = time.Hour

	conn, err := NewConnection(fb, cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err = conn.Connect(ctx)
	require.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, 1, fb.connectCalls)
}

func TestConnection_Backoff(t *testing.T) {
	cfg := testConfig()
	cfg.RetryInterval = 100 * time.Millisecond
	conn, err := NewConnection(newFakeBackend(), cfg, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, conn.backoff(1))
	assert.Equal(t, 200*time.Millisecond, conn.backoff(2))
	assert.Equal(t, 400*time.Millisecond, conn.backoff(3))
	assert.Equal(t, maxBackoff, conn.backoff(20))
}

func TestConnection_CommandsConnectLazily(t *testing.T) {
	fb := newFakeBackend()
	fb.connectFailures = 10
	conn, err := NewConnection(fb, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	_, _, err = conn.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrConnection)
	assert.Zero(t, fb.count("get"))
}

func TestConnection_CommandFailureIsNotRaised(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	for _, op := range []string{"get", "set", "del", "exists", "expire", "scan"} {
		fb.failOps[op] = true
	}
	conn, err := NewConnection(fb, testConfig(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, conn.Connect(ctx))

	v, found, err := conn.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, v)

	ok, err := conn.Set(ctx, "k", "v", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = conn.Delete(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = conn.Exists(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = conn.Expire(ctx, "k", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	keys, err := conn.Scan(ctx, "*")
	assert.NoError(t, err)
	assert.Empty(t, keys)
}

func TestConnection_TTLMustBePositive(t *testing.T) {
	ctx := context.Background()
	conn, err := NewConnection(newFakeBackend(), testConfig(), zerolog.Nop())
	require.NoError(t, err)

	_, err = conn.Set(ctx, "k", "v", 0)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = conn.Expire(ctx, "k", -time.Second)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestConnection_Redis(t *testing.T) {
	ctx := context.Background()
	mr, conn := newMiniredisConnection(t, "sess:")

	ok, err := conn.Set(ctx, "abc", "payload", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("sess:abc"))
	assert.Equal(t, time.Minute, mr.TTL("sess:abc"))

	v, found, err := conn.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "payload", v)

	_, found, err = conn.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err = conn.Expire(ctx, "abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL("sess:abc"))

	ok, err = conn.Exists(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = conn.Delete(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = conn.Delete(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok, "deleting a missing key reports false")

	mr.Set("sess:gone", "x")
	mr.SetTTL("sess:gone", time.Second)
	mr.FastForward(2 * time.Second)
	ok, err = conn.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnection_ScanStripsPrefixOnce(t *testing.T) {
	ctx := context.Background()
	mr, conn := newMiniredisConnection(t, "p:")

	require.NoError(t, mr.Set("p:p:abc", "1"))
	require.NoError(t, mr.Set("p:xyz", "2"))
	require.NoError(t, mr.Set("other:p:abc", "3"))

	keys, err := conn.Scan(ctx, "*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p:abc", "xyz"}, keys)
}

func TestConnection_ScanDeduplicates(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	fb.pages = [][]string{
		{"p:a", "p:b"},
		{"p:b", "p:c"},
		{},
		{"p:a"},
	}
	cfg := testConfig()
	cfg.KeyPrefix = "p:"
	conn, err := NewConnection(fb, cfg, zerolog.Nop())
	require.NoError(t, err)

	keys, err := conn.Scan(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)
	assert.Equal(t, 4, fb.count("scan"))
}

func TestConnection_ScanEscapesPrefix(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	fb.data["app*:one"] = "1"
	fb.data["appX:two"] = "2"

	cfg := testConfig()
	cfg.KeyPrefix = "app*:"
	conn, err := NewConnection(fb, cfg, zerolog.Nop())
	require.NoError(t, err)

	keys, err := conn.Scan(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, keys)
	assert.Equal(t, `app\*:*`, fb.scanMatch[0])
}
