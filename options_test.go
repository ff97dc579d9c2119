package kvsession

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOptions_Defaults(t *testing.T) {
	opts, err := LoadOptions("")
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), opts)
	assert.Equal(t, DefaultMaxLifetime, opts.MaxLifetime())
	assert.Equal(t, DefaultSweepInterval, opts.SweepInterval())
}

func TestLoadOptions_MissingFileFallsBack(t *testing.T) {
	opts, err := LoadOptions(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), opts)
}

func TestLoadOptions_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvsession.yaml")
	content := `
driver: sqlite
dsn: /var/lib/app/sessions.db
key_prefix: "app:"
max_retries: 5
retry_interval_ms: 250
codec: flat
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, opts.Driver)
	assert.Equal(t, "/var/lib/app/sessions.db", opts.DSN)
	assert.Equal(t, "app:", opts.KeyPrefix)
	assert.Equal(t, "debug", opts.Logging.Level)
	assert.Equal(t, "console", opts.Logging.Format)
	assert.Equal(t, 6379, opts.Port, "unset keys keep their defaults")

	cfg := opts.ConnectionConfig()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryInterval)

	codec, err := opts.NewCodec()
	require.NoError(t, err)
	assert.Equal(t, "flat", codec.Name())
}

func TestLoadOptions_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvsession.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\n"), 0o600))

	t.Setenv("KVSESSION_PORT", "6380")
	t.Setenv("KVSESSION_LOGGING_LEVEL", "warn")

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 6380, opts.Port)
	assert.Equal(t, "warn", opts.Logging.Level)
}

func TestLoadOptions_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown driver":   "driver: mongo\n",
		"sqlite needs dsn": "driver: sqlite\n",
		"unknown codec":    "codec: msgpack\n",
		"bad port":         "port: 70000\n",
		"negative retries": "max_retries: -1\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "kvsession.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

			_, err := LoadOptions(path)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestSaveOptions_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kvsession.yaml")
	want := DefaultOptions()
	want.Driver = DriverPostgres
	want.DSN = "postgres://localhost/sessions"
	want.Credential = "s3cret"

	require.NoError(t, SaveOptions(want, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOptions_OpenBackend(t *testing.T) {
	opts := DefaultOptions()
	b, err := opts.OpenBackend()
	require.NoError(t, err)
	assert.IsType(t, &RedisBackend{}, b)

	opts.Driver = DriverMemcached
	opts.Port = 11211
	b, err = opts.OpenBackend()
	require.NoError(t, err)
	assert.IsType(t, &MemcachedBackend{}, b)

	opts.Driver = DriverSQLite
	opts.DSN = filepath.Join(t.TempDir(), "sessions.db")
	b, err = opts.OpenBackend()
	require.NoError(t, err)
	defer b.Close()
	_, ok := b.(Sweeper)
	assert.True(t, ok, "sqlite backends sweep expired entries")
}
