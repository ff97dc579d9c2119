package kvsession

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Supported Options.Driver values.
const (
	DriverRedis     = "redis"
	DriverMemcached = "memcached"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
)

// Options is the file and environment configuration surface. It is loaded by
// LoadOptions and converted into runtime objects by its methods.
type Options struct {
	// Driver selects the backend: redis, memcached, sqlite or postgres.
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DSN is the database source for the sqlite and postgres drivers.
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty"`

	Host                    string `mapstructure:"host" yaml:"host"`
	Port                    int    `mapstructure:"port" yaml:"port"`
	ConnectTimeoutSeconds   int    `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	ReadTimeoutSeconds      int    `mapstructure:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	Credential              string `mapstructure:"credential" yaml:"credential,omitempty"`
	StoreIndex              int    `mapstructure:"store_index" yaml:"store_index"`
	KeyPrefix               string `mapstructure:"key_prefix" yaml:"key_prefix"`
	UsePersistentConnection bool   `mapstructure:"use_persistent_connection" yaml:"use_persistent_connection"`
	RetryIntervalMs         int    `mapstructure:"retry_interval_ms" yaml:"retry_interval_ms"`
	MaxRetries              int    `mapstructure:"max_retries" yaml:"max_retries"`

	MaxLifetimeSeconds   int    `mapstructure:"max_lifetime_seconds" yaml:"max_lifetime_seconds"`
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`
	Codec                string `mapstructure:"codec" yaml:"codec"`

	Logging LoggingOptions `mapstructure:"logging" yaml:"logging"`
}

// LoggingOptions configures NewLogger.
type LoggingOptions struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultOptions returns options for a local Redis server.
func DefaultOptions() Options {
	return Options{
		Driver:                DriverRedis,
		Host:                  "127.0.0.1",
		Port:                  6379,
		ConnectTimeoutSeconds: 1,
		ReadTimeoutSeconds:    1,
		KeyPrefix:             "session:",
		RetryIntervalMs:       100,
		MaxRetries:            3,
		MaxLifetimeSeconds:    int(DefaultMaxLifetime / time.Second),
		SweepIntervalSeconds:  int(DefaultSweepInterval / time.Second),
		Codec:                 "structured",
		Logging: LoggingOptions{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadOptions reads options from path (optional) and KVSESSION_* environment
// variables, on top of DefaultOptions. Environment variables win over the
// file, e.g. KVSESSION_LOGGING_LEVEL=debug.
func LoadOptions(path string) (Options, error) {
	v := viper.New()
	v.SetEnvPrefix("KVSESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can resolve it on Unmarshal.
	def := DefaultOptions()
	v.SetDefault("driver", def.Driver)
	v.SetDefault("dsn", def.DSN)
	v.SetDefault("host", def.Host)
	v.SetDefault("port", def.Port)
	v.SetDefault("connect_timeout_seconds", def.ConnectTimeoutSeconds)
	v.SetDefault("read_timeout_seconds", def.ReadTimeoutSeconds)
	v.SetDefault("credential", def.Credential)
	v.SetDefault("store_index", def.StoreIndex)
	v.SetDefault("key_prefix", def.KeyPrefix)
	v.SetDefault("use_persistent_connection", def.UsePersistentConnection)
	v.SetDefault("retry_interval_ms", def.RetryIntervalMs)
	v.SetDefault("max_retries", def.MaxRetries)
	v.SetDefault("max_lifetime_seconds", def.MaxLifetimeSeconds)
	v.SetDefault("sweep_interval_seconds", def.SweepIntervalSeconds)
	v.SetDefault("codec", def.Codec)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
			return Options{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// SaveOptions writes opts to path as YAML, creating parent directories.
func SaveOptions(opts Options, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold the store credential.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the fields that ConnectionConfig does not cover.
func (o Options) Validate() error {
	switch o.Driver {
	case DriverRedis, DriverMemcached:
	case DriverSQLite, DriverPostgres:
		if o.DSN == "" {
			return configError("driver %q requires a dsn", o.Driver)
		}
	default:
		return configError("unknown driver %q", o.Driver)
	}
	if o.MaxLifetimeSeconds < 0 {
		return configError("max_lifetime_seconds must not be negative")
	}
	if o.SweepIntervalSeconds < 0 {
		return configError("sweep_interval_seconds must not be negative")
	}
	if _, err := CodecByName(o.Codec); err != nil {
		return err
	}
	return o.ConnectionConfig().Validate()
}

// ConnectionConfig converts the connection-related options.
func (o Options) ConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Host:                 o.Host,
		Port:                 o.Port,
		ConnectTimeout:       time.Duration(o.ConnectTimeoutSeconds) * time.Second,
		ReadTimeout:          time.Duration(o.ReadTimeoutSeconds) * time.Second,
		Credential:           o.Credential,
		StoreIndex:           o.StoreIndex,
		KeyPrefix:            o.KeyPrefix,
		PersistentConnection: o.UsePersistentConnection,
		RetryInterval:        time.Duration(o.RetryIntervalMs) * time.Millisecond,
		MaxRetries:           o.MaxRetries,
	}
}

// MaxLifetime returns the session time-to-live.
func (o Options) MaxLifetime() time.Duration {
	return time.Duration(o.MaxLifetimeSeconds) * time.Second
}

// SweepInterval returns the janitor interval for sweeping backends.
func (o Options) SweepInterval() time.Duration {
	return time.Duration(o.SweepIntervalSeconds) * time.Second
}

// NewCodec returns the configured codec.
func (o Options) NewCodec() (Codec, error) {
	return CodecByName(o.Codec)
}

// OpenBackend creates the backend selected by Driver.
func (o Options) OpenBackend() (Backend, error) {
	switch o.Driver {
	case DriverRedis:
		return NewRedisBackend(o.ConnectionConfig()), nil
	case DriverMemcached:
		return NewMemcachedBackendWithConfig(MemcachedConfig{
			Servers: []string{net.JoinHostPort(o.Host, strconv.Itoa(o.Port))},
			Timeout: time.Duration(o.ReadTimeoutSeconds) * time.Second,
		}), nil
	case DriverSQLite:
		return NewSQLiteBackend(o.DSN)
	case DriverPostgres:
		return NewPostgreSQLBackend(o.DSN)
	default:
		return nil, configError("unknown driver %q", o.Driver)
	}
}
