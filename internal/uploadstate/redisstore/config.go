// Package redisstore is the go-redis-backed uploadstate.KVStore
// implementation: one Redis instance holds both the upload:{id} and
// expiration:{rfc1123}:{id} namespaces, distinguished by key prefix.
package redisstore

import "time"

// Config holds Redis connection configuration for the upload-state store.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string `mapstructure:"addr" yaml:"addr" default:"localhost:6379"`

	// Password authenticates to Redis; empty means no auth (AUTH skipped).
	Password string `mapstructure:"password" yaml:"password"`

	// DB selects the logical Redis database index.
	DB int `mapstructure:"db" yaml:"db" default:"0"`

	// KeyPrefix namespaces every key this store writes, so one Redis
	// instance can be shared across deployments without collision.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix" default:"ingestgw"`

	// DialTimeout bounds establishing the connection.
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" default:"5s"`

	// ReadTimeout bounds a single read operation.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" default:"3s"`

	// WriteTimeout bounds a single write operation.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" default:"3s"`

	// MaxRetries is the number of times go-redis retries a failed command.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" default:"3"`
}

// Prefix implements configx.Configurable and returns the configuration prefix.
func (Config) Prefix() string { return "uploadstate" }

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		DB:           0,
		KeyPrefix:    "ingestgw",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	}
}

// Sanitize applies automatic fixes to configuration where possible and
// returns a sanitized copy without mutating the receiver.
func (cfg *Config) Sanitize() *Config {
	if cfg == nil {
		return DefaultConfig()
	}

	sanitized := *cfg

	if sanitized.Addr == "" {
		sanitized.Addr = "localhost:6379"
	}
	if sanitized.KeyPrefix == "" {
		sanitized.KeyPrefix = "ingestgw"
	}
	if sanitized.DialTimeout == 0 {
		sanitized.DialTimeout = 5 * time.Second
	}
	if sanitized.ReadTimeout == 0 {
		sanitized.ReadTimeout = 3 * time.Second
	}
	if sanitized.WriteTimeout == 0 {
		sanitized.WriteTimeout = 3 * time.Second
	}
	if sanitized.MaxRetries == 0 {
		sanitized.MaxRetries = 3
	}

	return &sanitized
}

// ConfigSummary returns a safe summary of the configuration for logging.
func (cfg *Config) ConfigSummary() map[string]any {
	if cfg == nil {
		return map[string]any{"error": "nil config"}
	}
	return map[string]any{
		"addr":          cfg.Addr,
		"db":            cfg.DB,
		"key_prefix":    cfg.KeyPrefix,
		"dial_timeout":  cfg.DialTimeout.String(),
		"read_timeout":  cfg.ReadTimeout.String(),
		"write_timeout": cfg.WriteTimeout.String(),
		"max_retries":   cfg.MaxRetries,
		"has_password":  cfg.Password != "",
	}
}
