package blobstore

import (
	"time"
)

// Config holds all blob-store configuration options.
type Config struct {
	// Provider specifies the storage backend ("s3").
	Provider string `mapstructure:"provider" yaml:"provider" default:"s3"`

	// Bucket is the storage bucket name.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the AWS region (e.g., "us-west-2").
	Region string `mapstructure:"region" yaml:"region" default:"us-east-1"`

	// Endpoint is the custom endpoint URL (for MinIO, etc.).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// UsePathStyle forces path-style addressing (true for MinIO).
	UsePathStyle bool `mapstructure:"use_path_style" yaml:"use_path_style" default:"false"`

	// AccessKey is the access key ID.
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`

	// SecretKey is the secret access key.
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`

	// SessionToken is the temporary session token (optional).
	SessionToken string `mapstructure:"session_token" yaml:"session_token"`

	// UseSDKDefaults lets the AWS SDK default credential chain (env, shared
	// config, instance profile) be used when explicit credentials are absent.
	UseSDKDefaults bool `mapstructure:"use_sdk_defaults" yaml:"use_sdk_defaults" default:"false"`

	// RoleARN optionally specifies an ARN to assume via STS.
	RoleARN string `mapstructure:"role_arn" yaml:"role_arn"`

	// ExternalID is passed to STS AssumeRole when RoleARN is used.
	ExternalID string `mapstructure:"external_id" yaml:"external_id"`

	// AssumeRoleValidateCredentials controls whether the underlying
	// credentials are resolved and validated before they're used to assume
	// RoleARN. Disabled by default to avoid startup network calls in
	// restrictive environments.
	AssumeRoleValidateCredentials bool `mapstructure:"assume_role_validate_credentials" yaml:"assume_role_validate_credentials" default:"false"`

	// Profile selects a shared credentials/profile name when loading SDK defaults.
	Profile string `mapstructure:"profile" yaml:"profile"`

	// RequestTimeout is the timeout for individual requests.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" default:"30s"`

	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" default:"3"`

	// BackoffInitial is the initial backoff delay.
	BackoffInitial time.Duration `mapstructure:"backoff_initial" yaml:"backoff_initial" default:"200ms"`

	// BackoffMax is the maximum backoff delay.
	BackoffMax time.Duration `mapstructure:"backoff_max" yaml:"backoff_max" default:"5s"`

	// MultipartPartSize is a validated adapter setting. The chunk pipeline
	// does not read it: each multipart part it uploads is one PATCH chunk.
	MultipartPartSize int64 `mapstructure:"multipart_part_size" yaml:"multipart_part_size" default:"8388608"`

	// SmallObjectThreshold is a validated adapter setting (default 5 MiB).
	// The chunk pipeline does not read it; its single-shot put cutoff is its
	// own 5 MiB constant.
	SmallObjectThreshold int64 `mapstructure:"small_object_threshold" yaml:"small_object_threshold" default:"5242880"`

	// DisableSSL disables SSL for connections (development only).
	DisableSSL bool `mapstructure:"disable_ssl" yaml:"disable_ssl" default:"false"`

	// EnableLogging enables detailed operation logging.
	EnableLogging bool `mapstructure:"enable_logging" yaml:"enable_logging" default:"false"`
}

// Prefix implements configx.Configurable and returns the configuration prefix.
func (Config) Prefix() string { return "blobstore" }

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider:             "s3",
		Region:               "us-east-1",
		UsePathStyle:         false,
		RequestTimeout:       30 * time.Second,
		MaxRetries:           3,
		BackoffInitial:       200 * time.Millisecond,
		BackoffMax:           5 * time.Second,
		MultipartPartSize:    8 << 20, // 8MB
		SmallObjectThreshold: 5 << 20, // 5MB
		DisableSSL:           false,
		EnableLogging:        false,
	}
}

// NewConfigFromLoader creates a Config using the standard configx.Loader pattern.
// This is useful for standalone usage without FX dependency injection. For
// FX-based applications, use Module which provides NewConfig automatically.
func NewConfigFromLoader(loader interface {
	Unmarshal(any) error
}) (*Config, error) {
	cfg := DefaultConfig()
	if err := loader.Unmarshal(cfg); err != nil {
		return nil, err
	}

	cfg = cfg.Sanitize()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
