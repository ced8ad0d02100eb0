package controlplane

import "time"

// Config holds the HTTP client configuration for the control-plane
// collaborator, in the same shape as blobstore.Config (mapstructure/yaml
// tags, default tags, a DefaultConfig/Sanitize/Validate trio).
type Config struct {
	// BaseURL is the control-plane's base URL (CONTROL_PLANE_URL).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// CallbackSecret is the bearer token sent on every request
	// (CALLBACK_SECRET); the control-plane authenticates the gateway with
	// the same shared secret it uses for callbacks.
	CallbackSecret string `mapstructure:"callback_secret" yaml:"callback_secret"`

	// RequestTimeout bounds a single outbound HTTP call.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" default:"10s"`

	// MaxRetries is the number of retry attempts for idempotent calls
	// (verify-signature, lookup-file-key, lookup-project-by-slug). The
	// callback and track-download calls are not retried beyond this budget
	// either, since the finalizer/downloadgw already treat them as
	// fire-once.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" default:"2"`

	// BackoffInitial is the initial retry backoff delay.
	BackoffInitial time.Duration `mapstructure:"backoff_initial" yaml:"backoff_initial" default:"100ms"`

	// BackoffMax is the maximum retry backoff delay.
	BackoffMax time.Duration `mapstructure:"backoff_max" yaml:"backoff_max" default:"2s"`
}

// Prefix implements configx.Configurable.
func (Config) Prefix() string { return "controlplane" }

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout: 10 * time.Second,
		MaxRetries:     2,
		BackoffInitial: 100 * time.Millisecond,
		BackoffMax:     2 * time.Second,
	}
}

// Sanitize applies automatic fixes to configuration where possible and
// returns a sanitized copy without mutating the receiver.
func (cfg *Config) Sanitize() *Config {
	if cfg == nil {
		return DefaultConfig()
	}
	sanitized := *cfg

	for len(sanitized.BaseURL) > 0 && sanitized.BaseURL[len(sanitized.BaseURL)-1] == '/' {
		sanitized.BaseURL = sanitized.BaseURL[:len(sanitized.BaseURL)-1]
	}
	if sanitized.RequestTimeout == 0 {
		sanitized.RequestTimeout = 10 * time.Second
	}
	if sanitized.BackoffInitial == 0 {
		sanitized.BackoffInitial = 100 * time.Millisecond
	}
	if sanitized.BackoffMax == 0 {
		sanitized.BackoffMax = 2 * time.Second
	}
	return &sanitized
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid config field \"" + e.Field + "\": " + e.Message
}

// ValidateConfig performs comprehensive validation of the control-plane
// client configuration. BaseURL and CallbackSecret are required; missing
// values are a hard failure at startup.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Field: "config", Message: "configuration cannot be nil"}
	}
	if cfg.BaseURL == "" {
		return &ValidationError{Field: "base_url", Message: "must not be empty"}
	}
	if cfg.CallbackSecret == "" {
		return &ValidationError{Field: "callback_secret", Message: "must not be empty"}
	}
	if cfg.RequestTimeout <= 0 {
		return &ValidationError{Field: "request_timeout", Message: "must be positive"}
	}
	if cfg.MaxRetries < 0 {
		return &ValidationError{Field: "max_retries", Message: "cannot be negative"}
	}
	return nil
}
