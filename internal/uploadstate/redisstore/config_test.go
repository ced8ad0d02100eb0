package redisstore

import (
	"testing"
	"time"
)

func TestConfig_Sanitize_FillsDefaults(t *testing.T) {
	cfg := &Config{Addr: "localhost:6379"}
	sanitized := cfg.Sanitize()

	if sanitized.KeyPrefix != "ingestgw" {
		t.Errorf("KeyPrefix not defaulted: %q", sanitized.KeyPrefix)
	}
	if sanitized.DialTimeout != 5*time.Second {
		t.Errorf("DialTimeout not defaulted: %v", sanitized.DialTimeout)
	}
	if sanitized.MaxRetries != 3 {
		t.Errorf("MaxRetries not defaulted: %d", sanitized.MaxRetries)
	}
}

func TestConfig_Sanitize_NilReturnsDefault(t *testing.T) {
	var cfg *Config
	sanitized := cfg.Sanitize()
	if sanitized == nil {
		t.Fatal("Sanitize() on nil config should return a default, not nil")
	}
	if sanitized.Addr != "localhost:6379" {
		t.Errorf("expected default addr, got %q", sanitized.Addr)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil config", nil, true},
		{"valid", DefaultConfig(), false},
		{"empty addr", &Config{Addr: "", DialTimeout: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second}, true},
		{"addr missing port", &Config{Addr: "localhost", DialTimeout: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second}, true},
		{"db out of range", &Config{Addr: "localhost:6379", DB: 99, DialTimeout: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second}, true},
		{"negative retries", &Config{Addr: "localhost:6379", DialTimeout: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second, MaxRetries: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
