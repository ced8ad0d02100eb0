package controlplane

import (
	"testing"
)

func TestConfig_Sanitize_TrimsTrailingSlash(t *testing.T) {
	cfg := &Config{BaseURL: "https://cp.example.com/"}
	sanitized := cfg.Sanitize()
	if sanitized.BaseURL != "https://cp.example.com" {
		t.Errorf("BaseURL not trimmed: %q", sanitized.BaseURL)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil", nil, true},
		{"missing base url", &Config{CallbackSecret: "s", RequestTimeout: 1}, true},
		{"missing secret", &Config{BaseURL: "http://x", RequestTimeout: 1}, true},
		{"valid", &Config{BaseURL: "http://x", CallbackSecret: "s", RequestTimeout: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateConfig(tt.cfg); (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
