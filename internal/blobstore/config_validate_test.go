package blobstore

import (
	"testing"
)

func TestValidateConfig(t *testing.T) {
	base := func(cfg Config) *Config {
		cfg.MultipartPartSize = 8 << 20
		cfg.SmallObjectThreshold = 5 << 20
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
		cfg.BackoffInitial = DefaultConfig().BackoffInitial
		cfg.BackoffMax = DefaultConfig().BackoffMax
		return &cfg
	}

	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name: "explicit creds present",
			cfg: base(Config{
				Provider:  "s3",
				Bucket:    "my-bucket",
				Region:    "us-east-1",
				AccessKey: "AKIA...",
				SecretKey: "secret",
			}),
			wantErr: false,
		},
		{
			name: "one cred missing",
			cfg: base(Config{
				Provider:  "s3",
				Bucket:    "my-bucket",
				Region:    "us-east-1",
				AccessKey: "",
				SecretKey: "secret",
			}),
			wantErr: true,
		},
		{
			name: "empty creds non-aws endpoint and no sdk defaults",
			cfg: base(Config{
				Provider: "s3",
				Bucket:   "my-bucket",
				Endpoint: "http://minio.local:9000",
			}),
			wantErr: true,
		},
		{
			name: "empty creds with use sdk defaults",
			cfg: base(Config{
				Provider:       "s3",
				Bucket:         "my-bucket",
				Region:         "us-east-1",
				UseSDKDefaults: true,
			}),
			wantErr: false,
		},
		{
			name: "role arn present with empty creds",
			cfg: base(Config{
				Provider: "s3",
				Bucket:   "my-bucket",
				Region:   "us-east-1",
				RoleARN:  "arn:aws:iam::123456789012:role/TestRole",
			}),
			wantErr: false,
		},
		{
			name: "small object threshold exceeds part size",
			cfg: func() *Config {
				c := base(Config{
					Provider:  "s3",
					Bucket:    "my-bucket",
					Region:    "us-east-1",
					AccessKey: "AKIA...",
					SecretKey: "secret",
				})
				c.SmallObjectThreshold = 16 << 20
				return c
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
