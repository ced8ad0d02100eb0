package blobstore

import (
	"context"
	"fmt"

	"github.com/gostratum/core/configx"
	"github.com/gostratum/core/logx"
	"go.uber.org/fx"
)

// Module is the Fx module that provides blob-store configuration. It does
// NOT include a concrete Storage provider; include s3store.Module() as well
// to get a working Storage implementation.
//
//	app := fx.New(
//	    blobstore.Module,
//	    s3store.Module(),
//	    fx.Invoke(func(storage blobstore.Storage) { ... }),
//	)
var Module = fx.Module("blobstore",
	fx.Provide(
		NewConfig,
	),
	fx.Invoke(registerLifecycleIfAvailable),
)

// NewConfig creates a new configuration from the configx loader.
func NewConfig(loader configx.Loader) (*Config, error) {
	cfg := DefaultConfig()
	if err := loader.Bind(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg = cfg.Sanitize()
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LifecycleParams defines parameters for lifecycle management.
type LifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Storage   Storage     `optional:"true"`
	Logger    logx.Logger `optional:"true"`
}

// registerLifecycleIfAvailable registers shutdown hooks for graceful cleanup
// when a Storage implementation is present in the graph (i.e. s3store.Module()
// was also installed).
func registerLifecycleIfAvailable(params LifecycleParams) {
	if params.Storage == nil {
		if params.Logger != nil {
			params.Logger.Debug("blobstore module loaded without a storage adapter")
		}
		return
	}

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if params.Logger != nil {
				params.Logger.Info("blobstore module started")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if params.Logger != nil {
				params.Logger.Info("blobstore module stopping")
			}

			if closer, ok := params.Storage.(interface{ Close() error }); ok {
				if err := closer.Close(); err != nil {
					if params.Logger != nil {
						params.Logger.Error("error closing storage", logx.Err(err))
					}
					return err
				}
			}

			if params.Logger != nil {
				params.Logger.Info("blobstore module stopped")
			}
			return nil
		},
	})
}

// TestModule provides a module for testing with a local MinIO-shaped config.
var TestModule = fx.Module("blobstore-test",
	fx.Provide(NewTestConfig),
)

// NewTestConfig creates a test configuration pointing at a local MinIO.
func NewTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Bucket = "test-bucket"
	cfg.Endpoint = "http://localhost:9000"
	cfg.UsePathStyle = true
	cfg.AccessKey = "minioadmin"
	cfg.SecretKey = "minioadmin"
	cfg.DisableSSL = true
	cfg.EnableLogging = true
	return cfg
}

// WithCustomLogger provides a custom logger to the DI container.
func WithCustomLogger(logger logx.Logger) fx.Option {
	return fx.Supply(logger)
}

// WithCustomStorage provides a concrete Storage instance to the FX graph.
// Useful for tests or for applications that construct storage outside of
// adapter modules.
func WithCustomStorage(s Storage) fx.Option {
	return fx.Supply(s)
}
