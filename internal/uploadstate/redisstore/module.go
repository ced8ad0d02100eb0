package redisstore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/gostratum/core"
	"github.com/gostratum/core/configx"
	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/uploadstate"
)

// Module returns an fx.Module providing the Redis-backed uploadstate.Store,
// mirroring s3store.Module()'s shape: config from configx.Loader, a
// lifecycle-bound client, and a health checker contributed to the
// "health_checkers" group.
func Module() fx.Option {
	return fx.Module("uploadstate-redis",
		fx.Provide(NewConfigFromLoader),
		fx.Provide(provideStore),
		fx.Provide(
			fx.Annotated{
				Target: func(c *Client) core.Check {
					return &redisHealthCheck{client: c}
				},
				Group: "health_checkers",
			},
		),
	)
}

// NewConfigFromLoader binds Config through configx, sanitizes and validates
// it, the same pattern blobstore.NewConfig follows.
func NewConfigFromLoader(loader configx.Loader) (*Config, error) {
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

func provideStore(lc fx.Lifecycle, cfg *Config, logger logx.Logger) (uploadstate.Store, error) {
	client, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return uploadstate.NewKVBackedStore(client, logger), nil
}

// redisHealthCheck implements core.Check for Redis connectivity.
type redisHealthCheck struct {
	client *Client
}

func (h *redisHealthCheck) Name() string { return "uploadstate.redis" }

func (h *redisHealthCheck) Kind() core.Kind { return core.Readiness }

func (h *redisHealthCheck) Check(ctx context.Context) error {
	if h.client == nil {
		return fmt.Errorf("no redis client")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.client.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
