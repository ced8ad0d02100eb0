package gwconfig

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/gostratum/ingestgw/internal/controlplane"
)

// Module returns an fx.Module providing the gateway Config from the process
// environment (the deployment surface is env-var only), plus the
// controlplane.Config derived from it - CONTROL_PLANE_URL and
// CALLBACK_SECRET are gateway-level settings, so the control-plane client's
// config is built here rather than bound separately and risking the two
// drifting.
func Module() fx.Option {
	return fx.Module("gwconfig",
		fx.Provide(NewConfigFromEnv),
		fx.Provide(NewControlPlaneConfig),
	)
}

// NewControlPlaneConfig derives the control-plane client configuration from
// the gateway config.
func NewControlPlaneConfig(cfg *Config) (*controlplane.Config, error) {
	cpCfg := controlplane.DefaultConfig()
	cpCfg.BaseURL = cfg.ControlPlaneURL
	cpCfg.CallbackSecret = cfg.CallbackSecret

	cpCfg = cpCfg.Sanitize()
	if err := controlplane.ValidateConfig(cpCfg); err != nil {
		return nil, fmt.Errorf("invalid control-plane configuration: %w", err)
	}
	return cpCfg, nil
}
