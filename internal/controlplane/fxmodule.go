package controlplane

import (
	"go.uber.org/fx"

	"github.com/gostratum/core/logx"
)

// Module returns an fx.Module providing the control-plane Client. Its
// *Config is not bound here - gwconfig derives it from the gateway's own
// required settings (CONTROL_PLANE_URL, CALLBACK_SECRET) and provides it to
// the graph.
func Module() fx.Option {
	return fx.Module("controlplane",
		fx.Provide(newClient),
	)
}

type clientParams struct {
	fx.In

	Config *Config

	Logger logx.Logger `optional:"true"`
}

func newClient(p clientParams) *Client {
	return New(p.Config, p.Logger)
}

// WithCustomLogger provides a custom logger to the DI container, mirroring
// blobstore.WithCustomLogger.
func WithCustomLogger(logger logx.Logger) fx.Option {
	return fx.Supply(logger)
}
