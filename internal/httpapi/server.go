package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/gostratum/core"
	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/blobstore"
	"github.com/gostratum/ingestgw/internal/controlplane"
	"github.com/gostratum/ingestgw/internal/downloadgw"
	"github.com/gostratum/ingestgw/internal/gwconfig"
	"github.com/gostratum/ingestgw/internal/hostrouter"
	"github.com/gostratum/ingestgw/internal/tusengine"
)

// shutdownTimeout bounds graceful drain on stop.
const shutdownTimeout = 15 * time.Second

// Module returns an fx.Module providing the assembled router and running
// the HTTP server over the fx lifecycle.
func Module() fx.Option {
	return fx.Module("httpapi",
		fx.Provide(newHostRouter),
		fx.Provide(newInternalAPI),
		fx.Provide(newRouter),
		fx.Invoke(registerServer),
	)
}

type hostRouterParams struct {
	fx.In

	Config *gwconfig.Config
	Client *controlplane.Client

	Logger logx.Logger `optional:"true"`
}

func newHostRouter(p hostRouterParams) *hostrouter.Router {
	return hostrouter.New(p.Config.WorkerDomain, p.Client, p.Logger)
}

type internalAPIParams struct {
	fx.In

	Config  *gwconfig.Config
	Storage blobstore.Storage

	Checks []core.Check `group:"health_checkers"`
	Logger logx.Logger  `optional:"true"`
}

func newInternalAPI(p internalAPIParams) *InternalAPI {
	return NewInternalAPI(p.Storage, p.Config.CallbackSecret, p.Checks, p.Logger)
}

type routerParams struct {
	fx.In

	Config     *gwconfig.Config
	HostRouter *hostrouter.Router
	Engine     *tusengine.Engine
	Downloads  *downloadgw.Gateway
	Internal   *InternalAPI
}

func newRouter(p routerParams) http.Handler {
	return NewRouter(p.HostRouter, p.Engine, p.Downloads, p.Internal, p.Config.Version)
}

type serverParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *gwconfig.Config
	Handler   http.Handler

	Logger logx.Logger `optional:"true"`
}

// registerServer binds the listener during OnStart (so bind errors fail
// startup instead of a background goroutine) and drains on OnStop.
func registerServer(p serverParams) {
	logger := p.Logger
	if logger == nil {
		logger = logx.NewNoopLogger()
	}

	srv := &http.Server{
		Addr:    p.Config.ListenAddr,
		Handler: p.Handler,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("httpapi: listening", logx.String("addr", ln.Addr().String()), logx.String("domain", p.Config.WorkerDomain))

			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("httpapi: server error", logx.Err(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	})
}
