package downloadgw

import (
	"go.uber.org/fx"

	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/blobstore"
	"github.com/gostratum/ingestgw/internal/controlplane"
	"github.com/gostratum/ingestgw/internal/gwconfig"
	"github.com/gostratum/ingestgw/internal/observability"
	"github.com/gostratum/ingestgw/internal/signing"
)

// GatewayParams collects the gateway's fx dependencies.
type GatewayParams struct {
	fx.In

	Config  *gwconfig.Config
	Storage blobstore.Storage
	Client  *controlplane.Client

	Instrumenter *observability.Instrumenter `optional:"true"`
	Logger       logx.Logger                 `optional:"true"`
}

// Module returns an fx.Module providing the download gateway and the local
// download-signature verifier.
func Module() fx.Option {
	return fx.Module("downloadgw",
		fx.Provide(newVerifier),
		fx.Provide(NewGateway),
	)
}

func newVerifier(cfg *gwconfig.Config) *signing.Verifier {
	return signing.NewVerifier(cfg.SigningSecret)
}

// NewGateway is the fx-friendly constructor.
func NewGateway(p GatewayParams, verifier *signing.Verifier) *Gateway {
	return New(Params{
		Storage:      p.Storage,
		Client:       p.Client,
		Verifier:     verifier,
		Instrumenter: p.Instrumenter,
		Logger:       p.Logger,
	})
}
