package tusengine

import (
	"go.uber.org/fx"

	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/blobstore"
	"github.com/gostratum/ingestgw/internal/chunkpipeline"
	"github.com/gostratum/ingestgw/internal/controlplane"
	"github.com/gostratum/ingestgw/internal/finalize"
	"github.com/gostratum/ingestgw/internal/gwconfig"
	"github.com/gostratum/ingestgw/internal/observability"
	"github.com/gostratum/ingestgw/internal/uploadstate"
)

// EngineParams collects the engine's fx dependencies. Locker, Instrumenter
// and Logger are optional, matching every other module in this repo.
type EngineParams struct {
	fx.In

	Config  *gwconfig.Config
	Store   uploadstate.Store
	Storage blobstore.Storage
	Client  *controlplane.Client

	Locker       uploadstate.UploadLocker     `optional:"true"`
	Instrumenter *observability.Instrumenter  `optional:"true"`
	Logger       logx.Logger                  `optional:"true"`
}

// Module returns an fx.Module providing the protocol engine plus its two
// in-process collaborators, the chunk pipeline and the finalizer, and the
// config-selected upload locker.
func Module() fx.Option {
	return fx.Module("tusengine",
		fx.Provide(newLocker),
		fx.Provide(newPipeline),
		fx.Provide(newFinalizer),
		fx.Provide(NewEngine),
	)
}

// newLocker picks the PATCH serialization strategy: striped per-upload
// mutexes when SERIALIZE_UPLOADS is set, the offset-check-only no-op
// otherwise.
func newLocker(cfg *gwconfig.Config) uploadstate.UploadLocker {
	if cfg.SerializeUploads {
		return uploadstate.NewStripedLocker()
	}
	return uploadstate.NoopLocker{}
}

type pipelineParams struct {
	fx.In

	Store   uploadstate.Store
	Storage blobstore.Storage

	Instrumenter *observability.Instrumenter `optional:"true"`
	Logger       logx.Logger                 `optional:"true"`
}

func newPipeline(p pipelineParams) *chunkpipeline.Pipeline {
	return chunkpipeline.New(p.Storage, p.Store, p.Instrumenter, p.Logger)
}

type finalizerParams struct {
	fx.In

	Store   uploadstate.Store
	Storage blobstore.Storage
	Client  *controlplane.Client

	Instrumenter *observability.Instrumenter `optional:"true"`
	Logger       logx.Logger                 `optional:"true"`
}

func newFinalizer(p finalizerParams) *finalize.Finalizer {
	return finalize.New(p.Storage, p.Store, p.Client, p.Instrumenter, p.Logger)
}

// NewEngine is the fx-friendly constructor.
func NewEngine(p EngineParams, pipeline *chunkpipeline.Pipeline, finalizer *finalize.Finalizer) *Engine {
	return New(Params{
		Store:          p.Store,
		Storage:        p.Storage,
		Pipeline:       pipeline,
		Finalizer:      finalizer,
		Verifier:       p.Client,
		MaxSize:        p.Config.TusMaxSize,
		UploadLifetime: p.Config.UploadLifetime(),
		Locker:         p.Locker,
		Instrumenter:   p.Instrumenter,
		Logger:         p.Logger,
	})
}
