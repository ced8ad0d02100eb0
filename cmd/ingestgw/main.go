// Command ingestgw runs the edge ingestion gateway: the resumable-upload
// protocol engine, the download gateway and the operator surface, wired
// over fx with the S3 blob store and the Redis upload-metadata store.
package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gostratum/core/configx"
	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/blobstore"
	"github.com/gostratum/ingestgw/internal/blobstore/s3store"
	"github.com/gostratum/ingestgw/internal/controlplane"
	"github.com/gostratum/ingestgw/internal/downloadgw"
	"github.com/gostratum/ingestgw/internal/gwconfig"
	"github.com/gostratum/ingestgw/internal/httpapi"
	"github.com/gostratum/ingestgw/internal/observability"
	"github.com/gostratum/ingestgw/internal/tusengine"
	"github.com/gostratum/ingestgw/internal/uploadstate/redisstore"
)

// version is set at build time via
// -ldflags "-X main.version=v1.2.3".
var version = "dev"

func main() {
	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("ingestgw: logger init: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	app := fx.New(
		// The configx loader feeds the blob-store and metadata-store
		// configs; the gateway's own config comes straight from the
		// environment (gwconfig.Module).
		fx.Supply(configx.New()),
		fx.Provide(func() logx.Logger { return observability.NewZapLogger(zl) }),

		gwconfig.Module(),
		fx.Decorate(func(cfg *gwconfig.Config) *gwconfig.Config {
			cfg.Version = version
			return cfg
		}),

		observability.Module(),
		blobstore.Module,
		s3store.Module(),
		redisstore.Module(),
		controlplane.Module(),
		tusengine.Module(),
		downloadgw.Module(),
		httpapi.Module(),
	)

	app.Run()
}
