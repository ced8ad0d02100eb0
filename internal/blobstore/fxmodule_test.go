package blobstore_test

import (
	"testing"

	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/blobstore"
	"github.com/gostratum/ingestgw/internal/blobstore/blobtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func TestModuleLifecycleProvidesStorage(t *testing.T) {
	app := fxtest.New(t,
		fx.Options(
			blobstore.TestModule,
			fx.Provide(func() blobstore.Storage { return blobtest.NewMockStorage() }),
			fx.Provide(func() logx.Logger { return logx.NewNoopLogger() }),
		),
		fx.Invoke(func(s blobstore.Storage) {
			require.NotNil(t, s)
		}),
	)

	defer app.RequireStart().RequireStop()
}
