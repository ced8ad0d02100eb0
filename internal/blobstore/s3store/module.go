package s3store

import (
	"context"
	"io"
	"sync"

	"github.com/gostratum/core"
	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/blobstore"
	"go.uber.org/fx"
)

// Module returns an fx.Module which provides the S3 storage implementation.
// Consumers opt this in explicitly (s3store.Module()) rather than relying on
// package init side-effects.
func Module() fx.Option {
	return fx.Module("blobstore-s3",
		fx.Provide(
			provideS3Storage,
		),
		fx.Provide(
			fx.Annotated{
				Target: func(cm *ClientManager) core.Check {
					return &s3HealthCheck{client: cm}
				},
				Group: "health_checkers",
			},
		),
	)
}

// provideS3Storage is an fx-friendly constructor for the S3 storage adapter.
// The real storage is built during OnStart so it can use the lifecycle
// context; callers meanwhile see a proxy that blocks until ready.
func provideS3Storage(lc fx.Lifecycle, cfg *blobstore.Config, logger logx.Logger) (blobstore.Storage, error) {
	var opts []blobstore.Option
	if logger != nil {
		opts = append(opts, blobstore.WithLogger(logger))
	}

	proxy := &lifecycleProxy{}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s, err := NewS3Storage(ctx, cfg, opts...)
			if err != nil {
				proxy.setErr(err)
				return err
			}
			proxy.setStorage(s)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if proxy.storage != nil {
				if closer, ok := proxy.storage.(interface{ Close() error }); ok {
					return closer.Close()
				}
			}
			return nil
		},
	})

	return proxy, nil
}

// lifecycleProxy is a blobstore.Storage that waits for the real adapter to
// be created during the FX OnStart hook, returning the startup error to any
// caller that arrives before it.
type lifecycleProxy struct {
	mu      sync.RWMutex
	storage blobstore.Storage
	err     error
	ready   chan struct{}
}

func (p *lifecycleProxy) init() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready == nil {
		p.ready = make(chan struct{})
	}
}

func (p *lifecycleProxy) setStorage(s blobstore.Storage) {
	p.init()
	p.mu.Lock()
	p.storage = s
	close(p.ready)
	p.mu.Unlock()
}

func (p *lifecycleProxy) setErr(err error) {
	p.init()
	p.mu.Lock()
	p.err = err
	close(p.ready)
	p.mu.Unlock()
}

func (p *lifecycleProxy) wait() error {
	p.init()
	<-p.ready
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

func (p *lifecycleProxy) get() blobstore.Storage {
	p.mu.RLock()
	s := p.storage
	p.mu.RUnlock()
	return s
}

func (p *lifecycleProxy) Put(ctx context.Context, key string, r io.Reader, size int64, opts *blobstore.PutOptions) (blobstore.Stat, error) {
	if err := p.wait(); err != nil {
		return blobstore.Stat{}, err
	}
	return p.get().Put(ctx, key, r, size, opts)
}

func (p *lifecycleProxy) Get(ctx context.Context, key string, rng *blobstore.Range) (blobstore.ReaderAtCloser, blobstore.Stat, error) {
	if err := p.wait(); err != nil {
		return nil, blobstore.Stat{}, err
	}
	return p.get().Get(ctx, key, rng)
}

func (p *lifecycleProxy) Head(ctx context.Context, key string) (blobstore.Stat, error) {
	if err := p.wait(); err != nil {
		return blobstore.Stat{}, err
	}
	return p.get().Head(ctx, key)
}

func (p *lifecycleProxy) List(ctx context.Context, opts blobstore.ListOptions) (blobstore.ListPage, error) {
	if err := p.wait(); err != nil {
		return blobstore.ListPage{}, err
	}
	return p.get().List(ctx, opts)
}

func (p *lifecycleProxy) Delete(ctx context.Context, key string) error {
	if err := p.wait(); err != nil {
		return err
	}
	return p.get().Delete(ctx, key)
}

func (p *lifecycleProxy) CreateMultipart(ctx context.Context, key string, putOpts *blobstore.PutOptions) (string, error) {
	if err := p.wait(); err != nil {
		return "", err
	}
	return p.get().CreateMultipart(ctx, key, putOpts)
}

func (p *lifecycleProxy) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, part io.Reader, size int64) (string, error) {
	if err := p.wait(); err != nil {
		return "", err
	}
	return p.get().UploadPart(ctx, key, uploadID, partNumber, part, size)
}

func (p *lifecycleProxy) CompleteMultipart(ctx context.Context, key, uploadID string, parts []blobstore.PartETag) (blobstore.Stat, error) {
	if err := p.wait(); err != nil {
		return blobstore.Stat{}, err
	}
	return p.get().CompleteMultipart(ctx, key, uploadID, parts)
}

func (p *lifecycleProxy) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := p.wait(); err != nil {
		return err
	}
	return p.get().AbortMultipart(ctx, key, uploadID)
}
