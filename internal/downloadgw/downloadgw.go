// Package downloadgw serves stored objects back out: access-key resolution
// through the control-plane (with the one permitted short-TTL cache),
// public/private policy with locally verified download signatures, ETag and
// single-range support, and the fire-and-forget download-tracking callback.
package downloadgw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/apierr"
	"github.com/gostratum/ingestgw/internal/blobstore"
	"github.com/gostratum/ingestgw/internal/controlplane"
	"github.com/gostratum/ingestgw/internal/hostrouter"
	"github.com/gostratum/ingestgw/internal/observability"
	"github.com/gostratum/ingestgw/internal/signing"
)

const (
	// defaultCacheTTL bounds how stale a cached FileKey may be.
	defaultCacheTTL = 60 * time.Second

	// defaultCacheSize bounds the FileKey cache entry count.
	defaultCacheSize = 1024

	// trackTimeout bounds the async download-tracking callback.
	trackTimeout = 10 * time.Second

	// cacheControl is the long-lived caching policy for served files.
	cacheControl = "public, max-age=31536000, immutable"
)

// FileKeyClient is the subset of controlplane.Client the gateway needs,
// narrowed for testability.
type FileKeyClient interface {
	LookupFileKey(ctx context.Context, req controlplane.LookupFileKeyRequest) (*controlplane.FileKey, error)
	TrackDownload(ctx context.Context, req controlplane.TrackDownloadRequest) error
}

// Params collects the gateway's collaborators. CacheTTL, CacheSize,
// Instrumenter and Logger are optional.
type Params struct {
	Storage  blobstore.Storage
	Client   FileKeyClient
	Verifier *signing.Verifier

	CacheTTL  time.Duration
	CacheSize int

	Instrumenter *observability.Instrumenter
	Logger       logx.Logger
}

// Gateway handles GET /f/{accessKey}.
type Gateway struct {
	storage      blobstore.Storage
	client       FileKeyClient
	verifier     *signing.Verifier
	cache        *fileKeyCache
	instrumenter *observability.Instrumenter
	logger       logx.Logger
}

// New creates a Gateway from p, defaulting the optional fields.
func New(p Params) *Gateway {
	if p.CacheTTL <= 0 {
		p.CacheTTL = defaultCacheTTL
	}
	if p.CacheSize <= 0 {
		p.CacheSize = defaultCacheSize
	}
	if p.Logger == nil {
		p.Logger = logx.NewNoopLogger()
	}
	return &Gateway{
		storage:      p.Storage,
		client:       p.Client,
		verifier:     p.Verifier,
		cache:        newFileKeyCache(p.CacheTTL, p.CacheSize),
		instrumenter: p.Instrumenter,
		logger:       p.Logger,
	}
}

// HandleDownload serves one file download.
func (g *Gateway) HandleDownload(w http.ResponseWriter, r *http.Request) {
	pc, ok := hostrouter.FromContext(r.Context())
	if !ok || pc.IsMainDomain || pc.ProjectID == "" {
		apierr.Write(w, apierr.New(apierr.CodeProjectNotFound, "project not found"))
		return
	}

	accessKey := chi.URLParam(r, "accessKey")
	if accessKey == "" {
		apierr.Write(w, apierr.New(apierr.CodeFileNotFound, "file not found"))
		return
	}

	sig := r.URL.Query().Get("sig")
	expiresAtRaw := r.URL.Query().Get("expiresAt")

	// Pre-I/O fail-fast: an already-expired link is rejected before any
	// lookup or blob-store call.
	if expiresAtRaw != "" {
		expiresAt, err := strconv.ParseInt(expiresAtRaw, 10, 64)
		if err != nil {
			apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "invalid expiresAt parameter"))
			return
		}
		if time.Now().Unix() > expiresAt {
			apierr.Write(w, apierr.New(apierr.CodeSignatureInvalid, "download link expired"))
			return
		}
	}

	fk, apiErr := g.lookupFileKey(r.Context(), pc.ProjectID, accessKey)
	if apiErr != nil {
		apierr.Write(w, apiErr)
		return
	}

	if !fk.IsPublic {
		if sig == "" || expiresAtRaw == "" {
			apierr.Write(w, apierr.New(apierr.CodeSignatureInvalid, "download signature required"))
			return
		}
		if !g.verifier.Verify(map[string]string{"accessKey": accessKey, "expiresAt": expiresAtRaw}, sig) {
			apierr.Write(w, apierr.New(apierr.CodeSignatureInvalid, "download signature invalid"))
			return
		}
	}

	file := fk.File
	etag := file.Hash
	if etag == "" {
		etag = `"` + file.ID + `"`
	}

	if r.Header.Get("If-None-Match") == etag {
		h := w.Header()
		h.Set("ETag", etag)
		h.Set("Cache-Control", cacheControl)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	rng := parseRangeHeader(r.Header.Get("Range"), file.Size)

	var blobRange *blobstore.Range
	if rng != nil {
		blobRange = &blobstore.Range{Offset: rng.Start, Length: rng.Length()}
	}

	body, _, err := g.storage.Get(r.Context(), file.AdapterKey, blobRange)
	if err != nil {
		if blobstore.IsNotFound(err) {
			apierr.Write(w, apierr.New(apierr.CodeFileNotFound, "file not found"))
			return
		}
		g.logger.Error("downloadgw: get object failed", logx.String("accessKey", accessKey), logx.Err(err))
		apierr.Write(w, apierr.New(apierr.CodeInternalError, "failed to read file"))
		return
	}
	defer body.Close()

	fileName := fk.FileName
	if override := r.URL.Query().Get("fileName"); override != "" {
		fileName = override
	}

	h := w.Header()
	h.Set("Content-Type", file.MimeType)
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", fileName))
	h.Set("Cache-Control", cacheControl)
	h.Set("ETag", etag)
	h.Set("Accept-Ranges", "bytes")

	servedBytes := file.Size
	if rng != nil {
		servedBytes = rng.Length()
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, file.Size))
		h.Set("Content-Length", strconv.FormatInt(servedBytes, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		h.Set("Content-Length", strconv.FormatInt(servedBytes, 10))
		w.WriteHeader(http.StatusOK)
	}

	if _, err := io.Copy(w, body); err != nil {
		// Headers are gone; nothing to surface but a log line.
		g.logger.Warn("downloadgw: stream interrupted", logx.String("accessKey", accessKey), logx.Err(err))
		return
	}

	if g.instrumenter != nil {
		g.instrumenter.RecordOperationSize("downloadgw", "serve", servedBytes)
	}
	g.trackAsync(fk, servedBytes)
}

// lookupFileKey resolves accessKey through the cache, falling back to the
// control-plane.
func (g *Gateway) lookupFileKey(ctx context.Context, projectID, accessKey string) (*controlplane.FileKey, *apierr.Error) {
	if fk, ok := g.cache.get(projectID, accessKey); ok {
		return fk, nil
	}

	fk, err := g.client.LookupFileKey(ctx, controlplane.LookupFileKeyRequest{
		AccessKey: accessKey,
		ProjectID: projectID,
	})
	if err != nil {
		if errors.Is(err, controlplane.ErrNotFound) {
			return nil, apierr.New(apierr.CodeFileNotFound, "file not found")
		}
		g.logger.Error("downloadgw: file-key lookup failed", logx.String("accessKey", accessKey), logx.Err(err))
		return nil, apierr.New(apierr.CodeInternalError, "failed to resolve file")
	}

	if fk.File == nil {
		// The key exists but its upload never completed.
		return nil, apierr.New(apierr.CodeFileNotFound, "file not found")
	}

	g.cache.put(projectID, accessKey, fk)
	return fk, nil
}

// trackAsync fires the download-tracking callback without blocking the
// response. Failures are logged and dropped.
func (g *Gateway) trackAsync(fk *controlplane.FileKey, bytes int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), trackTimeout)
		defer cancel()

		err := g.client.TrackDownload(ctx, controlplane.TrackDownloadRequest{
			ProjectID:     fk.ProjectID,
			EnvironmentID: fk.EnvironmentID,
			FileID:        fk.File.ID,
			Bytes:         bytes,
		})
		if err != nil {
			g.logger.Warn("downloadgw: track-download failed", logx.String("fileId", fk.File.ID), logx.Err(err))
		}
	}()
}
