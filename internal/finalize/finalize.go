// Package finalize implements the terminal step of an upload: complete the
// multipart upload if any, sniff the true MIME type from the object's
// header bytes, compare it against the claim, send the completion
// callback, and clear metadata - or unwind everything on any failure along
// the way. MIME detection is gabriel-vasile/mimetype's magic-byte
// sniffing.
package finalize

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/gabriel-vasile/mimetype"

	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/apierr"
	"github.com/gostratum/ingestgw/internal/blobstore"
	"github.com/gostratum/ingestgw/internal/controlplane"
	"github.com/gostratum/ingestgw/internal/observability"
	"github.com/gostratum/ingestgw/internal/uploadstate"
)

// headerWindowSize is the number of leading bytes read for MIME detection.
const headerWindowSize = 8 * 1024

// CallbackSender is the subset of controlplane.Client the finalizer needs,
// narrowed for testability.
type CallbackSender interface {
	SendCallback(ctx context.Context, req controlplane.CallbackRequest) error
}

// Finalizer completes an upload once its last chunk has landed.
type Finalizer struct {
	storage      blobstore.Storage
	store        uploadstate.Store
	callbacks    CallbackSender
	instrumenter *observability.Instrumenter
	logger       logx.Logger
}

// New creates a Finalizer. instrumenter may be nil; a nil logger is
// replaced with a no-op logger.
func New(storage blobstore.Storage, store uploadstate.Store, callbacks CallbackSender, instrumenter *observability.Instrumenter, logger logx.Logger) *Finalizer {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	return &Finalizer{storage: storage, store: store, callbacks: callbacks, instrumenter: instrumenter, logger: logger}
}

// Finalize runs the complete/verify/callback/cleanup sequence for meta,
// whose Offset has just reached its declared Size. A nil return means the
// upload is TERMINAL-OK and the caller should respond 204/201. A non-nil
// *apierr.Error means TERMINAL-FAIL; the caller surfaces it as the
// response, and Finalize has already attempted best-effort cleanup.
func (f *Finalizer) Finalize(ctx context.Context, meta *uploadstate.UploadMetadata) *apierr.Error {
	var apiErr *apierr.Error
	run := func(ctx context.Context) error {
		apiErr = f.finalize(ctx, meta)
		if apiErr != nil {
			return apiErr
		}
		return nil
	}

	if f.instrumenter != nil {
		_ = f.instrumenter.TraceOperation(ctx, "finalize", "finalize", meta.AdapterKey, run)
	} else {
		_ = run(ctx)
	}
	return apiErr
}

func (f *Finalizer) finalize(ctx context.Context, meta *uploadstate.UploadMetadata) *apierr.Error {
	actualSize := meta.Offset

	if len(meta.Parts) > 0 {
		parts := make([]blobstore.PartETag, len(meta.Parts))
		for i, p := range meta.Parts {
			parts[i] = blobstore.PartETag{PartNumber: p.PartNumber, ETag: p.ETag}
		}
		sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

		stat, err := f.storage.CompleteMultipart(ctx, meta.AdapterKey, meta.MultipartUploadID, parts)
		if err != nil {
			f.logger.Error("finalize: complete multipart failed", logx.String("uploadId", meta.UploadID), logx.Err(err))
			f.cleanup(ctx, meta, true)
			return apierr.New(apierr.CodeInternalError, "failed to complete upload")
		}
		actualSize = stat.Size
	}

	detectedMime, err := f.detectMime(ctx, meta.AdapterKey)
	if err != nil {
		f.logger.Error("finalize: mime detection failed", logx.String("uploadId", meta.UploadID), logx.Err(err))
		detectedMime = "application/octet-stream"
	}

	if meta.ClaimedMimeType != "" && !mimeEquivalent(meta.ClaimedMimeType, detectedMime) {
		f.logger.Warn("finalize: mime type mismatch", logx.String("uploadId", meta.UploadID),
			logx.String("claimed", meta.ClaimedMimeType), logx.String("detected", detectedMime))
		f.cleanup(ctx, meta, false)
		return apierr.New(apierr.CodeMimeTypeMismatch, "detected content type does not match the claimed type").
			WithDetails(map[string]any{"claimed": meta.ClaimedMimeType, "detected": detectedMime})
	}

	callbackErr := f.callbacks.SendCallback(ctx, controlplane.CallbackRequest{
		Type: controlplane.CallbackUploadCompleted,
		Data: controlplane.CallbackData{
			FileKeyID:       meta.FileKeyID,
			ProjectID:       meta.ProjectID,
			EnvironmentID:   meta.EnvironmentID,
			AdapterKey:      meta.AdapterKey,
			ActualSize:      actualSize,
			ActualHash:      meta.ClaimedHash, // no server-side hash is computed on ingest
			ActualMimeType:  normalizeMime(detectedMime),
			ClaimedSize:     meta.ClaimedSize,
			ClaimedHash:     meta.ClaimedHash,
			ClaimedMimeType: meta.ClaimedMimeType,
		},
	})
	if callbackErr != nil {
		f.logger.Error("finalize: completion callback failed", logx.String("uploadId", meta.UploadID), logx.Err(callbackErr))
		f.cleanup(ctx, meta, false)
		return apierr.New(apierr.CodeInternalError, "failed to notify completion")
	}

	if err := f.store.DeleteUpload(ctx, meta.UploadID); err != nil {
		f.logger.Warn("finalize: delete metadata failed", logx.String("uploadId", meta.UploadID), logx.Err(err))
	}
	return nil
}

// FinalizeZeroLength handles a CREATE whose declared size is 0: write the
// empty object, send the completion callback, delete the metadata. No MIME
// verification runs - there are no bytes to sniff. A non-nil return is
// TERMINAL-FAIL with cleanup already attempted, same contract as Finalize.
func (f *Finalizer) FinalizeZeroLength(ctx context.Context, meta *uploadstate.UploadMetadata) *apierr.Error {
	_, err := f.storage.Put(ctx, meta.AdapterKey, bytes.NewReader(nil), 0, &blobstore.PutOptions{
		ContentType: meta.ClaimedMimeType,
	})
	if err != nil {
		f.logger.Error("finalize: put empty object failed", logx.String("uploadId", meta.UploadID), logx.Err(err))
		f.cleanup(ctx, meta, false)
		return apierr.New(apierr.CodeInternalError, "failed to store upload")
	}

	actualMime := meta.ClaimedMimeType
	if actualMime == "" {
		actualMime = "application/octet-stream"
	}

	callbackErr := f.callbacks.SendCallback(ctx, controlplane.CallbackRequest{
		Type: controlplane.CallbackUploadCompleted,
		Data: controlplane.CallbackData{
			FileKeyID:       meta.FileKeyID,
			ProjectID:       meta.ProjectID,
			EnvironmentID:   meta.EnvironmentID,
			AdapterKey:      meta.AdapterKey,
			ActualSize:      0,
			ActualHash:      meta.ClaimedHash,
			ActualMimeType:  normalizeMime(actualMime),
			ClaimedSize:     meta.ClaimedSize,
			ClaimedHash:     meta.ClaimedHash,
			ClaimedMimeType: meta.ClaimedMimeType,
		},
	})
	if callbackErr != nil {
		f.logger.Error("finalize: completion callback failed", logx.String("uploadId", meta.UploadID), logx.Err(callbackErr))
		f.cleanup(ctx, meta, false)
		return apierr.New(apierr.CodeInternalError, "failed to notify completion")
	}

	if err := f.store.DeleteUpload(ctx, meta.UploadID); err != nil {
		f.logger.Warn("finalize: delete metadata failed", logx.String("uploadId", meta.UploadID), logx.Err(err))
	}
	return nil
}

// detectMime reads the leading headerWindowSize bytes of key and returns
// the magic-byte-detected MIME type.
func (f *Finalizer) detectMime(ctx context.Context, key string) (string, error) {
	body, _, err := f.storage.Get(ctx, key, &blobstore.Range{Offset: 0, Length: headerWindowSize})
	if err != nil {
		return "", fmt.Errorf("get header window: %w", err)
	}
	defer body.Close()

	buf, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read header window: %w", err)
	}

	return mimetype.Detect(buf).String(), nil
}

// cleanup best-effort removes the blob (and its in-progress multipart
// session, if any) and the metadata record. Every error here is logged, not
// returned - the caller already has the triggering error to surface.
func (f *Finalizer) cleanup(ctx context.Context, meta *uploadstate.UploadMetadata, abortMultipart bool) {
	if abortMultipart && meta.MultipartUploadID != "" {
		if err := f.storage.AbortMultipart(ctx, meta.AdapterKey, meta.MultipartUploadID); err != nil {
			f.logger.Warn("finalize: abort multipart failed", logx.String("uploadId", meta.UploadID), logx.Err(err))
		}
	}
	if err := f.storage.Delete(ctx, meta.AdapterKey); err != nil {
		f.logger.Warn("finalize: delete blob failed", logx.String("uploadId", meta.UploadID), logx.Err(err))
	}
	if err := f.store.DeleteUpload(ctx, meta.UploadID); err != nil {
		f.logger.Warn("finalize: delete metadata failed", logx.String("uploadId", meta.UploadID), logx.Err(err))
	}
}
