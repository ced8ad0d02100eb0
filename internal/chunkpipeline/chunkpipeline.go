// Package chunkpipeline decides, per incoming chunk, whether to use the
// small-object fast path or append a multipart part, then updates the
// owning UploadMetadata's offset/parts bookkeeping. Parts are driven by the
// upload session's running part count rather than a concurrent worker
// pool - PATCH delivers one chunk per request, not a whole-file reader to
// fan out.
package chunkpipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/blobstore"
	"github.com/gostratum/ingestgw/internal/observability"
	"github.com/gostratum/ingestgw/internal/uploadstate"
)

// ErrChunkTooLarge indicates offset+chunkSize would exceed the declared
// size. The check runs before any bytes are sent to the blob store.
var ErrChunkTooLarge = errors.New("chunkpipeline: chunk exceeds declared size")

// Result reports what the pipeline did with one chunk.
type Result struct {
	// NewOffset is meta.Offset after this chunk was accepted.
	NewOffset int64

	// Completed reports whether NewOffset == *meta.Size (the caller should
	// invoke the finalizer next).
	Completed bool
}

// Pipeline is the chunk-ingestion collaborator, sharing a Storage and a
// Store with the protocol engine.
type Pipeline struct {
	storage      blobstore.Storage
	store        uploadstate.Store
	instrumenter *observability.Instrumenter
	logger       logx.Logger
}

// New creates a Pipeline. instrumenter and logger may be nil.
func New(storage blobstore.Storage, store uploadstate.Store, instrumenter *observability.Instrumenter, logger logx.Logger) *Pipeline {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	return &Pipeline{storage: storage, store: store, instrumenter: instrumenter, logger: logger}
}

// IngestChunk writes body (chunkSize bytes) into meta's blob, updates and
// persists meta, and reports whether the upload is now complete. The caller
// is responsible for invoking the finalizer when Result.Completed is true
// (the pipeline itself does not know how to complete a multipart upload,
// verify MIME, or send the callback - see internal/finalize).
func (p *Pipeline) IngestChunk(ctx context.Context, meta *uploadstate.UploadMetadata, body io.Reader, chunkSize int64) (Result, error) {
	if meta.IsSizeKnown() && meta.Offset+chunkSize > *meta.Size {
		return Result{}, ErrChunkTooLarge
	}

	isLastChunk := meta.IsSizeKnown() && meta.Offset+chunkSize >= *meta.Size
	useSmallPath := chunkSize < smallObjectThreshold(p.storage) && isLastChunk && meta.Offset == 0

	var opErr error
	if p.instrumenter != nil {
		opErr = p.instrumenter.TraceOperation(ctx, "chunkpipeline", "ingest", meta.AdapterKey, func(ctx context.Context) error {
			return p.ingest(ctx, meta, body, chunkSize, useSmallPath)
		})
	} else {
		opErr = p.ingest(ctx, meta, body, chunkSize, useSmallPath)
	}
	if opErr != nil {
		return Result{}, opErr
	}

	if p.instrumenter != nil {
		p.instrumenter.RecordOperationSize("chunkpipeline", "ingest", chunkSize)
	}

	meta.Offset += chunkSize
	if err := p.store.UpdateUpload(ctx, meta); err != nil {
		return Result{}, fmt.Errorf("chunkpipeline: persist offset: %w", err)
	}

	return Result{NewOffset: meta.Offset, Completed: meta.IsComplete()}, nil
}

func (p *Pipeline) ingest(ctx context.Context, meta *uploadstate.UploadMetadata, body io.Reader, chunkSize int64, useSmallPath bool) error {
	if useSmallPath {
		_, err := p.storage.Put(ctx, meta.AdapterKey, body, chunkSize, &blobstore.PutOptions{
			ContentType: meta.ClaimedMimeType,
		})
		if err != nil {
			return fmt.Errorf("chunkpipeline: put: %w", err)
		}
		return nil
	}

	if meta.MultipartUploadID == "" {
		uploadID, err := p.storage.CreateMultipart(ctx, meta.AdapterKey, &blobstore.PutOptions{
			ContentType: meta.ClaimedMimeType,
		})
		if err != nil {
			return fmt.Errorf("chunkpipeline: create multipart: %w", err)
		}
		meta.MultipartUploadID = uploadID
	}

	partNumber := int32(len(meta.Parts)) + 1
	etag, err := p.storage.UploadPart(ctx, meta.AdapterKey, meta.MultipartUploadID, partNumber, body, chunkSize)
	if err != nil {
		return fmt.Errorf("chunkpipeline: upload part: %w", err)
	}

	meta.Parts = append(meta.Parts, uploadstate.Part{PartNumber: partNumber, ETag: etag})
	if p.instrumenter != nil {
		p.instrumenter.RecordMultipartOperation("chunkpipeline", "upload_part", 1)
	}
	return nil
}

// smallObjectThreshold returns the 5 MiB fast-path cutoff. It is a protocol
// constant rather than storage-backend config, since the decision belongs
// to the upload protocol, not the adapter; Storage has no accessor for it,
// so chunkpipeline owns the constant directly.
func smallObjectThreshold(blobstore.Storage) int64 {
	return 5 << 20
}
