// Package tusengine implements the resumable-upload protocol verbs
// (OPTIONS, CREATE, HEAD, PATCH, DELETE) over the chunk pipeline, the
// finalizer and the upload-metadata store. Control flow follows the tus
// reference handler's PostFile/HeadFile/PatchFile/DelFile, generalized to
// signed-query-param creation, creation-with-upload, creation-defer-length
// and per-project ownership.
package tusengine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/apierr"
	"github.com/gostratum/ingestgw/internal/blobstore"
	"github.com/gostratum/ingestgw/internal/chunkpipeline"
	"github.com/gostratum/ingestgw/internal/controlplane"
	"github.com/gostratum/ingestgw/internal/finalize"
	"github.com/gostratum/ingestgw/internal/hostrouter"
	"github.com/gostratum/ingestgw/internal/observability"
	"github.com/gostratum/ingestgw/internal/uploadstate"
)

const (
	// ProtocolVersion is the protocol version advertised and required on
	// every verb except OPTIONS.
	ProtocolVersion = "1.0.0"

	// Extensions is the Tus-Extension capability list.
	Extensions = "creation,creation-with-upload,creation-defer-length,expiration,termination"

	// offsetContentType is the only Content-Type accepted for chunk bodies.
	offsetContentType = "application/offset+octet-stream"
)

// SignatureVerifier is the subset of controlplane.Client the engine needs,
// narrowed for testability.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, req controlplane.VerifySignatureRequest) (*controlplane.VerifySignatureResponse, error)
}

// Params collects the engine's collaborators. Locker, Instrumenter and
// Logger are optional.
type Params struct {
	Store     uploadstate.Store
	Storage   blobstore.Storage
	Pipeline  *chunkpipeline.Pipeline
	Finalizer *finalize.Finalizer
	Verifier  SignatureVerifier

	// MaxSize is the maximum declared upload size in bytes.
	MaxSize int64

	// UploadLifetime is how long a created upload stays resumable.
	UploadLifetime time.Duration

	Locker       uploadstate.UploadLocker
	Instrumenter *observability.Instrumenter
	Logger       logx.Logger
}

// Engine handles the protocol verbs for a single deployment.
type Engine struct {
	store        uploadstate.Store
	storage      blobstore.Storage
	pipeline     *chunkpipeline.Pipeline
	finalizer    *finalize.Finalizer
	verifier     SignatureVerifier
	maxSize      int64
	lifetime     time.Duration
	locker       uploadstate.UploadLocker
	instrumenter *observability.Instrumenter
	logger       logx.Logger
}

// New creates an Engine from p, defaulting the optional collaborators.
func New(p Params) *Engine {
	if p.Locker == nil {
		p.Locker = uploadstate.NoopLocker{}
	}
	if p.Logger == nil {
		p.Logger = logx.NewNoopLogger()
	}
	return &Engine{
		store:        p.Store,
		storage:      p.Storage,
		pipeline:     p.Pipeline,
		finalizer:    p.Finalizer,
		verifier:     p.Verifier,
		maxSize:      p.MaxSize,
		lifetime:     p.UploadLifetime,
		locker:       p.Locker,
		instrumenter: p.Instrumenter,
		logger:       p.Logger,
	}
}

// HandleOptions advertises the protocol capabilities and ends with 204. No
// version check runs here - OPTIONS is how clients discover the version.
func (e *Engine) HandleOptions(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Tus-Resumable", ProtocolVersion)
	h.Set("Tus-Version", ProtocolVersion)
	h.Set("Tus-Extension", Extensions)
	h.Set("Tus-Max-Size", strconv.FormatInt(e.maxSize, 10))
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreate implements CREATE (POST /ingest/tus): signed-query-param
// authorization, Upload-Length XOR Upload-Defer-Length, Upload-Metadata
// parsing, the zero-length synchronous completion and the
// creation-with-upload first chunk.
func (e *Engine) HandleCreate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Tus-Resumable", ProtocolVersion)
	pc, ok := e.projectFromRequest(w, r)
	if !ok {
		return
	}
	if !e.checkVersion(w, r) {
		return
	}

	params, apiErr := parseCreateQuery(r.URL.Query())
	if apiErr != nil {
		apierr.Write(w, apiErr)
		return
	}

	// Upload-Length XOR Upload-Defer-Length: 1.
	var size *int64
	lengthHdr := r.Header.Get("Upload-Length")
	deferHdr := r.Header.Get("Upload-Defer-Length")
	switch {
	case lengthHdr != "" && deferHdr != "":
		apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "Upload-Length and Upload-Defer-Length are mutually exclusive"))
		return
	case lengthHdr != "":
		v, valid := parseNonNegativeInt(lengthHdr)
		if !valid {
			apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "invalid Upload-Length header"))
			return
		}
		size = &v
	case deferHdr == "1":
		// Deferred: size set later by the first PATCH carrying Upload-Length.
	case deferHdr != "":
		apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "Upload-Defer-Length must be 1"))
		return
	default:
		apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "Upload-Length or Upload-Defer-Length required"))
		return
	}

	if size != nil && *size > e.maxSize {
		apierr.Write(w, apierr.New(apierr.CodeUploadTooLarge, "declared size exceeds the maximum upload size"))
		return
	}

	userMeta, err := ParseUploadMetadata(r.Header.Get("Upload-Metadata"))
	if err != nil {
		apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "invalid Upload-Metadata header"))
		return
	}

	// Creation-with-upload carries the first chunk in the CREATE body;
	// anything else with a body is unsupported.
	withUpload := r.Header.Get("Content-Type") == offsetContentType && r.ContentLength > 0
	if !withUpload && r.ContentLength > 0 {
		apierr.Write(w, apierr.New(apierr.CodeInvalidContentType, "creation bodies require Content-Type "+offsetContentType))
		return
	}
	if withUpload && size != nil && r.ContentLength > *size {
		apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "creation body exceeds declared upload size"))
		return
	}

	resp, err := e.verifier.VerifySignature(r.Context(), controlplane.VerifySignatureRequest{
		KeyID:     params.keyID,
		Signature: params.sig,
		Payload: controlplane.UploadSignaturePayload{
			Type:          "upload",
			EnvironmentID: params.environmentID,
			FileKeyID:     params.fileKeyID,
			AccessKey:     params.accessKey,
			FileName:      params.fileName,
			Size:          &params.size,
			KeyID:         params.keyID,
			Hash:          params.hash,
			MimeType:      params.mimeType,
			ExpiresAt:     params.expiresAt,
			IsPublic:      params.isPublic,
		},
	})
	if err != nil {
		e.logger.Warn("tusengine: signature verification failed", logx.String("keyId", params.keyID), logx.Err(err))
		apierr.Write(w, apierr.New(apierr.CodeSignatureInvalid, "upload signature invalid"))
		return
	}

	if resp.ProjectID != "" && resp.ProjectID != pc.ProjectID {
		apierr.Write(w, apierr.New(apierr.CodeUnauthorized, "signature does not belong to this project"))
		return
	}

	claimedSize := params.size
	if resp.Size != nil {
		claimedSize = *resp.Size
	}
	claimedHash := params.hash
	if resp.ClaimedHash != "" {
		claimedHash = resp.ClaimedHash
	}
	claimedMime := params.mimeType
	if resp.ClaimedMimeType != "" {
		claimedMime = resp.ClaimedMimeType
	}

	isPublic := pc.IsPublicByDefault()
	if params.isPublic != nil {
		isPublic = *params.isPublic
	} else if resp.IsPublic {
		isPublic = true
	}

	now := time.Now().UTC()
	meta := &uploadstate.UploadMetadata{
		UploadID:        newUploadID(),
		ProjectID:       pc.ProjectID,
		EnvironmentID:   params.environmentID,
		FileKeyID:       params.fileKeyID,
		AccessKey:       params.accessKey,
		FileName:        params.fileName,
		Size:            size,
		Offset:          0,
		AdapterKey:      blobstore.NewAdapterKey(pc.ProjectID, params.environmentID),
		Parts:           []uploadstate.Part{},
		IsPublic:        isPublic,
		ClaimedHash:     claimedHash,
		ClaimedMimeType: claimedMime,
		ClaimedSize:     &claimedSize,
		Metadata:        userMeta,
		CreatedAt:       now,
		ExpiresAt:       now.Add(e.lifetime),
	}

	if err := e.store.CreateUpload(r.Context(), meta); err != nil {
		e.logger.Error("tusengine: create upload failed", logx.String("uploadId", meta.UploadID), logx.Err(err))
		apierr.Write(w, apierr.New(apierr.CodeInternalError, "failed to create upload"))
		return
	}

	location := uploadLocation(r, meta.UploadID)

	// Zero-length uploads complete synchronously: empty object, callback,
	// metadata gone, 201.
	if size != nil && *size == 0 {
		if apiErr := e.finalizer.FinalizeZeroLength(r.Context(), meta); apiErr != nil {
			apierr.Write(w, apiErr)
			return
		}
		h := w.Header()
		h.Set("Location", location)
		h.Set("Upload-Offset", "0")
		h.Set("Upload-Length", "0")
		w.WriteHeader(http.StatusCreated)
		return
	}

	if withUpload {
		e.createWithUpload(w, r, meta, location)
		return
	}

	h := w.Header()
	h.Set("Location", location)
	h.Set("Upload-Offset", "0")
	e.setLengthHeaders(h, meta)
	h.Set("Upload-Expires", meta.ExpiresAt.Format(time.RFC1123))
	w.WriteHeader(http.StatusCreated)
}

// createWithUpload streams the CREATE body through the chunk pipeline as the
// first chunk, finalizing if it already completes the upload.
func (e *Engine) createWithUpload(w http.ResponseWriter, r *http.Request, meta *uploadstate.UploadMetadata, location string) {
	chunkSize := r.ContentLength
	res, err := e.pipeline.IngestChunk(r.Context(), meta, io.LimitReader(r.Body, chunkSize), chunkSize)
	if err != nil {
		e.writeIngestError(w, meta, err)
		return
	}

	if res.Completed {
		if apiErr := e.finalizer.Finalize(r.Context(), meta); apiErr != nil {
			apierr.Write(w, apiErr)
			return
		}
	}

	h := w.Header()
	h.Set("Location", location)
	h.Set("Upload-Offset", strconv.FormatInt(res.NewOffset, 10))
	e.setLengthHeaders(h, meta)
	if !res.Completed {
		h.Set("Upload-Expires", meta.ExpiresAt.Format(time.RFC1123))
	}
	w.WriteHeader(http.StatusCreated)
}

// HandleHead implements the offset probe. Error responses carry
// Cache-Control: no-store same as success.
func (e *Engine) HandleHead(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Tus-Resumable", ProtocolVersion)
	h.Set("Cache-Control", "no-store")

	pc, ok := e.projectFromRequest(w, r)
	if !ok {
		return
	}
	if !e.checkVersion(w, r) {
		return
	}

	meta, apiErr := e.loadOwnedUpload(r.Context(), chi.URLParam(r, "id"), pc)
	if apiErr != nil {
		apierr.Write(w, apiErr)
		return
	}

	h.Set("Upload-Offset", strconv.FormatInt(meta.Offset, 10))
	h.Set("Upload-Expires", meta.ExpiresAt.Format(time.RFC1123))
	e.setLengthHeaders(h, meta)
	if len(meta.Metadata) > 0 {
		h.Set("Upload-Metadata", SerializeUploadMetadata(meta.Metadata))
	}
	w.WriteHeader(http.StatusOK)
}

// HandlePatch appends one chunk at the stored offset, finalizing when the
// chunk completes the declared size.
func (e *Engine) HandlePatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Tus-Resumable", ProtocolVersion)
	pc, ok := e.projectFromRequest(w, r)
	if !ok {
		return
	}
	if !e.checkVersion(w, r) {
		return
	}

	if r.Header.Get("Content-Type") != offsetContentType {
		apierr.Write(w, apierr.New(apierr.CodeInvalidContentType, "PATCH requires Content-Type "+offsetContentType))
		return
	}

	offsetHdr := r.Header.Get("Upload-Offset")
	if offsetHdr == "" {
		apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "Upload-Offset header required"))
		return
	}
	offset, valid := parseNonNegativeInt(offsetHdr)
	if !valid {
		apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "invalid Upload-Offset header"))
		return
	}

	id := chi.URLParam(r, "id")
	unlock := e.locker.Lock(id)
	defer unlock()

	meta, apiErr := e.loadOwnedUpload(r.Context(), id, pc)
	if apiErr != nil {
		apierr.Write(w, apiErr)
		return
	}

	if offset != meta.Offset {
		if e.instrumenter != nil {
			e.instrumenter.RecordOffsetMismatch("patch")
		}
		apierr.Write(w, apierr.New(apierr.CodeOffsetMismatch, "upload offset does not match").
			WithDetails(map[string]any{"expected": meta.Offset, "received": offset}))
		return
	}

	// A deferred-length upload may have its size set exactly once.
	if lengthHdr := r.Header.Get("Upload-Length"); lengthHdr != "" {
		v, valid := parseNonNegativeInt(lengthHdr)
		if !valid {
			apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "invalid Upload-Length header"))
			return
		}
		if meta.IsSizeKnown() {
			if *meta.Size != v {
				apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "upload length already set"))
				return
			}
		} else {
			if v > e.maxSize {
				apierr.Write(w, apierr.New(apierr.CodeUploadTooLarge, "declared size exceeds the maximum upload size"))
				return
			}
			if v < meta.Offset {
				apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "declared size is below the current offset"))
				return
			}
			meta.Size = &v
			if err := e.store.UpdateUpload(r.Context(), meta); err != nil {
				e.logger.Error("tusengine: persist deferred length failed", logx.String("uploadId", id), logx.Err(err))
				apierr.Write(w, apierr.New(apierr.CodeInternalError, "failed to update upload"))
				return
			}
		}
	}

	chunkSize := r.ContentLength
	if chunkSize < 0 {
		apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "Content-Length required"))
		return
	}
	if chunkSize == 0 {
		h := w.Header()
		h.Set("Upload-Offset", strconv.FormatInt(meta.Offset, 10))
		h.Set("Upload-Expires", meta.ExpiresAt.Format(time.RFC1123))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	res, err := e.pipeline.IngestChunk(r.Context(), meta, io.LimitReader(r.Body, chunkSize), chunkSize)
	if err != nil {
		e.writeIngestError(w, meta, err)
		return
	}

	if res.Completed {
		if apiErr := e.finalizer.Finalize(r.Context(), meta); apiErr != nil {
			apierr.Write(w, apiErr)
			return
		}
		w.Header().Set("Upload-Offset", strconv.FormatInt(res.NewOffset, 10))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h := w.Header()
	h.Set("Upload-Offset", strconv.FormatInt(res.NewOffset, 10))
	h.Set("Upload-Expires", meta.ExpiresAt.Format(time.RFC1123))
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete terminates an upload: best-effort multipart abort and blob
// delete, then both metadata keys. Blob-store errors are logged, never
// surfaced.
func (e *Engine) HandleDelete(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Tus-Resumable", ProtocolVersion)
	pc, ok := e.projectFromRequest(w, r)
	if !ok {
		return
	}
	if !e.checkVersion(w, r) {
		return
	}

	id := chi.URLParam(r, "id")
	unlock := e.locker.Lock(id)
	defer unlock()

	meta, apiErr := e.loadOwnedUpload(r.Context(), id, pc)
	if apiErr != nil {
		apierr.Write(w, apiErr)
		return
	}

	if meta.MultipartUploadID != "" {
		if err := e.storage.AbortMultipart(r.Context(), meta.AdapterKey, meta.MultipartUploadID); err != nil {
			e.logger.Warn("tusengine: abort multipart failed", logx.String("uploadId", id), logx.Err(err))
		}
	}
	if err := e.storage.Delete(r.Context(), meta.AdapterKey); err != nil {
		e.logger.Warn("tusengine: delete blob failed", logx.String("uploadId", id), logx.Err(err))
	}
	if err := e.store.DeleteUpload(r.Context(), id); err != nil {
		e.logger.Warn("tusengine: delete metadata failed", logx.String("uploadId", id), logx.Err(err))
	}

	w.WriteHeader(http.StatusNoContent)
}

// checkVersion enforces the Tus-Resumable header on every verb but OPTIONS,
// advertising the supported version on mismatch.
func (e *Engine) checkVersion(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Tus-Resumable") != ProtocolVersion {
		w.Header().Set("Tus-Version", ProtocolVersion)
		apierr.Write(w, apierr.New(apierr.CodeInvalidTusVersion, "unsupported protocol version"))
		return false
	}
	return true
}

// projectFromRequest requires a resolved project subdomain; the operator's
// main domain has no upload surface.
func (e *Engine) projectFromRequest(w http.ResponseWriter, r *http.Request) (hostrouter.ProjectContext, bool) {
	pc, ok := hostrouter.FromContext(r.Context())
	if !ok || pc.IsMainDomain || pc.ProjectID == "" {
		apierr.Write(w, apierr.New(apierr.CodeProjectNotFound, "project not found"))
		return hostrouter.ProjectContext{}, false
	}
	return pc, true
}

// loadOwnedUpload fetches an upload record and enforces that it belongs to
// the request's project.
func (e *Engine) loadOwnedUpload(ctx context.Context, id string, pc hostrouter.ProjectContext) (*uploadstate.UploadMetadata, *apierr.Error) {
	if id == "" {
		return nil, apierr.New(apierr.CodeUploadNotFound, "upload not found")
	}

	meta, err := e.store.GetUpload(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, uploadstate.ErrExpired):
			return nil, apierr.New(apierr.CodeUploadExpired, "upload expired")
		case errors.Is(err, uploadstate.ErrNotFound):
			return nil, apierr.New(apierr.CodeUploadNotFound, "upload not found")
		default:
			e.logger.Error("tusengine: load upload failed", logx.String("uploadId", id), logx.Err(err))
			return nil, apierr.New(apierr.CodeInternalError, "failed to load upload")
		}
	}

	if meta.ProjectID != pc.ProjectID {
		return nil, apierr.New(apierr.CodeUnauthorized, "upload belongs to another project")
	}
	return meta, nil
}

// writeIngestError maps chunk-pipeline failures to the wire taxonomy.
func (e *Engine) writeIngestError(w http.ResponseWriter, meta *uploadstate.UploadMetadata, err error) {
	if errors.Is(err, chunkpipeline.ErrChunkTooLarge) {
		apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "chunk exceeds declared upload size"))
		return
	}
	e.logger.Error("tusengine: ingest chunk failed", logx.String("uploadId", meta.UploadID), logx.Err(err))
	apierr.Write(w, apierr.New(apierr.CodeInternalError, "failed to store chunk"))
}

// setLengthHeaders emits Upload-Length when the size is known, else
// Upload-Defer-Length: 1.
func (e *Engine) setLengthHeaders(h http.Header, meta *uploadstate.UploadMetadata) {
	if meta.IsSizeKnown() {
		h.Set("Upload-Length", strconv.FormatInt(*meta.Size, 10))
	} else {
		h.Set("Upload-Defer-Length", "1")
	}
}

// createParams is the signed query-string material on CREATE.
type createParams struct {
	keyID         string
	sig           string
	size          int64
	environmentID string
	fileKeyID     string
	accessKey     string
	fileName      string

	hash      string
	mimeType  string
	expiresAt string
	isPublic  *bool
}

// parseCreateQuery validates the required and optional query params.
func parseCreateQuery(q map[string][]string) (*createParams, *apierr.Error) {
	get := func(name string) string {
		if vs := q[name]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	p := &createParams{
		keyID:         get("keyId"),
		sig:           get("sig"),
		environmentID: get("environmentId"),
		fileKeyID:     get("fileKeyId"),
		accessKey:     get("accessKey"),
		fileName:      get("fileName"),
		hash:          get("hash"),
		mimeType:      get("mimeType"),
		expiresAt:     get("expiresAt"),
	}

	for _, req := range []struct{ name, value string }{
		{"keyId", p.keyID},
		{"sig", p.sig},
		{"size", get("size")},
		{"environmentId", p.environmentID},
		{"fileKeyId", p.fileKeyID},
		{"accessKey", p.accessKey},
		{"fileName", p.fileName},
	} {
		if req.value == "" {
			return nil, apierr.New(apierr.CodeInvalidRequest, "missing required query parameter: "+req.name)
		}
	}

	size, valid := parseNonNegativeInt(get("size"))
	if !valid {
		return nil, apierr.New(apierr.CodeInvalidRequest, "invalid size query parameter")
	}
	p.size = size

	if raw := get("isPublic"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, apierr.New(apierr.CodeInvalidRequest, "invalid isPublic query parameter")
		}
		p.isPublic = &v
	}

	return p, nil
}

// parseNonNegativeInt parses a decimal length value. Leading signs,
// non-digits and the empty string are all invalid.
func parseNonNegativeInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// newUploadID returns a 16-char opaque hex id.
func newUploadID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; if it somehow
		// does, an all-zero id still round-trips through the store.
		return "0000000000000000"
	}
	return hex.EncodeToString(buf[:])
}

// uploadLocation builds the Location header for a created upload from the
// request's own scheme and host.
func uploadLocation(r *http.Request, id string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/ingest/tus/" + id
}
