package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gostratum/core"
	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/apierr"
	"github.com/gostratum/ingestgw/internal/blobstore"
	"github.com/gostratum/ingestgw/internal/hostrouter"
)

// healthCheckTimeout bounds one readiness sweep over the registered checks.
const healthCheckTimeout = 5 * time.Second

// InternalAPI is the operator surface: blob-store proxies exposed only on
// the main domain, authenticated with the shared callback secret as a
// bearer token.
type InternalAPI struct {
	storage blobstore.Storage
	secret  string
	checks  []core.Check
	logger  logx.Logger
}

// NewInternalAPI creates the operator surface. checks come from the fx
// "health_checkers" group; a nil logger is replaced with a no-op logger.
func NewInternalAPI(storage blobstore.Storage, secret string, checks []core.Check, logger logx.Logger) *InternalAPI {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	return &InternalAPI{storage: storage, secret: secret, checks: checks, logger: logger}
}

// authorize enforces main-domain-only access with the shared bearer token.
func (a *InternalAPI) authorize(w http.ResponseWriter, r *http.Request) bool {
	pc, ok := hostrouter.FromContext(r.Context())
	if !ok || !pc.IsMainDomain {
		apierr.Write(w, apierr.New(apierr.CodeUnauthorized, "internal routes are main-domain only"))
		return false
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) != 1 {
		apierr.Write(w, apierr.New(apierr.CodeUnauthorized, "invalid bearer token"))
		return false
	}
	return true
}

// HandleDelete proxies DELETE /internal/delete/{adapterKey} to the blob
// store.
func (a *InternalAPI) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) {
		return
	}

	adapterKey := chi.URLParam(r, "*")
	if adapterKey == "" {
		apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "missing adapter key"))
		return
	}

	if err := a.storage.Delete(r.Context(), adapterKey); err != nil {
		a.logger.Error("internalapi: delete failed", logx.String("adapterKey", adapterKey), logx.Err(err))
		apierr.Write(w, apierr.New(apierr.CodeInternalError, "delete failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listRequest is the body of POST /internal/list.
type listRequest struct {
	Prefix string `json:"prefix"`
	Limit  int32  `json:"limit,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

// listObject is one entry in a list response.
type listObject struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	ETag     string    `json:"etag,omitempty"`
	Uploaded time.Time `json:"uploaded"`
}

// listResponse is the body of a successful list call.
type listResponse struct {
	Objects   []listObject `json:"objects"`
	Truncated bool         `json:"truncated"`
	Cursor    string       `json:"cursor,omitempty"`
}

// HandleList proxies POST /internal/list to the blob store.
func (a *InternalAPI) HandleList(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) {
		return
	}

	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "invalid list request body"))
		return
	}

	page, err := a.storage.List(r.Context(), blobstore.ListOptions{
		Prefix:            req.Prefix,
		PageSize:          req.Limit,
		ContinuationToken: req.Cursor,
	})
	if err != nil {
		a.logger.Error("internalapi: list failed", logx.String("prefix", req.Prefix), logx.Err(err))
		apierr.Write(w, apierr.New(apierr.CodeInternalError, "list failed"))
		return
	}

	resp := listResponse{
		Objects:   make([]listObject, 0, len(page.Keys)),
		Truncated: page.IsTruncated,
		Cursor:    page.NextToken,
	}
	for _, stat := range page.Keys {
		resp.Objects = append(resp.Objects, listObject{
			Key:      stat.Key,
			Size:     stat.Size,
			ETag:     stat.ETag,
			Uploaded: stat.LastModified,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// metadataResponse is the body of a successful get-metadata call.
type metadataResponse struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"contentType,omitempty"`
	ETag        string            `json:"etag,omitempty"`
	Uploaded    time.Time         `json:"uploaded"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HandleGetMetadata proxies POST /internal/get-metadata/{adapterKey} to the
// blob store's head call.
func (a *InternalAPI) HandleGetMetadata(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) {
		return
	}

	adapterKey := chi.URLParam(r, "*")
	if adapterKey == "" {
		apierr.Write(w, apierr.New(apierr.CodeInvalidRequest, "missing adapter key"))
		return
	}

	stat, err := a.storage.Head(r.Context(), adapterKey)
	if err != nil {
		if blobstore.IsNotFound(err) {
			apierr.Write(w, apierr.New(apierr.CodeFileNotFound, "object not found"))
			return
		}
		a.logger.Error("internalapi: head failed", logx.String("adapterKey", adapterKey), logx.Err(err))
		apierr.Write(w, apierr.New(apierr.CodeInternalError, "head failed"))
		return
	}

	writeJSON(w, http.StatusOK, metadataResponse{
		Key:         stat.Key,
		Size:        stat.Size,
		ContentType: stat.ContentType,
		ETag:        stat.ETag,
		Uploaded:    stat.LastModified,
		Metadata:    stat.Metadata,
	})
}

// HandleHealthz runs the registered readiness checks. Main-domain only, but
// unauthenticated so orchestrator probes can reach it.
func (a *InternalAPI) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	pc, ok := hostrouter.FromContext(r.Context())
	if !ok || !pc.IsMainDomain {
		apierr.Write(w, apierr.New(apierr.CodeUnauthorized, "internal routes are main-domain only"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	failed := map[string]string{}
	for _, check := range a.checks {
		if err := check.Check(ctx); err != nil && !errors.Is(err, context.Canceled) {
			failed[check.Name()] = err.Error()
		}
	}

	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
