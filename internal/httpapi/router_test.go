package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gostratum/core"
	"github.com/gostratum/ingestgw/internal/blobstore"
	"github.com/gostratum/ingestgw/internal/blobstore/blobtest"
	"github.com/gostratum/ingestgw/internal/chunkpipeline"
	"github.com/gostratum/ingestgw/internal/controlplane"
	"github.com/gostratum/ingestgw/internal/downloadgw"
	"github.com/gostratum/ingestgw/internal/finalize"
	"github.com/gostratum/ingestgw/internal/hostrouter"
	"github.com/gostratum/ingestgw/internal/httpapi"
	"github.com/gostratum/ingestgw/internal/signing"
	"github.com/gostratum/ingestgw/internal/tusengine"
	"github.com/gostratum/ingestgw/internal/uploadstate"
)

const (
	baseDomain  = "files.example.com"
	mainHost    = "http://files.example.com"
	projectHost = "http://acme.files.example.com"
	secret      = "callback-secret"
)

type fakeResolver struct {
	mu      sync.Mutex
	lookups int
}

func (f *fakeResolver) LookupProjectBySlug(ctx context.Context, slug string) (*controlplane.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if slug != "acme" {
		return nil, &controlplane.ClientError{Op: "lookup-project-by-slug", Err: controlplane.ErrNotFound}
	}
	return &controlplane.Project{ID: "proj1", Slug: "acme", DefaultFileAccess: "private"}, nil
}

type memStore struct {
	mu      sync.Mutex
	records map[string]*uploadstate.UploadMetadata
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*uploadstate.UploadMetadata)}
}

func (s *memStore) CreateUpload(ctx context.Context, meta *uploadstate.UploadMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *meta
	s.records[meta.UploadID] = &cp
	return nil
}

func (s *memStore) GetUpload(ctx context.Context, uploadID string) (*uploadstate.UploadMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.records[uploadID]
	if !ok {
		return nil, &uploadstate.StateError{Op: "get", UploadID: uploadID, Err: uploadstate.ErrNotFound}
	}
	cp := *meta
	return &cp, nil
}

func (s *memStore) UpdateUpload(ctx context.Context, meta *uploadstate.UploadMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *meta
	s.records[meta.UploadID] = &cp
	return nil
}

func (s *memStore) DeleteUpload(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, uploadID)
	return nil
}

type fakeVerifier struct{}

func (fakeVerifier) VerifySignature(ctx context.Context, req controlplane.VerifySignatureRequest) (*controlplane.VerifySignatureResponse, error) {
	return &controlplane.VerifySignatureResponse{Valid: true, ProjectID: "proj1"}, nil
}

type fakeCallbacks struct{}

func (fakeCallbacks) SendCallback(ctx context.Context, req controlplane.CallbackRequest) error {
	return nil
}

type fakeFiles struct{}

func (fakeFiles) LookupFileKey(ctx context.Context, req controlplane.LookupFileKeyRequest) (*controlplane.FileKey, error) {
	return nil, &controlplane.ClientError{Op: "lookup-file-key", Err: controlplane.ErrNotFound}
}

func (fakeFiles) TrackDownload(ctx context.Context, req controlplane.TrackDownloadRequest) error {
	return nil
}

type fakeCheck struct {
	name string
	err  error
}

func (c *fakeCheck) Name() string                    { return c.name }
func (c *fakeCheck) Kind() core.Kind                 { return core.Readiness }
func (c *fakeCheck) Check(ctx context.Context) error { return c.err }

type env struct {
	storage  *blobtest.MockStorage
	resolver *fakeResolver
	handler  http.Handler
}

func newEnv(t *testing.T, checks ...core.Check) *env {
	t.Helper()

	storage := blobtest.NewMockStorage()
	store := newMemStore()
	resolver := &fakeResolver{}

	engine := tusengine.New(tusengine.Params{
		Store:          store,
		Storage:        storage,
		Pipeline:       chunkpipeline.New(storage, store, nil, nil),
		Finalizer:      finalize.New(storage, store, fakeCallbacks{}, nil, nil),
		Verifier:       fakeVerifier{},
		MaxSize:        1 << 30,
		UploadLifetime: time.Hour,
	})

	downloads := downloadgw.New(downloadgw.Params{
		Storage:  storage,
		Client:   fakeFiles{},
		Verifier: signing.NewVerifier("download-secret"),
	})

	hr := hostrouter.New(baseDomain, resolver, nil)
	internal := httpapi.NewInternalAPI(storage, secret, checks, nil)
	handler := httpapi.NewRouter(hr, engine, downloads, internal, "test-version")

	return &env{storage: storage, resolver: resolver, handler: handler}
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, mainHost+"/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "test-version", body["version"])
}

func TestCORSHeadersOnEveryResponse(t *testing.T) {
	e := newEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, mainHost+"/health", nil))
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-HTTP-Method-Override")
	require.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Tus-Version")
	require.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}

func TestPreflightOutsideUploadSurface(t *testing.T) {
	e := newEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodOptions, projectHost+"/f/abc123", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	// Preflight is answered before any project lookup.
	require.Zero(t, e.resolver.lookups)
}

func TestTusOptionsOnProjectHost(t *testing.T) {
	e := newEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodOptions, projectHost+"/ingest/tus", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "1.0.0", rec.Header().Get("Tus-Version"))
	require.NotEmpty(t, rec.Header().Get("Tus-Extension"))
}

func TestUnknownSlugIs404(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodPost, "http://ghost.files.example.com/ingest/tus", nil)
	req.Header.Set("Tus-Resumable", "1.0.0")
	rec := e.do(req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func createUpload(t *testing.T, e *env, size string) (string, *httptest.ResponseRecorder) {
	t.Helper()

	q := url.Values{}
	q.Set("keyId", "key1")
	q.Set("sig", "c2ln")
	q.Set("size", size)
	q.Set("environmentId", "env1")
	q.Set("fileKeyId", "fk1")
	q.Set("accessKey", "ak1")
	q.Set("fileName", "f.bin")

	req := httptest.NewRequest(http.MethodPost, projectHost+"/ingest/tus?"+q.Encode(), nil)
	req.Header.Set("Tus-Resumable", "1.0.0")
	req.Header.Set("Upload-Length", size)
	rec := e.do(req)
	require.Equal(t, http.StatusCreated, rec.Code)

	location := rec.Header().Get("Location")
	idx := len(location) - 16
	return location[idx:], rec
}

func TestCreateThroughRouter(t *testing.T) {
	e := newEnv(t)

	id, rec := createUpload(t, e, "1000")
	require.Len(t, id, 16)
	require.Contains(t, rec.Header().Get("Location"), "acme.files.example.com/ingest/tus/")
}

func TestMethodOverrideRewritesVerb(t *testing.T) {
	e := newEnv(t)

	id, _ := createUpload(t, e, "1000")

	// POST with an override header reaches the DELETE handler.
	req := httptest.NewRequest(http.MethodPost, projectHost+"/ingest/tus/"+id, nil)
	req.Header.Set("Tus-Resumable", "1.0.0")
	req.Header.Set("X-HTTP-Method-Override", "DELETE")
	rec := e.do(req)

	require.Equal(t, http.StatusNoContent, rec.Code)

	headReq := httptest.NewRequest(http.MethodHead, projectHost+"/ingest/tus/"+id, nil)
	headReq.Header.Set("Tus-Resumable", "1.0.0")
	rec = e.do(headReq)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInternalRejectsProjectHost(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodDelete, projectHost+"/internal/delete/proj1/env1/obj1", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := e.do(req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInternalRequiresBearer(t *testing.T) {
	e := newEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodDelete, mainHost+"/internal/delete/proj1/env1/obj1", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, mainHost+"/internal/delete/proj1/env1/obj1", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	rec = e.do(req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInternalDelete(t *testing.T) {
	e := newEnv(t)

	_, err := e.storage.Put(context.Background(), "proj1/env1/obj1", bytes.NewReader([]byte("x")), 1, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, mainHost+"/internal/delete/proj1/env1/obj1", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := e.do(req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err = e.storage.Head(context.Background(), "proj1/env1/obj1")
	require.True(t, blobstore.IsNotFound(err))
}

func TestInternalList(t *testing.T) {
	e := newEnv(t)

	for _, key := range []string{"proj1/env1/a", "proj1/env1/b", "proj2/env1/c"} {
		_, err := e.storage.Put(context.Background(), key, bytes.NewReader([]byte("x")), 1, nil)
		require.NoError(t, err)
	}

	body, _ := json.Marshal(map[string]any{"prefix": "proj1/"})
	req := httptest.NewRequest(http.MethodPost, mainHost+"/internal/list", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Objects []struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"objects"`
		Truncated bool `json:"truncated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Objects, 2)
	require.False(t, resp.Truncated)
}

func TestInternalGetMetadata(t *testing.T) {
	e := newEnv(t)

	_, err := e.storage.Put(context.Background(), "proj1/env1/obj1", bytes.NewReader([]byte("hello")), 5, &blobstore.PutOptions{ContentType: "text/plain"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, mainHost+"/internal/get-metadata/proj1/env1/obj1", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Key         string `json:"key"`
		Size        int64  `json:"size"`
		ContentType string `json:"contentType"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "proj1/env1/obj1", resp.Key)
	require.Equal(t, int64(5), resp.Size)
	require.Equal(t, "text/plain", resp.ContentType)
}

func TestInternalGetMetadataNotFound(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodPost, mainHost+"/internal/get-metadata/proj1/env1/ghost", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := e.do(req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzReportsCheckFailures(t *testing.T) {
	ok := &fakeCheck{name: "blobstore.s3"}
	bad := &fakeCheck{name: "uploadstate.redis", err: errors.New("connection refused")}
	e := newEnv(t, ok, bad)

	rec := e.do(httptest.NewRequest(http.MethodGet, mainHost+"/internal/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "uploadstate.redis")

	e = newEnv(t, ok)
	rec = e.do(httptest.NewRequest(http.MethodGet, mainHost+"/internal/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
