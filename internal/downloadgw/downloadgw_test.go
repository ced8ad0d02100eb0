package downloadgw_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/gostratum/ingestgw/internal/blobstore/blobtest"
	"github.com/gostratum/ingestgw/internal/controlplane"
	"github.com/gostratum/ingestgw/internal/downloadgw"
	"github.com/gostratum/ingestgw/internal/hostrouter"
	"github.com/gostratum/ingestgw/internal/signing"
)

type fakeClient struct {
	mu      sync.Mutex
	fileKey *controlplane.FileKey
	err     error
	lookups int
	tracked []controlplane.TrackDownloadRequest
}

func (f *fakeClient) LookupFileKey(ctx context.Context, req controlplane.LookupFileKeyRequest) (*controlplane.FileKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	return f.fileKey, nil
}

func (f *fakeClient) TrackDownload(ctx context.Context, req controlplane.TrackDownloadRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, req)
	return nil
}

func (f *fakeClient) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func (f *fakeClient) trackedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracked)
}

type env struct {
	storage  *blobtest.MockStorage
	client   *fakeClient
	verifier *signing.Verifier
	router   http.Handler
}

const (
	testAccessKey  = "abc123"
	testAdapterKey = "proj1/env1/obj1"
)

func newEnv(t *testing.T, isPublic bool, content []byte) *env {
	t.Helper()

	storage := blobtest.NewMockStorage()
	_, err := storage.Put(context.Background(), testAdapterKey, bytes.NewReader(content), int64(len(content)), nil)
	require.NoError(t, err)
	storage.Calls = nil

	client := &fakeClient{
		fileKey: &controlplane.FileKey{
			ID:            "fk1",
			FileName:      "report.pdf",
			AccessKey:     testAccessKey,
			ProjectID:     "proj1",
			EnvironmentID: "env1",
			IsPublic:      isPublic,
			File: &controlplane.FileInfo{
				ID:         "file1",
				MimeType:   "application/pdf",
				Size:       int64(len(content)),
				AdapterKey: testAdapterKey,
			},
		},
	}

	verifier := signing.NewVerifier("download-secret")
	gw := downloadgw.New(downloadgw.Params{
		Storage:  storage,
		Client:   client,
		Verifier: verifier,
	})

	r := chi.NewRouter()
	r.Get("/f/{accessKey}", gw.HandleDownload)

	return &env{storage: storage, client: client, verifier: verifier, router: r}
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	req = req.WithContext(hostrouter.WithProject(req.Context(), hostrouter.ProjectContext{
		ProjectSlug:       "acme",
		ProjectID:         "proj1",
		DefaultFileAccess: "private",
	}))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) signedURL(expiresAt time.Time) string {
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	sig := e.verifier.Sign(map[string]string{"accessKey": testAccessKey, "expiresAt": exp})
	return "/f/" + testAccessKey + "?sig=" + sig + "&expiresAt=" + exp
}

// Scenario: private download with a range and a valid signature.
func TestPrivateDownloadWithRange(t *testing.T) {
	content := make([]byte, 1000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	e := newEnv(t, false, content)

	req := httptest.NewRequest(http.MethodGet, e.signedURL(time.Now().Add(time.Hour)), nil)
	req.Header.Set("Range", "bytes=100-199")
	rec := e.do(req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "bytes 100-199/1000", rec.Header().Get("Content-Range"))
	require.Equal(t, "100", rec.Header().Get("Content-Length"))
	require.Equal(t, content[100:200], rec.Body.Bytes())

	require.Eventually(t, func() bool { return e.client.trackedCount() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, int64(100), e.client.tracked[0].Bytes)
	require.Equal(t, "file1", e.client.tracked[0].FileID)
}

func TestPublicDownloadFullObject(t *testing.T) {
	content := []byte("%PDF-1.7 test content")
	e := newEnv(t, true, content)

	req := httptest.NewRequest(http.MethodGet, "/f/"+testAccessKey, nil)
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, strconv.Itoa(len(content)), rec.Header().Get("Content-Length"))
	require.Equal(t, `inline; filename="report.pdf"`, rec.Header().Get("Content-Disposition"))
	require.Equal(t, `"file1"`, rec.Header().Get("ETag"))
	require.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	require.Equal(t, content, rec.Body.Bytes())

	require.Eventually(t, func() bool { return e.client.trackedCount() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, int64(len(content)), e.client.tracked[0].Bytes)
}

func TestFileNameOverride(t *testing.T) {
	e := newEnv(t, true, []byte("data"))

	req := httptest.NewRequest(http.MethodGet, "/f/"+testAccessKey+"?fileName=renamed.bin", nil)
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `inline; filename="renamed.bin"`, rec.Header().Get("Content-Disposition"))
}

func TestPrivateDownloadRequiresSignature(t *testing.T) {
	e := newEnv(t, false, []byte("secret data"))

	req := httptest.NewRequest(http.MethodGet, "/f/"+testAccessKey, nil)
	rec := e.do(req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPrivateDownloadBadSignature(t *testing.T) {
	e := newEnv(t, false, []byte("secret data"))

	exp := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
	req := httptest.NewRequest(http.MethodGet, "/f/"+testAccessKey+"?sig=deadbeef&expiresAt="+exp, nil)
	rec := e.do(req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpiredLinkFailsBeforeAnyIO(t *testing.T) {
	e := newEnv(t, false, []byte("secret data"))

	req := httptest.NewRequest(http.MethodGet, e.signedURL(time.Now().Add(-time.Hour)), nil)
	rec := e.do(req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, e.storage.Calls)
	require.Zero(t, e.client.lookupCount())
}

func TestIfNoneMatchReturns304(t *testing.T) {
	e := newEnv(t, true, []byte("cached content"))

	req := httptest.NewRequest(http.MethodGet, "/f/"+testAccessKey, nil)
	req.Header.Set("If-None-Match", `"file1"`)
	rec := e.do(req)

	require.Equal(t, http.StatusNotModified, rec.Code)
	require.Equal(t, `"file1"`, rec.Header().Get("ETag"))
	require.NotEmpty(t, rec.Header().Get("Cache-Control"))
	require.Empty(t, e.storage.Calls)
}

func TestMalformedRangeServesFullObject(t *testing.T) {
	content := []byte("0123456789")
	e := newEnv(t, true, content)

	req := httptest.NewRequest(http.MethodGet, "/f/"+testAccessKey, nil)
	req.Header.Set("Range", "bytes=zz-yy")
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, content, rec.Body.Bytes())
}

func TestUnknownAccessKey(t *testing.T) {
	e := newEnv(t, true, []byte("data"))
	e.client.err = &controlplane.ClientError{Op: "lookup-file-key", Err: controlplane.ErrNotFound}

	req := httptest.NewRequest(http.MethodGet, "/f/nosuchkey", nil)
	rec := e.do(req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIncompleteUploadIsNotDownloadable(t *testing.T) {
	e := newEnv(t, true, []byte("data"))
	e.client.fileKey.File = nil

	req := httptest.NewRequest(http.MethodGet, "/f/"+testAccessKey, nil)
	rec := e.do(req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileKeyCacheShortcutsRepeatLookups(t *testing.T) {
	e := newEnv(t, true, []byte("data"))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/f/"+testAccessKey, nil)
		rec := e.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Equal(t, 1, e.client.lookupCount())
}

func TestHashBecomesETag(t *testing.T) {
	e := newEnv(t, true, []byte("data"))
	e.client.fileKey.File.Hash = `"sha256-abc"`

	req := httptest.NewRequest(http.MethodGet, "/f/"+testAccessKey, nil)
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `"sha256-abc"`, rec.Header().Get("ETag"))
}

func TestRangeStreamContent(t *testing.T) {
	content := make([]byte, 500)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	e := newEnv(t, true, content)

	req := httptest.NewRequest(http.MethodGet, "/f/"+testAccessKey, nil)
	req.Header.Set("Range", "bytes=450-")
	rec := e.do(req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "bytes 450-499/500", rec.Header().Get("Content-Range"))

	got, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Equal(t, content[450:], got)
}
