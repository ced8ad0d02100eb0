package controlplane_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gostratum/ingestgw/internal/controlplane"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *controlplane.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := controlplane.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.CallbackSecret = "test-secret"
	cfg.RequestTimeout = 2 * time.Second
	cfg.BackoffInitial = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond

	return controlplane.New(cfg, nil)
}

func TestVerifySignature_Valid(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-secret", r.Header.Get("Authorization"))
		var req controlplane.VerifySignatureRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "upload", req.Payload.Type)

		json.NewEncoder(w).Encode(controlplane.VerifySignatureResponse{
			Valid:     true,
			ProjectID: "proj1",
			IsPublic:  true,
		})
	})

	resp, err := c.VerifySignature(t.Context(), controlplane.VerifySignatureRequest{
		KeyID:     "key1",
		Signature: "sig1",
		Payload:   controlplane.UploadSignaturePayload{Type: "upload"},
	})
	require.NoError(t, err)
	require.True(t, resp.Valid)
	require.Equal(t, "proj1", resp.ProjectID)
}

func TestVerifySignature_Invalid(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(controlplane.VerifySignatureResponse{Valid: false, Error: "bad signature"})
	})

	_, err := c.VerifySignature(t.Context(), controlplane.VerifySignatureRequest{})
	require.ErrorIs(t, err, controlplane.ErrUnauthorized)
}

func TestLookupFileKey_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.LookupFileKey(t.Context(), controlplane.LookupFileKeyRequest{AccessKey: "x", ProjectID: "p"})
	require.ErrorIs(t, err, controlplane.ErrNotFound)
}

func TestLookupFileKey_Found(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(controlplane.FileKey{
			ID:        "fk1",
			FileName:  "video.mp4",
			AccessKey: "access1",
			ProjectID: "proj1",
			IsPublic:  false,
			File: &controlplane.FileInfo{
				ID: "file1", MimeType: "video/mp4", Size: 1000,
			},
		})
	})

	fk, err := c.LookupFileKey(t.Context(), controlplane.LookupFileKeyRequest{AccessKey: "access1", ProjectID: "proj1"})
	require.NoError(t, err)
	require.Equal(t, "fk1", fk.ID)
	require.False(t, fk.IsPublic)
	require.NotNil(t, fk.File)
}

func TestLookupProjectBySlug_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.LookupProjectBySlug(t.Context(), "unknown-slug")
	require.ErrorIs(t, err, controlplane.ErrNotFound)
}

func TestSendCallback_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := c.SendCallback(t.Context(), controlplane.CallbackRequest{
		Type: controlplane.CallbackUploadCompleted,
		Data: controlplane.CallbackData{FileKeyID: "fk1"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestSendCallback_TransportErrorAfterRetriesExhausted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := c.SendCallback(t.Context(), controlplane.CallbackRequest{Type: controlplane.CallbackUploadFailed})
	require.ErrorIs(t, err, controlplane.ErrTransport)
}

func TestTrackDownload_FireAndForgetSucceeds(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req controlplane.TrackDownloadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.EqualValues(t, 100, req.Bytes)
		w.WriteHeader(http.StatusOK)
	})

	err := c.TrackDownload(t.Context(), controlplane.TrackDownloadRequest{
		ProjectID: "proj1", EnvironmentID: "env1", FileID: "file1", Bytes: 100,
	})
	require.NoError(t, err)
}
