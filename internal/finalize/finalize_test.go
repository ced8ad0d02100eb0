package finalize_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gostratum/ingestgw/internal/apierr"
	"github.com/gostratum/ingestgw/internal/blobstore/blobtest"
	"github.com/gostratum/ingestgw/internal/controlplane"
	"github.com/gostratum/ingestgw/internal/finalize"
	"github.com/gostratum/ingestgw/internal/uploadstate"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*uploadstate.UploadMetadata
}

func newFakeStore(meta *uploadstate.UploadMetadata) *fakeStore {
	return &fakeStore{records: map[string]*uploadstate.UploadMetadata{meta.UploadID: meta}}
}

func (s *fakeStore) CreateUpload(ctx context.Context, meta *uploadstate.UploadMetadata) error {
	return nil
}

func (s *fakeStore) GetUpload(ctx context.Context, uploadID string) (*uploadstate.UploadMetadata, error) {
	return nil, nil
}

func (s *fakeStore) UpdateUpload(ctx context.Context, meta *uploadstate.UploadMetadata) error {
	return nil
}

func (s *fakeStore) DeleteUpload(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, uploadID)
	return nil
}

func (s *fakeStore) has(uploadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[uploadID]
	return ok
}

type fakeCallbacks struct {
	mu    sync.Mutex
	calls []controlplane.CallbackRequest
	err   error
}

func (f *fakeCallbacks) SendCallback(ctx context.Context, req controlplane.CallbackRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, req)
	return nil
}

func pngBytes() []byte {
	return []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
}

func jpegBytes() []byte {
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}
}

func newMeta(mime string) *uploadstate.UploadMetadata {
	return &uploadstate.UploadMetadata{
		UploadID:        "0123456789abcdef",
		ProjectID:       "proj1",
		EnvironmentID:   "env1",
		FileKeyID:       "fk1",
		AdapterKey:      "proj1/env1/obj1",
		ClaimedMimeType: mime,
		ExpiresAt:       time.Now().Add(time.Hour),
	}
}

func TestFinalize_SmallObjectSuccess(t *testing.T) {
	storage := blobtest.NewMockStorage()
	meta := newMeta("image/png")
	_, err := storage.Put(context.Background(), meta.AdapterKey, bytes.NewReader(pngBytes()), int64(len(pngBytes())), nil)
	require.NoError(t, err)
	meta.Offset = int64(len(pngBytes()))

	store := newFakeStore(meta)
	callbacks := &fakeCallbacks{}

	f := finalize.New(storage, store, callbacks, nil, nil)
	apiErr := f.Finalize(context.Background(), meta)
	require.Nil(t, apiErr)
	require.False(t, store.has(meta.UploadID))
	require.Len(t, callbacks.calls, 1)
	require.Equal(t, controlplane.CallbackUploadCompleted, callbacks.calls[0].Type)
	require.Equal(t, "image/png", callbacks.calls[0].Data.ActualMimeType)
}

func TestFinalize_MimeMismatchCleansUpAndSkipsCallback(t *testing.T) {
	storage := blobtest.NewMockStorage()
	meta := newMeta("image/png")
	_, err := storage.Put(context.Background(), meta.AdapterKey, bytes.NewReader(jpegBytes()), int64(len(jpegBytes())), nil)
	require.NoError(t, err)
	meta.Offset = int64(len(jpegBytes()))

	store := newFakeStore(meta)
	callbacks := &fakeCallbacks{}

	f := finalize.New(storage, store, callbacks, nil, nil)
	apiErr := f.Finalize(context.Background(), meta)
	require.NotNil(t, apiErr)
	require.Equal(t, apierr.CodeMimeTypeMismatch, apiErr.Code)
	require.Empty(t, callbacks.calls)
	require.False(t, store.has(meta.UploadID))

	_, getErr := storage.Head(context.Background(), meta.AdapterKey)
	require.Error(t, getErr)
}

func TestFinalize_EquivalentMimeIsNotAMismatch(t *testing.T) {
	storage := blobtest.NewMockStorage()
	meta := newMeta("image/jpg")
	_, err := storage.Put(context.Background(), meta.AdapterKey, bytes.NewReader(jpegBytes()), int64(len(jpegBytes())), nil)
	require.NoError(t, err)
	meta.Offset = int64(len(jpegBytes()))

	store := newFakeStore(meta)
	callbacks := &fakeCallbacks{}

	f := finalize.New(storage, store, callbacks, nil, nil)
	apiErr := f.Finalize(context.Background(), meta)
	require.Nil(t, apiErr)
	require.Len(t, callbacks.calls, 1)
}

func TestFinalize_MultipartCompletesAndSortsParts(t *testing.T) {
	storage := blobtest.NewMockStorage()
	meta := newMeta("")
	uploadID, err := storage.CreateMultipart(context.Background(), meta.AdapterKey, nil)
	require.NoError(t, err)
	meta.MultipartUploadID = uploadID

	etag2, err := storage.UploadPart(context.Background(), meta.AdapterKey, uploadID, 2, bytes.NewReader(pngBytes()[4:]), int64(len(pngBytes())-4))
	require.NoError(t, err)
	etag1, err := storage.UploadPart(context.Background(), meta.AdapterKey, uploadID, 1, bytes.NewReader(pngBytes()[:4]), 4)
	require.NoError(t, err)
	meta.Parts = []uploadstate.Part{{PartNumber: 2, ETag: etag2}, {PartNumber: 1, ETag: etag1}}
	meta.Offset = int64(len(pngBytes()))

	store := newFakeStore(meta)
	callbacks := &fakeCallbacks{}

	f := finalize.New(storage, store, callbacks, nil, nil)
	apiErr := f.Finalize(context.Background(), meta)
	require.Nil(t, apiErr)
	require.Len(t, callbacks.calls, 1)

	stat, err := storage.Head(context.Background(), meta.AdapterKey)
	require.NoError(t, err)
	require.EqualValues(t, len(pngBytes()), stat.Size)
}

func TestFinalize_CallbackFailureCleansUp(t *testing.T) {
	storage := blobtest.NewMockStorage()
	meta := newMeta("image/png")
	_, err := storage.Put(context.Background(), meta.AdapterKey, bytes.NewReader(pngBytes()), int64(len(pngBytes())), nil)
	require.NoError(t, err)
	meta.Offset = int64(len(pngBytes()))

	store := newFakeStore(meta)
	callbacks := &fakeCallbacks{err: errors.New("transport down")}

	f := finalize.New(storage, store, callbacks, nil, nil)
	apiErr := f.Finalize(context.Background(), meta)
	require.NotNil(t, apiErr)
	require.Equal(t, apierr.CodeInternalError, apiErr.Code)
	require.False(t, store.has(meta.UploadID))

	_, getErr := storage.Head(context.Background(), meta.AdapterKey)
	require.Error(t, getErr)
}

func TestFinalizeZeroLength(t *testing.T) {
	storage := blobtest.NewMockStorage()
	meta := newMeta("")

	store := newFakeStore(meta)
	callbacks := &fakeCallbacks{}

	f := finalize.New(storage, store, callbacks, nil, nil)
	apiErr := f.FinalizeZeroLength(context.Background(), meta)
	require.Nil(t, apiErr)

	stat, err := storage.Head(context.Background(), meta.AdapterKey)
	require.NoError(t, err)
	require.Zero(t, stat.Size)

	require.Len(t, callbacks.calls, 1)
	require.Equal(t, controlplane.CallbackUploadCompleted, callbacks.calls[0].Type)
	require.Zero(t, callbacks.calls[0].Data.ActualSize)
	require.Equal(t, "application/octet-stream", callbacks.calls[0].Data.ActualMimeType)
	require.False(t, store.has(meta.UploadID))
}

func TestFinalizeZeroLength_CallbackFailureCleansUp(t *testing.T) {
	storage := blobtest.NewMockStorage()
	meta := newMeta("")

	store := newFakeStore(meta)
	callbacks := &fakeCallbacks{err: errors.New("transport down")}

	f := finalize.New(storage, store, callbacks, nil, nil)
	apiErr := f.FinalizeZeroLength(context.Background(), meta)
	require.NotNil(t, apiErr)
	require.Equal(t, apierr.CodeInternalError, apiErr.Code)
	require.False(t, store.has(meta.UploadID))

	_, headErr := storage.Head(context.Background(), meta.AdapterKey)
	require.Error(t, headErr)
}
