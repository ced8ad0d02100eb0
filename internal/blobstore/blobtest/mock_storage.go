// Package blobtest provides an in-memory blobstore.Storage double for tests
// that need to observe put/multipart call sequences without a real bucket.
package blobtest

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gostratum/ingestgw/internal/blobstore"
)

// MockStorage is a thread-safe in-memory implementation of blobstore.Storage.
type MockStorage struct {
	mu      sync.RWMutex
	objects map[string]*mockObject

	// Calls records the names of the methods invoked, in order, for
	// assertions like "exactly one Put, no CreateMultipart".
	Calls []string

	// callsMu guards Calls, which read-locked methods also append to.
	callsMu sync.Mutex

	multiparts map[string]*mockMultipart
}

type mockObject struct {
	data         []byte
	contentType  string
	metadata     map[string]string
	lastModified time.Time
	etag         string
}

type mockMultipart struct {
	key   string
	parts map[int32][]byte
}

// NewMockStorage creates a new in-memory mock storage.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		objects:    make(map[string]*mockObject),
		multiparts: make(map[string]*mockMultipart),
	}
}

func (m *MockStorage) record(call string) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.Calls = append(m.Calls, call)
}

// Put stores an object from an io.Reader.
func (m *MockStorage) Put(ctx context.Context, key string, r io.Reader, size int64, opts *blobstore.PutOptions) (blobstore.Stat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Put")

	if err := ctx.Err(); err != nil {
		return blobstore.Stat{}, &blobstore.StorageError{Op: "put", Key: key, Err: err}
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(r); err != nil {
		return blobstore.Stat{}, &blobstore.StorageError{Op: "put", Key: key, Err: err}
	}
	data := buf.Bytes()

	contentType, metadata := "", map[string]string{}
	if opts != nil {
		contentType = opts.ContentType
		for k, v := range opts.Metadata {
			metadata[k] = v
		}
	}

	etag := generateETag(data)
	m.objects[key] = &mockObject{
		data:         data,
		contentType:  contentType,
		metadata:     metadata,
		lastModified: time.Now().UTC(),
		etag:         etag,
	}

	return blobstore.Stat{
		Key:          key,
		Size:         int64(len(data)),
		ETag:         etag,
		ContentType:  contentType,
		Metadata:     metadata,
		LastModified: m.objects[key].lastModified,
	}, nil
}

// Get retrieves an object, or a byte range of it, as a streaming reader.
func (m *MockStorage) Get(ctx context.Context, key string, rng *blobstore.Range) (blobstore.ReaderAtCloser, blobstore.Stat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.record("Get")

	if err := ctx.Err(); err != nil {
		return nil, blobstore.Stat{}, &blobstore.StorageError{Op: "get", Key: key, Err: err}
	}

	obj, exists := m.objects[key]
	if !exists {
		return nil, blobstore.Stat{}, &blobstore.StorageError{Op: "get", Key: key, Err: blobstore.ErrNotFound}
	}

	data := obj.data
	if rng != nil {
		start := rng.Offset
		end := int64(len(data))
		if rng.Length > 0 && start+rng.Length < end {
			end = start + rng.Length
		}
		if start < 0 || start > int64(len(data)) || end < start {
			return nil, blobstore.Stat{}, &blobstore.StorageError{Op: "get", Key: key, Err: blobstore.ErrInvalidRange}
		}
		data = data[start:end]
	}

	metadata := make(map[string]string, len(obj.metadata))
	for k, v := range obj.metadata {
		metadata[k] = v
	}

	stat := blobstore.Stat{
		Key:          key,
		Size:         int64(len(obj.data)),
		ETag:         obj.etag,
		ContentType:  obj.contentType,
		Metadata:     metadata,
		LastModified: obj.lastModified,
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return &mockReader{Reader: bytes.NewReader(dataCopy), size: int64(len(dataCopy))}, stat, nil
}

// Head retrieves object metadata without the payload.
func (m *MockStorage) Head(ctx context.Context, key string) (blobstore.Stat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.record("Head")

	if err := ctx.Err(); err != nil {
		return blobstore.Stat{}, &blobstore.StorageError{Op: "head", Key: key, Err: err}
	}

	obj, exists := m.objects[key]
	if !exists {
		return blobstore.Stat{}, &blobstore.StorageError{Op: "head", Key: key, Err: blobstore.ErrNotFound}
	}

	metadata := make(map[string]string, len(obj.metadata))
	for k, v := range obj.metadata {
		metadata[k] = v
	}

	return blobstore.Stat{
		Key:          key,
		Size:         int64(len(obj.data)),
		ETag:         obj.etag,
		ContentType:  obj.contentType,
		Metadata:     metadata,
		LastModified: obj.lastModified,
	}, nil
}

// List retrieves objects with optional prefix filtering and pagination.
func (m *MockStorage) List(ctx context.Context, opts blobstore.ListOptions) (blobstore.ListPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.record("List")

	if err := ctx.Err(); err != nil {
		return blobstore.ListPage{}, &blobstore.StorageError{Op: "list", Err: err}
	}

	var matchingKeys []string
	for key := range m.objects {
		if opts.Prefix == "" || strings.HasPrefix(key, opts.Prefix) {
			matchingKeys = append(matchingKeys, key)
		}
	}
	sort.Strings(matchingKeys)

	pageSize := int(opts.PageSize)
	if pageSize <= 0 {
		pageSize = 1000
	}

	startIdx := 0
	if opts.ContinuationToken != "" {
		for i, key := range matchingKeys {
			if key > opts.ContinuationToken {
				startIdx = i
				break
			}
		}
	}

	endIdx := startIdx + pageSize
	if endIdx > len(matchingKeys) {
		endIdx = len(matchingKeys)
	}
	pageKeys := matchingKeys[startIdx:endIdx]

	result := blobstore.ListPage{
		Keys:        make([]blobstore.Stat, 0, len(pageKeys)),
		IsTruncated: endIdx < len(matchingKeys),
	}
	if result.IsTruncated {
		result.NextToken = matchingKeys[endIdx-1]
	}

	for _, key := range pageKeys {
		obj := m.objects[key]
		metadata := make(map[string]string, len(obj.metadata))
		for k, v := range obj.metadata {
			metadata[k] = v
		}
		result.Keys = append(result.Keys, blobstore.Stat{
			Key:          key,
			Size:         int64(len(obj.data)),
			ETag:         obj.etag,
			ContentType:  obj.contentType,
			Metadata:     metadata,
			LastModified: obj.lastModified,
		})
	}

	return result, nil
}

// Delete removes a single object. Deleting a missing key is not an error.
func (m *MockStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Delete")

	if err := ctx.Err(); err != nil {
		return &blobstore.StorageError{Op: "delete", Key: key, Err: err}
	}

	delete(m.objects, key)
	return nil
}

// CreateMultipart initiates a multipart upload session.
func (m *MockStorage) CreateMultipart(ctx context.Context, key string, opts *blobstore.PutOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateMultipart")

	uploadID := "mock-upload-" + key
	m.multiparts[uploadID] = &mockMultipart{key: key, parts: make(map[int32][]byte)}
	return uploadID, nil
}

// UploadPart uploads a single part in a multipart upload.
func (m *MockStorage) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, part io.Reader, size int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UploadPart")

	mp, ok := m.multiparts[uploadID]
	if !ok {
		return "", &blobstore.StorageError{Op: "upload_part", Key: key, Err: blobstore.ErrNotFound}
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(part); err != nil {
		return "", err
	}
	mp.parts[partNumber] = buf.Bytes()
	return generateETag(buf.Bytes()), nil
}

// CompleteMultipart finalizes a multipart upload.
func (m *MockStorage) CompleteMultipart(ctx context.Context, key, uploadID string, parts []blobstore.PartETag) (blobstore.Stat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CompleteMultipart")

	mp, ok := m.multiparts[uploadID]
	if !ok {
		return blobstore.Stat{}, &blobstore.StorageError{Op: "complete_multipart", Key: key, Err: blobstore.ErrNotFound}
	}

	buf := new(bytes.Buffer)
	for _, p := range parts {
		buf.Write(mp.parts[p.PartNumber])
	}
	data := buf.Bytes()
	etag := generateETag(data)

	m.objects[key] = &mockObject{
		data:         data,
		lastModified: time.Now().UTC(),
		etag:         etag,
	}
	delete(m.multiparts, uploadID)

	return blobstore.Stat{
		Key:          key,
		Size:         int64(len(data)),
		ETag:         etag,
		LastModified: m.objects[key].lastModified,
	}, nil
}

// AbortMultipart cancels a multipart upload and releases its parts.
func (m *MockStorage) AbortMultipart(ctx context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AbortMultipart")

	delete(m.multiparts, uploadID)
	return nil
}

// mockReader implements blobstore.ReaderAtCloser.
type mockReader struct {
	*bytes.Reader
	size int64
}

func (r *mockReader) Close() error { return nil }
func (r *mockReader) Size() int64  { return r.size }

// generateETag creates a simple, deterministic ETag for testing.
func generateETag(data []byte) string {
	sum := len(data)
	for i, b := range data {
		if i >= 100 {
			break
		}
		sum += int(b)
	}
	return `"` + strings.Repeat("a", 28) + string(rune('a'+sum%26)) + `"`
}
