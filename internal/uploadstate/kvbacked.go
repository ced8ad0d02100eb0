package uploadstate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gostratum/core/logx"
)

// expirationIndexKey builds the expiration:{rfc1123}:{id} index key named
// by the data model; rfc1123 is truncated to the second, matching
// ExpiresAt's own granularity.
func expirationIndexKey(expiresAt time.Time, uploadID string) string {
	return expiresAt.UTC().Format(time.RFC1123) + ":" + uploadID
}

// KVBackedStore implements Store over a generic KVStore, maintaining the
// two-namespace invariant from the data model: the expiration index entry
// exists iff the upload record exists. It is backend-agnostic; redisstore
// supplies the concrete KVStore.
type KVBackedStore struct {
	kv     KVStore
	logger logx.Logger
}

// NewKVBackedStore creates a Store backed by kv. A nil logger is replaced
// with a no-op logger.
func NewKVBackedStore(kv KVStore, logger logx.Logger) *KVBackedStore {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	return &KVBackedStore{kv: kv, logger: logger}
}

func (s *KVBackedStore) ttlFor(meta *UploadMetadata) time.Duration {
	ttl := time.Until(meta.ExpiresAt)
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}

// CreateUpload persists a brand-new record under both namespaces.
func (s *KVBackedStore) CreateUpload(ctx context.Context, meta *UploadMetadata) error {
	_, exists, err := s.kv.Get(ctx, NamespaceUpload, meta.UploadID)
	if err != nil {
		return &StateError{Op: "create", UploadID: meta.UploadID, Err: err}
	}
	if exists {
		return &StateError{Op: "create", UploadID: meta.UploadID, Err: ErrConflict}
	}

	ttl := s.ttlFor(meta)
	if err := s.putRecord(ctx, meta, ttl); err != nil {
		return &StateError{Op: "create", UploadID: meta.UploadID, Err: err}
	}

	idxKey := expirationIndexKey(meta.ExpiresAt, meta.UploadID)
	if err := s.kv.Put(ctx, NamespaceExpiration, idxKey, meta.UploadID, ttl); err != nil {
		// Best-effort cleanup so the two namespaces don't drift.
		_ = s.kv.Delete(ctx, NamespaceUpload, meta.UploadID)
		return &StateError{Op: "create", UploadID: meta.UploadID, Err: err}
	}

	return nil
}

// GetUpload retrieves a record by id.
func (s *KVBackedStore) GetUpload(ctx context.Context, uploadID string) (*UploadMetadata, error) {
	raw, ok, err := s.kv.Get(ctx, NamespaceUpload, uploadID)
	if err != nil {
		return nil, &StateError{Op: "get", UploadID: uploadID, Err: err}
	}
	if !ok {
		return nil, &StateError{Op: "get", UploadID: uploadID, Err: ErrNotFound}
	}

	var meta UploadMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, &StateError{Op: "get", UploadID: uploadID, Err: err}
	}

	if !meta.ExpiresAt.IsZero() && time.Now().After(meta.ExpiresAt) {
		return nil, &StateError{Op: "get", UploadID: uploadID, Err: ErrExpired}
	}

	return &meta, nil
}

// UpdateUpload rewrites an existing record in place with meta as given. The
// record's TTL is recomputed from meta.ExpiresAt; the expiration index entry
// is not rewritten.
func (s *KVBackedStore) UpdateUpload(ctx context.Context, meta *UploadMetadata) error {
	_, exists, err := s.kv.Get(ctx, NamespaceUpload, meta.UploadID)
	if err != nil {
		return &StateError{Op: "update", UploadID: meta.UploadID, Err: err}
	}
	if !exists {
		return &StateError{Op: "update", UploadID: meta.UploadID, Err: ErrNotFound}
	}

	if err := s.putRecord(ctx, meta, s.ttlFor(meta)); err != nil {
		return &StateError{Op: "update", UploadID: meta.UploadID, Err: err}
	}
	return nil
}

// DeleteUpload removes a record and its expiration index entry. Missing
// records are not an error; blob-store-adjacent cleanup callers rely on
// delete being idempotent.
func (s *KVBackedStore) DeleteUpload(ctx context.Context, uploadID string) error {
	raw, ok, err := s.kv.Get(ctx, NamespaceUpload, uploadID)
	if err != nil {
		s.logger.Warn("uploadstate: delete lookup failed", logx.String("uploadId", uploadID), logx.Err(err))
	}

	if err := s.kv.Delete(ctx, NamespaceUpload, uploadID); err != nil {
		s.logger.Warn("uploadstate: delete upload record failed", logx.String("uploadId", uploadID), logx.Err(err))
	}

	if ok {
		var meta UploadMetadata
		if jerr := json.Unmarshal([]byte(raw), &meta); jerr == nil {
			idxKey := expirationIndexKey(meta.ExpiresAt, uploadID)
			if err := s.kv.Delete(ctx, NamespaceExpiration, idxKey); err != nil {
				s.logger.Warn("uploadstate: delete expiration index failed", logx.String("uploadId", uploadID), logx.Err(err))
			}
		}
	}

	return nil
}

func (s *KVBackedStore) putRecord(ctx context.Context, meta *UploadMetadata, ttl time.Duration) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, NamespaceUpload, meta.UploadID, string(raw), ttl)
}
