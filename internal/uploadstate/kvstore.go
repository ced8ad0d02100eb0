package uploadstate

import (
	"context"
	"time"
)

// Namespace names the two logical namespaces the data model requires: the
// full upload record, and an expiration index entry used for reaping.
type Namespace string

const (
	// NamespaceUpload holds the upload:{id} record, JSON-encoded.
	NamespaceUpload Namespace = "upload"

	// NamespaceExpiration holds the expiration:{rfc1123}:{id} index entry.
	// Its value is unused; its existence is the signal.
	NamespaceExpiration Namespace = "expiration"
)

// KVStore is the namespaced key/value collaborator with TTL described by
// the external-interfaces section: get/put/delete per namespace, values are
// opaque strings, put takes an expiration. Implementations back both
// namespaces with the same underlying store; KVBackedStore is written
// against this interface only, so a non-Redis backend can be swapped in
// without touching upload-record logic.
type KVStore interface {
	Get(ctx context.Context, ns Namespace, key string) (value string, ok bool, err error)
	Put(ctx context.Context, ns Namespace, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, ns Namespace, key string) error
}
