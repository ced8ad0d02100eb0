// Package blobstore is a dependency-injectable object storage abstraction
// with an S3-compatible implementation (AWS S3, MinIO).
//
// Use the Fx module (blobstore.Module) together with s3store.Module() to
// obtain a blobstore.Storage implementation:
//
//	import (
//	    "github.com/gostratum/ingestgw/internal/blobstore"
//	    "github.com/gostratum/ingestgw/internal/blobstore/s3store"
//	)
//
// The concrete provider lives under s3store/ so that consumers depend only on
// the blobstore.Storage interface.
package blobstore
