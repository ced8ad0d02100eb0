package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/blobstore"
)

// S3Storage implements blobstore.Storage against an S3-compatible bucket.
// Keys are opaque; callers (chunkpipeline, finalize, downloadgw) build them
// with blobstore.NewAdapterKey before calling in.
type S3Storage struct {
	client *ClientManager
	logger logx.Logger
}

// NewS3Storage creates a new S3 storage implementation.
func NewS3Storage(ctx context.Context, cfg *blobstore.Config, opts ...blobstore.Option) (*S3Storage, error) {
	config, options := blobstore.GetEffectiveConfig(cfg, opts...)

	if err := blobstore.ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	clientManager, err := NewClientManager(ctx, ClientConfig{
		Config: config,
		Logger: options.GetLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client manager: %w", err)
	}

	return &S3Storage{
		client: clientManager,
		logger: options.GetLogger(),
	}, nil
}

// Put stores an object from an io.Reader.
func (s *S3Storage) Put(ctx context.Context, key string, r io.Reader, size int64, opts *blobstore.PutOptions) (blobstore.Stat, error) {
	if opts == nil {
		opts = &blobstore.PutOptions{}
	}

	s.logger.Debug("putting object",
		zap.String("key", key),
		zap.String("content_type", opts.ContentType),
		zap.Int64("size", size))

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.client.GetConfig().Bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	}

	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}
	if opts.ContentEncoding != "" {
		input.ContentEncoding = aws.String(opts.ContentEncoding)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}

	output, err := s.client.GetS3Client().PutObject(ctx, input)
	if err != nil {
		return blobstore.Stat{}, MapS3Error(err, "put", key)
	}

	stat := blobstore.Stat{
		Key:          key,
		Size:         size,
		ContentType:  opts.ContentType,
		Metadata:     opts.Metadata,
		LastModified: time.Now().UTC(),
	}
	if output.ETag != nil {
		stat.ETag = aws.ToString(output.ETag)
	}

	s.logger.Debug("object put successfully",
		zap.String("key", key),
		zap.Int64("size", stat.Size),
		zap.String("etag", stat.ETag))

	return stat, nil
}

// Get retrieves an object, or a byte range of it, as a streaming reader.
func (s *S3Storage) Get(ctx context.Context, key string, rng *blobstore.Range) (blobstore.ReaderAtCloser, blobstore.Stat, error) {
	s.logger.Debug("getting object", zap.String("key", key))

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.client.GetConfig().Bucket),
		Key:    aws.String(key),
	}

	if rng != nil {
		if rng.Length > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", rng.Offset, rng.Offset+rng.Length-1))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", rng.Offset))
		}
	}

	output, err := s.client.GetS3Client().GetObject(ctx, input)
	if err != nil {
		return nil, blobstore.Stat{}, MapS3Error(err, "get", key)
	}

	stat := blobstore.Stat{Key: key}
	if output.ContentLength != nil {
		stat.Size = aws.ToInt64(output.ContentLength)
	}
	if output.ETag != nil {
		stat.ETag = aws.ToString(output.ETag)
	}
	if output.ContentType != nil {
		stat.ContentType = aws.ToString(output.ContentType)
	}
	if output.LastModified != nil {
		stat.LastModified = *output.LastModified
	}
	if output.StorageClass != "" {
		stat.StorageClass = string(output.StorageClass)
	}
	if output.Metadata != nil {
		stat.Metadata = output.Metadata
	}

	reader := &s3Reader{ReadCloser: output.Body, size: stat.Size}

	s.logger.Debug("object retrieved successfully",
		zap.String("key", key),
		zap.Int64("size", stat.Size))

	return reader, stat, nil
}

// Head retrieves object metadata without the payload.
func (s *S3Storage) Head(ctx context.Context, key string) (blobstore.Stat, error) {
	s.logger.Debug("head object", zap.String("key", key))

	input := &s3.HeadObjectInput{
		Bucket: aws.String(s.client.GetConfig().Bucket),
		Key:    aws.String(key),
	}

	output, err := s.client.GetS3Client().HeadObject(ctx, input)
	if err != nil {
		return blobstore.Stat{}, MapS3Error(err, "head", key)
	}

	stat := blobstore.Stat{Key: key}
	if output.ContentLength != nil {
		stat.Size = aws.ToInt64(output.ContentLength)
	}
	if output.ETag != nil {
		stat.ETag = aws.ToString(output.ETag)
	}
	if output.ContentType != nil {
		stat.ContentType = aws.ToString(output.ContentType)
	}
	if output.LastModified != nil {
		stat.LastModified = *output.LastModified
	}
	if output.StorageClass != "" {
		stat.StorageClass = string(output.StorageClass)
	}
	if output.Metadata != nil {
		stat.Metadata = output.Metadata
	}

	return stat, nil
}

// List retrieves objects with optional prefix filtering and pagination.
func (s *S3Storage) List(ctx context.Context, opts blobstore.ListOptions) (blobstore.ListPage, error) {
	s.logger.Debug("listing objects",
		zap.String("prefix", opts.Prefix),
		zap.String("delimiter", opts.Delimiter),
		zap.Int32("page_size", opts.PageSize))

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.client.GetConfig().Bucket),
	}

	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.Delimiter != "" {
		input.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.PageSize > 0 {
		input.MaxKeys = aws.Int32(opts.PageSize)
	} else {
		input.MaxKeys = aws.Int32(1000)
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	output, err := s.client.GetS3Client().ListObjectsV2(ctx, input)
	if err != nil {
		return blobstore.ListPage{}, MapS3Error(err, "list", "")
	}

	page := blobstore.ListPage{
		Keys:           make([]blobstore.Stat, 0, len(output.Contents)),
		CommonPrefixes: make([]string, 0, len(output.CommonPrefixes)),
		IsTruncated:    aws.ToBool(output.IsTruncated),
	}
	if output.NextContinuationToken != nil {
		page.NextToken = aws.ToString(output.NextContinuationToken)
	}

	for _, obj := range output.Contents {
		if obj.Key == nil {
			continue
		}
		stat := blobstore.Stat{Key: aws.ToString(obj.Key)}
		if obj.Size != nil {
			stat.Size = aws.ToInt64(obj.Size)
		}
		if obj.ETag != nil {
			stat.ETag = aws.ToString(obj.ETag)
		}
		if obj.LastModified != nil {
			stat.LastModified = *obj.LastModified
		}
		if obj.StorageClass != "" {
			stat.StorageClass = string(obj.StorageClass)
		}
		page.Keys = append(page.Keys, stat)
	}

	for _, prefix := range output.CommonPrefixes {
		if prefix.Prefix != nil {
			page.CommonPrefixes = append(page.CommonPrefixes, aws.ToString(prefix.Prefix))
		}
	}

	s.logger.Debug("objects listed successfully",
		zap.Int("count", len(page.Keys)),
		zap.Bool("truncated", page.IsTruncated))

	return page, nil
}

// Delete removes a single object. Deleting a missing key is not an error.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	s.logger.Debug("deleting object", zap.String("key", key))

	input := &s3.DeleteObjectInput{
		Bucket: aws.String(s.client.GetConfig().Bucket),
		Key:    aws.String(key),
	}

	if _, err := s.client.GetS3Client().DeleteObject(ctx, input); err != nil {
		return MapS3Error(err, "delete", key)
	}

	s.logger.Debug("object deleted successfully", zap.String("key", key))
	return nil
}

func (s *S3Storage) objectExists(ctx context.Context, key string) (bool, error) {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(s.client.GetConfig().Bucket),
		Key:    aws.String(key),
	}

	_, err := s.client.GetS3Client().HeadObject(ctx, input)
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// s3Reader implements blobstore.ReaderAtCloser for S3 objects.
type s3Reader struct {
	io.ReadCloser
	size int64
}

func (r *s3Reader) Size() int64 {
	return r.size
}
