package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/gostratum/ingestgw/internal/blobstore"
)

// CreateMultipart initiates a multipart upload session. Each subsequent part
// is supplied by the chunk pipeline as it arrives over PATCH, not chunked
// here - the gateway drives the part boundaries, not the storage adapter.
func (s *S3Storage) CreateMultipart(ctx context.Context, key string, putOpts *blobstore.PutOptions) (string, error) {
	s.logger.Debug("creating multipart upload", zap.String("key", key))

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.client.GetConfig().Bucket),
		Key:    aws.String(key),
	}

	if putOpts != nil {
		if putOpts.ContentType != "" {
			input.ContentType = aws.String(putOpts.ContentType)
		}
		if putOpts.CacheControl != "" {
			input.CacheControl = aws.String(putOpts.CacheControl)
		}
		if putOpts.ContentEncoding != "" {
			input.ContentEncoding = aws.String(putOpts.ContentEncoding)
		}
		if len(putOpts.Metadata) > 0 {
			input.Metadata = putOpts.Metadata
		}
	}

	output, err := s.client.GetS3Client().CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", MapS3Error(err, "create_multipart", key)
	}

	uploadID := aws.ToString(output.UploadId)
	s.logger.Debug("multipart upload created", zap.String("key", key), zap.String("upload_id", uploadID))

	return uploadID, nil
}

// UploadPart uploads a single part in a multipart upload. partNumber is
// 1-based and caller-assigned; parts may arrive out of order across retries
// but S3 keys them by PartNumber regardless of upload order.
func (s *S3Storage) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, part io.Reader, size int64) (string, error) {
	s.logger.Debug("uploading part",
		zap.String("key", key),
		zap.String("upload_id", uploadID),
		zap.Int32("part_number", partNumber),
		zap.Int64("size", size))

	data, err := io.ReadAll(part)
	if err != nil {
		return "", &blobstore.StorageError{Op: "upload_part", Key: key, Err: fmt.Errorf("failed to read part data: %w", err)}
	}

	input := &s3.UploadPartInput{
		Bucket:     aws.String(s.client.GetConfig().Bucket),
		Key:        aws.String(key),
		PartNumber: aws.Int32(partNumber),
		UploadId:   aws.String(uploadID),
		Body:       bytes.NewReader(data),
	}

	output, err := s.client.GetS3Client().UploadPart(ctx, input)
	if err != nil {
		return "", MapS3Error(err, "upload_part", key)
	}

	etag := aws.ToString(output.ETag)
	s.logger.Debug("part uploaded successfully", zap.String("key", key), zap.Int32("part_number", partNumber), zap.String("etag", etag))

	return etag, nil
}

// CompleteMultipart finalizes a multipart upload. parts must already be
// sorted by PartNumber.
func (s *S3Storage) CompleteMultipart(ctx context.Context, key, uploadID string, parts []blobstore.PartETag) (blobstore.Stat, error) {
	s.logger.Debug("completing multipart upload", zap.String("key", key), zap.String("upload_id", uploadID), zap.Int("parts", len(parts)))

	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		}
	}

	input := &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.client.GetConfig().Bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	}

	output, err := s.client.GetS3Client().CompleteMultipartUpload(ctx, input)
	if err != nil {
		return blobstore.Stat{}, MapS3Error(err, "complete_multipart", key)
	}

	stat, err := s.Head(ctx, key)
	if err != nil {
		stat = blobstore.Stat{Key: key}
		if output.ETag != nil {
			stat.ETag = aws.ToString(output.ETag)
		}
	}

	s.logger.Info("multipart upload completed successfully",
		zap.String("key", key),
		zap.String("upload_id", uploadID),
		zap.Int64("size", stat.Size))

	return stat, nil
}

// AbortMultipart cancels a multipart upload and releases its parts.
func (s *S3Storage) AbortMultipart(ctx context.Context, key, uploadID string) error {
	s.logger.Debug("aborting multipart upload", zap.String("key", key), zap.String("upload_id", uploadID))

	input := &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.client.GetConfig().Bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}

	if _, err := s.client.GetS3Client().AbortMultipartUpload(ctx, input); err != nil {
		return MapS3Error(err, "abort_multipart", key)
	}

	s.logger.Debug("multipart upload aborted successfully", zap.String("key", key), zap.String("upload_id", uploadID))
	return nil
}
