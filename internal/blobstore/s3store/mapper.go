package s3store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gostratum/ingestgw/internal/blobstore"
)

// MapS3Error converts S3 SDK errors to blobstore domain errors.
func MapS3Error(err error, op, key string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrAborted}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrTimeout}
	}

	switch err.(type) {
	case *types.NoSuchBucket:
		return &blobstore.StorageError{Op: op, Key: key, Err: fmt.Errorf("%w: bucket does not exist", blobstore.ErrNotFound)}

	case *types.NoSuchKey:
		return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrNotFound}

	case *types.BucketAlreadyExists:
		return &blobstore.StorageError{Op: op, Key: key, Err: fmt.Errorf("%w: bucket already exists", blobstore.ErrConflict)}

	case *types.BucketAlreadyOwnedByYou:
		return &blobstore.StorageError{Op: op, Key: key, Err: fmt.Errorf("%w: bucket already owned by you", blobstore.ErrConflict)}

	case *types.InvalidObjectState:
		return &blobstore.StorageError{Op: op, Key: key, Err: fmt.Errorf("%w: invalid object state", blobstore.ErrConflict)}

	case *types.NotFound:
		return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrNotFound}

	default:
		if httpErr := extractHTTPError(err); httpErr != nil {
			return mapHTTPError(httpErr, op, key)
		}

		if awsErr := extractAWSError(err); awsErr != nil {
			return mapAWSError(awsErr, op, key)
		}

		if mappedErr := mapByErrorMessage(err, op, key); mappedErr != nil {
			return mappedErr
		}
	}

	return &blobstore.StorageError{Op: op, Key: key, Err: err}
}

// HTTPError represents an HTTP-level error.
type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
}

// extractHTTPError attempts to extract HTTP status information from an error.
func extractHTTPError(err error) *HTTPError {
	errStr := err.Error()

	if strings.Contains(errStr, "404") || strings.Contains(strings.ToLower(errStr), "not found") {
		return &HTTPError{StatusCode: 404, Status: "Not Found", Message: errStr}
	}
	if strings.Contains(errStr, "403") || strings.Contains(strings.ToLower(errStr), "forbidden") {
		return &HTTPError{StatusCode: 403, Status: "Forbidden", Message: errStr}
	}
	if strings.Contains(errStr, "409") || strings.Contains(strings.ToLower(errStr), "conflict") {
		return &HTTPError{StatusCode: 409, Status: "Conflict", Message: errStr}
	}
	if strings.Contains(errStr, "413") || strings.Contains(strings.ToLower(errStr), "too large") {
		return &HTTPError{StatusCode: 413, Status: "Payload Too Large", Message: errStr}
	}
	if strings.Contains(errStr, "429") || strings.Contains(strings.ToLower(errStr), "too many requests") {
		return &HTTPError{StatusCode: 429, Status: "Too Many Requests", Message: errStr}
	}
	if strings.Contains(errStr, "500") || strings.Contains(strings.ToLower(errStr), "internal server") {
		return &HTTPError{StatusCode: 500, Status: "Internal Server Error", Message: errStr}
	}
	if strings.Contains(errStr, "503") || strings.Contains(strings.ToLower(errStr), "service unavailable") {
		return &HTTPError{StatusCode: 503, Status: "Service Unavailable", Message: errStr}
	}

	if statusCode := parseStatusCodeFromMessage(errStr); statusCode > 0 {
		return &HTTPError{StatusCode: statusCode, Status: http.StatusText(statusCode), Message: errStr}
	}

	return nil
}

// parseStatusCodeFromMessage attempts to extract an HTTP status code from an error message.
func parseStatusCodeFromMessage(errStr string) int {
	patterns := []string{"status code: ", "status code ", "HTTP ", "http "}

	for _, pattern := range patterns {
		if idx := strings.Index(strings.ToLower(errStr), pattern); idx >= 0 {
			start := idx + len(pattern)
			if start < len(errStr) {
				numStr := ""
				for i := start; i < len(errStr) && len(numStr) < 3; i++ {
					if errStr[i] >= '0' && errStr[i] <= '9' {
						numStr += string(errStr[i])
					} else if len(numStr) > 0 {
						break
					}
				}

				if code, err := strconv.Atoi(numStr); err == nil && code >= 100 && code <= 599 {
					return code
				}
			}
		}
	}

	return 0
}

// mapHTTPError maps HTTP errors to domain errors.
func mapHTTPError(httpErr *HTTPError, op, key string) error {
	switch httpErr.StatusCode {
	case 404:
		return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrNotFound}
	case 403:
		return &blobstore.StorageError{Op: op, Key: key, Err: fmt.Errorf("access denied: %w", blobstore.ErrInvalidConfig)}
	case 409:
		return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrConflict}
	case 413:
		return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrTooLarge}
	case 429:
		return &blobstore.StorageError{Op: op, Key: key, Err: fmt.Errorf("rate limited: %w", blobstore.ErrTimeout)}
	case 500, 502, 503, 504:
		return &blobstore.StorageError{Op: op, Key: key, Err: fmt.Errorf("server error (%d): %w", httpErr.StatusCode, blobstore.ErrTimeout)}
	default:
		return &blobstore.StorageError{Op: op, Key: key, Err: fmt.Errorf("HTTP %d: %s", httpErr.StatusCode, httpErr.Message)}
	}
}

// AWSError represents a generic AWS API error.
type AWSError struct {
	Code    string
	Message string
}

// extractAWSError attempts to extract AWS error information.
func extractAWSError(err error) *AWSError {
	errStr := err.Error()

	awsCodes := map[string]string{
		"NoSuchBucket":            "Bucket does not exist",
		"NoSuchKey":               "Object does not exist",
		"BucketAlreadyExists":     "Bucket already exists",
		"BucketAlreadyOwnedByYou": "Bucket already owned by you",
		"InvalidBucketName":       "Invalid bucket name",
		"AccessDenied":            "Access denied",
		"InvalidAccessKeyId":      "Invalid access key",
		"SignatureDoesNotMatch":   "Invalid secret key",
		"TokenRefreshRequired":    "Token refresh required",
		"RequestTimeTooSkewed":    "Request time too skewed",
		"EntityTooLarge":          "Entity too large",
		"InvalidPart":             "Invalid multipart upload part",
		"InvalidPartOrder":        "Invalid part order",
		"NoSuchUpload":            "Multipart upload does not exist",
		"MalformedXML":            "Malformed request",
		"InvalidRequest":          "Invalid request",
		"ServiceUnavailable":      "Service unavailable",
		"InternalError":           "Internal server error",
		"SlowDown":                "Reduce request rate",
	}

	for code, message := range awsCodes {
		if strings.Contains(errStr, code) {
			return &AWSError{Code: code, Message: message}
		}
	}

	return nil
}

// mapAWSError maps AWS API errors to domain errors.
func mapAWSError(awsErr *AWSError, op, key string) error {
	switch awsErr.Code {
	case "NoSuchBucket", "NoSuchKey":
		return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrNotFound}
	case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
		return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrConflict}
	case "InvalidBucketName", "AccessDenied", "InvalidAccessKeyId",
		"SignatureDoesNotMatch", "MalformedXML", "InvalidRequest":
		return &blobstore.StorageError{Op: op, Key: key, Err: fmt.Errorf("%s: %w", awsErr.Message, blobstore.ErrInvalidConfig)}
	case "EntityTooLarge":
		return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrTooLarge}
	case "TokenRefreshRequired", "RequestTimeTooSkewed", "SlowDown",
		"ServiceUnavailable", "InternalError":
		return &blobstore.StorageError{Op: op, Key: key, Err: fmt.Errorf("%s: %w", awsErr.Message, blobstore.ErrTimeout)}
	case "InvalidPart", "InvalidPartOrder", "NoSuchUpload":
		return &blobstore.StorageError{Op: op, Key: key, Err: fmt.Errorf("multipart upload error: %s: %w", awsErr.Message, blobstore.ErrAborted)}
	default:
		return &blobstore.StorageError{Op: op, Key: key, Err: fmt.Errorf("AWS error %s: %s", awsErr.Code, awsErr.Message)}
	}
}

// mapByErrorMessage performs string-based error matching as a fallback.
func mapByErrorMessage(err error, op, key string) error {
	errStr := strings.ToLower(err.Error())

	notFoundPatterns := []string{"not found", "does not exist", "no such", "nosuchkey", "nosuchbucket"}
	for _, pattern := range notFoundPatterns {
		if strings.Contains(errStr, pattern) {
			return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrNotFound}
		}
	}

	conflictPatterns := []string{"already exists", "conflict", "bucketalreadyexists"}
	for _, pattern := range conflictPatterns {
		if strings.Contains(errStr, pattern) {
			return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrConflict}
		}
	}

	timeoutPatterns := []string{"timeout", "deadline exceeded", "context canceled", "request timeout", "service unavailable"}
	for _, pattern := range timeoutPatterns {
		if strings.Contains(errStr, pattern) {
			return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrTimeout}
		}
	}

	tooLargePatterns := []string{"too large", "entity too large", "file too large", "exceeds maximum"}
	for _, pattern := range tooLargePatterns {
		if strings.Contains(errStr, pattern) {
			return &blobstore.StorageError{Op: op, Key: key, Err: blobstore.ErrTooLarge}
		}
	}

	return nil
}

// IsRetryableError determines if an error should be retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, blobstore.ErrInvalidConfig) || errors.Is(err, blobstore.ErrInvalidKey) {
		return false
	}

	if errors.Is(err, blobstore.ErrNotFound) {
		return false
	}

	if errors.Is(err, blobstore.ErrConflict) {
		return false
	}

	if errors.Is(err, blobstore.ErrTimeout) {
		return true
	}

	if httpErr := extractHTTPError(err); httpErr != nil {
		switch httpErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		case 400, 401, 403, 404, 409:
			return false
		}
	}

	if awsErr := extractAWSError(err); awsErr != nil {
		switch awsErr.Code {
		case "ServiceUnavailable", "InternalError", "SlowDown", "RequestTimeout":
			return true
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"NoSuchBucket", "NoSuchKey", "InvalidBucketName":
			return false
		}
	}

	return true
}

// WrapError creates a StorageError with context, avoiding double-wrapping.
func WrapError(err error, op, key string) error {
	if err == nil {
		return nil
	}

	var storageErr *blobstore.StorageError
	if errors.As(err, &storageErr) {
		return err
	}

	return &blobstore.StorageError{Op: op, Key: key, Err: err}
}
