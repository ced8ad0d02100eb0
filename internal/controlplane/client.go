// Package controlplane is the HTTP client for the control-plane endpoints
// the gateway consumes: signature verification, completion/failure
// callback, file-key lookup, download tracking, and project-by-slug
// lookup. Everything else the control-plane owns (dashboard, auth/session,
// org/project CRUD, analytics, API-key management) is out of scope.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"

	"github.com/gostratum/core/logx"
)

// Domain errors - use errors.Is for checking.
var (
	// ErrUnauthorized indicates the control-plane rejected the request
	// (missing/invalid bearer token, or a verify-signature call came back
	// invalid).
	ErrUnauthorized = errors.New("controlplane: unauthorized")

	// ErrNotFound indicates the control-plane reported no such project or
	// file key.
	ErrNotFound = errors.New("controlplane: not found")

	// ErrTransport indicates the request could not be completed (network
	// failure, timeout, or a non-2xx/non-404/401 status after retries are
	// exhausted).
	ErrTransport = errors.New("controlplane: request failed")
)

// ClientError wraps a control-plane call failure with its operation name.
type ClientError struct {
	Op  string
	Err error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("controlplane %s: %v", e.Op, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Client is the control-plane HTTP collaborator.
type Client struct {
	httpClient *http.Client
	cfg        *Config
	logger     logx.Logger
}

// New creates a Client against the control-plane described by cfg. A nil
// logger is replaced with a no-op logger.
func New(cfg *Config, logger logx.Logger) *Client {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// VerifySignature POSTs to /api/internal/verify-signature. A response with
// Valid == false, or any transport failure, becomes ErrUnauthorized - the
// gateway has no local fallback for upload-signature verification.
func (c *Client) VerifySignature(ctx context.Context, req VerifySignatureRequest) (*VerifySignatureResponse, error) {
	var resp VerifySignatureResponse
	if err := c.doJSON(ctx, "verify-signature", "/api/internal/verify-signature", req, &resp); err != nil {
		return nil, &ClientError{Op: "verify-signature", Err: fmt.Errorf("%w: %v", ErrUnauthorized, err)}
	}
	if !resp.Valid {
		msg := resp.Error
		if msg == "" {
			msg = "signature rejected"
		}
		return nil, &ClientError{Op: "verify-signature", Err: fmt.Errorf("%w: %s", ErrUnauthorized, msg)}
	}
	return &resp, nil
}

// SendCallback POSTs to /api/internal/callback. A transport error here is
// fatal to the finalizer and must trigger cleanup in the caller.
func (c *Client) SendCallback(ctx context.Context, req CallbackRequest) error {
	if err := c.doJSON(ctx, "callback", "/api/internal/callback", req, nil); err != nil {
		return &ClientError{Op: "callback", Err: err}
	}
	return nil
}

// LookupFileKey POSTs to /api/internal/lookup-file-key. A 404-shaped
// response (or an empty body) becomes ErrNotFound.
func (c *Client) LookupFileKey(ctx context.Context, req LookupFileKeyRequest) (*FileKey, error) {
	var fk FileKey
	if err := c.doJSON(ctx, "lookup-file-key", "/api/internal/lookup-file-key", req, &fk); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &ClientError{Op: "lookup-file-key", Err: ErrNotFound}
		}
		return nil, &ClientError{Op: "lookup-file-key", Err: err}
	}
	if fk.ID == "" {
		return nil, &ClientError{Op: "lookup-file-key", Err: ErrNotFound}
	}
	return &fk, nil
}

// TrackDownload POSTs to /api/internal/track-download. Callers in
// downloadgw fire this off a goroutine they do not wait on; errors are for
// the caller to log, not to propagate to the client response.
func (c *Client) TrackDownload(ctx context.Context, req TrackDownloadRequest) error {
	if err := c.doJSON(ctx, "track-download", "/api/internal/track-download", req, nil); err != nil {
		return &ClientError{Op: "track-download", Err: err}
	}
	return nil
}

// LookupProjectBySlug POSTs to /api/internal/lookup-project-by-slug. An
// unknown slug becomes ErrNotFound, which the host router surfaces as
// project_not_found / 404.
func (c *Client) LookupProjectBySlug(ctx context.Context, slug string) (*Project, error) {
	var p Project
	if err := c.doJSON(ctx, "lookup-project-by-slug", "/api/internal/lookup-project-by-slug", LookupProjectRequest{Slug: slug}, &p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &ClientError{Op: "lookup-project-by-slug", Err: ErrNotFound}
		}
		return nil, &ClientError{Op: "lookup-project-by-slug", Err: err}
	}
	if p.ID == "" {
		return nil, &ClientError{Op: "lookup-project-by-slug", Err: ErrNotFound}
	}
	return &p, nil
}

// doJSON performs one POST call with retry/backoff for transient failures,
// decoding the response body into out (skipped if out is nil).
func (c *Client) doJSON(ctx context.Context, op, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffInitial
	b.MaxInterval = c.cfg.BackoffMax
	b.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)

	var respBody []byte
	var statusCode int

	attempt := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.CallbackSecret)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Warn("controlplane request error", logx.String("op", op), logx.Err(err))
			return err
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if statusCode == http.StatusNotFound {
			return backoff.Permanent(ErrNotFound)
		}
		if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
			return backoff.Permanent(ErrUnauthorized)
		}
		if statusCode >= 500 {
			return fmt.Errorf("%w: status %d", ErrTransport, statusCode)
		}
		if statusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("%w: status %d", ErrTransport, statusCode))
		}
		return nil
	}

	if err := backoff.Retry(attempt, bo); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
