package controlplane

// Project is the authoritative project record, read-through from the
// control-plane by slug.
type Project struct {
	ID                string `json:"id"`
	Slug              string `json:"slug"`
	DefaultFileAccess string `json:"defaultFileAccess"` // "public" | "private"
}

// IsPublicByDefault reports whether files in this project default to public
// access when the client didn't specify isPublic at create time.
func (p Project) IsPublicByDefault() bool {
	return p.DefaultFileAccess == "public"
}

// FileInfo is the nested `file` object on a completed FileKey.
type FileInfo struct {
	ID         string `json:"id"`
	Hash       string `json:"hash,omitempty"`
	MimeType   string `json:"mimeType"`
	Size       int64  `json:"size"`
	AdapterKey string `json:"adapterKey"`
}

// FileKey is the authoritative download-identity record.
type FileKey struct {
	ID            string    `json:"id"`
	FileName      string    `json:"fileName"`
	AccessKey     string    `json:"accessKey"`
	ProjectID     string    `json:"projectId"`
	EnvironmentID string    `json:"environmentId"`
	IsPublic      bool      `json:"isPublic"`
	File          *FileInfo `json:"file,omitempty"`
}

// UploadSignaturePayload is the payload the control-plane's signature
// verification endpoint validates the signature against.
type UploadSignaturePayload struct {
	Type          string `json:"type"` // always "upload"
	EnvironmentID string `json:"environmentId"`
	FileKeyID     string `json:"fileKeyId"`
	AccessKey     string `json:"accessKey"`
	FileName      string `json:"fileName"`
	Size          *int64 `json:"size,omitempty"`
	KeyID         string `json:"keyId"`
	Hash          string `json:"hash,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
	IsPublic      *bool  `json:"isPublic,omitempty"`
}

// VerifySignatureRequest is the body of POST /api/internal/verify-signature.
type VerifySignatureRequest struct {
	KeyID     string                 `json:"keyId"`
	Signature string                 `json:"signature"`
	Payload   UploadSignaturePayload `json:"payload"`
}

// VerifySignatureResponse is its response.
type VerifySignatureResponse struct {
	Valid           bool   `json:"valid"`
	ProjectID       string `json:"projectId,omitempty"`
	EnvironmentID   string `json:"environmentId,omitempty"`
	FileKeyID       string `json:"fileKeyId,omitempty"`
	FileName        string `json:"fileName,omitempty"`
	Size            *int64 `json:"size,omitempty"`
	ClaimedHash     string `json:"claimedHash,omitempty"`
	ClaimedMimeType string `json:"claimedMimeType,omitempty"`
	IsPublic        bool   `json:"isPublic,omitempty"`
	Error           string `json:"error,omitempty"`
}

// CallbackType enumerates the two callback kinds the finalizer sends.
type CallbackType string

const (
	CallbackUploadCompleted CallbackType = "upload-completed"
	CallbackUploadFailed    CallbackType = "upload-failed"
)

// CallbackData carries the observed result of an upload attempt.
type CallbackData struct {
	FileKeyID       string `json:"fileKeyId"`
	ProjectID       string `json:"projectId"`
	EnvironmentID   string `json:"environmentId"`
	AdapterKey      string `json:"adapterKey"`
	ActualSize      int64  `json:"actualSize,omitempty"`
	ActualHash      string `json:"actualHash,omitempty"`
	ActualMimeType  string `json:"actualMimeType,omitempty"`
	ClaimedSize     *int64 `json:"claimedSize,omitempty"`
	ClaimedHash     string `json:"claimedHash,omitempty"`
	ClaimedMimeType string `json:"claimedMimeType,omitempty"`
	Error           string `json:"error,omitempty"`
}

// CallbackRequest is the body of POST /api/internal/callback.
type CallbackRequest struct {
	Type CallbackType `json:"type"`
	Data CallbackData `json:"data"`
}

// LookupFileKeyRequest is the body of POST /api/internal/lookup-file-key.
type LookupFileKeyRequest struct {
	AccessKey string `json:"accessKey"`
	ProjectID string `json:"projectId"`
}

// TrackDownloadRequest is the body of POST /api/internal/track-download.
type TrackDownloadRequest struct {
	ProjectID     string `json:"projectId"`
	EnvironmentID string `json:"environmentId"`
	FileID        string `json:"fileId"`
	Bytes         int64  `json:"bytes"`
}

// LookupProjectRequest is the body of POST /api/internal/lookup-project-by-slug.
type LookupProjectRequest struct {
	Slug string `json:"slug"`
}
