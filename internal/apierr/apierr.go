// Package apierr is the gateway's client-facing error envelope: the stable
// `code`/status table and the JSON {error, code, details?} shape every
// non-2xx response on the client HTTP surface carries.
package apierr

import (
	"encoding/json"
	"net/http"
)

// Code is one of the stable error codes from the error-handling taxonomy.
type Code string

const (
	CodeInvalidTusVersion  Code = "invalid_tus_version"
	CodeInvalidContentType Code = "invalid_content_type"
	CodeInvalidRequest     Code = "invalid_request"
	CodeOffsetMismatch     Code = "offset_mismatch"
	CodeUploadNotFound     Code = "upload_not_found"
	CodeUploadExpired      Code = "upload_expired"
	CodeUploadTooLarge     Code = "upload_too_large"
	CodeFileNotFound       Code = "file_not_found"
	CodeSignatureInvalid   Code = "signature_invalid"
	CodeUnauthorized       Code = "unauthorized"
	CodeProjectNotFound    Code = "project_not_found"
	CodeMimeTypeMismatch   Code = "mime_type_mismatch"
	CodeInternalError      Code = "internal_error"
)

// statusByCode maps each stable code to its HTTP status.
var statusByCode = map[Code]int{
	CodeInvalidTusVersion:  http.StatusPreconditionFailed,
	CodeInvalidContentType: http.StatusUnsupportedMediaType,
	CodeInvalidRequest:     http.StatusBadRequest,
	CodeOffsetMismatch:     http.StatusConflict,
	CodeUploadNotFound:     http.StatusNotFound,
	CodeUploadExpired:      http.StatusGone,
	CodeUploadTooLarge:     http.StatusRequestEntityTooLarge,
	CodeFileNotFound:       http.StatusNotFound,
	CodeSignatureInvalid:   http.StatusUnauthorized,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeProjectNotFound:    http.StatusNotFound,
	CodeMimeTypeMismatch:   http.StatusBadRequest,
	CodeInternalError:      http.StatusInternalServerError,
}

// StatusFor returns the HTTP status a Code maps to, defaulting to 500 for
// an unrecognized code.
func StatusFor(code Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is the domain error type carried through the gateway's internal
// packages and translated to the wire envelope at the HTTP boundary.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails attaches structured details (e.g. offset_mismatch's
// {expected, received}) and returns the same Error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// envelope is the wire shape: {error, code, details?}.
type envelope struct {
	Error   string         `json:"error"`
	Code    Code           `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// Write serializes err as the standard JSON error envelope at the status
// its code maps to, setting Content-Type. HEAD responses must still force
// Cache-Control: no-store on error; callers that need that header set it
// before calling Write.
func Write(w http.ResponseWriter, err *Error) {
	status := StatusFor(err.Code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: err.Message, Code: err.Code, Details: err.Details})
}
