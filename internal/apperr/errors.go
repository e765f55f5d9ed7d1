// Package apperr defines the client-facing and internal error kinds
// surfaced across the gateway, following the same envelope shape the
// rest of the platform uses for HTTP error responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds. Handlers and callers can errors.Is against these.
var (
	ErrBadRequest             = errors.New("bad request")
	ErrInsufficientSignatures = errors.New("insufficient signatures")
	ErrNotFound               = errors.New("not found")
	ErrVerificationFailed     = errors.New("verification failed")
	ErrConflict               = errors.New("conflict")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrPeerUnreachable        = errors.New("peer unreachable")
)

// AppError is the uniform error envelope returned by every HTTP handler.
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// BadRequest reports a malformed request (bad hash, bad network_id, ...).
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// InsufficientSignatures reports that witness fan-out did not reach
// threshold before the overall deadline.
func InsufficientSignatures(networkID string, got, threshold int) *AppError {
	return &AppError{
		Err:        ErrInsufficientSignatures,
		Message:    fmt.Sprintf("collected %d of %d required signatures for network %q", got, threshold, networkID),
		Code:       "INSUFFICIENT_SIGNATURES",
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NotFound reports a missing lookup target.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// VerificationFailed reports a signature or network mismatch.
func VerificationFailed(reason string) *AppError {
	return &AppError{
		Err:        ErrVerificationFailed,
		Message:    reason,
		Code:       "VERIFICATION_FAILED",
		HTTPStatus: http.StatusOK, // /v1/verify always answers 200 with valid=false
	}
}

// Conflict reports a concurrent insert resolved by returning the existing record.
func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		Code:       "CONFLICT",
		HTTPStatus: http.StatusConflict,
	}
}

// StoreUnavailable reports a persistence failure. Always fatal to the
// current request.
func StoreUnavailable(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "store unavailable",
		Code:       "STORE_UNAVAILABLE",
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// PeerUnreachable reports a federation peer that could not be contacted.
// Never fails the originating client request; used on federation status
// endpoints and logging only.
func PeerUnreachable(peer string, err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    fmt.Sprintf("peer %q unreachable", peer),
		Code:       "PEER_UNREACHABLE",
		HTTPStatus: http.StatusOK,
		Details:    map[string]string{"peer": peer},
	}
}

// Internal wraps an unclassified internal error as a 500.
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// As extracts an *AppError from err, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
