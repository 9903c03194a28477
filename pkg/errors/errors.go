package errors

import "net/http"

// ErrorResponse represents the canonical error envelope returned by the API.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// Error codes shared across handlers. Invitation and sync consistency errors
// get distinct codes so clients can render per-case messages instead of a
// generic failure.
const (
	CodeNotFound        = "not_found"
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeConflict        = "conflict"
	CodeBadRequest      = "bad_request"
	CodeInvalidToken    = "invalid_token"
	CodeExpired         = "expired"
	CodeCancelled       = "cancelled"
	CodeAlreadyAccepted = "already_accepted"
	CodeNeedsSync       = "needs_sync"
	CodeInternal        = "internal"
)

// ToStatusCode maps a domain specific error code to an HTTP status for default responses.
func ToStatusCode(code string) int {
	switch code {
	case CodeNotFound, CodeInvalidToken:
		return http.StatusNotFound
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict, CodeAlreadyAccepted:
		return http.StatusConflict
	case CodeBadRequest, CodeNeedsSync:
		return http.StatusBadRequest
	case CodeExpired, CodeCancelled:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
