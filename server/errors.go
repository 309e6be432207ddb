package server

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth 2.0 error codes from RFC 6749, plus the management extensions
// this server exposes.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
	ErrorCodeDuplicateToken       = "duplicate_token"
	ErrorCodeNotFound             = "not_found"
	ErrorCodeInsufficientScope    = "insufficient_scope"
)

// Error represents a protocol error response. Code travels on the wire,
// Status is the HTTP status the transport layer should use.
type Error struct {
	Code        string
	Description string
	Status      int
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new protocol error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// AsError extracts an *Error from an error chain. The fallback for
// anything unrecognized is a server_error that leaks no internals.
func AsError(err error) *Error {
	var protoErr *Error
	if errors.As(err, &protoErr) {
		return protoErr
	}
	return ErrInternal("internal server error")
}

// Grant denial constructors. All credential failures on the grant and
// exchange paths fold into the same access_denied response so a caller
// cannot distinguish a wrong secret from a missing client or user.
var (
	// ErrInvalidParameter indicates a malformed or missing request parameter
	ErrInvalidParameter = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrGrantDenied is the single opaque denial for failed grants and exchanges
	ErrGrantDenied = NewError(ErrorCodeAccessDenied, "access denied", http.StatusForbidden)

	// ErrDuplicateToken indicates the (client, user, audience) relation already
	// holds a live token
	ErrDuplicateToken = func(desc string) *Error {
		return NewError(ErrorCodeDuplicateToken, desc, http.StatusConflict)
	}

	// ErrNotFound indicates a referenced entity does not exist
	ErrNotFound = func(desc string) *Error {
		return NewError(ErrorCodeNotFound, desc, http.StatusNotFound)
	}

	// ErrUnauthorized indicates failed client or management authentication
	ErrUnauthorized = func(desc string) *Error {
		return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInsufficientScope indicates the presented token lacks a required scope
	ErrInsufficientScope = func(desc string) *Error {
		return NewError(ErrorCodeInsufficientScope, desc, http.StatusForbidden)
	}

	// ErrUnsupportedGrantType indicates an unknown grant_type value
	ErrUnsupportedGrantType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrInternal indicates an unexpected storage or codec failure
	ErrInternal = func(desc string) *Error {
		return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
