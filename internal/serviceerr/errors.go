package serviceerr

import (
	"errors"
	"net/http"
)

// Code is an error code. The RFC6749 codes are the ones a provider may return
// on the callback or from the token endpoint.
type Code string

const (
	// RFC6749 Authorization errors
	CodeInvalidRequest          Code = "invalid_request"
	CodeAccessDenied            Code = "access_denied"
	CodeUnsupportedResponseType Code = "unsupported_response_type"
	CodeInvalidScope            Code = "invalid_scope"
	CodeServerError             Code = "server_error"
	CodeTemporarilyUnavailable  Code = "temporarily_unavailable"

	// RFC6749 Token errors
	CodeInvalidClient        Code = "invalid_client"
	CodeInvalidGrant         Code = "invalid_grant"
	CodeUnsupportedGrantType Code = "unsupported_grant_type"

	// Custom codes
	CodeUnknown             Code = "unknown"
	CodeConfig              Code = "config_error"
	CodeStateMismatch       Code = "state_mismatch"
	CodeStateExpired        Code = "state_expired"
	CodeMissingCode         Code = "missing_code"
	CodeFingerprintMismatch Code = "fingerprint_mismatch"
	CodeTransport           Code = "transport_error"
	CodeConflict            Code = "conflict"
	CodeNotFound            Code = "not_found"
	CodeInvalidCSRFToken    Code = "invalid_csrf_token"
	CodeUnauthorized        Code = "unauthorized"
	CodeInvalidAtHash       Code = "invalid_at_hash"
)

type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// Is matches on the code only, so a described error still satisfies
// errors.Is against the predefined value of the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return e.Err == t.Err
}

// WithDescription returns a copy of the error carrying the given description.
func (e *Error) WithDescription(description string) *Error {
	return &Error{Err: e.Err, Description: description}
}

func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest, CodeUnsupportedResponseType, CodeInvalidScope,
		CodeInvalidGrant, CodeUnsupportedGrantType, CodeMissingCode:
		return http.StatusBadRequest
	case CodeAccessDenied:
		return http.StatusBadRequest
	case CodeInvalidClient, CodeUnauthorized, CodeInvalidAtHash:
		return http.StatusUnauthorized
	case CodeStateMismatch, CodeFingerprintMismatch, CodeInvalidCSRFToken:
		return http.StatusForbidden
	case CodeStateExpired:
		return http.StatusGone
	case CodeTransport:
		return http.StatusBadGateway
	case CodeTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var (
	// RFC6749 Authorization errors
	ErrInvalidRequest = &Error{Err: CodeInvalidRequest}
	ErrAccessDenied   = &Error{Err: CodeAccessDenied}

	// RFC6749 Token errors
	ErrInvalidClient        = &Error{Err: CodeInvalidClient}
	ErrInvalidGrant         = &Error{Err: CodeInvalidGrant}
	ErrUnsupportedGrantType = &Error{Err: CodeUnsupportedGrantType}

	// Custom errors
	ErrUnknown             = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrConfig              = &Error{Err: CodeConfig, Description: "invalid configuration"}
	ErrStateMismatch       = &Error{Err: CodeStateMismatch, Description: "state does not match the pending authorization request"}
	ErrStateExpired        = &Error{Err: CodeStateExpired, Description: "authorization request expired"}
	ErrMissingCode         = &Error{Err: CodeMissingCode, Description: "callback carries no authorization code"}
	ErrFingerprintMismatch = &Error{Err: CodeFingerprintMismatch, Description: "fingerprint mismatch"}
	ErrTransport           = &Error{Err: CodeTransport, Description: "token endpoint unreachable"}
	ErrConflict            = &Error{Err: CodeConflict, Description: "already exists"}
	ErrNotFound            = &Error{Err: CodeNotFound, Description: "not found"}
	ErrInvalidCSRFToken    = &Error{Err: CodeInvalidCSRFToken, Description: "invalid CSRF token"}
	ErrUnauthorized        = &Error{Err: CodeUnauthorized, Description: "not authenticated"}
	ErrInvalidAtHash       = &Error{Err: CodeInvalidAtHash, Description: "access token does not match at_hash"}

	// ErrProviderDenied is returned when the provider redirects back with an
	// error parameter, most commonly because the user declined consent.
	ErrProviderDenied = ErrAccessDenied
)

// tokenExchangeCodes is the TokenExchangeError family.
var tokenExchangeCodes = map[Code]struct{}{
	CodeInvalidGrant:         {},
	CodeInvalidClient:        {},
	CodeUnsupportedGrantType: {},
	CodeInvalidRequest:       {},
	CodeUnknown:              {},
}

// FromTokenError maps the error field of a token endpoint response to an
// error of the TokenExchangeError family. Codes outside of it become unknown.
func FromTokenError(providerCode, description string) *Error {
	code := Code(providerCode)
	if _, ok := tokenExchangeCodes[code]; !ok {
		code = CodeUnknown
	}

	return &Error{Err: code, Description: description}
}

// IsTokenExchange reports whether err belongs to the TokenExchangeError family.
func IsTokenExchange(err error) bool {
	var serviceErr *Error
	if !errors.As(err, &serviceErr) {
		return false
	}
	_, ok := tokenExchangeCodes[serviceErr.Err]

	return ok
}

// CodeOf returns the code of err or CodeUnknown.
func CodeOf(err error) Code {
	var serviceErr *Error
	if !errors.As(err, &serviceErr) {
		return CodeUnknown
	}

	return serviceErr.Err
}
