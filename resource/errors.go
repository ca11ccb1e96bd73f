package resource

import "errors"

var (
	// ErrTokenInactive means the authorization server reported the token as
	// inactive, or it failed a local audience or expiry check.
	ErrTokenInactive = errors.New("token inactive")

	// ErrUpstreamUnavailable means the introspection call failed or timed
	// out. It is logged but surfaced to callers as ErrUnauthenticated.
	ErrUpstreamUnavailable = errors.New("introspection upstream unavailable")

	// ErrUnauthenticated means the bearer token is missing or not active.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the token is active but lacks a required scope.
	ErrForbidden = errors.New("forbidden")
)

// OAuth error codes used in resource server responses (RFC 6750).
const (
	ErrorCodeInvalidToken      = "invalid_token"
	ErrorCodeInsufficientScope = "insufficient_scope"
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeNotFound          = "not_found"
	ErrorCodeServerError       = "server_error"
)
