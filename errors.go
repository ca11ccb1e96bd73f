package oauth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/mcp-authflow/server"
	"github.com/giantswarm/mcp-authflow/storage"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeInvalidClientMetadata   = "invalid_client_metadata"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// ErrInvalidRequest indicates the request is malformed or missing required parameters
func ErrInvalidRequest(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
}

// ErrInvalidClient indicates client authentication failed
func ErrInvalidClient(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
}

// ErrServerError indicates an internal server error occurred
func ErrServerError(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
}

// toOAuthError maps an engine error to the response the client sees.
// Descriptions are fixed strings; the wrapped detail is for logs only.
func toOAuthError(err error) *OAuthError {
	var oauthErr *OAuthError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &oauthErr):
		return oauthErr
	case errors.Is(err, server.ErrInvalidGrant):
		return NewOAuthError(ErrorCodeInvalidGrant, "Authorization code is invalid or expired", http.StatusBadRequest)
	case errors.Is(err, server.ErrUnsupportedGrant):
		return NewOAuthError(ErrorCodeUnsupportedGrantType, "Grant type not supported", http.StatusBadRequest)
	case errors.Is(err, server.ErrInvalidClient), errors.Is(err, storage.ErrClientNotFound):
		return ErrInvalidClient("Client authentication failed")
	case errors.Is(err, server.ErrInvalidRedirectURI):
		return NewOAuthError(ErrorCodeInvalidRedirectURI, "Redirect URI is not valid for this client", http.StatusBadRequest)
	case errors.Is(err, server.ErrInvalidClientMetadata):
		return NewOAuthError(ErrorCodeInvalidClientMetadata, "Client metadata is invalid", http.StatusBadRequest)
	case errors.Is(err, server.ErrInvalidScope):
		return NewOAuthError(ErrorCodeInvalidScope, "Requested scope is not supported", http.StatusBadRequest)
	case errors.Is(err, server.ErrInvalidState):
		return ErrInvalidRequest("Unknown or expired state")
	case errors.Is(err, server.ErrUnauthenticated):
		return NewOAuthError(ErrorCodeAccessDenied, "Invalid credentials", http.StatusUnauthorized)
	case errors.Is(err, server.ErrInvalidRequest):
		return ErrInvalidRequest("Invalid request")
	default:
		return ErrServerError("Internal server error")
	}
}
