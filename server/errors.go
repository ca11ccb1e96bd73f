package server

import "errors"

// Engine failures. Callers branch on these with errors.Is; wrapped messages
// carry detail for logs only.
var (
	// ErrInvalidState means the pending authorization is unknown, consumed or
	// expired.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnauthenticated means the user's credentials were rejected.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidGrant means the authorization code is unknown, expired,
	// already redeemed, bound to another client, or failed PKCE.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrUnsupportedGrant is returned for every grant other than
	// authorization_code, including refresh_token.
	ErrUnsupportedGrant = errors.New("unsupported grant type")

	// ErrInvalidRequest means a required parameter is missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidScope means a requested scope is not supported.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidClient means client lookup or authentication failed.
	ErrInvalidClient = errors.New("invalid client")

	// ErrInvalidRedirectURI means the redirect URI is not registered or is
	// not acceptable for registration.
	ErrInvalidRedirectURI = errors.New("invalid redirect uri")

	// ErrInvalidClientMetadata means registration metadata was rejected.
	ErrInvalidClientMetadata = errors.New("invalid client metadata")
)
