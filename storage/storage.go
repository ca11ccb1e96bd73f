package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClientNotFound is returned when no client is registered under an ID.
	ErrClientNotFound = errors.New("client not found")

	// ErrPendingAuthorizationNotFound is returned when a state is unknown or
	// has already been consumed.
	ErrPendingAuthorizationNotFound = errors.New("pending authorization not found")

	// ErrPendingAuthorizationExists is returned by SavePendingAuthorization
	// when the state already has a live entry.
	ErrPendingAuthorizationExists = errors.New("pending authorization already exists")

	// ErrAuthorizationCodeNotFound is returned when a code is unknown or has
	// already been claimed.
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeExists is returned by SaveAuthorizationCode when the
	// code value is already live.
	ErrAuthorizationCodeExists = errors.New("authorization code already exists")

	// ErrAccessTokenNotFound is returned when a token is unknown or revoked.
	ErrAccessTokenNotFound = errors.New("access token not found")
)

// ClientStore is the client registry.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient stores a client, replacing any client with the same ID.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient returns ErrClientNotFound for unknown IDs.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)
}

// PendingAuthorizationStore holds authorization requests between /authorize
// and the login callback, keyed by state.
type PendingAuthorizationStore interface {
	// SavePendingAuthorization stores a new entry. It never replaces a live
	// entry for the same state and returns ErrPendingAuthorizationExists
	// instead.
	SavePendingAuthorization(ctx context.Context, pending *PendingAuthorization) error

	// GetPendingAuthorization reads an entry without consuming it.
	GetPendingAuthorization(ctx context.Context, state string) (*PendingAuthorization, error)

	// ConsumePendingAuthorization atomically reads and removes an entry.
	// When several callers race on the same state exactly one receives the
	// entry; the others get ErrPendingAuthorizationNotFound.
	ConsumePendingAuthorization(ctx context.Context, state string) (*PendingAuthorization, error)
}

// AuthorizationCodeStore holds issued, not yet exchanged authorization codes.
type AuthorizationCodeStore interface {
	// SaveAuthorizationCode stores a new code. It returns
	// ErrAuthorizationCodeExists if the code value is already live.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode reads a code without consuming it.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ClaimAuthorizationCode atomically removes a code and returns it.
	// SECURITY: this is the single-use guarantee. Of any number of concurrent
	// claims for the same code exactly one succeeds; the rest get
	// ErrAuthorizationCodeNotFound.
	ClaimAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// AccessTokenStore holds issued opaque access tokens.
type AccessTokenStore interface {
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken returns ErrAccessTokenNotFound for unknown tokens. It
	// does not check expiry.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteAccessToken removes a token. Deleting an unknown token is not an
	// error.
	DeleteAccessToken(ctx context.Context, token string) error
}

// FlowStore combines the stores used during a single authorization flow.
type FlowStore interface {
	PendingAuthorizationStore
	AuthorizationCodeStore
}

// Client represents a registered OAuth client
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash, empty for public clients
	ClientType              string // "public" or "confidential"
	RedirectURIs            []string
	TokenEndpointAuthMethod string
	GrantTypes              []string
	ResponseTypes           []string
	ClientName              string
	Scopes                  []string
	CreatedAt               time.Time
}

// HasRedirectURI reports whether uri is registered for the client. The
// comparison is exact string equality.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// PendingAuthorization is an authorization request waiting for the user to
// log in.
type PendingAuthorization struct {
	State                         string
	ClientID                      string
	RedirectURI                   string
	RedirectURIProvidedExplicitly bool
	CodeChallenge                 string
	CodeChallengeMethod           string
	Resource                      string
	Scopes                        []string
	CreatedAt                     time.Time
	ExpiresAt                     time.Time
}

// AuthorizationCode is a single-use code bound to a client and a PKCE
// challenge.
type AuthorizationCode struct {
	Code                          string
	ClientID                      string
	Scopes                        []string
	CodeChallenge                 string
	RedirectURI                   string
	RedirectURIProvidedExplicitly bool
	Resource                      string
	IssuedAt                      time.Time
	ExpiresAt                     time.Time
}

// AccessToken is an opaque bearer token. Resource is the audience the token
// was issued for, if any.
type AccessToken struct {
	Token     string
	ClientID  string
	Scopes    []string
	Resource  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
