package valkey

import (
	"time"

	"github.com/giantswarm/mcp-authflow/storage"
)

// JSON mirrors of the storage records. Keeping them separate from the
// storage types pins the on-wire format.

type clientJSON struct {
	ClientID                string    `json:"client_id"`
	ClientSecretHash        string    `json:"client_secret_hash,omitempty"`
	ClientType              string    `json:"client_type"`
	RedirectURIs            []string  `json:"redirect_uris"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	GrantTypes              []string  `json:"grant_types,omitempty"`
	ResponseTypes           []string  `json:"response_types,omitempty"`
	ClientName              string    `json:"client_name,omitempty"`
	Scopes                  []string  `json:"scopes,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:                c.ClientID,
		ClientSecretHash:        c.ClientSecretHash,
		ClientType:              c.ClientType,
		RedirectURIs:            c.RedirectURIs,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           c.ResponseTypes,
		ClientName:              c.ClientName,
		Scopes:                  c.Scopes,
		CreatedAt:               c.CreatedAt,
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ClientID:                j.ClientID,
		ClientSecretHash:        j.ClientSecretHash,
		ClientType:              j.ClientType,
		RedirectURIs:            j.RedirectURIs,
		TokenEndpointAuthMethod: j.TokenEndpointAuthMethod,
		GrantTypes:              j.GrantTypes,
		ResponseTypes:           j.ResponseTypes,
		ClientName:              j.ClientName,
		Scopes:                  j.Scopes,
		CreatedAt:               j.CreatedAt,
	}
}

type pendingJSON struct {
	State                         string    `json:"state"`
	ClientID                      string    `json:"client_id"`
	RedirectURI                   string    `json:"redirect_uri"`
	RedirectURIProvidedExplicitly bool      `json:"redirect_uri_provided_explicitly"`
	CodeChallenge                 string    `json:"code_challenge"`
	CodeChallengeMethod           string    `json:"code_challenge_method"`
	Resource                      string    `json:"resource,omitempty"`
	Scopes                        []string  `json:"scopes,omitempty"`
	CreatedAt                     time.Time `json:"created_at"`
	ExpiresAt                     time.Time `json:"expires_at"`
}

func toPendingJSON(p *storage.PendingAuthorization) *pendingJSON {
	return &pendingJSON{
		State:                         p.State,
		ClientID:                      p.ClientID,
		RedirectURI:                   p.RedirectURI,
		RedirectURIProvidedExplicitly: p.RedirectURIProvidedExplicitly,
		CodeChallenge:                 p.CodeChallenge,
		CodeChallengeMethod:           p.CodeChallengeMethod,
		Resource:                      p.Resource,
		Scopes:                        p.Scopes,
		CreatedAt:                     p.CreatedAt,
		ExpiresAt:                     p.ExpiresAt,
	}
}

func fromPendingJSON(j *pendingJSON) *storage.PendingAuthorization {
	return &storage.PendingAuthorization{
		State:                         j.State,
		ClientID:                      j.ClientID,
		RedirectURI:                   j.RedirectURI,
		RedirectURIProvidedExplicitly: j.RedirectURIProvidedExplicitly,
		CodeChallenge:                 j.CodeChallenge,
		CodeChallengeMethod:           j.CodeChallengeMethod,
		Resource:                      j.Resource,
		Scopes:                        j.Scopes,
		CreatedAt:                     j.CreatedAt,
		ExpiresAt:                     j.ExpiresAt,
	}
}

type authorizationCodeJSON struct {
	Code                          string    `json:"code"`
	ClientID                      string    `json:"client_id"`
	Scopes                        []string  `json:"scopes,omitempty"`
	CodeChallenge                 string    `json:"code_challenge"`
	RedirectURI                   string    `json:"redirect_uri"`
	RedirectURIProvidedExplicitly bool      `json:"redirect_uri_provided_explicitly"`
	Resource                      string    `json:"resource,omitempty"`
	IssuedAt                      time.Time `json:"issued_at"`
	ExpiresAt                     time.Time `json:"expires_at"`
}

func toAuthorizationCodeJSON(c *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                          c.Code,
		ClientID:                      c.ClientID,
		Scopes:                        c.Scopes,
		CodeChallenge:                 c.CodeChallenge,
		RedirectURI:                   c.RedirectURI,
		RedirectURIProvidedExplicitly: c.RedirectURIProvidedExplicitly,
		Resource:                      c.Resource,
		IssuedAt:                      c.IssuedAt,
		ExpiresAt:                     c.ExpiresAt,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                          j.Code,
		ClientID:                      j.ClientID,
		Scopes:                        j.Scopes,
		CodeChallenge:                 j.CodeChallenge,
		RedirectURI:                   j.RedirectURI,
		RedirectURIProvidedExplicitly: j.RedirectURIProvidedExplicitly,
		Resource:                      j.Resource,
		IssuedAt:                      j.IssuedAt,
		ExpiresAt:                     j.ExpiresAt,
	}
}

type accessTokenJSON struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toAccessTokenJSON(t *storage.AccessToken) *accessTokenJSON {
	return &accessTokenJSON{
		Token:     t.Token,
		ClientID:  t.ClientID,
		Scopes:    t.Scopes,
		Resource:  t.Resource,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
	}
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	return &storage.AccessToken{
		Token:     j.Token,
		ClientID:  j.ClientID,
		Scopes:    j.Scopes,
		Resource:  j.Resource,
		IssuedAt:  j.IssuedAt,
		ExpiresAt: j.ExpiresAt,
	}
}
