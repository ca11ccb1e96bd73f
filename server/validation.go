package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/giantswarm/mcp-authflow/internal/util"
	"github.com/giantswarm/mcp-authflow/storage"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

var (
	// DangerousSchemes lists URI schemes that must never be allowed for security
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}
)

// validateHTTPSEnforcement rejects an http issuer on a non-loopback host
// unless AllowInsecureHTTP is set.
func (s *Server) validateHTTPSEnforcement() error {
	if s.Config.Issuer == "" {
		return nil
	}

	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case SchemeHTTPS:
		return nil
	case SchemeHTTP:
		if util.IsLoopbackHostname(issuerURL.Hostname()) {
			s.Logger.Debug("Running OAuth over HTTP on loopback", "issuer", s.Config.Issuer)
			return nil
		}
		if !s.Config.AllowInsecureHTTP {
			return fmt.Errorf(
				"issuer must use HTTPS outside loopback (got %s://%s); set AllowInsecureHTTP to override",
				issuerURL.Scheme, issuerURL.Hostname())
		}
		return nil
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}
}

// ResolveRedirectURI picks the redirect URI for an authorization request.
// An explicit URI must be registered for the client. When none is given the
// client must have exactly one registered URI. The boolean reports whether
// the URI was provided explicitly.
func (s *Server) ResolveRedirectURI(client *storage.Client, redirectURI string) (string, bool, error) {
	if redirectURI != "" {
		if !client.HasRedirectURI(redirectURI) {
			return "", true, fmt.Errorf("%w: redirect URI not registered for client", ErrInvalidRedirectURI)
		}
		return redirectURI, true, nil
	}

	if len(client.RedirectURIs) == 1 {
		return client.RedirectURIs[0], false, nil
	}
	return "", false, fmt.Errorf("%w: redirect_uri is required when the client has %d registered URIs",
		ErrInvalidRedirectURI, len(client.RedirectURIs))
}

// validateScopes validates that requested scopes are allowed
func (s *Server) validateScopes(requested []string) error {
	if len(s.Config.SupportedScopes) == 0 {
		return nil
	}
	if missing := util.MissingScopes(s.Config.SupportedScopes, requested); len(missing) > 0 {
		return fmt.Errorf("%w: unsupported scope: %s", ErrInvalidScope, missing[0])
	}
	return nil
}

// validateClientScopes restricts requested scopes to those registered for
// the client. A client registered without scopes may request any supported
// scope.
func validateClientScopes(requested, clientScopes []string) error {
	if len(clientScopes) == 0 {
		return nil
	}
	if !util.ContainsAllScopes(clientScopes, requested) {
		return fmt.Errorf("%w: client is not authorized for one or more requested scopes", ErrInvalidScope)
	}
	return nil
}

// validateCodeChallenge checks the PKCE parameters of an authorization
// request. Only S256 is accepted.
func validateCodeChallenge(challenge, method string) error {
	if challenge == "" {
		return fmt.Errorf("%w: code_challenge is required (OAuth 2.1)", ErrInvalidRequest)
	}
	if method != PKCEMethodS256 {
		return fmt.Errorf("%w: unsupported code_challenge_method %q (supported: S256)", ErrInvalidRequest, method)
	}
	// A S256 challenge is the base64url encoding of a SHA-256 digest.
	if len(challenge) != 43 {
		return fmt.Errorf("%w: code_challenge must be 43 characters for S256", ErrInvalidRequest)
	}
	return nil
}

// validatePKCE validates the PKCE code verifier against the challenge per RFC 7636
func validatePKCE(challenge, verifier string) error {
	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}

	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters (RFC 7636)", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters (RFC 7636)", MaxCodeVerifierLength)
	}

	// RFC 7636: [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~"
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}
