package server

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/giantswarm/mcp-authflow/internal/util"
)

// RedirectURISecurityError represents a redirect URI validation error
// with detailed information for operators while keeping error messages generic for clients.
type RedirectURISecurityError struct {
	// Category is the error category for logging/metrics
	Category string
	// URI is the offending redirect URI (sanitized for logging)
	URI string
	// Reason is the detailed internal reason (for logs, not returned to client)
	Reason string
	// ClientMessage is the message safe to return to clients
	ClientMessage string
}

func (e *RedirectURISecurityError) Error() string {
	return e.ClientMessage
}

// Unwrap lets callers match ErrInvalidRedirectURI.
func (e *RedirectURISecurityError) Unwrap() error {
	return ErrInvalidRedirectURI
}

// Redirect URI security error categories for metrics and logging.
const (
	RedirectURIErrorCategoryBlockedScheme  = "blocked_scheme"
	RedirectURIErrorCategoryHTTPNotAllowed = "http_not_allowed"
	RedirectURIErrorCategoryInvalidFormat  = "invalid_format"
	RedirectURIErrorCategoryFragment       = "fragment_not_allowed"
)

var customSchemePattern = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)

// ValidateRedirectURIForRegistration checks a single redirect URI offered at
// registration. https is always accepted, http only on loopback hosts unless
// AllowInsecureRedirectURIs is set, and custom schemes for native apps when
// they are RFC 3986 compliant and not blocked.
func (s *Server) ValidateRedirectURIForRegistration(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil || parsed.Scheme == "" {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryInvalidFormat,
			URI:           sanitizeURIForLogging(redirectURI),
			Reason:        fmt.Sprintf("URL parse error: %v", err),
			ClientMessage: "redirect_uri: invalid URI format",
		}
	}

	// OAuth 2.0 Security BCP Section 4.1.3
	if parsed.Fragment != "" {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryFragment,
			URI:           sanitizeURIForLogging(redirectURI),
			Reason:        "URI contains fragment",
			ClientMessage: "redirect_uri: fragments are not allowed",
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	for _, blocked := range s.Config.BlockedRedirectSchemes {
		if scheme == strings.ToLower(blocked) {
			return &RedirectURISecurityError{
				Category:      RedirectURIErrorCategoryBlockedScheme,
				URI:           sanitizeURIForLogging(redirectURI),
				Reason:        fmt.Sprintf("scheme '%s' is in blocked list", scheme),
				ClientMessage: fmt.Sprintf("redirect_uri: scheme '%s' is blocked for security reasons", scheme),
			}
		}
	}

	switch scheme {
	case SchemeHTTPS:
		if parsed.Host == "" {
			return &RedirectURISecurityError{
				Category:      RedirectURIErrorCategoryInvalidFormat,
				URI:           sanitizeURIForLogging(redirectURI),
				Reason:        "https URI without host",
				ClientMessage: "redirect_uri: invalid URI format",
			}
		}
		return nil
	case SchemeHTTP:
		if parsed.Host == "" {
			return &RedirectURISecurityError{
				Category:      RedirectURIErrorCategoryInvalidFormat,
				URI:           sanitizeURIForLogging(redirectURI),
				Reason:        "http URI without host",
				ClientMessage: "redirect_uri: invalid URI format",
			}
		}
		if util.IsLoopbackHostname(parsed.Hostname()) || s.Config.AllowInsecureRedirectURIs {
			return nil
		}
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryHTTPNotAllowed,
			URI:           sanitizeURIForLogging(redirectURI),
			Reason:        "http redirect URI on non-loopback host",
			ClientMessage: "redirect_uri: http is only allowed for loopback addresses",
		}
	}

	if !customSchemePattern.MatchString(scheme) {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryBlockedScheme,
			URI:           sanitizeURIForLogging(redirectURI),
			Reason:        "scheme is not RFC 3986 compliant",
			ClientMessage: fmt.Sprintf("redirect_uri: scheme '%s' is not allowed", scheme),
		}
	}
	return nil
}

// ValidateRedirectURIsForRegistration validates every redirect URI of a
// registration request.
func (s *Server) ValidateRedirectURIsForRegistration(redirectURIs []string) error {
	if len(redirectURIs) == 0 {
		return fmt.Errorf("%w: at least one redirect_uri is required", ErrInvalidRedirectURI)
	}
	for _, uri := range redirectURIs {
		if err := s.ValidateRedirectURIForRegistration(uri); err != nil {
			return err
		}
	}
	return nil
}

// sanitizeURIForLogging drops query and userinfo from a URI before logging.
func sanitizeURIForLogging(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return util.SafeTruncate(uri, 50)
	}
	parsed.User = nil
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

// GetRedirectURIErrorCategory returns the category of a redirect URI
// validation error, or "" for other errors.
func GetRedirectURIErrorCategory(err error) string {
	var secErr *RedirectURISecurityError
	if errors.As(err, &secErr) {
		return secErr.Category
	}
	return ""
}
