package security

import (
	"net/http"
	"net/url"
)

const (
	apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

	// The login page needs its inline style and must be able to post back
	// to itself.
	pageContentSecurityPolicy = "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'"
)

// SetSecurityHeaders sets security headers on OAuth API responses.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	setSecurityHeaders(w, serverURL, apiContentSecurityPolicy)
}

// SetPageSecurityHeaders sets security headers on the HTML login page.
func SetPageSecurityHeaders(w http.ResponseWriter, serverURL string) {
	setSecurityHeaders(w, serverURL, pageContentSecurityPolicy)
}

func setSecurityHeaders(w http.ResponseWriter, serverURL, csp string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", csp)
	h.Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Token responses must never be cached (RFC 6749 section 5.1).
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}
