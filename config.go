package oauth

import (
	"log/slog"

	"github.com/giantswarm/mcp-authflow/server"
)

// Config holds the HTTP handler configuration. Engine settings such as the
// issuer and token lifetimes live in server.Config.
type Config struct {
	// Credentials verifies usernames and passwords on the login callback.
	// Default: server.DemoCredentials().
	Credentials server.CredentialVerifier

	// IntrospectionClientID and IntrospectionClientSecret, when both set,
	// are required as HTTP Basic credentials on the introspection endpoint.
	// Resource servers use them to authenticate.
	IntrospectionClientID     string
	IntrospectionClientSecret string

	// TrustProxy enables X-Forwarded-For and X-Real-IP for client IPs.
	// Only enable this behind a reverse proxy you control.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of the
	// server. Default: 1 when TrustProxy is set.
	TrustedProxyCount int

	// Logger for structured logging (optional, uses the engine logger if not provided)
	Logger *slog.Logger
}

func (c *Config) introspectionAuthRequired() bool {
	return c.IntrospectionClientID != "" && c.IntrospectionClientSecret != ""
}
