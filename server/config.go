package server

import (
	"log/slog"

	"github.com/giantswarm/mcp-authflow/internal/util"
)

// Config holds authorization engine configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// LoginPath is where the login surface is served, relative to Issuer
	// Default: "/login"
	LoginPath string

	// PendingAuthorizationTTL is how long an authorization request waits
	// for the user to log in
	PendingAuthorizationTTL int64 // seconds, default: 600 (10 minutes)

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 300 (5 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// SupportedScopes lists the scopes that may be requested
	// If empty, all scopes are allowed
	SupportedScopes []string

	// AllowInsecureHTTP permits an http:// issuer on a non-loopback host
	// WARNING: tokens and credentials travel in clear text
	// Default: false
	AllowInsecureHTTP bool

	// AllowInsecureRedirectURIs permits registering http:// redirect URIs on
	// non-loopback hosts
	// Default: false
	AllowInsecureRedirectURIs bool

	// BlockedRedirectSchemes are never accepted as redirect URI schemes
	// Default: javascript, data, file, vbscript, about
	BlockedRedirectSchemes []string
}

// LoginURL returns the absolute URL of the login surface.
func (c *Config) LoginURL() string {
	return util.JoinURL(c.Issuer, c.LoginPath)
}

// applySecureDefaults applies secure-by-default configuration values
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	config.Issuer = util.NormalizeURL(config.Issuer)

	applyTimeDefaults(config)

	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	if len(config.BlockedRedirectSchemes) == 0 {
		config.BlockedRedirectSchemes = append([]string(nil), DangerousSchemes...)
	}

	logSecurityWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.PendingAuthorizationTTL <= 0 {
		config.PendingAuthorizationTTL = 600 // 10 minutes
	}
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = 300 // 5 minutes
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AllowInsecureHTTP {
		logger.Warn("⚠️  SECURITY WARNING: HTTP issuer allowed on non-loopback hosts",
			"risk", "Tokens and credentials exposed to network interception",
			"recommendation", "Serve the authorization server over HTTPS")
	}
	if config.AllowInsecureRedirectURIs {
		logger.Warn("⚠️  SECURITY WARNING: HTTP redirect URIs allowed on non-loopback hosts",
			"risk", "Authorization codes exposed to network interception",
			"recommendation", "Register https:// or loopback redirect URIs only")
	}
	if config.AccessTokenTTL > 86400 {
		logger.Warn("⚠️  CONFIGURATION WARNING: Long-lived access tokens",
			"access_token_ttl_seconds", config.AccessTokenTTL,
			"recommendation", "Keep access tokens short-lived; there is no refresh grant")
	}
}
