package util

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeURL trims surrounding whitespace and any trailing slashes so that
// an issuer or server URL can be joined with an absolute path.
func NormalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// JoinURL appends path to base, which is normalised first.
func JoinURL(base, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return NormalizeURL(base) + path
}

// IsLoopbackHostname reports whether hostname is localhost or a loopback IP.
func IsLoopbackHostname(hostname string) bool {
	hostname = strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

// IsSecureURL reports whether raw uses https, or http on a loopback host.
func IsSecureURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "https":
		return true
	case "http":
		return IsLoopbackHostname(u.Hostname())
	default:
		return false
	}
}
