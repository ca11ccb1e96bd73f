package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver extracts the caller's address from a request. Proxy
// headers are only honoured when TrustProxy is set.
type ClientIPResolver struct {
	TrustProxy bool

	// TrustedProxyCount is the number of proxies we run in front of the
	// server. Zero means one.
	TrustedProxyCount int
}

// ClientIP returns the client address for r.
//
// X-Forwarded-For is read right to left: "client, untrusted, proxyN..proxy1".
// The entry just left of our trusted proxies is the client.
func (c ClientIPResolver) ClientIP(r *http.Request) string {
	if c.TrustProxy {
		if ip := c.fromForwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
			return ip
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (c ClientIPResolver) fromForwardedFor(xff string) string {
	if xff == "" {
		return ""
	}
	ips := strings.Split(xff, ",")

	proxies := c.TrustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}
	idx := len(ips) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
