package security

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPResolver(t *testing.T) {
	tests := []struct {
		name       string
		resolver   ClientIPResolver
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "10.0.0.5:51234",
			want:       "10.0.0.5",
		},
		{
			name:       "proxy headers ignored when untrusted",
			remoteAddr: "10.0.0.5:51234",
			xff:        "1.2.3.4",
			want:       "10.0.0.5",
		},
		{
			name:       "single trusted proxy",
			resolver:   ClientIPResolver{TrustProxy: true},
			remoteAddr: "10.0.0.5:51234",
			xff:        "1.2.3.4, 10.0.0.1",
			want:       "1.2.3.4",
		},
		{
			name:       "two trusted proxies",
			resolver:   ClientIPResolver{TrustProxy: true, TrustedProxyCount: 2},
			remoteAddr: "10.0.0.5:51234",
			xff:        "1.2.3.4, 10.0.0.2, 10.0.0.1",
			want:       "1.2.3.4",
		},
		{
			name:       "short header falls back to leftmost",
			resolver:   ClientIPResolver{TrustProxy: true, TrustedProxyCount: 3},
			remoteAddr: "10.0.0.5:51234",
			xff:        "1.2.3.4",
			want:       "1.2.3.4",
		},
		{
			name:       "invalid xff uses x-real-ip",
			resolver:   ClientIPResolver{TrustProxy: true},
			remoteAddr: "10.0.0.5:51234",
			xff:        "garbage, 10.0.0.1",
			xri:        "5.6.7.8",
			want:       "5.6.7.8",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "10.0.0.5",
			want:       "10.0.0.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := tt.resolver.ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
