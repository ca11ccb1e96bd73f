package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-authflow/instrumentation"
	"github.com/giantswarm/mcp-authflow/internal/util"
)

const (
	// DefaultIntrospectionTimeout bounds a single introspection round-trip.
	DefaultIntrospectionTimeout = 5 * time.Second

	introspectPath = "/introspect"

	// maxIntrospectionResponseBytes caps how much of the response is read.
	maxIntrospectionResponseBytes = 1 << 20
)

// AccessToken is the resource server's view of a token, built from one
// introspection response and valid for the current request only.
type AccessToken struct {
	Token    string
	ClientID string
	Scopes   []string

	// ExpiresAt is zero when the authorization server did not report exp.
	ExpiresAt time.Time

	// Resource is the audience the token was issued for, if any.
	Resource string
}

// HasScopes reports whether the token carries every scope in required.
func (t *AccessToken) HasScopes(required []string) bool {
	return util.ContainsAllScopes(t.Scopes, required)
}

// TokenVerifier checks a bearer token.
type TokenVerifier interface {
	// VerifyToken returns the token view for an active token. Inactive
	// tokens yield ErrTokenInactive; transport failures yield
	// ErrUpstreamUnavailable.
	VerifyToken(ctx context.Context, token string) (*AccessToken, error)
}

// VerifierConfig configures an IntrospectionVerifier.
type VerifierConfig struct {
	// AuthServerURL is the authorization server base URL. Requests go to
	// {AuthServerURL}/introspect.
	AuthServerURL string

	// ClientID and ClientSecret, when set, are sent as HTTP Basic
	// credentials.
	ClientID     string
	ClientSecret string

	// ExpectedAudience, when set, rejects tokens bound to another resource.
	// Tokens without an audience are accepted.
	ExpectedAudience string

	// Timeout for the introspection call. Default: 5s.
	Timeout time.Duration

	// HTTPClient overrides the client. Its Timeout is left untouched.
	HTTPClient *http.Client

	Logger          *slog.Logger
	Instrumentation *instrumentation.Instrumentation
}

// IntrospectionVerifier verifies tokens with the RFC 7662 introspection
// endpoint of the authorization server. It fails closed and never caches.
type IntrospectionVerifier struct {
	introspectionURL string
	config           VerifierConfig
	client           *http.Client
	logger           *slog.Logger
	metrics          *instrumentation.Metrics
	tracer           trace.Tracer
	now              func() time.Time
}

var _ TokenVerifier = (*IntrospectionVerifier)(nil)

// introspectionResponse mirrors the fields the verifier reads. Audience is
// raw because RFC 7662 allows a string or an array.
type introspectionResponse struct {
	Active   bool            `json:"active"`
	ClientID string          `json:"client_id"`
	Scope    string          `json:"scope"`
	Exp      *int64          `json:"exp"`
	Audience json.RawMessage `json:"aud"`
}

// NewIntrospectionVerifier creates a verifier for config.AuthServerURL.
func NewIntrospectionVerifier(config VerifierConfig) (*IntrospectionVerifier, error) {
	base, err := url.Parse(config.AuthServerURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid authorization server URL %q", config.AuthServerURL)
	}
	if !util.IsSecureURL(config.AuthServerURL) {
		// Bearer tokens would cross the network in clear text.
		return nil, fmt.Errorf("authorization server URL must use HTTPS outside loopback: %s", config.AuthServerURL)
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultIntrospectionTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	v := &IntrospectionVerifier{
		introspectionURL: util.JoinURL(config.AuthServerURL, introspectPath),
		config:           config,
		logger:           logger,
		now:              time.Now,
	}

	client := config.HTTPClient
	if client == nil {
		var transportOpts []otelhttp.Option
		if inst := config.Instrumentation; inst != nil {
			transportOpts = append(transportOpts,
				otelhttp.WithTracerProvider(inst.TracerProvider()),
				otelhttp.WithMeterProvider(inst.MeterProvider()))
		}
		client = &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, transportOpts...),
		}
	}
	v.client = client

	if inst := config.Instrumentation; inst != nil {
		v.metrics = inst.Metrics()
		v.tracer = inst.Tracer("resource")
	}

	return v, nil
}

// IntrospectionURL returns the endpoint the verifier calls.
func (v *IntrospectionVerifier) IntrospectionURL() string {
	return v.introspectionURL
}

// VerifyToken asks the authorization server whether token is active.
func (v *IntrospectionVerifier) VerifyToken(ctx context.Context, token string) (accessToken *AccessToken, err error) {
	start := time.Now()
	var span trace.Span
	if v.tracer != nil {
		ctx, span = v.tracer.Start(ctx, "resource.verify_token")
		defer span.End()
	}
	defer func() {
		result := "active"
		switch {
		case err == nil:
		case errors.Is(err, ErrUpstreamUnavailable):
			result = "unavailable"
		default:
			result = "inactive"
		}
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrActive, err == nil))
		v.metrics.RecordTokenVerification(ctx, result, float64(time.Since(start).Microseconds())/1000)
	}()

	if token == "" {
		return nil, ErrTokenInactive
	}

	ctx, cancel := context.WithTimeout(ctx, v.config.Timeout)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.introspectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if v.config.ClientID != "" {
		req.SetBasicAuth(v.config.ClientID, v.config.ClientSecret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn("Token introspection request failed", "url", v.introspectionURL, "error", err)
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		v.logger.Warn("Token introspection returned non-200 status", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var body introspectionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxIntrospectionResponseBytes)).Decode(&body); err != nil {
		v.logger.Warn("Token introspection returned malformed JSON", "error", err)
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUpstreamUnavailable, err)
	}

	if !body.Active {
		return nil, ErrTokenInactive
	}

	accessToken = &AccessToken{
		Token:    token,
		ClientID: body.ClientID,
		Scopes:   util.SplitScopes(body.Scope),
		Resource: audienceString(body.Audience),
	}
	if body.Exp != nil {
		accessToken.ExpiresAt = time.Unix(*body.Exp, 0)
		if !v.now().Before(accessToken.ExpiresAt) {
			return nil, fmt.Errorf("%w: expired", ErrTokenInactive)
		}
	}

	if v.config.ExpectedAudience != "" && accessToken.Resource != "" &&
		util.NormalizeURL(accessToken.Resource) != util.NormalizeURL(v.config.ExpectedAudience) {
		v.logger.Warn("Token audience mismatch",
			"client_id", accessToken.ClientID,
			"audience", accessToken.Resource,
			"expected", v.config.ExpectedAudience)
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInactive)
	}

	return accessToken, nil
}

// audienceString returns aud as a string. Arrays yield their first entry;
// anything else yields "".
func audienceString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}
