package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authflow/instrumentation"
	"github.com/giantswarm/mcp-authflow/internal/util"
	"github.com/giantswarm/mcp-authflow/security"
	"github.com/giantswarm/mcp-authflow/storage"
)

// Prefixes make issued credentials recognisable in logs and secret scanners.
const (
	authorizationCodePrefix = "mcp_"
	accessTokenPrefix       = "mcp_at_"

	// accessTokenBytes is the entropy of an access token. Codes use the
	// 32 bytes of oauth2.GenerateVerifier.
	accessTokenBytes = 48
)

// Server is the authorization engine. It owns the client registry, the
// pending-authorization and code stores and the access-token store, and
// implements every state transition of the authorization code flow.
type Server struct {
	clientStore storage.ClientStore
	flowStore   storage.FlowStore
	tokenStore  storage.AccessTokenStore

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	metrics *instrumentation.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates a new authorization engine
func New(
	clientStore storage.ClientStore,
	flowStore storage.FlowStore,
	tokenStore storage.AccessTokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		clientStore: clientStore,
		flowStore:   flowStore,
		tokenStore:  tokenStore,
		Config:      config,
		Logger:      logger,
		now:         time.Now,
	}

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables metrics and tracing for engine operations.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst == nil {
		s.metrics = nil
		s.tracer = nil
		return
	}
	s.metrics = inst.Metrics()
	s.tracer = inst.Tracer("server")
}

// SetClock replaces the time source. Used by tests to cross expiry
// boundaries deterministically.
func (s *Server) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// startSpan starts an engine span when tracing is enabled.
func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, nil
	}
	return s.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}

// generateRandomToken returns 32 random bytes, base64url encoded. It is used
// for state values and authorization codes.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

// generateAccessToken returns an opaque access token with more entropy than
// an authorization code.
func generateAccessToken() (string, error) {
	b := make([]byte, accessTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	return accessTokenPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// appendQuery adds params to raw, keeping any query it already has.
func appendQuery(raw string, params map[string]string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// logPrefix truncates a secret for log output.
func logPrefix(secret string) string {
	return util.SafeTruncate(secret, 8)
}
