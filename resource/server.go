package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-authflow/instrumentation"
	"github.com/giantswarm/mcp-authflow/internal/util"
	"github.com/giantswarm/mcp-authflow/security"
)

// ProtectedResourceMetadataPath is the RFC 9728 discovery path.
const ProtectedResourceMetadataPath = "/.well-known/oauth-protected-resource"

const maxToolArgumentBytes = 64 << 10

// Config configures a resource Server.
type Config struct {
	// ServerName is shown in protected-resource metadata.
	ServerName string

	// ResourceURL is this server's public base URL and resource identifier.
	ResourceURL string

	// AuthServerURL is the authorization server advertised in metadata.
	AuthServerURL string

	// AuthEnabled turns on bearer token checks. When false every tool is
	// public.
	AuthEnabled bool

	// RequireAuthForTools names the protected tools. Empty with AuthEnabled
	// protects every tool.
	RequireAuthForTools []string

	// RequiredScopes are required on every protected tool, in addition to
	// the tool's own RequiredScopes.
	RequiredScopes []string

	// ScopesSupported is advertised in metadata.
	ScopesSupported []string

	TrustProxy        bool
	TrustedProxyCount int

	Logger          *slog.Logger
	Instrumentation *instrumentation.Instrumentation
}

// Server is the resource server HTTP surface.
type Server struct {
	config     Config
	verifier   TokenVerifier
	tools      *Registry
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	tracer     trace.Tracer
	ipResolver security.ClientIPResolver
}

// NewServer creates a resource server. verifier may be nil only when auth is
// disabled.
func NewServer(config Config, verifier TokenVerifier, tools *Registry) (*Server, error) {
	if config.AuthEnabled && verifier == nil {
		return nil, fmt.Errorf("token verifier is required when auth is enabled")
	}
	if config.ResourceURL == "" {
		return nil, fmt.Errorf("resource URL is required")
	}
	if tools == nil {
		tools = NewRegistry()
	}
	if config.ServerName == "" {
		config.ServerName = "mcp-authflow-resource-server"
	}
	config.ResourceURL = util.NormalizeURL(config.ResourceURL)

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   config,
		verifier: verifier,
		tools:    tools,
		logger:   logger,
		ipResolver: security.ClientIPResolver{
			TrustProxy:        config.TrustProxy,
			TrustedProxyCount: config.TrustedProxyCount,
		},
	}
	if inst := config.Instrumentation; inst != nil {
		s.metrics = inst.Metrics()
		s.tracer = inst.Tracer("resource")
	}

	if !config.AuthEnabled {
		logger.Info("Auth is disabled; all tools are public")
	}
	return s, nil
}

// Routes returns the router for the resource server.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(ProtectedResourceMetadataPath, s.ServeProtectedResourceMetadata).Methods(http.MethodGet)
	r.PathPrefix(ProtectedResourceMetadataPath + "/").HandlerFunc(s.ServeProtectedResourceMetadata).Methods(http.MethodGet)
	r.HandleFunc("/tools", s.ServeListTools).Methods(http.MethodGet)
	r.HandleFunc("/tools/{name}", s.ServeCallTool).Methods(http.MethodPost)

	var handler http.Handler = r
	if inst := s.config.Instrumentation; inst != nil {
		handler = otelhttp.NewHandler(handler, "resource.http",
			otelhttp.WithTracerProvider(inst.TracerProvider()),
			otelhttp.WithMeterProvider(inst.MeterProvider()),
		)
	}
	return security.RequestIDMiddleware(handler)
}

// RequiresAuth reports whether calling tool needs a bearer token.
func (s *Server) RequiresAuth(tool string) bool {
	if !s.config.AuthEnabled {
		return false
	}
	if len(s.config.RequireAuthForTools) == 0 {
		return true
	}
	return slices.Contains(s.config.RequireAuthForTools, tool)
}

func (s *Server) requiredScopes(tool Tool) []string {
	scopes := append([]string(nil), s.config.RequiredScopes...)
	return append(scopes, tool.RequiredScopes...)
}

type accessTokenContextKey struct{}

// ContextWithAccessToken stores a verified token in ctx.
func ContextWithAccessToken(ctx context.Context, token *AccessToken) context.Context {
	return context.WithValue(ctx, accessTokenContextKey{}, token)
}

// AccessTokenFromContext returns the token verified for this request.
func AccessTokenFromContext(ctx context.Context) (*AccessToken, bool) {
	token, ok := ctx.Value(accessTokenContextKey{}).(*AccessToken)
	return token, ok && token != nil
}

// Authenticate verifies the bearer token of r and checks requiredScopes.
// It returns ErrUnauthenticated or ErrForbidden. Upstream failures are
// logged and reported as ErrUnauthenticated.
func (s *Server) Authenticate(r *http.Request, requiredScopes []string) (*AccessToken, error) {
	if s.verifier == nil {
		// A protected tool without a verifier must not look public.
		return nil, fmt.Errorf("%w: no token verifier configured", ErrUnauthenticated)
	}

	token, ok := bearerToken(r)
	if !ok {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	accessToken, err := s.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			s.logger.Error("Token verification unavailable", "ip", s.ipResolver.ClientIP(r), "error", err)
		} else {
			s.logger.Debug("Token rejected", "token_prefix", util.SafeTruncate(token, 8), "error", err)
		}
		return nil, fmt.Errorf("%w: invalid or expired token", ErrUnauthenticated)
	}

	if !accessToken.HasScopes(requiredScopes) {
		missing := util.MissingScopes(accessToken.Scopes, requiredScopes)
		return accessToken, fmt.Errorf("%w: missing scopes %s", ErrForbidden, strings.Join(missing, " "))
	}
	return accessToken, nil
}

// RequireBearer wraps next so that it only runs with an active token
// carrying requiredScopes.
func (s *Server) RequireBearer(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accessToken, err := s.Authenticate(r, requiredScopes)
			if err != nil {
				s.writeAuthError(w, err, requiredScopes)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAccessToken(r.Context(), accessToken)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ProtectedResourceMetadata is RFC 9728 metadata.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
}

// ServeProtectedResourceMetadata serves RFC 9728 metadata.
func (s *Server) ServeProtectedResourceMetadata(w http.ResponseWriter, _ *http.Request) {
	metadata := ProtectedResourceMetadata{
		Resource:               s.config.ResourceURL,
		AuthorizationServers:   []string{},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        s.config.ScopesSupported,
		ResourceName:           s.config.ServerName,
	}
	if s.config.AuthServerURL != "" {
		metadata.AuthorizationServers = []string{util.NormalizeURL(s.config.AuthServerURL)}
	}
	s.writeJSON(w, http.StatusOK, metadata)
}

type toolInfo struct {
	Tool
	RequiresAuth bool `json:"requiresAuth"`
}

// ServeListTools lists the registered tools.
func (s *Server) ServeListTools(w http.ResponseWriter, _ *http.Request) {
	tools := s.tools.List()
	out := make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolInfo{Tool: t, RequiresAuth: s.RequiresAuth(t.Name)})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

// ServeCallTool runs the tool named in the path with the JSON body as
// arguments.
func (s *Server) ServeCallTool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	ctx := r.Context()

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "resource.call_tool")
		defer span.End()
		r = r.WithContext(ctx)
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrToolName, name))

	tool, ok := s.tools.Get(name)
	if !ok {
		s.metrics.RecordToolCall(ctx, name, "not_found")
		s.writeError(w, http.StatusNotFound, ErrorCodeNotFound, fmt.Sprintf("Unknown tool %q", name))
		return
	}

	if s.RequiresAuth(name) {
		scopes := s.requiredScopes(tool)
		accessToken, err := s.Authenticate(r, scopes)
		if err != nil {
			result := "unauthenticated"
			if errors.Is(err, ErrForbidden) {
				result = "forbidden"
			}
			s.metrics.RecordToolCall(ctx, name, result)
			instrumentation.SetSpanError(span, result)
			s.writeAuthError(w, err, scopes)
			return
		}
		ctx = ContextWithAccessToken(ctx, accessToken)
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, accessToken.ClientID))
	}

	args, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxToolArgumentBytes))
	if err != nil {
		s.metrics.RecordToolCall(ctx, name, "invalid_arguments")
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "Failed to read arguments")
		return
	}

	start := time.Now()
	result, err := tool.Handler(ctx, json.RawMessage(args))
	if err != nil {
		var argErr *ArgumentError
		if errors.As(err, &argErr) {
			s.metrics.RecordToolCall(ctx, name, "invalid_arguments")
			s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, argErr.Error())
			return
		}
		s.logger.Error("Tool call failed", "tool", name, "error", err)
		instrumentation.RecordError(span, err)
		s.metrics.RecordToolCall(ctx, name, "error")
		s.writeError(w, http.StatusInternalServerError, ErrorCodeServerError, "Tool call failed")
		return
	}

	s.logger.Debug("Tool call succeeded", "tool", name, "duration", time.Since(start))
	s.metrics.RecordToolCall(ctx, name, "success")
	instrumentation.SetSpanSuccess(span)
	s.writeJSON(w, http.StatusOK, map[string]any{"tool": name, "result": result})
}

// writeAuthError writes 401 invalid_token or 403 insufficient_scope with a
// WWW-Authenticate challenge pointing at the resource metadata.
func (s *Server) writeAuthError(w http.ResponseWriter, err error, requiredScopes []string) {
	scope := strings.Join(requiredScopes, " ")
	if errors.Is(err, ErrForbidden) {
		w.Header().Set("WWW-Authenticate", s.formatWWWAuthenticate(scope, ErrorCodeInsufficientScope, "Insufficient scope"))
		s.writeError(w, http.StatusForbidden, ErrorCodeInsufficientScope, "Insufficient scope")
		return
	}
	w.Header().Set("WWW-Authenticate", s.formatWWWAuthenticate(scope, ErrorCodeInvalidToken, "Missing or invalid access token"))
	s.writeError(w, http.StatusUnauthorized, ErrorCodeInvalidToken, "Missing or invalid access token")
}

// formatWWWAuthenticate builds an RFC 6750 challenge with the RFC 9728
// resource_metadata parameter.
func (s *Server) formatWWWAuthenticate(scope, errCode, errorDesc string) string {
	params := []string{
		fmt.Sprintf(`resource_metadata="%s"`, util.JoinURL(s.config.ResourceURL, ProtectedResourceMetadataPath)),
	}
	if scope != "" {
		params = append(params, fmt.Sprintf(`scope="%s"`, quoteEscape(scope)))
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, errCode))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, quoteEscape(errorDesc)))
	}
	return "Bearer " + strings.Join(params, ", ")
}

// quoteEscape escapes a value for an HTTP quoted-string. Backslashes first.
func quoteEscape(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `"`, `\"`)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, s.config.ResourceURL)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, description string) {
	s.writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
