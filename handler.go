package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authflow/instrumentation"
	"github.com/giantswarm/mcp-authflow/internal/util"
	"github.com/giantswarm/mcp-authflow/security"
	"github.com/giantswarm/mcp-authflow/server"
	"github.com/giantswarm/mcp-authflow/storage"
)

const tokenTypeBearer = "Bearer"

// Endpoint paths served by Routes.
const (
	MetadataPath      = "/.well-known/oauth-authorization-server"
	RegisterPath      = "/register"
	AuthorizePath     = "/authorize"
	TokenPath         = "/token"
	IntrospectPath    = "/introspect"
	RevokePath        = "/revoke"
	LoginCallbackPath = "/login/callback"
)

// maxFormBytes bounds form and JSON request bodies.
const maxFormBytes = 64 << 10

// Handler is the authorization server HTTP surface on top of the engine.
type Handler struct {
	server      *server.Server
	config      *Config
	logger      *slog.Logger
	credentials server.CredentialVerifier
	ipResolver  security.ClientIPResolver
	tracer      trace.Tracer

	// demoHint shows the demo credentials on the login page.
	demoHint bool
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, config *Config) *Handler {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = srv.Logger
	}
	credentials := config.Credentials
	demoHint := false
	if credentials == nil {
		credentials = server.DemoCredentials()
		demoHint = true
	}

	h := &Handler{
		server:      srv,
		config:      config,
		logger:      logger,
		credentials: credentials,
		demoHint:    demoHint,
		ipResolver: security.ClientIPResolver{
			TrustProxy:        config.TrustProxy,
			TrustedProxyCount: config.TrustedProxyCount,
		},
	}

	// Initialize tracer if instrumentation is enabled
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// Routes returns the router for every authorization server endpoint,
// wrapped with request IDs and, when instrumentation is enabled, otelhttp.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(MetadataPath, h.ServeAuthorizationServerMetadata).Methods(http.MethodGet)
	r.HandleFunc(RegisterPath, h.ServeClientRegistration).Methods(http.MethodPost)
	r.HandleFunc(AuthorizePath, h.ServeAuthorization).Methods(http.MethodGet)
	r.HandleFunc(h.loginPath(), h.ServeLoginPage).Methods(http.MethodGet)
	r.HandleFunc(LoginCallbackPath, h.ServeLoginCallback).Methods(http.MethodPost)
	r.HandleFunc(TokenPath, h.ServeToken).Methods(http.MethodPost)
	r.HandleFunc(IntrospectPath, h.ServeTokenIntrospection).Methods(http.MethodPost)
	r.HandleFunc(RevokePath, h.ServeTokenRevocation).Methods(http.MethodPost)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	var handler http.Handler = r
	if inst := h.server.Instrumentation; inst != nil {
		handler = otelhttp.NewHandler(handler, "oauth.http",
			otelhttp.WithTracerProvider(inst.TracerProvider()),
			otelhttp.WithMeterProvider(inst.MeterProvider()),
		)
	}
	return security.RequestIDMiddleware(handler)
}

func (h *Handler) loginPath() string {
	if h.server.Config.LoginPath == "" {
		return "/login"
	}
	return h.server.Config.LoginPath
}

func (h *Handler) endpoint(p string) string {
	return util.JoinURL(h.server.Config.Issuer, p)
}

func (h *Handler) startSpan(r *http.Request, name string) (*http.Request, trace.Span) {
	if h.tracer == nil {
		return r, nil
	}
	ctx, span := h.tracer.Start(r.Context(), name)
	if h.server.Instrumentation != nil && h.server.Instrumentation.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, h.ipResolver.ClientIP(r))
	}
	return r.WithContext(ctx), span
}

// requestLogger annotates the handler logger with the request ID.
func (h *Handler) requestLogger(ctx context.Context) *slog.Logger {
	return security.LoggerFromContext(ctx, h.logger)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

// ServeAuthorizationServerMetadata serves RFC 8414 metadata.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	metadata := AuthorizationServerMetadata{
		Issuer:                h.server.Config.Issuer,
		AuthorizationEndpoint: h.endpoint(AuthorizePath),
		TokenEndpoint:         h.endpoint(TokenPath),
		RegistrationEndpoint:  h.endpoint(RegisterPath),
		RevocationEndpoint:    h.endpoint(RevokePath),
		IntrospectionEndpoint: h.endpoint(IntrospectPath),
		ScopesSupported:       h.server.Config.SupportedScopes,
		ResponseTypesSupported: []string{
			server.ResponseTypeCode,
		},
		GrantTypesSupported: []string{
			server.GrantTypeAuthorizationCode,
		},
		TokenEndpointAuthMethodsSupported: []string{
			server.TokenEndpointAuthMethodNone,
			server.TokenEndpointAuthMethodPost,
			server.TokenEndpointAuthMethodBasic,
		},
		CodeChallengeMethodsSupported: []string{server.PKCEMethodS256},
	}

	h.writeJSON(w, http.StatusOK, metadata)
	h.recordHTTPMetrics(r.Context(), "metadata", http.MethodGet, http.StatusOK, startTime)
}

// ServeClientRegistration handles dynamic client registration (RFC 7591)
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oauth.http.client_registration")
	defer endSpan(span)

	clientIP := h.ipResolver.ClientIP(r)

	var req ClientRegistrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormBytes)).Decode(&req); err != nil {
		h.recordHTTPMetrics(r.Context(), "register", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "invalid json")
		h.writeError(w, NewOAuthError(ErrorCodeInvalidClientMetadata, "Invalid JSON", http.StatusBadRequest))
		return
	}

	client, clientSecret, err := h.server.RegisterClient(r.Context(), server.ClientMetadata{
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		Scope:                   req.Scope,
	}, clientIP)
	if err != nil {
		oauthErr := toOAuthError(err)
		if oauthErr.Status >= http.StatusInternalServerError {
			h.requestLogger(r.Context()).Error("Failed to register client", "ip", clientIP, "error", err)
		} else {
			// Registration errors are the client's own input; echo the detail.
			oauthErr = NewOAuthError(oauthErr.Code, err.Error(), oauthErr.Status)
		}
		h.recordHTTPMetrics(r.Context(), "register", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, oauthErr)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientType, client.ClientType),
	)
	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(r.Context(), "register", http.MethodPost, http.StatusCreated, startTime)
	h.writeRegistrationResponse(w, client, clientSecret)
}

func (h *Handler) writeRegistrationResponse(w http.ResponseWriter, client *storage.Client, clientSecret string) {
	response := ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.ClientName,
		Scope:                   util.JoinScopes(client.Scopes),
	}
	if clientSecret != "" {
		never := int64(0)
		response.ClientSecret = clientSecret
		response.ClientSecretExpiresAt = &never
	}
	h.writeJSON(w, http.StatusCreated, response)
}

// ServeAuthorization handles GET /authorize. Until the client and redirect
// URI are known to be valid, errors are returned as JSON. After that they are
// sent to the redirect URI with error and state.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oauth.http.authorization")
	defer endSpan(span)

	ctx := r.Context()
	clientIP := h.ipResolver.ClientIP(r)
	q := r.URL.Query()
	clientID := q.Get("client_id")
	state := q.Get("state")

	fail := func(oauthErr *OAuthError, reason string) {
		h.recordHTTPMetrics(ctx, "authorization", http.MethodGet, oauthErr.Status, startTime)
		instrumentation.SetSpanError(span, reason)
		h.writeError(w, oauthErr)
	}

	if clientID == "" {
		fail(ErrInvalidRequest("client_id is required"), "client_id missing")
		return
	}

	client, err := h.server.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			fail(ErrInvalidRequest("Client ID not found"), "unknown client")
			return
		}
		h.requestLogger(r.Context()).Error("Failed to load client", "client_id", clientID, "error", err)
		fail(ErrServerError("Failed to load client"), "client lookup failed")
		return
	}

	redirectURI, _, err := h.server.ResolveRedirectURI(client, q.Get("redirect_uri"))
	if err != nil {
		h.requestLogger(r.Context()).Debug("Authorization redirect URI rejected", "client_id", clientID, "error", err)
		fail(ErrInvalidRequest("Redirect URI is not valid for this client"), "invalid redirect uri")
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
		attribute.String(instrumentation.AttrPKCEMethod, q.Get("code_challenge_method")),
	)

	// From here on the redirect URI is trusted.
	redirectError := func(code, description string) {
		h.recordHTTPMetrics(ctx, "authorization", http.MethodGet, http.StatusFound, startTime)
		instrumentation.SetSpanError(span, code)
		target, err := appendParams(redirectURI, map[string]string{
			"error":             code,
			"error_description": description,
			"state":             state,
		})
		if err != nil {
			h.writeError(w, ErrInvalidRequest("Redirect URI is not valid for this client"))
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}

	if rt := q.Get("response_type"); rt != server.ResponseTypeCode {
		redirectError(ErrorCodeUnsupportedResponseType, "Only response_type=code is supported")
		return
	}

	result, err := h.server.Authorize(ctx, client, server.AuthorizeRequest{
		RedirectURI:         q.Get("redirect_uri"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		State:               state,
		Resource:            q.Get("resource"),
		Scope:               q.Get("scope"),
		ClientIP:            clientIP,
	})
	if err != nil {
		oauthErr := toOAuthError(err)
		if oauthErr.Status >= http.StatusInternalServerError {
			h.requestLogger(r.Context()).Error("Failed to start authorization flow", "client_id", clientID, "error", err)
			fail(oauthErr, "authorization flow failed")
			return
		}
		redirectError(oauthErr.Code, err.Error())
		return
	}

	h.recordHTTPMetrics(ctx, "authorization", http.MethodGet, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, result.LoginURL, http.StatusFound)
}

// ServeToken handles POST /token.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	grantType := r.PostFormValue("grant_type")

	switch grantType {
	case server.GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r)
	case server.GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(w, r)
	default:
		h.writeError(w, NewOAuthError(ErrorCodeUnsupportedGrantType,
			fmt.Sprintf("Grant type %q not supported", grantType), http.StatusBadRequest))
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oauth.http.token_exchange")
	defer endSpan(span)

	ctx := r.Context()
	clientIP := h.ipResolver.ClientIP(r)

	if r.PostFormValue("code") == "" {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "code missing")
		h.writeError(w, ErrInvalidRequest("Required parameter 'code' missing"))
		return
	}

	client, err := h.authenticateClient(r, clientIP)
	if err != nil {
		oauthErr := toOAuthError(err)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(w, oauthErr)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientType, client.ClientType),
	)

	token, scope, err := h.server.ExchangeAuthorizationCode(ctx, server.ExchangeRequest{
		Client:       client,
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		Resource:     r.PostFormValue("resource"),
		ClientIP:     clientIP,
	})
	if err != nil {
		// SECURITY: don't leak which check failed. The engine audits it.
		oauthErr := toOAuthError(err)
		if oauthErr.Status >= http.StatusInternalServerError {
			h.requestLogger(r.Context()).Error("Failed to exchange authorization code", "client_id", client.ClientID, "ip", clientIP, "error", err)
		}
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "code exchange failed")
		h.writeError(w, oauthErr)
		return
	}

	h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token, scope)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	clientIP := h.ipResolver.ClientIP(r)

	client, err := h.authenticateClient(r, clientIP)
	if err != nil {
		oauthErr := toOAuthError(err)
		h.recordHTTPMetrics(r.Context(), "token", http.MethodPost, oauthErr.Status, startTime)
		h.writeError(w, oauthErr)
		return
	}

	_, err = h.server.ExchangeRefreshToken(r.Context(), client, r.PostFormValue("refresh_token"))
	oauthErr := toOAuthError(err)
	if oauthErr == nil {
		oauthErr = NewOAuthError(ErrorCodeUnsupportedGrantType, "Grant type not supported", http.StatusBadRequest)
	}
	h.recordHTTPMetrics(r.Context(), "token", http.MethodPost, oauthErr.Status, startTime)
	h.writeError(w, oauthErr)
}

// authenticateClient resolves the client from HTTP Basic credentials
// (client_secret_basic) or form parameters (client_secret_post, none).
func (h *Handler) authenticateClient(r *http.Request, clientIP string) (*storage.Client, error) {
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostFormValue("client_id")
		clientSecret = r.PostFormValue("client_secret")
	}
	if clientID == "" {
		return nil, ErrInvalidClient("client_id is required")
	}
	client, err := h.server.AuthenticateClient(r.Context(), clientID, clientSecret, clientIP)
	if err != nil {
		h.requestLogger(r.Context()).Warn("Client authentication failed", "client_id", clientID, "ip", clientIP)
		return nil, err
	}
	return client, nil
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *oauth2.Token, scope string) {
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = tokenTypeBearer
	}

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   tokenType,
		ExpiresIn:   token.ExpiresIn,
		Scope:       scope,
	})
}

// ServeTokenIntrospection handles RFC 7662 token introspection. Unknown,
// revoked and expired tokens all yield {"active":false}.
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oauth.http.token_introspection")
	defer endSpan(span)

	ctx := r.Context()
	clientIP := h.ipResolver.ClientIP(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "introspect", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	if !h.authenticateIntrospectionClient(r, clientIP) {
		h.recordHTTPMetrics(ctx, "introspect", http.MethodPost, http.StatusUnauthorized, startTime)
		instrumentation.SetSpanError(span, "introspection client authentication failed")
		h.writeError(w, ErrInvalidClient("Client authentication required for token introspection"))
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		h.recordHTTPMetrics(ctx, "introspect", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrInvalidRequest("token parameter is required"))
		return
	}

	response := h.buildIntrospectionResponse(ctx, token, clientIP)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordIntrospection(ctx, response.Active)
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "introspect", http.MethodPost, http.StatusOK, startTime)
	h.writeJSON(w, http.StatusOK, response)
}

// authenticateIntrospectionClient checks the configured resource server
// credentials. Without configured credentials introspection is open.
func (h *Handler) authenticateIntrospectionClient(r *http.Request, clientIP string) bool {
	if !h.config.introspectionAuthRequired() {
		return true
	}
	id, secret, ok := r.BasicAuth()
	idOK := subtle.ConstantTimeCompare([]byte(id), []byte(h.config.IntrospectionClientID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(secret), []byte(h.config.IntrospectionClientSecret)) == 1
	if ok && idOK && secretOK {
		return true
	}
	h.requestLogger(r.Context()).Warn("Token introspection rejected: invalid client authentication", "ip", clientIP)
	h.server.Auditor.LogAuthFailure(security.EventIntrospectionUnauthorized, id, clientIP, "introspection_auth_failed")
	return false
}

func (h *Handler) buildIntrospectionResponse(ctx context.Context, token, clientIP string) IntrospectionResponse {
	accessToken, err := h.server.LoadToken(ctx, token)
	if err != nil {
		if !errors.Is(err, storage.ErrAccessTokenNotFound) {
			h.requestLogger(ctx).Error("Token introspection lookup failed", "ip", clientIP, "error", err)
		}
		return IntrospectionResponse{Active: false}
	}

	return IntrospectionResponse{
		Active:    true,
		ClientID:  accessToken.ClientID,
		Scope:     util.JoinScopes(accessToken.Scopes),
		ExpiresAt: accessToken.ExpiresAt.Unix(),
		IssuedAt:  accessToken.IssuedAt.Unix(),
		TokenType: tokenTypeBearer,
		Audience:  accessToken.Resource,
	}
}

// ServeTokenRevocation handles RFC 7009 token revocation. Unknown tokens are
// not an error.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oauth.http.token_revocation")
	defer endSpan(span)

	ctx := r.Context()
	clientIP := h.ipResolver.ClientIP(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "revoke", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		h.recordHTTPMetrics(ctx, "revoke", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "token missing")
		h.writeError(w, ErrInvalidRequest("token is required"))
		return
	}

	clientID := r.PostFormValue("client_id")
	revoke := h.server.RevokeToken
	if authClientID, authClientSecret, ok := r.BasicAuth(); ok {
		if _, err := h.server.AuthenticateClient(ctx, authClientID, authClientSecret, clientIP); err != nil {
			h.recordHTTPMetrics(ctx, "revoke", http.MethodPost, http.StatusUnauthorized, startTime)
			instrumentation.RecordError(span, err)
			h.writeError(w, ErrInvalidClient("Client authentication failed"))
			return
		}
		clientID = authClientID
		// An authenticated client may only revoke its own tokens.
		revoke = h.server.RevokeClientToken
	}

	if err := revoke(ctx, token, clientID, clientIP); err != nil {
		// RFC 7009: the response does not depend on the outcome.
		h.requestLogger(r.Context()).Error("Failed to revoke token", "client_id", clientID, "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	h.recordHTTPMetrics(ctx, "revoke", http.MethodPost, http.StatusOK, startTime)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, oauthErr *OAuthError) {
	if oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, h.server.Config.Issuer))
	}
	h.writeJSON(w, oauthErr.Status, ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	duration := float64(time.Since(startTime).Microseconds()) / 1000
	instrumentation.AddHTTPAttributes(trace.SpanFromContext(ctx), method, endpoint, status)
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}

// appendParams adds non-empty params to the query of raw.
func appendParams(raw string, params map[string]string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
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
