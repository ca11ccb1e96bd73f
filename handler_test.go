package oauth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/mcp-authflow/internal/testutil"
	"github.com/giantswarm/mcp-authflow/security"
	"github.com/giantswarm/mcp-authflow/server"
	"github.com/giantswarm/mcp-authflow/storage/memory"
)

const (
	testIssuer      = "http://localhost:9000"
	testRedirectURI = "http://127.0.0.1:8765/callback"
)

type testEnv struct {
	srv     *server.Server
	handler *Handler
	routes  http.Handler
	store   *memory.Store
}

func setupTestHandler(t *testing.T, config *Config) *testEnv {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { store.Stop() })

	srv, err := server.New(store, store, store, &server.Config{
		Issuer:          testIssuer,
		SupportedScopes: []string{"user"},
	}, nil)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	h := NewHandler(srv, config)
	return &testEnv{srv: srv, handler: h, routes: h.Routes(), store: store}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.routes.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) postForm(path string, form url.Values, basicUser, basicPass string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicUser != "" {
		req.SetBasicAuth(basicUser, basicPass)
	}
	return e.do(req)
}

func (e *testEnv) register(t *testing.T, body map[string]any) ClientRegistrationResponse {
	t.Helper()
	raw, _ := json.Marshal(body)
	rr := e.do(httptest.NewRequest(http.MethodPost, RegisterPath, bytes.NewReader(raw)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp ClientRegistrationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode registration response: %v", err)
	}
	return resp
}

func (e *testEnv) registerPublic(t *testing.T) string {
	t.Helper()
	return e.register(t, map[string]any{
		"client_name":                "Test Client",
		"redirect_uris":              []string{testRedirectURI},
		"token_endpoint_auth_method": "none",
	}).ClientID
}

// authorize runs /authorize and returns the state from the login redirect.
func (e *testEnv) authorize(t *testing.T, clientID, challenge string) string {
	t.Helper()
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {testRedirectURI},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"state":                 {"client-state-123"},
		"scope":                 {"user"},
	}
	rr := e.do(httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+q.Encode(), nil))
	if rr.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, body = %s", rr.Code, rr.Body.String())
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	if loc.Path != "/login" {
		t.Fatalf("authorize redirected to %q, want /login", loc.Path)
	}
	if loc.Query().Get("client_id") != clientID {
		t.Errorf("login URL client_id = %q, want %q", loc.Query().Get("client_id"), clientID)
	}
	return loc.Query().Get("state")
}

// login submits the demo credentials and returns the issued code.
func (e *testEnv) login(t *testing.T, state string) string {
	t.Helper()
	rr := e.postForm(LoginCallbackPath, url.Values{
		"username": {server.DemoUsername},
		"password": {server.DemoPassword},
		"state":    {state},
	}, "", "")
	if rr.Code != http.StatusFound {
		t.Fatalf("login callback status = %d, body = %s", rr.Code, rr.Body.String())
	}
	loc, _ := url.Parse(rr.Header().Get("Location"))
	if got := loc.Scheme + "://" + loc.Host + loc.Path; got != testRedirectURI {
		t.Fatalf("login redirected to %q, want %q", got, testRedirectURI)
	}
	if loc.Query().Get("state") != state {
		t.Errorf("redirect state = %q, want %q", loc.Query().Get("state"), state)
	}
	return loc.Query().Get("code")
}

func (e *testEnv) exchange(clientID, code, verifier string) *httptest.ResponseRecorder {
	return e.postForm(TokenPath, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	}, "", "")
}

// obtainToken runs the whole flow for a new public client.
func (e *testEnv) obtainToken(t *testing.T) (clientID, token string) {
	t.Helper()
	clientID = e.registerPublic(t)
	verifier, challenge := testutil.GeneratePKCEPair()
	code := e.login(t, e.authorize(t, clientID, challenge))

	rr := e.exchange(clientID, code, verifier)
	if rr.Code != http.StatusOK {
		t.Fatalf("token status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp TokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	return clientID, resp.AccessToken
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response %q: %v", rr.Body.String(), err)
	}
	return resp
}

func TestHandler_ServeAuthorizationServerMetadata(t *testing.T) {
	env := setupTestHandler(t, nil)

	rr := env.do(httptest.NewRequest(http.MethodGet, MetadataPath, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var meta AuthorizationServerMetadata
	if err := json.Unmarshal(rr.Body.Bytes(), &meta); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}
	if meta.Issuer != testIssuer {
		t.Errorf("issuer = %q, want %q", meta.Issuer, testIssuer)
	}
	if meta.TokenEndpoint != testIssuer+"/token" {
		t.Errorf("token_endpoint = %q", meta.TokenEndpoint)
	}
	if meta.IntrospectionEndpoint != testIssuer+"/introspect" {
		t.Errorf("introspection_endpoint = %q", meta.IntrospectionEndpoint)
	}
	if len(meta.CodeChallengeMethodsSupported) != 1 || meta.CodeChallengeMethodsSupported[0] != "S256" {
		t.Errorf("code_challenge_methods_supported = %v, want [S256]", meta.CodeChallengeMethodsSupported)
	}
	if rr.Header().Get(security.RequestIDHeader) == "" {
		t.Error("expected a request ID on the response")
	}
}

func TestHandler_ServeClientRegistration(t *testing.T) {
	env := setupTestHandler(t, nil)

	t.Run("public client", func(t *testing.T) {
		resp := env.register(t, map[string]any{
			"redirect_uris":              []string{testRedirectURI},
			"token_endpoint_auth_method": "none",
		})
		if resp.ClientID == "" {
			t.Fatal("expected client_id")
		}
		if resp.ClientSecret != "" {
			t.Error("public client must not receive a secret")
		}
	})

	t.Run("confidential client", func(t *testing.T) {
		resp := env.register(t, map[string]any{
			"redirect_uris": []string{testRedirectURI},
		})
		if resp.ClientSecret == "" {
			t.Error("confidential client should receive a secret")
		}
		if resp.TokenEndpointAuthMethod != server.TokenEndpointAuthMethodBasic {
			t.Errorf("token_endpoint_auth_method = %q, want client_secret_basic", resp.TokenEndpointAuthMethod)
		}
	})

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"invalid json", `{`, ErrorCodeInvalidClientMetadata},
		{"no redirect uris", `{"client_name":"x"}`, ErrorCodeInvalidRedirectURI},
		{"dangerous scheme", `{"redirect_uris":["javascript:alert(1)"]}`, ErrorCodeInvalidRedirectURI},
		{"unsupported auth method", `{"redirect_uris":["` + testRedirectURI + `"],"token_endpoint_auth_method":"private_key_jwt"}`, ErrorCodeInvalidClientMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(httptest.NewRequest(http.MethodPost, RegisterPath, strings.NewReader(tt.body)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			if got := decodeError(t, rr).Error; got != tt.wantCode {
				t.Errorf("error = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestHandler_ServeAuthorization_ErrorsBeforeRedirectTrust(t *testing.T) {
	env := setupTestHandler(t, nil)
	clientID := env.registerPublic(t)
	_, challenge := testutil.GeneratePKCEPair()

	tests := []struct {
		name  string
		query url.Values
	}{
		{"missing client_id", url.Values{"response_type": {"code"}}},
		{"unknown client", url.Values{"response_type": {"code"}, "client_id": {"nope"}}},
		{"unregistered redirect", url.Values{
			"response_type":  {"code"},
			"client_id":      {clientID},
			"redirect_uri":   {"http://127.0.0.1:9999/evil"},
			"code_challenge": {challenge},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+tt.query.Encode(), nil))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			if loc := rr.Header().Get("Location"); loc != "" {
				t.Errorf("must not redirect to an untrusted URI, got Location %q", loc)
			}
			if got := decodeError(t, rr).Error; got != ErrorCodeInvalidRequest {
				t.Errorf("error = %q, want invalid_request", got)
			}
		})
	}
}

func TestHandler_ServeAuthorization_ErrorsAfterRedirectTrust(t *testing.T) {
	env := setupTestHandler(t, nil)
	clientID := env.registerPublic(t)
	_, challenge := testutil.GeneratePKCEPair()

	tests := []struct {
		name      string
		query     url.Values
		wantError string
	}{
		{"wrong response type", url.Values{
			"response_type":         {"token"},
			"client_id":             {clientID},
			"code_challenge":        {challenge},
			"code_challenge_method": {"S256"},
			"state":                 {"abc"},
		}, ErrorCodeUnsupportedResponseType},
		{"missing challenge", url.Values{
			"response_type": {"code"},
			"client_id":     {clientID},
			"state":         {"abc"},
		}, ErrorCodeInvalidRequest},
		{"plain method", url.Values{
			"response_type":         {"code"},
			"client_id":             {clientID},
			"code_challenge":        {challenge},
			"code_challenge_method": {"plain"},
			"state":                 {"abc"},
		}, ErrorCodeInvalidRequest},
		{"unsupported scope", url.Values{
			"response_type":         {"code"},
			"client_id":             {clientID},
			"code_challenge":        {challenge},
			"code_challenge_method": {"S256"},
			"scope":                 {"admin"},
			"state":                 {"abc"},
		}, ErrorCodeInvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+tt.query.Encode(), nil))
			if rr.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302; body = %s", rr.Code, rr.Body.String())
			}
			loc, _ := url.Parse(rr.Header().Get("Location"))
			if !strings.HasPrefix(loc.String(), testRedirectURI) {
				t.Fatalf("redirected to %q, want the registered redirect URI", loc)
			}
			if got := loc.Query().Get("error"); got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}
			if got := loc.Query().Get("state"); got != "abc" {
				t.Errorf("state = %q, want abc", got)
			}
		})
	}
}

func TestHandler_ServeAuthorization_StateInUse(t *testing.T) {
	env := setupTestHandler(t, nil)
	first := env.registerPublic(t)
	const otherRedirectURI = "http://127.0.0.1:9999/cb"
	second := env.register(t, map[string]any{
		"redirect_uris":              []string{otherRedirectURI},
		"token_endpoint_auth_method": "none",
	}).ClientID

	_, challenge := testutil.GeneratePKCEPair()
	state := env.authorize(t, first, challenge)

	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {second},
		"redirect_uri":          {otherRedirectURI},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"state":                 {state},
	}
	rr := env.do(httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+q.Encode(), nil))
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302; body = %s", rr.Code, rr.Body.String())
	}
	loc, _ := url.Parse(rr.Header().Get("Location"))
	if !strings.HasPrefix(loc.String(), otherRedirectURI) || loc.Query().Get("error") != ErrorCodeInvalidRequest {
		t.Fatalf("second authorize redirected to %q, want invalid_request at its own URI", loc)
	}

	// login checks the code lands at the first client's redirect URI.
	if code := env.login(t, state); code == "" {
		t.Fatal("no code issued for the first client")
	}
}

func TestHandler_ServeLoginPage(t *testing.T) {
	env := setupTestHandler(t, nil)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/login", nil))
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "Missing state parameter") {
		t.Errorf("missing state: status = %d, body = %q", rr.Code, rr.Body.String())
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/login?state=unknown", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown state: status = %d, want 400", rr.Code)
	}

	clientID := env.registerPublic(t)
	_, challenge := testutil.GeneratePKCEPair()
	state := env.authorize(t, clientID, challenge)

	rr = env.do(httptest.NewRequest(http.MethodGet, "/login?state="+url.QueryEscape(state), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `name="state" value="`+state+`"`) {
		t.Error("login form should carry the state")
	}
	if !strings.Contains(body, server.DemoUsername) {
		t.Error("login page should show the demo credentials")
	}
	if !strings.Contains(rr.Header().Get("Content-Security-Policy"), "form-action 'self'") {
		t.Errorf("unexpected CSP %q", rr.Header().Get("Content-Security-Policy"))
	}
}

func TestHandler_ServeLoginCallback(t *testing.T) {
	env := setupTestHandler(t, nil)
	clientID := env.registerPublic(t)
	_, challenge := testutil.GeneratePKCEPair()
	state := env.authorize(t, clientID, challenge)

	rr := env.postForm(LoginCallbackPath, url.Values{"state": {state}}, "", "")
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "Invalid form parameters") {
		t.Errorf("missing fields: status = %d, body = %q", rr.Code, rr.Body.String())
	}

	// Unknown state wins over bad credentials.
	rr = env.postForm(LoginCallbackPath, url.Values{
		"username": {"x"}, "password": {"y"}, "state": {"unknown"},
	}, "", "")
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "Unknown or expired state") {
		t.Errorf("unknown state: status = %d, body = %q", rr.Code, rr.Body.String())
	}

	rr = env.postForm(LoginCallbackPath, url.Values{
		"username": {server.DemoUsername}, "password": {"wrong"}, "state": {state},
	}, "", "")
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), "Invalid credentials") {
		t.Errorf("bad credentials: status = %d, body = %q", rr.Code, rr.Body.String())
	}

	// The failed attempt must leave the state usable.
	code := env.login(t, state)
	if !strings.HasPrefix(code, "mcp_") {
		t.Errorf("code %q lacks the mcp_ prefix", code)
	}

	rr = env.postForm(LoginCallbackPath, url.Values{
		"username": {server.DemoUsername}, "password": {server.DemoPassword}, "state": {state},
	}, "", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("second login with consumed state: status = %d, want 400", rr.Code)
	}
}

func TestHandler_ServeToken_AuthorizationCode(t *testing.T) {
	env := setupTestHandler(t, nil)
	clientID := env.registerPublic(t)
	verifier, challenge := testutil.GeneratePKCEPair()
	code := env.login(t, env.authorize(t, clientID, challenge))

	rr := env.exchange(clientID, code, verifier)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Error("token response must not be cached")
	}

	var raw map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	if tok, _ := raw["access_token"].(string); !strings.HasPrefix(tok, "mcp_at_") {
		t.Errorf("access_token = %v, want mcp_at_ prefix", raw["access_token"])
	}
	if raw["token_type"] != "Bearer" {
		t.Errorf("token_type = %v, want Bearer", raw["token_type"])
	}
	if raw["expires_in"] != float64(3600) {
		t.Errorf("expires_in = %v, want 3600", raw["expires_in"])
	}
	if raw["scope"] != "user" {
		t.Errorf("scope = %v, want user", raw["scope"])
	}
	if v, ok := raw["refresh_token"]; !ok || v != nil {
		t.Errorf("refresh_token = %v (present %v), want null", v, ok)
	}

	rr = env.exchange(clientID, code, verifier)
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Error != ErrorCodeInvalidGrant {
		t.Errorf("second exchange: status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestHandler_ServeToken_WrongVerifierKeepsCode(t *testing.T) {
	env := setupTestHandler(t, nil)
	clientID := env.registerPublic(t)
	verifier, challenge := testutil.GeneratePKCEPair()
	code := env.login(t, env.authorize(t, clientID, challenge))

	wrong, _ := testutil.GeneratePKCEPair()
	rr := env.exchange(clientID, code, wrong)
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Error != ErrorCodeInvalidGrant {
		t.Fatalf("wrong verifier: status = %d, body = %s", rr.Code, rr.Body.String())
	}

	if rr := env.exchange(clientID, code, verifier); rr.Code != http.StatusOK {
		t.Errorf("rightful exchange after failed attempt: status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestHandler_ServeToken_ConfidentialClient(t *testing.T) {
	env := setupTestHandler(t, nil)

	for _, method := range []string{server.TokenEndpointAuthMethodBasic, server.TokenEndpointAuthMethodPost} {
		t.Run(method, func(t *testing.T) {
			reg := env.register(t, map[string]any{
				"redirect_uris":              []string{testRedirectURI},
				"token_endpoint_auth_method": method,
			})
			verifier, challenge := testutil.GeneratePKCEPair()
			code := env.login(t, env.authorize(t, reg.ClientID, challenge))

			form := url.Values{
				"grant_type":    {"authorization_code"},
				"code":          {code},
				"redirect_uri":  {testRedirectURI},
				"code_verifier": {verifier},
			}

			bad := url.Values{}
			for k, v := range form {
				bad[k] = v
			}
			bad.Set("client_id", reg.ClientID)
			bad.Set("client_secret", "wrong")
			rr := env.postForm(TokenPath, bad, "", "")
			if rr.Code != http.StatusUnauthorized || decodeError(t, rr).Error != ErrorCodeInvalidClient {
				t.Fatalf("wrong secret: status = %d, body = %s", rr.Code, rr.Body.String())
			}

			if method == server.TokenEndpointAuthMethodBasic {
				rr = env.postForm(TokenPath, form, reg.ClientID, reg.ClientSecret)
			} else {
				form.Set("client_id", reg.ClientID)
				form.Set("client_secret", reg.ClientSecret)
				rr = env.postForm(TokenPath, form, "", "")
			}
			if rr.Code != http.StatusOK {
				t.Errorf("status = %d, body = %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandler_ServeToken_UnsupportedGrants(t *testing.T) {
	env := setupTestHandler(t, nil)
	clientID := env.registerPublic(t)

	for _, grant := range []string{"refresh_token", "client_credentials", ""} {
		t.Run("grant "+grant, func(t *testing.T) {
			rr := env.postForm(TokenPath, url.Values{
				"grant_type":    {grant},
				"client_id":     {clientID},
				"refresh_token": {"anything"},
			}, "", "")
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			if got := decodeError(t, rr).Error; got != ErrorCodeUnsupportedGrantType {
				t.Errorf("error = %q, want unsupported_grant_type", got)
			}
		})
	}
}

func TestHandler_ServeToken_MissingCode(t *testing.T) {
	env := setupTestHandler(t, nil)
	rr := env.postForm(TokenPath, url.Values{"grant_type": {"authorization_code"}, "client_id": {"x"}}, "", "")
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Error != ErrorCodeInvalidRequest {
		t.Errorf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestHandler_ServeTokenIntrospection(t *testing.T) {
	env := setupTestHandler(t, nil)
	clientID, token := env.obtainToken(t)

	rr := env.postForm(IntrospectPath, url.Values{"token": {token}}, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp IntrospectionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !resp.Active || resp.ClientID != clientID || resp.Scope != "user" || resp.TokenType != "Bearer" {
		t.Errorf("unexpected introspection response %+v", resp)
	}
	if resp.ExpiresAt-resp.IssuedAt != 3600 {
		t.Errorf("exp - iat = %d, want 3600", resp.ExpiresAt-resp.IssuedAt)
	}

	rr = env.postForm(IntrospectPath, url.Values{"token": {"mcp_at_unknown"}}, "", "")
	if got := strings.TrimSpace(rr.Body.String()); got != `{"active":false}` {
		t.Errorf("unknown token body = %s, want {\"active\":false}", got)
	}

	rr = env.postForm(IntrospectPath, url.Values{}, "", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing token: status = %d, want 400", rr.Code)
	}
}

func TestHandler_ServeTokenIntrospection_Expired(t *testing.T) {
	env := setupTestHandler(t, nil)
	_, token := env.obtainToken(t)

	clock := testutil.NewMockTime(time.Now().Add(time.Hour))
	env.srv.SetClock(clock.Now)

	rr := env.postForm(IntrospectPath, url.Values{"token": {token}}, "", "")
	if got := strings.TrimSpace(rr.Body.String()); got != `{"active":false}` {
		t.Errorf("expired token body = %s", got)
	}
}

func TestHandler_ServeTokenIntrospection_RequiresCredentials(t *testing.T) {
	env := setupTestHandler(t, &Config{
		IntrospectionClientID:     "resource-server",
		IntrospectionClientSecret: "s3cret",
	})
	_, token := env.obtainToken(t)

	rr := env.postForm(IntrospectPath, url.Values{"token": {token}}, "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no credentials: status = %d, want 401", rr.Code)
	}
	rr = env.postForm(IntrospectPath, url.Values{"token": {token}}, "resource-server", "wrong")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong credentials: status = %d, want 401", rr.Code)
	}
	rr = env.postForm(IntrospectPath, url.Values{"token": {token}}, "resource-server", "s3cret")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"active":true`) {
		t.Errorf("valid credentials: status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestHandler_ServeTokenRevocation(t *testing.T) {
	env := setupTestHandler(t, nil)
	clientID, token := env.obtainToken(t)

	rr := env.postForm(RevokePath, url.Values{"token": {token}, "client_id": {clientID}}, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	rr = env.postForm(IntrospectPath, url.Values{"token": {token}}, "", "")
	if strings.Contains(rr.Body.String(), `"active":true`) {
		t.Error("revoked token is still active")
	}

	// Idempotent.
	if rr := env.postForm(RevokePath, url.Values{"token": {token}}, "", ""); rr.Code != http.StatusOK {
		t.Errorf("second revoke: status = %d, want 200", rr.Code)
	}
	if rr := env.postForm(RevokePath, url.Values{}, "", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("missing token: status = %d, want 400", rr.Code)
	}
}

func TestHandler_ServeTokenRevocation_OtherClientsToken(t *testing.T) {
	env := setupTestHandler(t, nil)
	confidential := func() ClientRegistrationResponse {
		return env.register(t, map[string]any{
			"redirect_uris":              []string{testRedirectURI},
			"token_endpoint_auth_method": server.TokenEndpointAuthMethodBasic,
		})
	}
	a, b := confidential(), confidential()

	verifier, challenge := testutil.GeneratePKCEPair()
	code := env.login(t, env.authorize(t, b.ClientID, challenge))
	rr := env.postForm(TokenPath, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	}, b.ClientID, b.ClientSecret)
	if rr.Code != http.StatusOK {
		t.Fatalf("token status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var tok TokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &tok); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}

	rr = env.postForm(RevokePath, url.Values{"token": {tok.AccessToken}}, a.ClientID, a.ClientSecret)
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke as other client: status = %d, want 200", rr.Code)
	}
	rr = env.postForm(IntrospectPath, url.Values{"token": {tok.AccessToken}}, "", "")
	if !strings.Contains(rr.Body.String(), `"active":true`) {
		t.Fatalf("token revoked by another client: %s", rr.Body.String())
	}

	rr = env.postForm(RevokePath, url.Values{"token": {tok.AccessToken}}, b.ClientID, b.ClientSecret)
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke as owner: status = %d, want 200", rr.Code)
	}
	rr = env.postForm(IntrospectPath, url.Values{"token": {tok.AccessToken}}, "", "")
	if strings.Contains(rr.Body.String(), `"active":true`) {
		t.Error("owner could not revoke its token")
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	env := setupTestHandler(t, nil)
	rr := env.do(httptest.NewRequest(http.MethodGet, TokenPath, nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}

func TestHandler_CustomCredentials(t *testing.T) {
	creds, err := server.NewStaticCredentials(map[string]string{"alice": "wonderland"})
	if err != nil {
		t.Fatalf("NewStaticCredentials() error = %v", err)
	}
	env := setupTestHandler(t, &Config{Credentials: creds})
	clientID := env.registerPublic(t)
	_, challenge := testutil.GeneratePKCEPair()
	state := env.authorize(t, clientID, challenge)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/login?state="+url.QueryEscape(state), nil))
	if strings.Contains(rr.Body.String(), server.DemoPassword) {
		t.Error("demo credentials must not be shown with a custom verifier")
	}

	rr = env.postForm(LoginCallbackPath, url.Values{
		"username": {"alice"}, "password": {"wonderland"}, "state": {state},
	}, "", "")
	if rr.Code != http.StatusFound {
		t.Errorf("status = %d, want 302", rr.Code)
	}
}
