package resource_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oauth "github.com/giantswarm/mcp-authflow"
	"github.com/giantswarm/mcp-authflow/internal/testutil"
	"github.com/giantswarm/mcp-authflow/resource"
	"github.com/giantswarm/mcp-authflow/server"
	"github.com/giantswarm/mcp-authflow/storage/memory"
)

const redirectURI = "http://127.0.0.1:8765/callback"

// flow drives an authorization server over real HTTP without following
// redirects.
type flow struct {
	t      *testing.T
	asURL  string
	client *http.Client
}

func (f *flow) postForm(path string, form url.Values) *http.Response {
	f.t.Helper()
	resp, err := f.client.PostForm(f.asURL+path, form)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *flow) location(resp *http.Response) *url.URL {
	f.t.Helper()
	require.Equal(f.t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(f.t, err)
	return loc
}

// obtainToken registers a public client and runs authorize, login and token.
func (f *flow) obtainToken(scope string) string {
	t := f.t
	t.Helper()

	body, _ := json.Marshal(map[string]any{
		"client_name":                "e2e",
		"redirect_uris":              []string{redirectURI},
		"token_endpoint_auth_method": "none",
	})
	resp, err := f.client.Post(f.asURL+oauth.RegisterPath, "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var reg oauth.ClientRegistrationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))

	verifier, challenge := testutil.GeneratePKCEPair()
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {reg.ClientID},
		"redirect_uri":          {redirectURI},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"state":                 {"e2e-state"},
		"scope":                 {scope},
	}
	authResp, err := f.client.Get(f.asURL + oauth.AuthorizePath + "?" + q.Encode())
	require.NoError(t, err)
	_ = authResp.Body.Close()
	state := f.location(authResp).Query().Get("state")
	require.Equal(t, "e2e-state", state)

	callback := f.location(f.postForm(oauth.LoginCallbackPath, url.Values{
		"username": {server.DemoUsername},
		"password": {server.DemoPassword},
		"state":    {state},
	}))
	code := callback.Query().Get("code")
	require.NotEmpty(t, code)

	tokenResp := f.postForm(oauth.TokenPath, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {reg.ClientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	})
	require.Equal(t, http.StatusOK, tokenResp.StatusCode)
	var token oauth.TokenResponse
	require.NoError(t, json.NewDecoder(tokenResp.Body).Decode(&token))
	require.True(t, strings.HasPrefix(token.AccessToken, "mcp_at_"), token.AccessToken)
	return token.AccessToken
}

func (f *flow) revoke(token string) {
	f.t.Helper()
	resp := f.postForm(oauth.RevokePath, url.Values{"token": {token}})
	require.Equal(f.t, http.StatusOK, resp.StatusCode)
}

func callTool(t *testing.T, rsURL, tool, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, rsURL+"/tools/"+tool, strings.NewReader(`{}`))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestAuthorizationCodeFlowAgainstResourceServer(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	engine, err := server.New(store, store, store, &server.Config{
		Issuer:          "http://localhost:9000",
		SupportedScopes: []string{"user", "admin"},
	}, nil)
	require.NoError(t, err)

	as := httptest.NewServer(oauth.NewHandler(engine, nil).Routes())
	t.Cleanup(as.Close)

	verifier, err := resource.NewIntrospectionVerifier(resource.VerifierConfig{
		AuthServerURL: as.URL,
		Timeout:       2 * time.Second,
	})
	require.NoError(t, err)

	rsServer, err := resource.NewServer(resource.Config{
		ResourceURL:         "http://localhost:8000",
		AuthServerURL:       as.URL,
		AuthEnabled:         true,
		RequireAuthForTools: []string{resource.ToolServerTime},
		RequiredScopes:      []string{"user"},
	}, verifier, resource.NewRegistry(resource.DefaultTools(time.Now)...))
	require.NoError(t, err)

	rs := httptest.NewServer(rsServer.Routes())
	t.Cleanup(rs.Close)

	f := &flow{
		t:     t,
		asURL: as.URL,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}

	token := f.obtainToken("user")

	resp := callTool(t, rs.URL, resource.ToolServerTime, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Result resource.ServerTimeResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "UTC", body.Result.Timezone)

	resp = callTool(t, rs.URL, resource.ToolGreet, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "greet is public")

	resp = callTool(t, rs.URL, resource.ToolServerTime, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "resource_metadata=")

	f.revoke(token)
	resp = callTool(t, rs.URL, resource.ToolServerTime, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "revoked tokens are rejected on the next call")

	adminToken := f.obtainToken("admin")
	resp = callTool(t, rs.URL, resource.ToolServerTime, adminToken)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	as.Close()
	resp = callTool(t, rs.URL, resource.ToolServerTime, adminToken)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "an unreachable authorization server fails closed")
}
