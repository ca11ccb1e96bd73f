package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	oauth "github.com/giantswarm/mcp-authflow"
	"github.com/giantswarm/mcp-authflow/internal/util"
)

const callbackPath = "/callback"

func newClientCommand(cfg *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client [tool...]",
		Short: "Obtain a token with authorization code + PKCE and call resource server tools",
		Long: `Registers a public client, runs the authorization code flow with PKCE
against the authorization server and calls the given tools on the resource
server with the issued token. Without --username the authorization URL is
printed and the client waits for the browser redirect on the loopback
callback listener.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				args = []string{"server_time"}
			}
			return runClient(cmd.Context(), cfg, logger, cmd.OutOrStdout(), args)
		},
	}

	flags := cmd.Flags()
	flags.String("auth-server-url", "http://localhost:9000", "authorization server base URL")
	flags.String("resource-server-url", "http://localhost:8000", "resource server base URL")
	flags.Int("callback-port", 8765, "loopback port for the redirect URI")
	flags.StringSlice("scopes", []string{"user"}, "scopes to request")
	flags.String("username", "", "submit the login form directly with this user instead of waiting for a browser")
	flags.String("password", "", "password for --username")
	flags.Duration("login-timeout", 5*time.Minute, "how long to wait for the browser redirect")
	flags.String("tool-args", "{}", "JSON arguments sent with every tool call")
	return cmd
}

// flowClient is a public client of the authorization server.
type flowClient struct {
	authServerURL string
	redirectURI   string
	http          *http.Client
	logger        *slog.Logger
}

func runClient(ctx context.Context, cfg *viper.Viper, logger *slog.Logger, out io.Writer, tools []string) error {
	fc := &flowClient{
		authServerURL: util.NormalizeURL(cfg.GetString("auth-server-url")),
		redirectURI:   "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.GetInt("callback-port"))) + callbackPath,
		http:          &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
	}

	metadata, err := fc.discover(ctx)
	if err != nil {
		return err
	}
	clientID, err := fc.register(ctx, metadata.RegistrationEndpoint)
	if err != nil {
		return err
	}
	logger.Info("Registered client", "client_id", clientID)

	conf := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   metadata.AuthorizationEndpoint,
			TokenURL:  metadata.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: fc.redirectURI,
		Scopes:      cfg.GetStringSlice("scopes"),
	}

	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()
	authURL := conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	var code string
	if username := cfg.GetString("username"); username != "" {
		code, err = fc.loginDirect(ctx, authURL, state, username, cfg.GetString("password"))
	} else {
		code, err = fc.waitForCallback(ctx, out, authURL, state, cfg.GetDuration("login-timeout"))
	}
	if err != nil {
		return err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, fc.http)
	token, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}
	logger.Info("Obtained access token",
		"token_prefix", util.SafeTruncate(token.AccessToken, 8),
		"expires", token.Expiry.Format(time.RFC3339))

	rsURL := util.NormalizeURL(cfg.GetString("resource-server-url"))
	httpClient := conf.Client(ctx, token)
	for _, tool := range tools {
		if err := callTool(ctx, httpClient, rsURL, tool, cfg.GetString("tool-args"), out); err != nil {
			return err
		}
	}
	return nil
}

func (fc *flowClient) discover(ctx context.Context) (*oauth.AuthorizationServerMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, util.JoinURL(fc.authServerURL, oauth.MetadataPath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := fc.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discover authorization server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discover authorization server: status %d", resp.StatusCode)
	}
	var metadata oauth.AuthorizationServerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if metadata.RegistrationEndpoint == "" {
		metadata.RegistrationEndpoint = util.JoinURL(fc.authServerURL, oauth.RegisterPath)
	}
	return &metadata, nil
}

func (fc *flowClient) register(ctx context.Context, endpoint string) (string, error) {
	body, err := json.Marshal(oauth.ClientRegistrationRequest{
		ClientName:              "mcp-authflow CLI",
		RedirectURIs:            []string{fc.redirectURI},
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code"},
		ResponseTypes:           []string{"code"},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := fc.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("register client: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("register client: %s", readOAuthError(resp))
	}
	var reg oauth.ClientRegistrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return "", fmt.Errorf("decode registration: %w", err)
	}
	return reg.ClientID, nil
}

// loginDirect follows the authorize redirect to the login page and submits
// the login form, returning the code from the final redirect.
func (fc *flowClient) loginDirect(ctx context.Context, authURL, state, username, password string) (string, error) {
	noRedirect := *fc.http
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("authorize: %w", err)
	}
	_ = resp.Body.Close()
	loginURL, err := redirectLocation(resp)
	if err != nil {
		return "", fmt.Errorf("authorize: %w", err)
	}
	if errCode := loginURL.Query().Get("error"); errCode != "" {
		return "", fmt.Errorf("authorize: %s: %s", errCode, loginURL.Query().Get("error_description"))
	}
	serverState := loginURL.Query().Get("state")

	form := url.Values{"username": {username}, "password": {password}, "state": {serverState}}
	req, err = http.NewRequestWithContext(ctx, http.MethodPost,
		util.JoinURL(fc.authServerURL, oauth.LoginCallbackPath), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err = noRedirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusFound {
		return "", fmt.Errorf("login: %s", readOAuthError(resp))
	}
	callback, err := redirectLocation(resp)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return codeFromCallback(callback.Query(), state)
}

// waitForCallback prints authURL and serves the redirect URI until the
// browser delivers a code or timeout passes.
func (fc *flowClient) waitForCallback(ctx context.Context, out io.Writer, authURL, state string, timeout time.Duration) (string, error) {
	redirect, err := url.Parse(fc.redirectURI)
	if err != nil {
		return "", err
	}
	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return "", fmt.Errorf("callback listener: %w", err)
	}

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		code, err := codeFromCallback(r.URL.Query(), state)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			_, _ = io.WriteString(w, "Login complete. You can close this window.\n")
		}
		select {
		case results <- result{code: code, err: err}:
		default:
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(listener) }()
	defer func() { _ = srv.Close() }()

	_, _ = fmt.Fprintf(out, "Open this URL in a browser to log in:\n\n  %s\n\n", authURL)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case res := <-results:
		return res.code, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for login: %w", ctx.Err())
	}
}

func codeFromCallback(q url.Values, state string) (string, error) {
	if errCode := q.Get("error"); errCode != "" {
		return "", fmt.Errorf("authorization failed: %s: %s", errCode, q.Get("error_description"))
	}
	if q.Get("state") != state {
		return "", errors.New("state mismatch in callback")
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("callback carried no code")
	}
	return code, nil
}

func redirectLocation(resp *http.Response) (*url.URL, error) {
	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("expected redirect, got %s", readOAuthError(resp))
	}
	return resp.Location()
}

// readOAuthError renders an OAuth error body, falling back to the status.
func readOAuthError(resp *http.Response) string {
	var body oauth.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Sprintf("%s: %s (status %d)", body.Error, body.ErrorDescription, resp.StatusCode)
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}

func callTool(ctx context.Context, client *http.Client, rsURL, tool, args string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, util.JoinURL(rsURL, "/tools/"+url.PathEscape(tool)), strings.NewReader(args))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", tool, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("call %s: %w", tool, err)
	}
	if resp.StatusCode != http.StatusOK {
		if challenge := resp.Header.Get("WWW-Authenticate"); challenge != "" {
			return fmt.Errorf("call %s: status %d: %s", tool, resp.StatusCode, challenge)
		}
		return fmt.Errorf("call %s: status %d: %s", tool, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, err = fmt.Fprintf(out, "%s: %s\n", tool, strings.TrimSpace(string(body)))
	return err
}
