package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authflow/instrumentation"
	"github.com/giantswarm/mcp-authflow/internal/util"
	"github.com/giantswarm/mcp-authflow/security"
	"github.com/giantswarm/mcp-authflow/storage"
)

// maxCodeGenerationAttempts bounds retries when a freshly generated code or
// state collides with a live one.
const maxCodeGenerationAttempts = 3

// AuthorizeRequest carries the parameters of an authorization request after
// the client has been looked up.
type AuthorizeRequest struct {
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	Resource            string
	Scope               string
	ClientIP            string
}

// AuthorizeResult is returned by Authorize.
type AuthorizeResult struct {
	// LoginURL is where the user agent is sent to authenticate.
	LoginURL string

	// State identifies the pending authorization. It is the client's state
	// or a generated one.
	State string

	// RedirectURI is the resolved redirect URI.
	RedirectURI string
}

// ExchangeRequest carries the parameters of an authorization_code grant.
type ExchangeRequest struct {
	Client       *storage.Client
	Code         string
	RedirectURI  string
	CodeVerifier string
	Resource     string
	ClientIP     string
}

// ============================================================
// authorize
// ============================================================

// Authorize validates an authorization request for client and stores it as a
// pending authorization keyed by state. The returned LoginURL carries state
// and client_id for the login surface.
func (s *Server) Authorize(ctx context.Context, client *storage.Client, req AuthorizeRequest) (result *AuthorizeResult, err error) {
	ctx, span := s.startSpan(ctx, "oauth.server.authorize")
	defer func() { endSpan(span, err) }()

	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidRequest)
	}
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, req.Scope)
	instrumentation.AddPKCEAttributes(span, req.CodeChallengeMethod)

	reject := func(reason string, err error) (*AuthorizeResult, error) {
		s.Auditor.LogAuthFailure(security.EventAuthorizationRejected, client.ClientID, req.ClientIP, reason)
		return nil, err
	}

	redirectURI, explicit, err := s.ResolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		return reject("invalid_redirect_uri", err)
	}

	if err := validateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return reject("invalid_pkce_parameters", err)
	}

	scopes := util.SplitScopes(req.Scope)
	if err := s.validateScopes(scopes); err != nil {
		return reject("invalid_scope", err)
	}
	if err := validateClientScopes(scopes, client.Scopes); err != nil {
		return reject("client_scope_not_allowed", err)
	}

	now := s.now()
	pending := &storage.PendingAuthorization{
		State:                         req.State,
		ClientID:                      client.ClientID,
		RedirectURI:                   redirectURI,
		RedirectURIProvidedExplicitly: explicit,
		CodeChallenge:                 req.CodeChallenge,
		CodeChallengeMethod:           req.CodeChallengeMethod,
		Resource:                      req.Resource,
		Scopes:                        scopes,
		CreatedAt:                     now,
		ExpiresAt:                     now.Add(time.Duration(s.Config.PendingAuthorizationTTL) * time.Second),
	}
	if err := s.savePendingAuthorization(ctx, pending); err != nil {
		if errors.Is(err, storage.ErrPendingAuthorizationExists) {
			return reject("state_in_use", fmt.Errorf("%w: state already in use", ErrInvalidRequest))
		}
		return nil, err
	}
	state := pending.State

	loginURL, err := appendQuery(s.Config.LoginURL(), map[string]string{
		"state":     state,
		"client_id": client.ClientID,
	})
	if err != nil {
		return nil, err
	}

	s.Auditor.LogEvent(security.Event{
		Type:      security.EventAuthorizationStarted,
		ClientID:  client.ClientID,
		IPAddress: req.ClientIP,
		Details: map[string]any{
			"redirect_uri":          redirectURI,
			"scope":                 req.Scope,
			"code_challenge_method": req.CodeChallengeMethod,
			"resource":              req.Resource,
		},
	})
	s.metrics.RecordAuthorizationStarted(ctx, client.ClientID)

	return &AuthorizeResult{
		LoginURL:    loginURL,
		State:       state,
		RedirectURI: redirectURI,
	}, nil
}

// savePendingAuthorization stores pending. A client-supplied state is saved
// once; a collision is returned as storage.ErrPendingAuthorizationExists.
// When the state is empty one is generated, retrying on collision.
func (s *Server) savePendingAuthorization(ctx context.Context, pending *storage.PendingAuthorization) error {
	if pending.State != "" {
		if err := s.flowStore.SavePendingAuthorization(ctx, pending); err != nil {
			return wrapPendingSaveError(err)
		}
		return nil
	}

	for attempt := 0; attempt < maxCodeGenerationAttempts; attempt++ {
		pending.State = generateRandomToken()
		err := s.flowStore.SavePendingAuthorization(ctx, pending)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrPendingAuthorizationExists) {
			return wrapPendingSaveError(err)
		}
		s.Logger.Warn("Generated state collided, retrying", "attempt", attempt+1)
	}
	pending.State = ""
	return fmt.Errorf("failed to generate a unique state after %d attempts", maxCodeGenerationAttempts)
}

func wrapPendingSaveError(err error) error {
	if errors.Is(err, storage.ErrPendingAuthorizationExists) {
		return err
	}
	return fmt.Errorf("failed to save pending authorization: %w", err)
}

// GetPendingAuthorization returns the live pending authorization for state,
// or an error wrapping ErrInvalidState. It does not consume the entry.
func (s *Server) GetPendingAuthorization(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: state is required", ErrInvalidState)
	}
	pending, err := s.flowStore.GetPendingAuthorization(ctx, state)
	if err != nil {
		if errors.Is(err, storage.ErrPendingAuthorizationNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return nil, err
	}
	if security.IsExpiredAt(s.now(), pending.ExpiresAt) {
		// Purge so the sweep does not have to.
		_, _ = s.flowStore.ConsumePendingAuthorization(ctx, state)
		return nil, fmt.Errorf("%w: pending authorization expired", ErrInvalidState)
	}
	return pending, nil
}

// ============================================================
// complete-login
// ============================================================

// CompleteLogin finishes the login for state. verifiedIdentityOK is the
// verdict of a CredentialVerifier. On success the pending authorization is
// consumed, a new authorization code is stored, and the client's redirect URI
// with code and state is returned.
//
// An unknown, consumed or expired state yields ErrInvalidState. A negative
// verdict yields ErrUnauthenticated and leaves the state usable for a retry.
// Of two concurrent calls for one state at most one issues a code.
func (s *Server) CompleteLogin(ctx context.Context, state string, verifiedIdentityOK bool, clientIP string) (redirectURL string, err error) {
	ctx, span := s.startSpan(ctx, "oauth.server.complete_login")
	defer func() { endSpan(span, err) }()

	pending, err := s.GetPendingAuthorization(ctx, state)
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			s.Auditor.LogAuthFailure(security.EventLoginUnknownState, "", clientIP, "unknown_or_expired_state")
			s.metrics.RecordLoginCompleted(ctx, "invalid_state")
		}
		return "", err
	}

	if !verifiedIdentityOK {
		s.Auditor.LogLoginFailed("", pending.ClientID, clientIP)
		s.metrics.RecordLoginCompleted(ctx, "unauthenticated")
		return "", ErrUnauthenticated
	}

	// SECURITY: the consume is the linearisation point. A concurrent call
	// that passed the lookup above loses here.
	pending, err = s.flowStore.ConsumePendingAuthorization(ctx, state)
	if err != nil {
		if errors.Is(err, storage.ErrPendingAuthorizationNotFound) {
			s.metrics.RecordLoginCompleted(ctx, "invalid_state")
			return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return "", fmt.Errorf("failed to consume pending authorization: %w", err)
	}
	if security.IsExpiredAt(s.now(), pending.ExpiresAt) {
		s.metrics.RecordLoginCompleted(ctx, "invalid_state")
		return "", fmt.Errorf("%w: pending authorization expired", ErrInvalidState)
	}

	authCode, err := s.issueAuthorizationCode(ctx, pending)
	if err != nil {
		// Put the pending authorization back so the user can retry. If the
		// state was taken in the meantime the new entry wins.
		restoreErr := s.flowStore.SavePendingAuthorization(ctx, pending)
		switch {
		case errors.Is(restoreErr, storage.ErrPendingAuthorizationExists):
			s.Logger.Warn("State reused before restore, pending authorization dropped",
				"state_prefix", logPrefix(state))
		case restoreErr != nil:
			s.Logger.Error("Failed to restore pending authorization",
				"state_prefix", logPrefix(state),
				"error", restoreErr)
		}
		return "", err
	}

	redirectURL, err = appendQuery(pending.RedirectURI, map[string]string{
		"code":  authCode.Code,
		"state": state,
	})
	if err != nil {
		return "", err
	}

	s.Auditor.LogEvent(security.Event{
		Type:      security.EventAuthorizationCodeIssued,
		ClientID:  pending.ClientID,
		IPAddress: clientIP,
		Details: map[string]any{
			"scope":    util.JoinScopes(pending.Scopes),
			"resource": pending.Resource,
		},
	})
	s.metrics.RecordLoginCompleted(ctx, "success")
	s.metrics.RecordCodeIssued(ctx, pending.ClientID)
	s.Logger.Debug("Issued authorization code",
		"client_id", pending.ClientID,
		"code_prefix", logPrefix(authCode.Code))

	return redirectURL, nil
}

// issueAuthorizationCode stores a new code bound to pending. A collision
// with a live code is retried with a fresh value.
func (s *Server) issueAuthorizationCode(ctx context.Context, pending *storage.PendingAuthorization) (*storage.AuthorizationCode, error) {
	now := s.now()
	for attempt := 0; attempt < maxCodeGenerationAttempts; attempt++ {
		authCode := &storage.AuthorizationCode{
			Code:                          authorizationCodePrefix + generateRandomToken(),
			ClientID:                      pending.ClientID,
			Scopes:                        append([]string(nil), pending.Scopes...),
			CodeChallenge:                 pending.CodeChallenge,
			RedirectURI:                   pending.RedirectURI,
			RedirectURIProvidedExplicitly: pending.RedirectURIProvidedExplicitly,
			Resource:                      pending.Resource,
			IssuedAt:                      now,
			ExpiresAt:                     now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
		}
		err := s.flowStore.SaveAuthorizationCode(ctx, authCode)
		if err == nil {
			return authCode, nil
		}
		if !errors.Is(err, storage.ErrAuthorizationCodeExists) {
			return nil, fmt.Errorf("failed to save authorization code: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to generate a unique authorization code")
}

// ============================================================
// exchange-code
// ============================================================

// ExchangeAuthorizationCode redeems an authorization code for an access
// token. Every failure is ErrInvalidGrant. Checks run before the code is
// claimed, so a request that fails them leaves the code redeemable by its
// rightful holder. The claim itself is atomic: of concurrent exchanges for
// one code exactly one succeeds.
//
// The returned string is the granted scope.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req ExchangeRequest) (token *oauth2.Token, scope string, err error) {
	ctx, span := s.startSpan(ctx, "oauth.server.exchange_code")
	defer func() { endSpan(span, err) }()

	if req.Client == nil {
		return nil, "", fmt.Errorf("%w: client is required", ErrInvalidRequest)
	}
	clientID := req.Client.ClientID
	instrumentation.AddOAuthFlowAttributes(span, clientID, "")

	fail := func(reason, eventType string) (*oauth2.Token, string, error) {
		// SECURITY: detail goes to logs only, the caller sees invalid_grant.
		s.Logger.Debug("Authorization code validation failed",
			"reason", reason,
			"client_id", clientID,
			"code_prefix", logPrefix(req.Code))
		s.Auditor.LogAuthFailure(eventType, clientID, req.ClientIP, reason)
		s.metrics.RecordCodeExchangeFailed(ctx, reason)
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidGrant, reason)
	}

	if req.Code == "" {
		return fail("missing_code", security.EventInvalidGrant)
	}

	authCode, err := s.flowStore.GetAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			return fail("unknown_code", security.EventInvalidGrant)
		}
		return nil, "", fmt.Errorf("failed to load authorization code: %w", err)
	}

	if security.IsExpiredAt(s.now(), authCode.ExpiresAt) {
		_, _ = s.flowStore.ClaimAuthorizationCode(ctx, req.Code)
		return fail("expired_code", security.EventInvalidGrant)
	}

	if !constantTimeEqual(authCode.ClientID, clientID) {
		return fail("client_id_mismatch", security.EventInvalidGrant)
	}

	if authCode.RedirectURIProvidedExplicitly && authCode.RedirectURI != req.RedirectURI {
		return fail("redirect_uri_mismatch", security.EventInvalidGrant)
	}

	if authCode.Resource != "" && req.Resource != "" && authCode.Resource != req.Resource {
		return fail("resource_mismatch", security.EventInvalidGrant)
	}

	if err := validatePKCE(authCode.CodeChallenge, req.CodeVerifier); err != nil {
		s.metrics.RecordPKCEValidationFailed(ctx, PKCEMethodS256)
		s.Logger.Debug("PKCE validation failed", "client_id", clientID, "error", err)
		return fail("pkce_validation_failed", security.EventInvalidPKCE)
	}

	claimed, err := s.flowStore.ClaimAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			// Another request redeemed the code between our read and claim.
			instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrCodeReuse, true))
			s.metrics.RecordCodeReuseDetected(ctx)
			s.Logger.Warn("Authorization code reuse detected",
				"client_id", clientID,
				"code_prefix", logPrefix(req.Code))
			return fail("code_already_redeemed", security.EventAuthorizationCodeReuseDetected)
		}
		return nil, "", fmt.Errorf("failed to claim authorization code: %w", err)
	}

	accessToken, err := s.issueAccessToken(ctx, claimed)
	if err != nil {
		return nil, "", err
	}

	scope = util.JoinScopes(claimed.Scopes)
	token = &oauth2.Token{
		AccessToken: accessToken.Token,
		TokenType:   "Bearer",
		Expiry:      accessToken.ExpiresAt,
		ExpiresIn:   security.SecondsUntil(accessToken.IssuedAt, accessToken.ExpiresAt),
	}

	s.Auditor.LogTokenIssued(clientID, req.ClientIP, scope)
	s.metrics.RecordCodeExchange(ctx, clientID, PKCEMethodS256)
	s.Logger.Info("Issued access token",
		"client_id", clientID,
		"token_prefix", logPrefix(accessToken.Token),
		"scope", scope)

	return token, scope, nil
}

// issueAccessToken stores a new access token for a claimed code.
func (s *Server) issueAccessToken(ctx context.Context, authCode *storage.AuthorizationCode) (*storage.AccessToken, error) {
	value, err := generateAccessToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	accessToken := &storage.AccessToken{
		Token:     value,
		ClientID:  authCode.ClientID,
		Scopes:    append([]string(nil), authCode.Scopes...),
		Resource:  authCode.Resource,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
	}
	if err := s.tokenStore.SaveAccessToken(ctx, accessToken); err != nil {
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}
	return accessToken, nil
}

// ExchangeRefreshToken always fails with ErrUnsupportedGrant. No refresh
// tokens are issued.
func (s *Server) ExchangeRefreshToken(ctx context.Context, client *storage.Client, refreshToken string) (*oauth2.Token, error) {
	clientID := ""
	if client != nil {
		clientID = client.ClientID
	}
	s.Logger.Debug("Refresh token grant rejected",
		"client_id", clientID,
		"token_prefix", logPrefix(refreshToken))
	s.metrics.RecordCodeExchangeFailed(ctx, "unsupported_grant_type")
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedGrant, GrantTypeRefreshToken)
}

// ============================================================
// load-token and revoke
// ============================================================

// LoadToken returns the access token if it exists and has not expired. An
// expired token is deleted on discovery. Absent and expired tokens both yield
// an error wrapping storage.ErrAccessTokenNotFound.
func (s *Server) LoadToken(ctx context.Context, token string) (accessToken *storage.AccessToken, err error) {
	ctx, span := s.startSpan(ctx, "oauth.server.load_token")
	defer func() {
		if errors.Is(err, storage.ErrAccessTokenNotFound) {
			// Not an operational failure.
			endSpan(span, nil)
			return
		}
		endSpan(span, err)
	}()

	if token == "" {
		return nil, storage.ErrAccessTokenNotFound
	}

	accessToken, err = s.tokenStore.GetAccessToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if security.IsExpiredAt(s.now(), accessToken.ExpiresAt) {
		// Idempotent: a concurrent caller may have deleted it already.
		if delErr := s.tokenStore.DeleteAccessToken(ctx, token); delErr != nil {
			s.Logger.Warn("Failed to purge expired access token",
				"token_prefix", logPrefix(token),
				"error", delErr)
		}
		return nil, fmt.Errorf("%w: expired", storage.ErrAccessTokenNotFound)
	}

	return accessToken, nil
}

// RevokeClientToken revokes token on behalf of the authenticated client
// clientID. A token issued to another client is left alone and no error is
// returned, so the caller cannot tell the two cases apart.
func (s *Server) RevokeClientToken(ctx context.Context, token, clientID, clientIP string) error {
	if token == "" {
		return nil
	}

	accessToken, err := s.tokenStore.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrAccessTokenNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up token: %w", err)
	}
	if accessToken.ClientID != clientID {
		s.Auditor.LogAuthFailure(security.EventTokenRevocationRejected, clientID, clientIP, "client_id_mismatch")
		s.Logger.Warn("Refused to revoke token of another client",
			"client_id", clientID,
			"token_prefix", logPrefix(token))
		return nil
	}

	return s.RevokeToken(ctx, token, clientID, clientIP)
}

// RevokeToken removes an access token. Unknown tokens are not an error
// (RFC 7009 Section 2.2).
func (s *Server) RevokeToken(ctx context.Context, token, clientID, clientIP string) (err error) {
	ctx, span := s.startSpan(ctx, "oauth.server.revoke_token")
	defer func() { endSpan(span, err) }()

	if token == "" {
		return nil
	}

	if err := s.tokenStore.DeleteAccessToken(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.Auditor.LogTokenRevoked(clientID, clientIP)
	s.metrics.RecordTokenRevocation(ctx, clientID)
	s.Logger.Debug("Revoked token",
		"client_id", clientID,
		"token_prefix", logPrefix(token))
	return nil
}
