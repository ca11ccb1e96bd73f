package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-authflow/internal/util"
	"github.com/giantswarm/mcp-authflow/security"
	"github.com/giantswarm/mcp-authflow/storage"
)

// Client type constants
const (
	// ClientTypeConfidential represents a confidential OAuth client
	ClientTypeConfidential = "confidential"

	// ClientTypePublic represents a public OAuth client
	ClientTypePublic = "public"
)

// Token endpoint authentication method constants (RFC 7591)
const (
	// TokenEndpointAuthMethodNone represents no authentication (public clients)
	TokenEndpointAuthMethodNone = "none"

	// TokenEndpointAuthMethodBasic represents HTTP Basic authentication
	TokenEndpointAuthMethodBasic = "client_secret_basic"

	// TokenEndpointAuthMethodPost represents POST form parameters
	TokenEndpointAuthMethodPost = "client_secret_post"
)

// Grant and response types
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	ResponseTypeCode           = "code"
)

// dummySecretHash is compared against when a client has no secret so that
// authentication of unknown and public clients costs the same as a mismatch.
var dummySecretHash, _ = bcrypt.GenerateFromPassword([]byte("mcp-authflow-dummy-secret"), bcrypt.MinCost)

// ClientMetadata is the subset of RFC 7591 registration metadata the engine
// understands.
type ClientMetadata struct {
	ClientName              string
	RedirectURIs            []string
	TokenEndpointAuthMethod string
	GrantTypes              []string
	ResponseTypes           []string
	Scope                   string
}

// RegisterClient registers a new OAuth client.
// tokenEndpointAuthMethod determines the client type:
// - "none": public client (no secret, PKCE-only auth)
// - "client_secret_basic" (default) or "client_secret_post": confidential client
//
// The plaintext secret is returned once and only its bcrypt hash is stored.
func (s *Server) RegisterClient(ctx context.Context, metadata ClientMetadata, clientIP string) (client *storage.Client, clientSecret string, err error) {
	ctx, span := s.startSpan(ctx, "oauth.server.register_client")
	defer func() { endSpan(span, err) }()

	if err := s.ValidateRedirectURIsForRegistration(metadata.RedirectURIs); err != nil {
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventClientRegistrationRejected,
			IPAddress: clientIP,
			Details: map[string]any{
				"reason":   "redirect_uri_validation_failed",
				"category": GetRedirectURIErrorCategory(err),
			},
		})
		s.Logger.Warn("Client registration rejected: redirect URI validation failed",
			"error", err.Error(),
			"client_ip", clientIP)
		return nil, "", err
	}

	authMethod, clientType, err := resolveAuthMethod(metadata.TokenEndpointAuthMethod)
	if err != nil {
		return nil, "", err
	}

	grantTypes, err := resolveGrantTypes(metadata.GrantTypes)
	if err != nil {
		return nil, "", err
	}
	responseTypes, err := resolveResponseTypes(metadata.ResponseTypes)
	if err != nil {
		return nil, "", err
	}

	scopes := util.SplitScopes(metadata.Scope)
	if err := s.validateScopes(scopes); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidClientMetadata, err)
	}

	clientSecret, clientSecretHash, err := generateClientSecret(clientType)
	if err != nil {
		return nil, "", err
	}

	client = &storage.Client{
		ClientID:                uuid.NewString(),
		ClientSecretHash:        clientSecretHash,
		ClientType:              clientType,
		RedirectURIs:            append([]string(nil), metadata.RedirectURIs...),
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		ClientName:              metadata.ClientName,
		Scopes:                  scopes,
		CreatedAt:               s.now(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.Auditor.LogClientRegistered(client.ClientID, client.ClientType, clientIP)
	s.metrics.RecordClientRegistration(ctx, client.ClientType)
	s.Logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"client_type", client.ClientType,
		"token_endpoint_auth_method", client.TokenEndpointAuthMethod,
		"client_ip", clientIP)

	return client, clientSecret, nil
}

// GetClient retrieves a registered client. Unknown clients yield an error
// wrapping storage.ErrClientNotFound.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	}
	return s.clientStore.GetClient(ctx, clientID)
}

// AuthenticateClient authenticates a client at the token endpoint. Public
// clients authenticate by client_id alone and rely on PKCE. Confidential
// clients must present their secret.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret, clientIP string) (*storage.Client, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		// Spend the same time as a wrong secret.
		_ = bcrypt.CompareHashAndPassword(dummySecretHash, []byte(clientSecret))
		s.Auditor.LogAuthFailure(security.EventClientAuthFailed, clientID, clientIP, "unknown_client")
		if errors.Is(err, storage.ErrClientNotFound) || errors.Is(err, ErrInvalidRequest) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidClient, err)
		}
		return nil, err
	}

	if client.ClientType != ClientTypeConfidential {
		return client, nil
	}

	if clientSecret == "" || client.ClientSecretHash == "" {
		s.Auditor.LogAuthFailure(security.EventClientAuthFailed, clientID, clientIP, "missing_client_secret")
		return nil, fmt.Errorf("%w: client authentication required", ErrInvalidClient)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		s.Auditor.LogAuthFailure(security.EventClientAuthFailed, clientID, clientIP, "invalid_client_secret")
		return nil, fmt.Errorf("%w: client authentication failed", ErrInvalidClient)
	}
	return client, nil
}

// resolveAuthMethod maps token_endpoint_auth_method to a client type.
// Per RFC 7591 Section 2 the default is client_secret_basic.
func resolveAuthMethod(method string) (authMethod, clientType string, err error) {
	switch method {
	case "", TokenEndpointAuthMethodBasic:
		return TokenEndpointAuthMethodBasic, ClientTypeConfidential, nil
	case TokenEndpointAuthMethodPost:
		return TokenEndpointAuthMethodPost, ClientTypeConfidential, nil
	case TokenEndpointAuthMethodNone:
		return TokenEndpointAuthMethodNone, ClientTypePublic, nil
	default:
		return "", "", fmt.Errorf("%w: unsupported token_endpoint_auth_method %q", ErrInvalidClientMetadata, method)
	}
}

func resolveGrantTypes(grantTypes []string) ([]string, error) {
	if len(grantTypes) == 0 {
		return []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}, nil
	}
	hasCode := false
	for _, gt := range grantTypes {
		switch gt {
		case GrantTypeAuthorizationCode:
			hasCode = true
		case GrantTypeRefreshToken:
		default:
			return nil, fmt.Errorf("%w: unsupported grant_type %q", ErrInvalidClientMetadata, gt)
		}
	}
	if !hasCode {
		return nil, fmt.Errorf("%w: grant_types must include authorization_code", ErrInvalidClientMetadata)
	}
	return append([]string(nil), grantTypes...), nil
}

func resolveResponseTypes(responseTypes []string) ([]string, error) {
	if len(responseTypes) == 0 {
		return []string{ResponseTypeCode}, nil
	}
	for _, rt := range responseTypes {
		if rt != ResponseTypeCode {
			return nil, fmt.Errorf("%w: unsupported response_type %q", ErrInvalidClientMetadata, rt)
		}
	}
	return append([]string(nil), responseTypes...), nil
}

// generateClientSecret generates a secret for confidential clients.
func generateClientSecret(clientType string) (string, string, error) {
	if clientType != ClientTypeConfidential {
		return "", "", nil
	}

	clientSecret := generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return clientSecret, string(hash), nil
}

// constantTimeEqual compares two strings without leaking their common
// prefix length.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
