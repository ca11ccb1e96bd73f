package valkey

import (
	"context"
	"fmt"

	"github.com/giantswarm/mcp-authflow/storage"
)

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// SaveAccessToken stores a token with a TTL ending at its ExpiresAt.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, done := s.observe(ctx, "save_access_token")
	defer func() { done(err) }()

	if token == nil {
		return fmt.Errorf("invalid access token")
	}
	if err := validateKeyPart(token.Token); err != nil {
		return err
	}

	ttl := calculateTTL(token.ExpiresAt)
	if ttl == 0 {
		return fmt.Errorf("access token already expired")
	}

	key := s.tokenKey(token.Token)
	value, err := s.encode(key, toAccessTokenJSON(token))
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Px(ttl).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	s.logger.Debug("Saved access token", "token_prefix", logPrefix(token.Token), "client_id", token.ClientID)
	return nil
}

// GetAccessToken reads a token.
func (s *Store) GetAccessToken(ctx context.Context, token string) (t *storage.AccessToken, err error) {
	ctx, done := s.observe(ctx, "get_access_token")
	defer func() { done(err) }()

	key := s.tokenKey(token)
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAccessTokenNotFound
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var j accessTokenJSON
	if err := s.decode(key, data, &j); err != nil {
		return nil, err
	}
	return fromAccessTokenJSON(&j), nil
}

// DeleteAccessToken removes a token. Deleting a missing key is not an error.
func (s *Store) DeleteAccessToken(ctx context.Context, token string) (err error) {
	ctx, done := s.observe(ctx, "delete_access_token")
	defer func() { done(err) }()

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.tokenKey(token)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	return nil
}
