package memory

import (
	"context"
	"fmt"

	"github.com/giantswarm/mcp-authflow/storage"
)

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// SaveAccessToken stores an access token.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	_, done := s.observe(ctx, "save_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("access token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token.Token] = token.Clone()
	s.tokensCount.Store(int64(len(s.tokens)))

	s.logger.Debug("Saved access token", "token_prefix", logPrefix(token.Token), "client_id", token.ClientID)
	return nil
}

// GetAccessToken returns a stored token regardless of expiry.
func (s *Store) GetAccessToken(ctx context.Context, token string) (t *storage.AccessToken, err error) {
	_, done := s.observe(ctx, "get_access_token")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.tokens[token]
	if !ok {
		return nil, storage.ErrAccessTokenNotFound
	}
	return at.Clone(), nil
}

// DeleteAccessToken removes a token. Unknown tokens are ignored.
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	_, done := s.observe(ctx, "delete_access_token")
	defer done(nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, token)
	s.tokensCount.Store(int64(len(s.tokens)))
	return nil
}
