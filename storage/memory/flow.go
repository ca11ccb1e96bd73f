package memory

import (
	"context"
	"fmt"

	"github.com/giantswarm/mcp-authflow/security"
	"github.com/giantswarm/mcp-authflow/storage"
)

// ============================================================
// PendingAuthorizationStore Implementation
// ============================================================

// SavePendingAuthorization stores a pending authorization under its state.
// An expired entry that the sweep has not removed yet does not block a new one.
func (s *Store) SavePendingAuthorization(ctx context.Context, pending *storage.PendingAuthorization) (err error) {
	_, done := s.observe(ctx, "save_pending_authorization")
	defer func() { done(err) }()

	if pending == nil || pending.State == "" {
		return fmt.Errorf("state cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pending[pending.State]; ok && !security.IsExpiredAt(s.now(), existing.ExpiresAt) {
		return storage.ErrPendingAuthorizationExists
	}
	s.pending[pending.State] = pending.Clone()
	s.pendingCount.Store(int64(len(s.pending)))
	return nil
}

// GetPendingAuthorization reads a pending authorization without consuming it.
func (s *Store) GetPendingAuthorization(ctx context.Context, state string) (p *storage.PendingAuthorization, err error) {
	_, done := s.observe(ctx, "get_pending_authorization")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	pending, ok := s.pending[state]
	if !ok {
		return nil, storage.ErrPendingAuthorizationNotFound
	}
	return pending.Clone(), nil
}

// ConsumePendingAuthorization removes and returns a pending authorization.
// SECURITY: read and delete happen under one write lock so two login
// callbacks for the same state cannot both succeed.
func (s *Store) ConsumePendingAuthorization(ctx context.Context, state string) (p *storage.PendingAuthorization, err error) {
	_, done := s.observe(ctx, "consume_pending_authorization")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pending[state]
	if !ok {
		return nil, storage.ErrPendingAuthorizationNotFound
	}
	delete(s.pending, state)
	s.pendingCount.Store(int64(len(s.pending)))
	return pending, nil
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// SaveAuthorizationCode stores a new code. A live code with the same value
// is never overwritten.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	_, done := s.observe(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return storage.ErrAuthorizationCodeExists
	}
	s.codes[code.Code] = code.Clone()
	s.codesCount.Store(int64(len(s.codes)))

	s.logger.Debug("Saved authorization code", "code_prefix", logPrefix(code.Code), "client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode reads a code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (c *storage.AuthorizationCode, err error) {
	_, done := s.observe(ctx, "get_authorization_code")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	return authCode.Clone(), nil
}

// ClaimAuthorizationCode removes and returns a code. Exactly one of any
// number of concurrent claims succeeds.
func (s *Store) ClaimAuthorizationCode(ctx context.Context, code string) (c *storage.AuthorizationCode, err error) {
	_, done := s.observe(ctx, "claim_authorization_code")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	delete(s.codes, code)
	s.codesCount.Store(int64(len(s.codes)))
	return authCode, nil
}
