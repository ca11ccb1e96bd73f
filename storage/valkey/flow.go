package valkey

import (
	"context"
	"fmt"

	"github.com/giantswarm/mcp-authflow/storage"
)

// ============================================================
// PendingAuthorizationStore Implementation
// ============================================================

// SavePendingAuthorization stores a pending authorization with a TTL that
// ends at its ExpiresAt. Already expired entries are not written. A live
// entry for the same state is never replaced.
func (s *Store) SavePendingAuthorization(ctx context.Context, pending *storage.PendingAuthorization) (err error) {
	ctx, done := s.observe(ctx, "save_pending_authorization")
	defer func() { done(err) }()

	if pending == nil {
		return fmt.Errorf("invalid pending authorization")
	}
	if err := validateKeyPart(pending.State); err != nil {
		return err
	}

	ttl := calculateTTL(pending.ExpiresAt)
	if ttl == 0 {
		s.logger.Debug("Pending authorization already expired, not saved")
		return nil
	}

	key := s.pendingKey(pending.State)
	value, err := s.encode(key, toPendingJSON(pending))
	if err != nil {
		return err
	}

	err = s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Nx().Px(ttl).Build()).Error()
	if err != nil {
		if isNilError(err) {
			return storage.ErrPendingAuthorizationExists
		}
		return fmt.Errorf("failed to save pending authorization: %w", err)
	}
	return nil
}

// GetPendingAuthorization reads a pending authorization without consuming it.
func (s *Store) GetPendingAuthorization(ctx context.Context, state string) (p *storage.PendingAuthorization, err error) {
	ctx, done := s.observe(ctx, "get_pending_authorization")
	defer func() { done(err) }()

	key := s.pendingKey(state)
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrPendingAuthorizationNotFound
		}
		return nil, fmt.Errorf("failed to get pending authorization: %w", err)
	}

	var j pendingJSON
	if err := s.decode(key, data, &j); err != nil {
		return nil, err
	}
	return fromPendingJSON(&j), nil
}

// ConsumePendingAuthorization atomically reads and deletes a pending
// authorization.
func (s *Store) ConsumePendingAuthorization(ctx context.Context, state string) (p *storage.PendingAuthorization, err error) {
	ctx, done := s.observe(ctx, "consume_pending_authorization")
	defer func() { done(err) }()

	key := s.pendingKey(state)
	data, found, err := s.getAndDelete(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending authorization: %w", err)
	}
	if !found {
		return nil, storage.ErrPendingAuthorizationNotFound
	}

	var j pendingJSON
	if err := s.decode(key, data, &j); err != nil {
		return nil, err
	}
	return fromPendingJSON(&j), nil
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// SaveAuthorizationCode writes a code with SET NX, so a live code is never
// replaced.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.observe(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil {
		return fmt.Errorf("invalid authorization code")
	}
	if err := validateKeyPart(code.Code); err != nil {
		return err
	}

	ttl := calculateTTL(code.ExpiresAt)
	if ttl == 0 {
		return fmt.Errorf("authorization code already expired")
	}

	key := s.codeKey(code.Code)
	value, err := s.encode(key, toAuthorizationCodeJSON(code))
	if err != nil {
		return err
	}

	err = s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Nx().Px(ttl).Build()).Error()
	if err != nil {
		if isNilError(err) {
			return storage.ErrAuthorizationCodeExists
		}
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code", "code_prefix", logPrefix(code.Code), "client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode reads a code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (c *storage.AuthorizationCode, err error) {
	ctx, done := s.observe(ctx, "get_authorization_code")
	defer func() { done(err) }()

	key := s.codeKey(code)
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var j authorizationCodeJSON
	if err := s.decode(key, data, &j); err != nil {
		return nil, err
	}
	return fromAuthorizationCodeJSON(&j), nil
}

// ClaimAuthorizationCode atomically reads and deletes a code.
// SECURITY: only one concurrent claim gets the code.
func (s *Store) ClaimAuthorizationCode(ctx context.Context, code string) (c *storage.AuthorizationCode, err error) {
	ctx, done := s.observe(ctx, "claim_authorization_code")
	defer func() { done(err) }()

	key := s.codeKey(code)
	data, found, err := s.getAndDelete(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to claim authorization code: %w", err)
	}
	if !found {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	var j authorizationCodeJSON
	if err := s.decode(key, data, &j); err != nil {
		return nil, err
	}

	s.logger.Debug("Claimed authorization code", "code_prefix", logPrefix(code))
	return fromAuthorizationCodeJSON(&j), nil
}
