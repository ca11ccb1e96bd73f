package valkey

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-authflow/internal/testutil"
	"github.com/giantswarm/mcp-authflow/security"
	"github.com/giantswarm/mcp-authflow/storage"
)

// testStore connects to VALKEY_TEST_ADDR (default localhost:6379) and skips
// the test when no server is reachable. Each test gets its own key prefix.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("mcptest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

// ============================================================
// Config Tests
// ============================================================

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNew_InvalidAddress(t *testing.T) {
	_, err := New(Config{Address: "invalid:99999"})
	require.Error(t, err)
}

func TestCalculateTTL(t *testing.T) {
	assert.Equal(t, time.Duration(0), calculateTTL(time.Now().Add(-time.Second)))
	assert.Greater(t, calculateTTL(time.Now().Add(time.Minute)), 59*time.Second)
}

// ============================================================
// ClientStore Tests
// ============================================================

func TestClientStore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	require.NoError(t, s.SaveClient(ctx, client))

	got, err := s.GetClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, client.ClientID, got.ClientID)
	assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, client.TokenEndpointAuthMethod, got.TokenEndpointAuthMethod)

	_, err = s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}

// ============================================================
// Flow Tests
// ============================================================

func TestPendingAuthorization_ConsumeOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := testutil.GenerateTestPendingAuthorization()
	require.NoError(t, s.SavePendingAuthorization(ctx, p))

	got, err := s.GetPendingAuthorization(ctx, p.State)
	require.NoError(t, err)
	assert.Equal(t, p.CodeChallenge, got.CodeChallenge)
	assert.True(t, got.RedirectURIProvidedExplicitly)

	consumed, err := s.ConsumePendingAuthorization(ctx, p.State)
	require.NoError(t, err)
	assert.Equal(t, p.ClientID, consumed.ClientID)

	_, err = s.ConsumePendingAuthorization(ctx, p.State)
	assert.ErrorIs(t, err, storage.ErrPendingAuthorizationNotFound)
}

func TestPendingAuthorization_SaveNX(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := testutil.GenerateTestPendingAuthorization()
	require.NoError(t, s.SavePendingAuthorization(ctx, p))

	other := testutil.GenerateTestPendingAuthorization()
	other.State = p.State
	other.ClientID = "other-client"
	assert.ErrorIs(t, s.SavePendingAuthorization(ctx, other), storage.ErrPendingAuthorizationExists)

	got, err := s.GetPendingAuthorization(ctx, p.State)
	require.NoError(t, err)
	assert.Equal(t, p.ClientID, got.ClientID)
}

func TestPendingAuthorization_TTL(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := testutil.GenerateTestPendingAuthorization()
	p.ExpiresAt = time.Now().Add(200 * time.Millisecond)
	require.NoError(t, s.SavePendingAuthorization(ctx, p))

	time.Sleep(400 * time.Millisecond)

	_, err := s.GetPendingAuthorization(ctx, p.State)
	assert.ErrorIs(t, err, storage.ErrPendingAuthorizationNotFound)
}

func TestAuthorizationCode_SaveNX(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))
	assert.ErrorIs(t, s.SaveAuthorizationCode(ctx, code), storage.ErrAuthorizationCodeExists)
}

func TestAuthorizationCode_ConcurrentClaim(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimAuthorizationCode(ctx, code.Code); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

// ============================================================
// AccessTokenStore Tests
// ============================================================

func TestAccessToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tok := testutil.GenerateTestAccessToken()
	tok.Resource = "http://127.0.0.1:8000/mcp"
	require.NoError(t, s.SaveAccessToken(ctx, tok))

	got, err := s.GetAccessToken(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, tok.Scopes, got.Scopes)
	assert.Equal(t, tok.Resource, got.Resource)
	assert.WithinDuration(t, tok.ExpiresAt, got.ExpiresAt, time.Millisecond)

	require.NoError(t, s.DeleteAccessToken(ctx, tok.Token))
	require.NoError(t, s.DeleteAccessToken(ctx, tok.Token))

	_, err = s.GetAccessToken(ctx, tok.Token)
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
}

func TestSaveAccessToken_Expired(t *testing.T) {
	s := testStore(t)

	tok := testutil.GenerateTestAccessToken()
	tok.ExpiresAt = time.Now().Add(-time.Second)
	assert.Error(t, s.SaveAccessToken(context.Background(), tok))
}

// ============================================================
// Encryption Tests
// ============================================================

func TestEncryptionAtRest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	key, err := security.GenerateKey()
	require.NoError(t, err)
	enc, err := security.NewEncryptor(key)
	require.NoError(t, err)
	s.SetEncryptor(enc)

	tok := testutil.GenerateTestAccessToken()
	require.NoError(t, s.SaveAccessToken(ctx, tok))

	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey(tok.Token)).Build()).ToString()
	require.NoError(t, err)
	assert.False(t, strings.Contains(raw, tok.ClientID), "stored value must not contain plaintext")

	got, err := s.GetAccessToken(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, tok.ClientID, got.ClientID)

	// A sealed value copied under another key must not decrypt.
	other := s.tokenKey("other")
	require.NoError(t, s.client.Do(ctx, s.client.B().Set().Key(other).Value(raw).Build()).Error())
	_, err = s.GetAccessToken(ctx, "other")
	assert.ErrorIs(t, err, security.ErrDecrypt)
}
