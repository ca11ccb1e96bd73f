package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"

	"github.com/giantswarm/mcp-authflow/storage"
)

// MockTime is a controllable clock. It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a clock frozen at t.
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString returns a base64url string built from n random bytes.
func GenerateRandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// GeneratePKCEPair returns an S256 verifier and its challenge.
func GeneratePKCEPair() (verifier, challenge string) {
	verifier = GenerateRandomString(32)
	return verifier, S256Challenge(verifier)
}

// S256Challenge computes BASE64URL(SHA256(verifier)).
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateTestClient creates a public client with a loopback redirect URI.
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:                "test-client-id",
		ClientType:              "public",
		RedirectURIs:            []string{"http://127.0.0.1:8765/callback"},
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code"},
		ResponseTypes:           []string{"code"},
		ClientName:              "Test Client",
		Scopes:                  []string{"user"},
		CreatedAt:               time.Now(),
	}
}

// GenerateTestPendingAuthorization creates a pending authorization for
// GenerateTestClient.
func GenerateTestPendingAuthorization() *storage.PendingAuthorization {
	_, challenge := GeneratePKCEPair()
	now := time.Now()
	return &storage.PendingAuthorization{
		State:                         GenerateRandomString(16),
		ClientID:                      "test-client-id",
		RedirectURI:                   "http://127.0.0.1:8765/callback",
		RedirectURIProvidedExplicitly: true,
		CodeChallenge:                 challenge,
		CodeChallengeMethod:           "S256",
		Scopes:                        []string{"user"},
		CreatedAt:                     now,
		ExpiresAt:                     now.Add(10 * time.Minute),
	}
}

// GenerateTestAuthorizationCode creates a live authorization code.
func GenerateTestAuthorizationCode() *storage.AuthorizationCode {
	_, challenge := GeneratePKCEPair()
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:                          GenerateRandomString(32),
		ClientID:                      "test-client-id",
		Scopes:                        []string{"user"},
		CodeChallenge:                 challenge,
		RedirectURI:                   "http://127.0.0.1:8765/callback",
		RedirectURIProvidedExplicitly: true,
		IssuedAt:                      now,
		ExpiresAt:                     now.Add(5 * time.Minute),
	}
}

// GenerateTestAccessToken creates a token valid for an hour.
func GenerateTestAccessToken() *storage.AccessToken {
	now := time.Now()
	return &storage.AccessToken{
		Token:     GenerateRandomString(32),
		ClientID:  "test-client-id",
		Scopes:    []string{"user"},
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}
