// Package mock provides mock implementations of storage interfaces for testing.
//
// Every mock keeps a working map-backed default for each method. Tests
// override individual Func fields to inject failures.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/giantswarm/mcp-authflow/storage"
)

// callCounter counts method invocations.
type callCounter struct {
	countMu sync.Mutex
	counts  map[string]int
}

func (c *callCounter) inc(name string) {
	c.countMu.Lock()
	defer c.countMu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[name]++
}

// CallCount returns how many times the named method was called.
func (c *callCounter) CallCount(name string) int {
	c.countMu.Lock()
	defer c.countMu.Unlock()
	return c.counts[name]
}

// ResetCallCounts resets all call counters
func (c *callCounter) ResetCallCounts() {
	c.countMu.Lock()
	defer c.countMu.Unlock()
	c.counts = make(map[string]int)
}

// MockClientStore is a mock implementation of ClientStore for testing
type MockClientStore struct {
	callCounter
	mu              sync.RWMutex
	clients         map[string]*storage.Client
	SaveClientFunc  func(ctx context.Context, client *storage.Client) error
	GetClientFunc   func(ctx context.Context, clientID string) (*storage.Client, error)
	ListClientsFunc func(ctx context.Context) ([]*storage.Client, error)
}

var _ storage.ClientStore = (*MockClientStore)(nil)

// NewMockClientStore creates a new mock client store
func NewMockClientStore() *MockClientStore {
	m := &MockClientStore{clients: make(map[string]*storage.Client)}

	m.SaveClientFunc = func(_ context.Context, client *storage.Client) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.clients[client.ClientID] = client.Clone()
		return nil
	}

	m.GetClientFunc = func(_ context.Context, clientID string) (*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		c, ok := m.clients[clientID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return c.Clone(), nil
	}

	m.ListClientsFunc = func(_ context.Context) ([]*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		out := make([]*storage.Client, 0, len(m.clients))
		for _, c := range m.clients {
			out = append(out, c.Clone())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
		return out, nil
	}

	return m
}

// SaveClient saves a client
func (m *MockClientStore) SaveClient(ctx context.Context, client *storage.Client) error {
	m.inc("SaveClient")
	return m.SaveClientFunc(ctx, client)
}

// GetClient retrieves a client
func (m *MockClientStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.inc("GetClient")
	return m.GetClientFunc(ctx, clientID)
}

// ListClients lists all clients
func (m *MockClientStore) ListClients(ctx context.Context) ([]*storage.Client, error) {
	m.inc("ListClients")
	return m.ListClientsFunc(ctx)
}

// MockFlowStore is a mock implementation of FlowStore for testing
type MockFlowStore struct {
	callCounter
	mu      sync.Mutex
	pending map[string]*storage.PendingAuthorization
	codes   map[string]*storage.AuthorizationCode

	SavePendingAuthorizationFunc    func(ctx context.Context, pending *storage.PendingAuthorization) error
	GetPendingAuthorizationFunc     func(ctx context.Context, state string) (*storage.PendingAuthorization, error)
	ConsumePendingAuthorizationFunc func(ctx context.Context, state string) (*storage.PendingAuthorization, error)
	SaveAuthorizationCodeFunc       func(ctx context.Context, code *storage.AuthorizationCode) error
	GetAuthorizationCodeFunc        func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	ClaimAuthorizationCodeFunc      func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
}

var _ storage.FlowStore = (*MockFlowStore)(nil)

// NewMockFlowStore creates a new mock flow store
func NewMockFlowStore() *MockFlowStore {
	m := &MockFlowStore{
		pending: make(map[string]*storage.PendingAuthorization),
		codes:   make(map[string]*storage.AuthorizationCode),
	}

	m.SavePendingAuthorizationFunc = func(_ context.Context, p *storage.PendingAuthorization) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, exists := m.pending[p.State]; exists {
			return storage.ErrPendingAuthorizationExists
		}
		m.pending[p.State] = p.Clone()
		return nil
	}

	m.GetPendingAuthorizationFunc = func(_ context.Context, state string) (*storage.PendingAuthorization, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		p, ok := m.pending[state]
		if !ok {
			return nil, storage.ErrPendingAuthorizationNotFound
		}
		return p.Clone(), nil
	}

	m.ConsumePendingAuthorizationFunc = func(_ context.Context, state string) (*storage.PendingAuthorization, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		p, ok := m.pending[state]
		if !ok {
			return nil, storage.ErrPendingAuthorizationNotFound
		}
		delete(m.pending, state)
		return p, nil
	}

	m.SaveAuthorizationCodeFunc = func(_ context.Context, c *storage.AuthorizationCode) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, exists := m.codes[c.Code]; exists {
			return storage.ErrAuthorizationCodeExists
		}
		m.codes[c.Code] = c.Clone()
		return nil
	}

	m.GetAuthorizationCodeFunc = func(_ context.Context, code string) (*storage.AuthorizationCode, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		c, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return c.Clone(), nil
	}

	m.ClaimAuthorizationCodeFunc = func(_ context.Context, code string) (*storage.AuthorizationCode, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		c, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		delete(m.codes, code)
		return c, nil
	}

	return m
}

// SavePendingAuthorization saves a pending authorization
func (m *MockFlowStore) SavePendingAuthorization(ctx context.Context, p *storage.PendingAuthorization) error {
	m.inc("SavePendingAuthorization")
	return m.SavePendingAuthorizationFunc(ctx, p)
}

// GetPendingAuthorization retrieves a pending authorization
func (m *MockFlowStore) GetPendingAuthorization(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	m.inc("GetPendingAuthorization")
	return m.GetPendingAuthorizationFunc(ctx, state)
}

// ConsumePendingAuthorization reads and removes a pending authorization
func (m *MockFlowStore) ConsumePendingAuthorization(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	m.inc("ConsumePendingAuthorization")
	return m.ConsumePendingAuthorizationFunc(ctx, state)
}

// SaveAuthorizationCode saves an authorization code
func (m *MockFlowStore) SaveAuthorizationCode(ctx context.Context, c *storage.AuthorizationCode) error {
	m.inc("SaveAuthorizationCode")
	return m.SaveAuthorizationCodeFunc(ctx, c)
}

// GetAuthorizationCode retrieves an authorization code
func (m *MockFlowStore) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.inc("GetAuthorizationCode")
	return m.GetAuthorizationCodeFunc(ctx, code)
}

// ClaimAuthorizationCode reads and removes an authorization code
func (m *MockFlowStore) ClaimAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.inc("ClaimAuthorizationCode")
	return m.ClaimAuthorizationCodeFunc(ctx, code)
}

// MockAccessTokenStore is a mock implementation of AccessTokenStore for testing
type MockAccessTokenStore struct {
	callCounter
	mu     sync.RWMutex
	tokens map[string]*storage.AccessToken

	SaveAccessTokenFunc   func(ctx context.Context, token *storage.AccessToken) error
	GetAccessTokenFunc    func(ctx context.Context, token string) (*storage.AccessToken, error)
	DeleteAccessTokenFunc func(ctx context.Context, token string) error
}

var _ storage.AccessTokenStore = (*MockAccessTokenStore)(nil)

// NewMockAccessTokenStore creates a new mock token store
func NewMockAccessTokenStore() *MockAccessTokenStore {
	m := &MockAccessTokenStore{tokens: make(map[string]*storage.AccessToken)}

	m.SaveAccessTokenFunc = func(_ context.Context, t *storage.AccessToken) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.tokens[t.Token] = t.Clone()
		return nil
	}

	m.GetAccessTokenFunc = func(_ context.Context, token string) (*storage.AccessToken, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		t, ok := m.tokens[token]
		if !ok {
			return nil, storage.ErrAccessTokenNotFound
		}
		return t.Clone(), nil
	}

	m.DeleteAccessTokenFunc = func(_ context.Context, token string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.tokens, token)
		return nil
	}

	return m
}

// SaveAccessToken saves an access token
func (m *MockAccessTokenStore) SaveAccessToken(ctx context.Context, t *storage.AccessToken) error {
	m.inc("SaveAccessToken")
	return m.SaveAccessTokenFunc(ctx, t)
}

// GetAccessToken retrieves an access token
func (m *MockAccessTokenStore) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	m.inc("GetAccessToken")
	return m.GetAccessTokenFunc(ctx, token)
}

// DeleteAccessToken removes an access token
func (m *MockAccessTokenStore) DeleteAccessToken(ctx context.Context, token string) error {
	m.inc("DeleteAccessToken")
	return m.DeleteAccessTokenFunc(ctx, token)
}
