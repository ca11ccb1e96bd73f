package valkey

import (
	"context"
	"fmt"
	"sort"

	"github.com/giantswarm/mcp-authflow/storage"
)

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client. Clients never expire.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.observe(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil {
		return fmt.Errorf("invalid client")
	}
	if err := validateKeyPart(client.ClientID); err != nil {
		return err
	}

	key := s.clientKey(client.ClientID)
	value, err := s.encode(key, toClientJSON(client))
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (c *storage.Client, err error) {
	ctx, done := s.observe(ctx, "get_client")
	defer func() { done(err) }()

	key := s.clientKey(clientID)
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := s.decode(key, data, &j); err != nil {
		return nil, fmt.Errorf("client %s: %w", clientID, err)
	}
	return fromClientJSON(&j), nil
}

// ListClients scans all client keys. Entries that fail to decode are logged
// and skipped.
func (s *Store) ListClients(ctx context.Context) (clients []*storage.Client, err error) {
	ctx, done := s.observe(ctx, "list_clients")
	defer func() { done(err) }()

	pattern := s.clientKey("*")
	seen := make(map[string]*storage.Client)

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan clients: %w", err)
		}

		for _, key := range result.Elements {
			// SCAN may return a key more than once.
			if _, ok := seen[key]; ok {
				continue
			}
			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
			if err != nil {
				if isNilError(err) {
					continue
				}
				return nil, fmt.Errorf("failed to get client %s: %w", key, err)
			}
			var j clientJSON
			if err := s.decode(key, data, &j); err != nil {
				s.logger.Warn("Failed to decode client, skipping", "key", key, "error", err)
				continue
			}
			seen[key] = fromClientJSON(&j)
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	clients = make([]*storage.Client, 0, len(seen))
	for _, c := range seen {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})
	return clients, nil
}
