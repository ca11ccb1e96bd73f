package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // database/sql driver "sqlite3"

	"github.com/giantswarm/mcp-authflow/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS oauth_clients (
	client_id                  TEXT PRIMARY KEY,
	client_secret_hash         TEXT NOT NULL DEFAULT '',
	client_type                TEXT NOT NULL,
	redirect_uris              TEXT NOT NULL,
	token_endpoint_auth_method TEXT NOT NULL,
	grant_types                TEXT NOT NULL DEFAULT '[]',
	response_types             TEXT NOT NULL DEFAULT '[]',
	client_name                TEXT NOT NULL DEFAULT '',
	scopes                     TEXT NOT NULL DEFAULT '[]',
	created_at                 TIMESTAMP NOT NULL
);`

const upsertClient = `
INSERT INTO oauth_clients (
	client_id, client_secret_hash, client_type, redirect_uris,
	token_endpoint_auth_method, grant_types, response_types,
	client_name, scopes, created_at
) VALUES (
	:client_id, :client_secret_hash, :client_type, :redirect_uris,
	:token_endpoint_auth_method, :grant_types, :response_types,
	:client_name, :scopes, :created_at
)
ON CONFLICT(client_id) DO UPDATE SET
	client_secret_hash = excluded.client_secret_hash,
	client_type = excluded.client_type,
	redirect_uris = excluded.redirect_uris,
	token_endpoint_auth_method = excluded.token_endpoint_auth_method,
	grant_types = excluded.grant_types,
	response_types = excluded.response_types,
	client_name = excluded.client_name,
	scopes = excluded.scopes`

// ClientStore is a storage.ClientStore backed by SQLite.
type ClientStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ storage.ClientStore = (*ClientStore)(nil)

// clientRow maps the oauth_clients table. List columns hold JSON arrays.
type clientRow struct {
	ClientID                string    `db:"client_id"`
	ClientSecretHash        string    `db:"client_secret_hash"`
	ClientType              string    `db:"client_type"`
	RedirectURIs            string    `db:"redirect_uris"`
	TokenEndpointAuthMethod string    `db:"token_endpoint_auth_method"`
	GrantTypes              string    `db:"grant_types"`
	ResponseTypes           string    `db:"response_types"`
	ClientName              string    `db:"client_name"`
	Scopes                  string    `db:"scopes"`
	CreatedAt               time.Time `db:"created_at"`
}

// Open opens (or creates) the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*ClientStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s, err := New(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Opened sqlite client registry", "dsn", dsn)
	return s, nil
}

// New wraps an existing connection and applies the schema.
func New(ctx context.Context, db *sqlx.DB, logger *slog.Logger) (*ClientStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &ClientStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *ClientStore) Close() error {
	return s.db.Close()
}

// SaveClient inserts or replaces a client.
func (s *ClientStore) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}

	row, err := toRow(client)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, upsertClient, row); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient returns storage.ErrClientNotFound for unknown IDs.
func (s *ClientStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var row clientRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM oauth_clients WHERE client_id = ?`, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return fromRow(&row)
}

// ListClients returns every client, oldest first.
func (s *ClientStore) ListClients(ctx context.Context) ([]*storage.Client, error) {
	var rows []clientRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM oauth_clients ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	clients := make([]*storage.Client, 0, len(rows))
	for i := range rows {
		c, err := fromRow(&rows[i])
		if err != nil {
			s.logger.Warn("Skipping unreadable client row", "client_id", rows[i].ClientID, "error", err)
			continue
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func toRow(c *storage.Client) (*clientRow, error) {
	row := &clientRow{
		ClientID:                c.ClientID,
		ClientSecretHash:        c.ClientSecretHash,
		ClientType:              c.ClientType,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		ClientName:              c.ClientName,
		CreatedAt:               c.CreatedAt.UTC(),
	}
	var err error
	if row.RedirectURIs, err = encodeList(c.RedirectURIs); err != nil {
		return nil, err
	}
	if row.GrantTypes, err = encodeList(c.GrantTypes); err != nil {
		return nil, err
	}
	if row.ResponseTypes, err = encodeList(c.ResponseTypes); err != nil {
		return nil, err
	}
	if row.Scopes, err = encodeList(c.Scopes); err != nil {
		return nil, err
	}
	return row, nil
}

func fromRow(row *clientRow) (*storage.Client, error) {
	c := &storage.Client{
		ClientID:                row.ClientID,
		ClientSecretHash:        row.ClientSecretHash,
		ClientType:              row.ClientType,
		TokenEndpointAuthMethod: row.TokenEndpointAuthMethod,
		ClientName:              row.ClientName,
		CreatedAt:               row.CreatedAt,
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{row.RedirectURIs, &c.RedirectURIs},
		{row.GrantTypes, &c.GrantTypes},
		{row.ResponseTypes, &c.ResponseTypes},
		{row.Scopes, &c.Scopes},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode client %s: %w", row.ClientID, err)
		}
	}
	return c, nil
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}
