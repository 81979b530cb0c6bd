package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/modconsole/internal/cases"
)

// ClientsSchema creates the staff client table read by PostgresClientStore.
const ClientsSchema = `
CREATE TABLE IF NOT EXISTS oauth_clients (
	client_id   TEXT PRIMARY KEY,
	secret_hash TEXT NOT NULL,
	scopes      TEXT[] NOT NULL DEFAULT '{}',
	role        TEXT NOT NULL CHECK (role IN ('moderator', 'admin'))
);
`

type PostgresClientStore struct {
	Pool *pgxpool.Pool
}

func (s *PostgresClientStore) Migrate(ctx context.Context) error {
	if s.Pool == nil {
		return errors.New("missing pool")
	}
	_, err := s.Pool.Exec(ctx, ClientsSchema)
	return err
}

func (s *PostgresClientStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	if s.Pool == nil {
		return nil, errors.New("missing pool")
	}

	var c Client
	var scopes []string
	var role string
	err := s.Pool.QueryRow(ctx, `SELECT client_id, secret_hash, scopes, role FROM oauth_clients WHERE client_id = $1`, clientID).Scan(&c.ID, &c.SecretHash, &scopes, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	c.Scopes = scopes
	c.Role = cases.Role(role)
	return &c, nil
}
