// Copyright (c) 2026 Runway Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Connection statuses.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// ProviderGmail is the only mailbox provider currently implemented.
const ProviderGmail = "gmail"

// Connection is a person's stored mailbox authorization. Connections are
// scoped to the identity, not the account: removing a member from an
// account does not revoke their tokens.
type Connection struct {
	ID           int64
	Identity     string
	Provider     string
	AccessToken  string
	RefreshToken string
	Status       string
}

// ConnectionStore persists mailbox connections in Postgres, unique per
// (identity, provider).
type ConnectionStore struct {
	pool *pgxpool.Pool
}

// NewConnectionStore creates a connection store and ensures its schema.
func NewConnectionStore(ctx context.Context, pool *pgxpool.Pool) (*ConnectionStore, error) {
	s := &ConnectionStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure mailbox connection schema: %w", err)
	}
	return s, nil
}

func (s *ConnectionStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mailbox_connections (
			id            BIGSERIAL PRIMARY KEY,
			identity      TEXT NOT NULL,
			provider      TEXT NOT NULL,
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'connected',
			connected_at  TIMESTAMPTZ DEFAULT NOW(),
			updated_at    TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(identity, provider)
		);
	`)
	return err
}

// Upsert stores fresh tokens for (identity, provider) and marks the
// connection connected. Returns the connection id.
func (s *ConnectionStore) Upsert(ctx context.Context, identity, provider, accessToken, refreshToken string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO mailbox_connections (identity, provider, access_token, refresh_token, status)
		VALUES ($1, $2, $3, $4, 'connected')
		ON CONFLICT (identity, provider) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			status        = 'connected',
			updated_at    = NOW()
		RETURNING id
	`, identity, provider, accessToken, refreshToken).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert mailbox connection: %w", err)
	}
	return id, nil
}

// GetConnected returns the identity's connected mailbox for the provider,
// or nil if none.
func (s *ConnectionStore) GetConnected(ctx context.Context, identity, provider string) (*Connection, error) {
	var c Connection
	err := s.pool.QueryRow(ctx, `
		SELECT id, identity, provider, access_token, refresh_token, status
		FROM mailbox_connections
		WHERE identity = $1 AND provider = $2 AND status = 'connected'
		LIMIT 1
	`, identity, provider).Scan(&c.ID, &c.Identity, &c.Provider, &c.AccessToken, &c.RefreshToken, &c.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Disconnect flips the connection status without deleting stored tokens.
func (s *ConnectionStore) Disconnect(ctx context.Context, identity, provider string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE mailbox_connections
		SET status = 'disconnected', updated_at = NOW()
		WHERE identity = $1 AND provider = $2
	`, identity, provider)
	return err
}
