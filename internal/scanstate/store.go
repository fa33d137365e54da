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

// Package scanstate persists the per-(identity, provider) scan watermark:
// how far a mailbox has been scanned, and through which connection.
package scanstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Watermark records the last successful scan for a mailbox.
type Watermark struct {
	Identity      string
	Provider      string
	ConnectionID  int64
	LastScannedAt time.Time
}

// Store provides watermark persistence in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a watermark store and ensures its schema.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure scan state schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS scan_state (
			identity        TEXT NOT NULL,
			provider        TEXT NOT NULL,
			connection_id   BIGINT NOT NULL,
			last_scanned_at TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (identity, provider)
		);
	`)
	return err
}

// Get returns the watermark for (identity, provider), or nil if the
// mailbox has never completed a scan (callers fall back to the default
// lookback window).
func (s *Store) Get(ctx context.Context, identity, provider string) (*Watermark, error) {
	var w Watermark
	err := s.pool.QueryRow(ctx, `
		SELECT identity, provider, connection_id, last_scanned_at
		FROM scan_state
		WHERE identity = $1 AND provider = $2
	`, identity, provider).Scan(&w.Identity, &w.Provider, &w.ConnectionID, &w.LastScannedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Save upserts the watermark. The scanner calls this once per fully
// successful run, never per message.
func (s *Store) Save(ctx context.Context, w Watermark) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_state (identity, provider, connection_id, last_scanned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity, provider) DO UPDATE SET
			connection_id   = EXCLUDED.connection_id,
			last_scanned_at = EXCLUDED.last_scanned_at,
			updated_at      = NOW()
	`, w.Identity, w.Provider, w.ConnectionID, w.LastScannedAt)
	return err
}
