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

// Package pricehistory records per-item unit price observations for the
// trend analytics collaborators. The extractor writes here fire-and-forget;
// a lost observation is tolerable, a blocked parse is not.
package pricehistory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runwayhq/ingestion/internal/models"
)

// Observation is a single price point seen on a parsed receipt.
type Observation struct {
	Contributor string
	ItemName    string // raw human-readable name; normalized before storage
	UnitPrice   float64
	Retailer    string
	Date        string // YYYY-MM-DD
}

// Entry is a stored observation keyed by normalized item name.
type Entry struct {
	ID          int64   `json:"id"`
	Contributor string  `json:"contributor"`
	ItemName    string  `json:"item_name_normalized"`
	UnitPrice   float64 `json:"unit_price"`
	Retailer    string  `json:"retailer"`
	Date        string  `json:"date"`
}

// Store persists price observations in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a price history store and ensures its schema.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure price history schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS price_history (
			id                   BIGSERIAL PRIMARY KEY,
			contributor          TEXT NOT NULL,
			item_name_normalized TEXT NOT NULL,
			unit_price           DOUBLE PRECISION NOT NULL,
			retailer             TEXT NOT NULL,
			date                 TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_price_history_contributor_item
			ON price_history(contributor, item_name_normalized);
	`)
	return err
}

// Record appends observations for a parsed receipt.
func (s *Store) Record(ctx context.Context, observations []Observation) error {
	for _, o := range observations {
		normalized := models.NormalizeItemName(o.ItemName)
		if normalized == "" {
			continue
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO price_history (contributor, item_name_normalized, unit_price, retailer, date)
			VALUES ($1, $2, $3, $4, $5)
		`, o.Contributor, normalized, o.UnitPrice, o.Retailer, o.Date)
		if err != nil {
			return fmt.Errorf("insert price observation: %w", err)
		}
	}
	return nil
}

// History returns all observations for a normalized item name, oldest first.
func (s *Store) History(ctx context.Context, contributor, normalizedName string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, contributor, item_name_normalized, unit_price, retailer, date
		FROM price_history
		WHERE contributor = $1 AND item_name_normalized = $2
		ORDER BY date ASC
	`, contributor, normalizedName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Contributor, &e.ItemName, &e.UnitPrice, &e.Retailer, &e.Date); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
