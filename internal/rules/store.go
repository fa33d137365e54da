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

package rules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Rule provenance values.
const (
	ProvenanceManual     = "manual"
	ProvenanceCorrection = "correction"
)

// Rule maps item names matching a pattern to a fixed category.
type Rule struct {
	ID           int64   `json:"id"`
	AccountID    string  `json:"-"`
	MatchPattern string  `json:"match_pattern"`
	Category     string  `json:"category"`
	Subcategory  *string `json:"subcategory"`
	Provenance   string  `json:"provenance"`
}

// Store persists categorization rules. Rules apply first-match-wins in
// insertion order, so the serial id doubles as the evaluation order.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure rules schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS categorization_rules (
			id            BIGSERIAL PRIMARY KEY,
			account_id    TEXT NOT NULL,
			match_pattern TEXT NOT NULL,
			category      TEXT NOT NULL,
			subcategory   TEXT,
			provenance    TEXT NOT NULL DEFAULT 'manual',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_rules_account ON categorization_rules (account_id, id);
	`)
	return err
}

// List returns the account's rules in evaluation order.
func (s *Store) List(ctx context.Context, accountID string) ([]Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, match_pattern, category, subcategory, provenance
		FROM categorization_rules
		WHERE account_id = $1
		ORDER BY id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.AccountID, &r.MatchPattern, &r.Category, &r.Subcategory, &r.Provenance); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Insert appends a rule at the end of the account's evaluation order.
func (s *Store) Insert(ctx context.Context, r Rule) (*Rule, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO categorization_rules (account_id, match_pattern, category, subcategory, provenance)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		r.AccountID, r.MatchPattern, r.Category, r.Subcategory, r.Provenance).Scan(&r.ID)
	if err != nil {
		return nil, fmt.Errorf("insert rule: %w", err)
	}
	return &r, nil
}

// Delete removes a rule. Returns false when the rule does not exist or
// belongs to another account.
func (s *Store) Delete(ctx context.Context, accountID string, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM categorization_rules WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return false, fmt.Errorf("delete rule: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get returns a single rule scoped to the account, or nil when absent.
func (s *Store) Get(ctx context.Context, accountID string, id int64) (*Rule, error) {
	var r Rule
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, match_pattern, category, subcategory, provenance
		FROM categorization_rules
		WHERE id = $1 AND account_id = $2`, id, accountID).
		Scan(&r.ID, &r.AccountID, &r.MatchPattern, &r.Category, &r.Subcategory, &r.Provenance)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return &r, nil
}
