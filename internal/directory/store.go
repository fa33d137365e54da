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

package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Membership is one identity's membership row, joined with its account's
// owner. An identity has at most one membership row system-wide.
type Membership struct {
	AccountID     string
	Identity      string
	Role          string // RoleOwner or RoleMember
	Status        string // StatusPending, StatusActive, StatusRemoved
	OwnerIdentity string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store provides Postgres-backed account and membership state.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a directory store backed by the given Postgres pool.
// It ensures the accounts and memberships tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure directory schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id             TEXT PRIMARY KEY,
			owner_identity TEXT NOT NULL,
			created_at     TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS account_memberships (
			id         BIGSERIAL PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			identity   TEXT NOT NULL UNIQUE,
			role       TEXT NOT NULL,
			status     TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_memberships_one_member
			ON account_memberships(account_id)
			WHERE role = 'member' AND status IN ('pending', 'active');
		CREATE INDEX IF NOT EXISTS idx_memberships_account
			ON account_memberships(account_id);
	`)
	return err
}

const membershipColumns = `
	m.account_id, m.identity, m.role, m.status, a.owner_identity,
	m.created_at, m.updated_at`

// FindActiveMembership returns the identity's active membership, owner
// preferred on the (theoretical) tie, or nil if none exists.
func (s *Store) FindActiveMembership(ctx context.Context, identity string) (*Membership, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+membershipColumns+`
		FROM account_memberships m
		JOIN accounts a ON a.id = m.account_id
		WHERE m.identity = $1 AND m.status = 'active'
		ORDER BY CASE WHEN m.role = 'owner' THEN 0 ELSE 1 END
		LIMIT 1
	`, identity)
	return scanMembership(row)
}

// FindPendingMembership returns the identity's pending membership, or nil.
func (s *Store) FindPendingMembership(ctx context.Context, identity string) (*Membership, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+membershipColumns+`
		FROM account_memberships m
		JOIN accounts a ON a.id = m.account_id
		WHERE m.identity = $1 AND m.status = 'pending'
		LIMIT 1
	`, identity)
	return scanMembership(row)
}

// ActivateMembership flips a pending membership to active. The pending
// status guard makes pending→active happen at most once per row.
func (s *Store) ActivateMembership(ctx context.Context, accountID, identity string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE account_memberships
		SET status = 'active', updated_at = NOW()
		WHERE account_id = $1 AND identity = $2 AND status = 'pending'
	`, accountID, identity)
	return err
}

// HasAnyMembership reports whether the identity has a membership row in
// any status.
func (s *Store) HasAnyMembership(ctx context.Context, identity string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM account_memberships WHERE identity = $1)
	`, identity).Scan(&exists)
	return exists, err
}

// CreateAccountWithOwner provisions a new account and its owner membership
// in one transaction.
func (s *Store) CreateAccountWithOwner(ctx context.Context, accountID, identity string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin provision tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO accounts (id, owner_identity) VALUES ($1, $2)
	`, accountID, identity); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO account_memberships (account_id, identity, role, status)
		VALUES ($1, $2, 'owner', 'active')
	`, accountID, identity); err != nil {
		return fmt.Errorf("insert owner membership: %w", err)
	}

	return tx.Commit(ctx)
}

// FindMemberIdentity returns the account's non-owner member identity in
// pending or active status, or "" if the account has none.
func (s *Store) FindMemberIdentity(ctx context.Context, accountID string) (string, error) {
	var identity string
	err := s.pool.QueryRow(ctx, `
		SELECT identity FROM account_memberships
		WHERE account_id = $1 AND role = 'member' AND status IN ('pending', 'active')
		LIMIT 1
	`, accountID).Scan(&identity)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return identity, nil
}

// GetMembership returns the identity's membership row regardless of status,
// or nil if the identity is unknown.
func (s *Store) GetMembership(ctx context.Context, identity string) (*Membership, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+membershipColumns+`
		FROM account_memberships m
		JOIN accounts a ON a.id = m.account_id
		WHERE m.identity = $1
		LIMIT 1
	`, identity)
	return scanMembership(row)
}

// InsertPendingMember adds a pending member membership. The identity
// uniqueness constraint and the one-member-per-account index enforce the
// system-wide invariants; callers map violations to conflicts.
func (s *Store) InsertPendingMember(ctx context.Context, accountID, identity string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_memberships (account_id, identity, role, status)
		VALUES ($1, $2, 'member', 'pending')
	`, accountID, identity)
	return err
}

// SetMembershipStatus updates the status of an existing membership row.
func (s *Store) SetMembershipStatus(ctx context.Context, accountID, identity, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE account_memberships
		SET status = $3, updated_at = NOW()
		WHERE account_id = $1 AND identity = $2
	`, accountID, identity, status)
	return err
}

// ListMemberships returns all membership rows for an account, owner first.
func (s *Store) ListMemberships(ctx context.Context, accountID string) ([]Membership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+membershipColumns+`
		FROM account_memberships m
		JOIN accounts a ON a.id = m.account_id
		WHERE m.account_id = $1
		ORDER BY CASE m.role WHEN 'owner' THEN 0 ELSE 1 END, m.created_at ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.AccountID, &m.Identity, &m.Role, &m.Status,
			&m.OwnerIdentity, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

func scanMembership(row pgx.Row) (*Membership, error) {
	var m Membership
	err := row.Scan(&m.AccountID, &m.Identity, &m.Role, &m.Status,
		&m.OwnerIdentity, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
