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

// Package directory resolves user identities to account contexts and owns
// the membership lifecycle of shared two-person accounts.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/runwayhq/ingestion/internal/audit"
	"github.com/runwayhq/ingestion/internal/pgutil"
)

// Roles and membership statuses.
const (
	RoleOwner  = "owner"
	RoleMember = "member"

	StatusPending = "pending"
	StatusActive  = "active"
	StatusRemoved = "removed"
)

// ContributorFilter selects which contributors a read query covers.
type ContributorFilter string

const (
	FilterAll    ContributorFilter = "all"
	FilterOwner  ContributorFilter = "owner"
	FilterMember ContributorFilter = "member"
)

// ParseContributorFilter maps a query parameter to a filter. Empty means
// all; anything unrecognized is rejected.
func ParseContributorFilter(value string) (ContributorFilter, error) {
	switch value {
	case "", "all":
		return FilterAll, nil
	case "owner":
		return FilterOwner, nil
	case "member":
		return FilterMember, nil
	}
	return "", fmt.Errorf("invalid contributor filter %q", value)
}

// AccountContext is the resolved view of an identity within its account.
type AccountContext struct {
	AccountID      string
	Identity       string
	Role           string
	OwnerIdentity  string
	MemberIdentity string // "" when the account has no member
}

// Lifecycle conflicts surfaced by Invite.
var (
	ErrNotOwner               = errors.New("only the account owner may manage members")
	ErrSelfInvite             = errors.New("owner cannot invite themselves")
	ErrAlreadyActiveElsewhere = errors.New("identity already belongs to another active account")
	ErrAlreadyActive          = errors.New("identity is already an active member")
	ErrAlreadyPending         = errors.New("invite already pending")
	ErrMemberCapReached       = errors.New("account already has a member")
	ErrMemberNotFound         = errors.New("no such member")
)

// membershipStore is the storage surface the directory needs. Implemented
// by Store; faked in tests.
type membershipStore interface {
	FindActiveMembership(ctx context.Context, identity string) (*Membership, error)
	FindPendingMembership(ctx context.Context, identity string) (*Membership, error)
	ActivateMembership(ctx context.Context, accountID, identity string) error
	HasAnyMembership(ctx context.Context, identity string) (bool, error)
	CreateAccountWithOwner(ctx context.Context, accountID, identity string) error
	FindMemberIdentity(ctx context.Context, accountID string) (string, error)
	GetMembership(ctx context.Context, identity string) (*Membership, error)
	InsertPendingMember(ctx context.Context, accountID, identity string) error
	SetMembershipStatus(ctx context.Context, accountID, identity, status string) error
	ListMemberships(ctx context.Context, accountID string) ([]Membership, error)
}

// auditSink decouples the directory from the concrete audit logger.
type auditSink interface {
	Write(ctx context.Context, ev audit.Event)
}

// Directory resolves identities and manages membership lifecycle.
type Directory struct {
	store membershipStore
	audit auditSink
}

// New creates a Directory over the given store.
func New(store *Store, sink *audit.Logger) *Directory {
	return &Directory{store: store, audit: sink}
}

// NormalizeIdentity canonicalizes an identity for storage and lookup.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Resolve maps an identity to its account context.
//
// It activates a pending membership on the identity's first successful
// resolution, and auto-provisions an account (with this identity as owner)
// for a never-before-seen identity. It returns (nil, nil), not an error,
// when the identity has a membership row that is neither active nor
// activatable (e.g. removed); callers map that to "forbidden".
func (d *Directory) Resolve(ctx context.Context, identity string) (*AccountContext, error) {
	identity = NormalizeIdentity(identity)
	if identity == "" {
		return nil, nil
	}

	m, err := d.store.FindActiveMembership(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("find active membership: %w", err)
	}

	if m == nil {
		pending, err := d.store.FindPendingMembership(ctx, identity)
		if err != nil {
			return nil, fmt.Errorf("find pending membership: %w", err)
		}
		if pending != nil {
			if err := d.store.ActivateMembership(ctx, pending.AccountID, identity); err != nil {
				return nil, fmt.Errorf("activate membership: %w", err)
			}
			slog.Info("membership activated",
				"account", pending.AccountID,
				"identity", identity,
			)
			m, err = d.store.FindActiveMembership(ctx, identity)
			if err != nil {
				return nil, fmt.Errorf("find activated membership: %w", err)
			}
		}
	}

	if m == nil {
		hasAny, err := d.store.HasAnyMembership(ctx, identity)
		if err != nil {
			return nil, fmt.Errorf("check memberships: %w", err)
		}
		if hasAny {
			// A row exists but is not active or activatable (removed).
			return nil, nil
		}

		accountID := uuid.New().String()
		err = d.store.CreateAccountWithOwner(ctx, accountID, identity)
		switch {
		case err == nil:
			slog.Info("account auto-provisioned", "account", accountID, "identity", identity)
		case pgutil.IsUniqueViolation(err):
			// Lost a provisioning race; the winner's row serves us below.
		default:
			return nil, fmt.Errorf("provision account: %w", err)
		}

		m, err = d.store.FindActiveMembership(ctx, identity)
		if err != nil {
			return nil, fmt.Errorf("find provisioned membership: %w", err)
		}
	}

	if m == nil {
		return nil, nil
	}

	memberIdentity, err := d.store.FindMemberIdentity(ctx, m.AccountID)
	if err != nil {
		return nil, fmt.Errorf("find member identity: %w", err)
	}

	return &AccountContext{
		AccountID:      m.AccountID,
		Identity:       identity,
		Role:           m.Role,
		OwnerIdentity:  m.OwnerIdentity,
		MemberIdentity: memberIdentity,
	}, nil
}

// ContributorIdentities returns the identities the filter selects within
// the account: owner only, member only (empty if none), or the union.
func (d *Directory) ContributorIdentities(actx *AccountContext, filter ContributorFilter) []string {
	switch filter {
	case FilterOwner:
		return []string{actx.OwnerIdentity}
	case FilterMember:
		if actx.MemberIdentity == "" {
			return nil
		}
		return []string{actx.MemberIdentity}
	}

	ids := []string{actx.OwnerIdentity}
	if actx.MemberIdentity != "" && actx.MemberIdentity != actx.OwnerIdentity {
		ids = append(ids, actx.MemberIdentity)
	}
	return ids
}

// Invite adds identity as the account's pending member. Owner-only; the
// v1 cap is one member per account.
func (d *Directory) Invite(ctx context.Context, actx *AccountContext, identity string) error {
	if actx.Role != RoleOwner {
		return ErrNotOwner
	}

	identity = NormalizeIdentity(identity)
	if identity == "" || !strings.Contains(identity, "@") {
		return fmt.Errorf("valid identity is required")
	}
	if identity == NormalizeIdentity(actx.OwnerIdentity) {
		return ErrSelfInvite
	}

	existing, err := d.store.GetMembership(ctx, identity)
	if err != nil {
		return fmt.Errorf("check existing membership: %w", err)
	}

	if existing != nil {
		if existing.AccountID != actx.AccountID {
			return ErrAlreadyActiveElsewhere
		}
		switch existing.Status {
		case StatusActive:
			return ErrAlreadyActive
		case StatusPending:
			return ErrAlreadyPending
		case StatusRemoved:
			if err := d.store.SetMembershipStatus(ctx, actx.AccountID, identity, StatusPending); err != nil {
				return fmt.Errorf("reinstate membership: %w", err)
			}
			d.writeMemberEvent(ctx, actx, audit.EventMemberInvited, identity, StatusPending)
			return nil
		}
	}

	err = d.store.InsertPendingMember(ctx, actx.AccountID, identity)
	if pgutil.IsUniqueViolation(err) {
		// Raced another invite or the one-member cap.
		return ErrMemberCapReached
	}
	if err != nil {
		return fmt.Errorf("insert pending member: %w", err)
	}

	d.writeMemberEvent(ctx, actx, audit.EventMemberInvited, identity, StatusPending)
	return nil
}

// RemoveMember marks the account's member membership removed. Historical
// receipts stay attributed to the removed contributor; only access ends.
func (d *Directory) RemoveMember(ctx context.Context, actx *AccountContext, identity string) error {
	if actx.Role != RoleOwner {
		return ErrNotOwner
	}

	identity = NormalizeIdentity(identity)
	m, err := d.store.GetMembership(ctx, identity)
	if err != nil {
		return fmt.Errorf("find membership: %w", err)
	}
	if m == nil || m.AccountID != actx.AccountID || m.Role != RoleMember {
		return ErrMemberNotFound
	}

	if err := d.store.SetMembershipStatus(ctx, actx.AccountID, identity, StatusRemoved); err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}

	d.writeMemberEvent(ctx, actx, audit.EventMemberRemoved, identity, StatusRemoved)
	return nil
}

// Members lists the account's membership rows.
func (d *Directory) Members(ctx context.Context, actx *AccountContext) ([]Membership, error) {
	return d.store.ListMemberships(ctx, actx.AccountID)
}

func (d *Directory) writeMemberEvent(ctx context.Context, actx *AccountContext, eventType, target, status string) {
	if d.audit == nil {
		return
	}
	d.audit.Write(ctx, audit.Event{
		AccountID: actx.AccountID,
		Actor:     actx.Identity,
		Type:      eventType,
		Target:    target,
		Metadata:  map[string]any{"status": status},
	})
}
