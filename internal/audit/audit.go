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

// Package audit provides an append-only event log for membership changes,
// mailbox connect/disconnect, scan lifecycle, and duplicate suppression.
// Audit writes never block or fail the pipeline: errors are logged and
// swallowed.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types written by the pipeline and the membership lifecycle.
const (
	EventScanStarted         = "scan_started"
	EventScanCompleted       = "scan_completed"
	EventScanFailed          = "scan_failed"
	EventDuplicateSuppressed = "duplicate_suppressed"
	EventMailboxConnected    = "mailbox_connected"
	EventMailboxDisconnected = "mailbox_disconnected"
	EventMemberInvited       = "member_invited"
	EventMemberRemoved       = "member_removed"
	EventItemCorrected       = "item_corrected"
	EventItemSkipped         = "item_skipped"
)

// Event is a single audit record.
type Event struct {
	AccountID string
	Actor     string // identity that caused the event
	Type      string
	Target    string         // optional target identity
	Metadata  map[string]any // optional, stored as JSON
}

// Logger appends events to the audit_log table.
type Logger struct {
	pool *pgxpool.Pool
}

// NewLogger creates an audit logger and ensures its schema.
func NewLogger(ctx context.Context, pool *pgxpool.Pool) (*Logger, error) {
	l := &Logger{pool: pool}
	if err := l.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	return l, nil
}

func (l *Logger) ensureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_log (
			id          BIGSERIAL PRIMARY KEY,
			account_id  TEXT,
			actor       TEXT,
			event_type  TEXT NOT NULL,
			target      TEXT,
			metadata    JSONB,
			created_at  TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_account ON audit_log(account_id, created_at);
	`)
	return err
}

// Write appends an event. It never returns an error; a failed audit
// write must not fail the operation being audited.
func (l *Logger) Write(ctx context.Context, ev Event) {
	var meta []byte
	if ev.Metadata != nil {
		var err error
		meta, err = json.Marshal(ev.Metadata)
		if err != nil {
			slog.Warn("audit metadata marshal failed", "event_type", ev.Type, "error", err)
			meta = nil
		}
	}

	_, err := l.pool.Exec(ctx, `
		INSERT INTO audit_log (account_id, actor, event_type, target, metadata)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), $3, NULLIF($4, ''), $5)
	`, ev.AccountID, ev.Actor, ev.Type, ev.Target, meta)
	if err != nil {
		slog.Warn("audit write failed",
			"event_type", ev.Type,
			"account", ev.AccountID,
			"error", err,
		)
	}
}
