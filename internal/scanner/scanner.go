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

// Package scanner queries the external mailbox for candidate purchase
// mail, classifies senders, creates skeleton receipts behind a two-tier
// dedupe, and advances the scan watermark once per successful run.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/runwayhq/ingestion/internal/audit"
	"github.com/runwayhq/ingestion/internal/directory"
	"github.com/runwayhq/ingestion/internal/mailbox"
	"github.com/runwayhq/ingestion/internal/models"
	"github.com/runwayhq/ingestion/internal/scanstate"
)

// receiptStore is the persistence surface the scanner needs.
// Implemented by receipts.Store.
type receiptStore interface {
	ExistsByMessageID(ctx context.Context, accountID, messageID string) (bool, error)
	ExistsByHash(ctx context.Context, accountID, hash string) (bool, error)
	InsertSkeleton(ctx context.Context, r models.Receipt) (bool, error)
}

// watermarkStore is the scan cursor surface. Implemented by scanstate.Store.
type watermarkStore interface {
	Get(ctx context.Context, identity, provider string) (*scanstate.Watermark, error)
	Save(ctx context.Context, w scanstate.Watermark) error
}

// auditSink decouples the scanner from the concrete audit logger.
type auditSink interface {
	Write(ctx context.Context, ev audit.Event)
}

// Result summarises a completed scan run.
type Result struct {
	Scanned int `json:"scanned"`
	New     int `json:"new"`
	Skipped int `json:"skipped"`
}

// Scanner performs mailbox scans for one provider.
type Scanner struct {
	providerName string
	detector     *Detector
	receipts     receiptStore
	watermarks   watermarkStore
	audit        auditSink
	lookback     time.Duration
	pageSize     int64

	now func() time.Time // injectable clock for tests
}

// ScannerConfig holds dependencies for the scanner.
type ScannerConfig struct {
	ProviderName string
	Detector     *Detector
	Receipts     receiptStore
	Watermarks   watermarkStore
	Audit        auditSink
	Lookback     time.Duration
	PageSize     int64
}

// New creates a mailbox scanner.
func New(cfg ScannerConfig) *Scanner {
	lookback := cfg.Lookback
	if lookback == 0 {
		lookback = 90 * 24 * time.Hour
	}
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = 200
	}
	return &Scanner{
		providerName: cfg.ProviderName,
		detector:     cfg.Detector,
		receipts:     cfg.Receipts,
		watermarks:   cfg.Watermarks,
		audit:        cfg.Audit,
		lookback:     lookback,
		pageSize:     pageSize,
		now:          time.Now,
	}
}

// Scan runs one scan of the caller's mailbox through the given provider
// connection. Skeleton receipts are attributed to the caller as
// contributor within their account.
//
// The watermark advances once, after the whole run succeeds. A run that
// fails partway keeps its inserted receipts; the next run re-lists the
// same window and skips them cheaply via the primary dedupe.
func (s *Scanner) Scan(ctx context.Context, actx *directory.AccountContext, provider mailbox.Provider, connectionID int64) (*Result, error) {
	lowerBound, err := s.lowerBound(ctx, actx.Identity)
	if err != nil {
		return nil, err
	}

	query := s.detector.SenderQuery(lowerBound.Unix())
	slog.Info("mailbox scan started",
		"account", actx.AccountID,
		"identity", actx.Identity,
		"provider", s.providerName,
		"since", lowerBound.Format(time.RFC3339),
	)
	s.audit.Write(ctx, audit.Event{
		AccountID: actx.AccountID,
		Actor:     actx.Identity,
		Type:      audit.EventScanStarted,
	})

	ids, err := provider.ListMessageIDs(ctx, query, s.pageSize)
	if err != nil {
		s.failScan(ctx, actx, err)
		return nil, fmt.Errorf("list candidate messages: %w", err)
	}

	result := &Result{}
	for _, id := range ids {
		result.Scanned++

		kind, err := s.processMessage(ctx, actx, provider, id)
		if err != nil {
			s.failScan(ctx, actx, err)
			return nil, err
		}

		switch kind {
		case outcomeNew:
			result.New++
		case outcomeSkipped:
			result.Skipped++
		}
	}

	if err := s.watermarks.Save(ctx, scanstate.Watermark{
		Identity:      actx.Identity,
		Provider:      s.providerName,
		ConnectionID:  connectionID,
		LastScannedAt: s.now().UTC(),
	}); err != nil {
		s.failScan(ctx, actx, err)
		return nil, fmt.Errorf("save scan watermark: %w", err)
	}

	slog.Info("mailbox scan complete",
		"account", actx.AccountID,
		"identity", actx.Identity,
		"scanned", result.Scanned,
		"new", result.New,
		"skipped", result.Skipped,
	)
	s.audit.Write(ctx, audit.Event{
		AccountID: actx.AccountID,
		Actor:     actx.Identity,
		Type:      audit.EventScanCompleted,
		Metadata: map[string]any{
			"scanned": result.Scanned,
			"new":     result.New,
			"skipped": result.Skipped,
		},
	})

	return result, nil
}

type outcome int

const (
	outcomeNew outcome = iota
	outcomeSkipped
)

// processMessage applies both dedupe tiers and inserts a skeleton receipt
// for a message that survives them.
func (s *Scanner) processMessage(ctx context.Context, actx *directory.AccountContext, provider mailbox.Provider, messageID string) (outcome, error) {
	// Primary dedupe: external message id.
	exists, err := s.receipts.ExistsByMessageID(ctx, actx.AccountID, messageID)
	if err != nil {
		return 0, fmt.Errorf("check message id dedupe: %w", err)
	}
	if exists {
		s.auditDuplicate(ctx, actx, messageID, models.DuplicateByMessageID)
		return outcomeSkipped, nil
	}

	msg, err := provider.GetMessage(ctx, messageID)
	if err != nil {
		return 0, fmt.Errorf("fetch message: %w", err)
	}

	retailer, ok := s.detector.Classify(msg.From)
	if !ok {
		// Allow-list queries can still surface non-purchase senders.
		return outcomeSkipped, nil
	}

	isoDate := toISODate(msg.Date, s.now())

	// Secondary dedupe: heuristic hash over retailer, date, order suffix,
	// and snippet prefix. Catches provider resends with fresh message ids.
	hash := DedupeHash(retailer, isoDate, msg.Subject, msg.Snippet)
	exists, err = s.receipts.ExistsByHash(ctx, actx.AccountID, hash)
	if err != nil {
		return 0, fmt.Errorf("check heuristic dedupe: %w", err)
	}
	if exists {
		s.auditDuplicate(ctx, actx, messageID, models.DuplicateByHash)
		return outcomeSkipped, nil
	}

	inserted, err := s.receipts.InsertSkeleton(ctx, models.Receipt{
		ID:              uuid.New().String(),
		AccountID:       actx.AccountID,
		Contributor:     actx.Identity,
		Retailer:        retailer,
		TransactionDate: isoDate,
		RawMessageID:    messageID,
		DedupeHash:      &hash,
	})
	if err != nil {
		return 0, fmt.Errorf("insert skeleton receipt: %w", err)
	}
	if !inserted {
		// A concurrent scan won the insert race; same as a duplicate.
		s.auditDuplicate(ctx, actx, messageID, models.DuplicateByMessageID)
		return outcomeSkipped, nil
	}

	return outcomeNew, nil
}

// lowerBound resolves the scan window start: the stored watermark, or the
// default lookback for a never-scanned mailbox.
func (s *Scanner) lowerBound(ctx context.Context, identity string) (time.Time, error) {
	w, err := s.watermarks.Get(ctx, identity, s.providerName)
	if err != nil {
		return time.Time{}, fmt.Errorf("read scan watermark: %w", err)
	}
	if w == nil {
		return s.now().UTC().Add(-s.lookback), nil
	}
	return w.LastScannedAt, nil
}

func (s *Scanner) auditDuplicate(ctx context.Context, actx *directory.AccountContext, messageID string, kind models.DuplicateKind) {
	slog.Info("duplicate message suppressed",
		"account", actx.AccountID,
		"message_id", messageID,
		"method", kind.String(),
	)
	s.audit.Write(ctx, audit.Event{
		AccountID: actx.AccountID,
		Actor:     actx.Identity,
		Type:      audit.EventDuplicateSuppressed,
		Metadata: map[string]any{
			"message_id": messageID,
			"method":     kind.String(),
		},
	})
}

func (s *Scanner) failScan(ctx context.Context, actx *directory.AccountContext, scanErr error) {
	s.audit.Write(ctx, audit.Event{
		AccountID: actx.AccountID,
		Actor:     actx.Identity,
		Type:      audit.EventScanFailed,
		Metadata:  map[string]any{"error": scanErr.Error()},
	})
}

// toISODate converts a raw Date header to YYYY-MM-DD, falling back to the
// current date when the header is missing or malformed.
func toISODate(rawDate string, now time.Time) string {
	if rawDate != "" {
		if t, err := mail.ParseDate(rawDate); err == nil {
			return t.UTC().Format("2006-01-02")
		}
	}
	return now.UTC().Format("2006-01-02")
}
