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

package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/runwayhq/ingestion/internal/audit"
	"github.com/runwayhq/ingestion/internal/config"
	"github.com/runwayhq/ingestion/internal/directory"
	"github.com/runwayhq/ingestion/internal/mailbox"
	"github.com/runwayhq/ingestion/internal/models"
	"github.com/runwayhq/ingestion/internal/scanstate"
)

// --- Mock receipt store ---

type mockReceipts struct {
	mu        sync.Mutex
	byMessage map[string]bool
	byHash    map[string]bool
	inserted  []models.Receipt
}

func newMockReceipts() *mockReceipts {
	return &mockReceipts{
		byMessage: make(map[string]bool),
		byHash:    make(map[string]bool),
	}
}

func (m *mockReceipts) ExistsByMessageID(_ context.Context, _, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byMessage[messageID], nil
}

func (m *mockReceipts) ExistsByHash(_ context.Context, _, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byHash[hash], nil
}

func (m *mockReceipts) InsertSkeleton(_ context.Context, r models.Receipt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byMessage[r.RawMessageID] {
		return false, nil
	}
	m.byMessage[r.RawMessageID] = true
	if r.DedupeHash != nil {
		m.byHash[*r.DedupeHash] = true
	}
	m.inserted = append(m.inserted, r)
	return true, nil
}

// --- Mock watermark store ---

type mockWatermarks struct {
	saved   []scanstate.Watermark
	current *scanstate.Watermark
}

func (m *mockWatermarks) Get(_ context.Context, _, _ string) (*scanstate.Watermark, error) {
	return m.current, nil
}

func (m *mockWatermarks) Save(_ context.Context, w scanstate.Watermark) error {
	m.saved = append(m.saved, w)
	m.current = &w
	return nil
}

// --- Mock audit sink ---

type mockAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *mockAudit) Write(_ context.Context, ev audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockAudit) ofType(eventType string) []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Event
	for _, ev := range m.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// --- Mock mailbox provider ---

type mockProvider struct {
	messages map[string]*mailbox.Message
	listErr  error
}

func (m *mockProvider) ListMessageIDs(_ context.Context, _ string, _ int64) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	ids := make([]string, 0, len(m.messages))
	for id := range m.messages {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mockProvider) GetMessage(_ context.Context, id string) (*mailbox.Message, error) {
	msg, ok := m.messages[id]
	if !ok {
		return nil, errors.New("no such message")
	}
	return msg, nil
}

// --- Helpers ---

func testAccount() *directory.AccountContext {
	return &directory.AccountContext{
		AccountID:     "acct-1",
		Identity:      "owner@example.com",
		Role:          directory.RoleOwner,
		OwnerIdentity: "owner@example.com",
	}
}

func testScanner(store *mockReceipts, marks *mockWatermarks, sink *mockAudit) *Scanner {
	s := New(ScannerConfig{
		ProviderName: "gmail",
		Detector: NewDetector([]config.Retailer{
			{Domain: "walmart.com", Name: "Walmart"},
			{Domain: "costco.com", Name: "Costco"},
		}, nil),
		Receipts:   store,
		Watermarks: marks,
		Audit:      sink,
	})
	s.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return s
}

func walmartMessage(id, subject string) *mailbox.Message {
	return &mailbox.Message{
		ID:      id,
		From:    "Walmart <no-reply@walmart.com>",
		Subject: subject,
		Date:    "Mon, 09 Mar 2026 10:30:00 +0000",
		Snippet: "Thanks for your order " + subject,
	}
}

// TestScan_InsertsSkeletons verifies that messages from known retailers
// become skeleton receipts attributed to the caller.
func TestScan_InsertsSkeletons(t *testing.T) {
	store := newMockReceipts()
	marks := &mockWatermarks{}
	sink := &mockAudit{}
	s := testScanner(store, marks, sink)

	provider := &mockProvider{messages: map[string]*mailbox.Message{
		"msg-1": walmartMessage("msg-1", "Order #123456"),
		"msg-2": walmartMessage("msg-2", "Order #654321"),
	}}

	result, err := s.Scan(context.Background(), testAccount(), provider, 1)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if result.Scanned != 2 || result.New != 2 || result.Skipped != 0 {
		t.Errorf("result = %+v, want scanned=2 new=2 skipped=0", result)
	}
	for _, r := range store.inserted {
		if r.Contributor != "owner@example.com" {
			t.Errorf("contributor = %q, want owner@example.com", r.Contributor)
		}
		if r.Retailer != "Walmart" {
			t.Errorf("retailer = %q, want Walmart", r.Retailer)
		}
		if r.TransactionDate != "2026-03-09" {
			t.Errorf("transaction date = %q, want 2026-03-09", r.TransactionDate)
		}
	}
}

// TestScan_RescanIsIdempotent verifies that re-scanning the same window
// creates no new receipts and tags the skips as message_id duplicates.
func TestScan_RescanIsIdempotent(t *testing.T) {
	store := newMockReceipts()
	marks := &mockWatermarks{}
	sink := &mockAudit{}
	s := testScanner(store, marks, sink)

	provider := &mockProvider{messages: map[string]*mailbox.Message{
		"msg-1": walmartMessage("msg-1", "Order #123456"),
	}}

	if _, err := s.Scan(context.Background(), testAccount(), provider, 1); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	result, err := s.Scan(context.Background(), testAccount(), provider, 1)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}

	if result.New != 0 || result.Skipped != 1 {
		t.Errorf("rescan result = %+v, want new=0 skipped=1", result)
	}
	if len(store.inserted) != 1 {
		t.Errorf("inserted %d receipts, want 1", len(store.inserted))
	}

	dupes := sink.ofType(audit.EventDuplicateSuppressed)
	if len(dupes) != 1 {
		t.Fatalf("got %d duplicate events, want 1", len(dupes))
	}
	if method := dupes[0].Metadata["method"]; method != "message_id" {
		t.Errorf("dedupe method = %v, want message_id", method)
	}
}

// TestScan_HeuristicDedupe verifies that a resend with a fresh message id
// but identical receipt content is suppressed by the hash tier.
func TestScan_HeuristicDedupe(t *testing.T) {
	store := newMockReceipts()
	marks := &mockWatermarks{}
	sink := &mockAudit{}
	s := testScanner(store, marks, sink)

	original := walmartMessage("msg-1", "Order #123456")
	if _, err := s.Scan(context.Background(), testAccount(),
		&mockProvider{messages: map[string]*mailbox.Message{"msg-1": original}}, 1); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}

	resend := walmartMessage("msg-9", "Order #123456")
	resend.Snippet = original.Snippet
	result, err := s.Scan(context.Background(), testAccount(),
		&mockProvider{messages: map[string]*mailbox.Message{"msg-9": resend}}, 1)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}

	if result.New != 0 || result.Skipped != 1 {
		t.Errorf("resend result = %+v, want new=0 skipped=1", result)
	}
	dupes := sink.ofType(audit.EventDuplicateSuppressed)
	if len(dupes) != 1 {
		t.Fatalf("got %d duplicate events, want 1", len(dupes))
	}
	if method := dupes[0].Metadata["method"]; method != "heuristic" {
		t.Errorf("dedupe method = %v, want heuristic", method)
	}
}

// TestScan_UnknownSenderSkipped verifies that mail from senders outside
// the retailer allow list never becomes a receipt.
func TestScan_UnknownSenderSkipped(t *testing.T) {
	store := newMockReceipts()
	s := testScanner(store, &mockWatermarks{}, &mockAudit{})

	provider := &mockProvider{messages: map[string]*mailbox.Message{
		"msg-1": {
			ID:      "msg-1",
			From:    "deals@random-retailer.com",
			Subject: "Big sale!",
		},
	}}

	result, err := s.Scan(context.Background(), testAccount(), provider, 1)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.New != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v, want new=0 skipped=1", result)
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted %d receipts, want 0", len(store.inserted))
	}
}

// TestScan_WatermarkAdvancesOncePerRun verifies the watermark saves once
// after success, stamped with the scan start epoch.
func TestScan_WatermarkAdvancesOncePerRun(t *testing.T) {
	marks := &mockWatermarks{}
	s := testScanner(newMockReceipts(), marks, &mockAudit{})

	provider := &mockProvider{messages: map[string]*mailbox.Message{
		"msg-1": walmartMessage("msg-1", "Order #123456"),
		"msg-2": walmartMessage("msg-2", "Order #654321"),
	}}

	if _, err := s.Scan(context.Background(), testAccount(), provider, 42); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(marks.saved) != 1 {
		t.Fatalf("watermark saved %d times, want 1", len(marks.saved))
	}
	w := marks.saved[0]
	if w.Identity != "owner@example.com" || w.Provider != "gmail" || w.ConnectionID != 42 {
		t.Errorf("watermark = %+v", w)
	}
}

// TestScan_ListFailureKeepsWatermark verifies a failed listing leaves the
// watermark untouched and records a scan_failed event.
func TestScan_ListFailureKeepsWatermark(t *testing.T) {
	marks := &mockWatermarks{}
	sink := &mockAudit{}
	s := testScanner(newMockReceipts(), marks, sink)

	provider := &mockProvider{listErr: errors.New("rate limited")}
	if _, err := s.Scan(context.Background(), testAccount(), provider, 1); err == nil {
		t.Fatal("expected error from failed listing")
	}

	if len(marks.saved) != 0 {
		t.Errorf("watermark saved %d times, want 0", len(marks.saved))
	}
	if len(sink.ofType(audit.EventScanFailed)) != 1 {
		t.Error("expected a scan_failed audit event")
	}
}

// TestScan_WindowFromWatermark verifies a stored watermark replaces the
// default lookback as the window lower bound.
func TestScan_WindowFromWatermark(t *testing.T) {
	last := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	marks := &mockWatermarks{current: &scanstate.Watermark{
		Identity:      "owner@example.com",
		Provider:      "gmail",
		LastScannedAt: last,
	}}
	s := testScanner(newMockReceipts(), marks, &mockAudit{})

	bound, err := s.lowerBound(context.Background(), "owner@example.com")
	if err != nil {
		t.Fatalf("lowerBound failed: %v", err)
	}
	if !bound.Equal(last) {
		t.Errorf("lower bound = %v, want %v", bound, last)
	}
}

// TestToISODate verifies Date header parsing and its fallback.
func TestToISODate(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	if got := toISODate("Mon, 09 Mar 2026 10:30:00 +0000", now); got != "2026-03-09" {
		t.Errorf("parsed date = %q, want 2026-03-09", got)
	}
	if got := toISODate("not a date", now); got != "2026-03-15" {
		t.Errorf("fallback date = %q, want 2026-03-15", got)
	}
	if got := toISODate("", now); got != "2026-03-15" {
		t.Errorf("empty date = %q, want 2026-03-15", got)
	}
}
