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

package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/runwayhq/ingestion/internal/directory"
	"github.com/runwayhq/ingestion/internal/mailbox"
	"github.com/runwayhq/ingestion/internal/pricehistory"
	"github.com/runwayhq/ingestion/internal/receipts"
)

// --- Fake receipt store ---

type fakeReceipts struct {
	mu       sync.Mutex
	pending  []receipts.UnparsedReceipt
	parsed   map[string]receipts.ParsedUpdate
}

func newFakeReceipts(pending ...receipts.UnparsedReceipt) *fakeReceipts {
	return &fakeReceipts{pending: pending, parsed: make(map[string]receipts.ParsedUpdate)}
}

func (f *fakeReceipts) ListUnparsed(_ context.Context, _, _ string) ([]receipts.UnparsedReceipt, error) {
	return f.pending, nil
}

func (f *fakeReceipts) MarkParsed(_ context.Context, receiptID string, update receipts.ParsedUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, done := f.parsed[receiptID]; done {
		return false, nil
	}
	f.parsed[receiptID] = update
	return true, nil
}

// --- Fake price recorder ---

type fakePrices struct {
	mu       sync.Mutex
	recorded []pricehistory.Observation
	done     chan struct{}
}

func (f *fakePrices) Record(_ context.Context, observations []pricehistory.Observation) error {
	f.mu.Lock()
	f.recorded = append(f.recorded, observations...)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return nil
}

// --- Fake mailbox provider ---

type fakeProvider struct {
	bodies map[string]string
	errs   map[string]error
}

func (f *fakeProvider) ListMessageIDs(context.Context, string, int64) ([]string, error) {
	return nil, nil
}

func (f *fakeProvider) GetMessage(_ context.Context, id string) (*mailbox.Message, error) {
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	body, ok := f.bodies[id]
	if !ok {
		return nil, errors.New("no such message")
	}
	return &mailbox.Message{ID: id, Body: body}, nil
}

type generatorFunc func(ctx context.Context, prompt string) (string, error)

func (fn generatorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return fn(ctx, prompt)
}

func contributorContext() *directory.AccountContext {
	return &directory.AccountContext{
		AccountID:     "acct-1",
		Identity:      "owner@example.com",
		Role:          directory.RoleOwner,
		OwnerIdentity: "owner@example.com",
	}
}

// TestRun_ParsesPendingReceipts verifies successful extraction marks the
// receipt parsed with the model's transaction data.
func TestRun_ParsesPendingReceipts(t *testing.T) {
	store := newFakeReceipts(
		receipts.UnparsedReceipt{ID: "r-1", RawMessageID: "msg-1", Retailer: "Walmart"},
	)
	provider := &fakeProvider{bodies: map[string]string{"msg-1": "ORDER CONFIRMATION"}}
	prices := &fakePrices{done: make(chan struct{})}

	e := New(store, prices, generatorFunc(func(context.Context, string) (string, error) {
		return validResponse, nil
	}), nil)

	result, err := e.Run(context.Background(), contributorContext(), provider)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Processed != 1 || result.Failed != 0 {
		t.Errorf("result = %+v, want processed=1 failed=0", result)
	}

	update, ok := store.parsed["r-1"]
	if !ok {
		t.Fatal("receipt r-1 was not marked parsed")
	}
	if update.TransactionDate != "2026-03-09" || update.Total != 45.47 {
		t.Errorf("update = %+v", update)
	}
	if len(update.Items) != 1 || update.Items[0].Name != "Honey Nut Cheerios" {
		t.Errorf("items = %+v", update.Items)
	}

	// Price observations are recorded asynchronously.
	<-prices.done
	prices.mu.Lock()
	defer prices.mu.Unlock()
	if len(prices.recorded) != 1 || prices.recorded[0].Contributor != "owner@example.com" {
		t.Errorf("price observations = %+v", prices.recorded)
	}
}

// TestRun_FailuresAreIsolated verifies one bad receipt does not stop the
// rest of the batch.
func TestRun_FailuresAreIsolated(t *testing.T) {
	store := newFakeReceipts(
		receipts.UnparsedReceipt{ID: "r-1", RawMessageID: "msg-bad", Retailer: "Walmart"},
		receipts.UnparsedReceipt{ID: "r-2", RawMessageID: "msg-promo", Retailer: "Walmart"},
		receipts.UnparsedReceipt{ID: "r-3", RawMessageID: "msg-good", Retailer: "Walmart"},
	)
	provider := &fakeProvider{
		bodies: map[string]string{"msg-promo": "BIG SALE", "msg-good": "ORDER CONFIRMATION"},
		errs:   map[string]error{"msg-bad": errors.New("transient fetch error")},
	}

	e := New(store, nil, generatorFunc(func(_ context.Context, prompt string) (string, error) {
		if len(prompt) > 0 && prompt[len(prompt)-1] == 'E' { // "BIG SALE"
			return `{"not_a_receipt": true}`, nil
		}
		return validResponse, nil
	}), nil)

	result, err := e.Run(context.Background(), contributorContext(), provider)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Processed != 1 || result.Failed != 2 {
		t.Errorf("result = %+v, want processed=1 failed=2", result)
	}
	if _, ok := store.parsed["r-3"]; !ok {
		t.Error("the good receipt was not parsed")
	}
	if _, ok := store.parsed["r-1"]; ok {
		t.Error("the failed receipt was marked parsed")
	}
}

// TestRun_PermissionErrorAborts verifies a revoked mailbox authorization
// stops the run so callers can surface a reconnect.
func TestRun_PermissionErrorAborts(t *testing.T) {
	store := newFakeReceipts(
		receipts.UnparsedReceipt{ID: "r-1", RawMessageID: "msg-1", Retailer: "Walmart"},
	)
	provider := &fakeProvider{errs: map[string]error{
		"msg-1": fmt.Errorf("get message: %w", mailbox.ErrInsufficientPermission),
	}}

	e := New(store, nil, generatorFunc(func(context.Context, string) (string, error) {
		return validResponse, nil
	}), nil)

	_, err := e.Run(context.Background(), contributorContext(), provider)
	if !mailbox.IsInsufficientPermission(err) {
		t.Errorf("err = %v, want an insufficient-permission error", err)
	}
}

// TestRun_AlreadyParsedCountsProcessed verifies losing the parse race is
// not an error.
func TestRun_AlreadyParsedCountsProcessed(t *testing.T) {
	store := newFakeReceipts(
		receipts.UnparsedReceipt{ID: "r-1", RawMessageID: "msg-1", Retailer: "Walmart"},
	)
	store.parsed["r-1"] = receipts.ParsedUpdate{} // another run got there first
	provider := &fakeProvider{bodies: map[string]string{"msg-1": "ORDER CONFIRMATION"}}

	e := New(store, nil, generatorFunc(func(context.Context, string) (string, error) {
		return validResponse, nil
	}), nil)

	result, err := e.Run(context.Background(), contributorContext(), provider)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Processed != 1 || result.Failed != 0 {
		t.Errorf("result = %+v, want processed=1 failed=0", result)
	}
}
