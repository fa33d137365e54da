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
	"strconv"
	"testing"

	"github.com/redis/go-redis/v9"
)

// --- Fake rule store ---

type fakeStore struct {
	rules     map[string][]Rule
	nextID    int64
	listCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rules: make(map[string][]Rule)}
}

func (f *fakeStore) List(_ context.Context, accountID string) ([]Rule, error) {
	f.listCalls++
	out := make([]Rule, len(f.rules[accountID]))
	copy(out, f.rules[accountID])
	return out, nil
}

func (f *fakeStore) Insert(_ context.Context, r Rule) (*Rule, error) {
	f.nextID++
	r.ID = f.nextID
	f.rules[r.AccountID] = append(f.rules[r.AccountID], r)
	return &r, nil
}

func (f *fakeStore) Delete(_ context.Context, accountID string, id int64) (bool, error) {
	list := f.rules[accountID]
	for i, r := range list {
		if r.ID == id {
			f.rules[accountID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// --- Fake version counter ---

// fakeVersions mimics the Redis INCR/GET counter semantics, including
// redis.Nil for never-incremented keys.
type fakeVersions struct {
	counters map[string]int64
}

func newFakeVersions() *fakeVersions {
	return &fakeVersions{counters: make(map[string]int64)}
}

func (f *fakeVersions) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.counters[key]++
	return redis.NewIntResult(f.counters[key], nil)
}

func (f *fakeVersions) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.counters[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(strconv.FormatInt(v, 10), nil)
}

func testEngine() (*Engine, *fakeStore, *fakeVersions) {
	store := newFakeStore()
	versions := newFakeVersions()
	return NewEngine(store, versions), store, versions
}

func strPtr(s string) *string { return &s }

// TestMatch_FirstMatchWins verifies evaluation order and case-insensitive
// substring matching.
func TestMatch_FirstMatchWins(t *testing.T) {
	e, _, _ := testEngine()
	ctx := context.Background()

	if _, err := e.Create(ctx, Rule{AccountID: "acct-1", MatchPattern: "cheerios", Category: "Groceries", Subcategory: strPtr("Pantry")}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := e.Create(ctx, Rule{AccountID: "acct-1", MatchPattern: "honey", Category: "Groceries", Subcategory: strPtr("Snacks")}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	r, err := e.Match(ctx, "acct-1", "Honey Nut CHEERIOS")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if r == nil || r.MatchPattern != "cheerios" {
		t.Errorf("matched %+v, want the earlier cheerios rule", r)
	}
}

// TestMatch_NoRule verifies a miss returns nil without error.
func TestMatch_NoRule(t *testing.T) {
	e, _, _ := testEngine()

	r, err := e.Match(context.Background(), "acct-1", "Bananas")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if r != nil {
		t.Errorf("matched %+v, want nil", r)
	}
}

// TestMatch_AccountScoped verifies one account's rules never apply to
// another account.
func TestMatch_AccountScoped(t *testing.T) {
	e, _, _ := testEngine()
	ctx := context.Background()

	if _, err := e.Create(ctx, Rule{AccountID: "acct-1", MatchPattern: "milk", Category: "Groceries"}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	r, err := e.Match(ctx, "acct-2", "Whole Milk")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if r != nil {
		t.Errorf("matched %+v across accounts, want nil", r)
	}
}

// TestMatch_CachesUntilInvalidated verifies the snapshot is reused while
// the version counter is stable and reloads after a mutation.
func TestMatch_CachesUntilInvalidated(t *testing.T) {
	e, store, _ := testEngine()
	ctx := context.Background()

	if _, err := e.Create(ctx, Rule{AccountID: "acct-1", MatchPattern: "milk", Category: "Groceries"}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	if _, err := e.Match(ctx, "acct-1", "milk"); err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	loads := store.listCalls
	for i := 0; i < 5; i++ {
		if _, err := e.Match(ctx, "acct-1", "milk"); err != nil {
			t.Fatalf("Match failed: %v", err)
		}
	}
	if store.listCalls != loads {
		t.Errorf("store reloaded %d extra times with a stable version", store.listCalls-loads)
	}

	// A mutation bumps the version; the next match reloads.
	if _, err := e.Create(ctx, Rule{AccountID: "acct-1", MatchPattern: "eggs", Category: "Groceries"}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	r, err := e.Match(ctx, "acct-1", "Dozen Eggs")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if r == nil || r.MatchPattern != "eggs" {
		t.Errorf("matched %+v, want the new eggs rule", r)
	}
}

// TestInvalidate_ReachesStaleCaches simulates a second process bumping
// the shared counter: this engine's cache must reload even though it
// performed no mutation itself.
func TestInvalidate_ReachesStaleCaches(t *testing.T) {
	store := newFakeStore()
	versions := newFakeVersions()
	a := NewEngine(store, versions)
	b := NewEngine(store, versions)
	ctx := context.Background()

	if _, err := a.Create(ctx, Rule{AccountID: "acct-1", MatchPattern: "milk", Category: "Groceries"}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := b.Match(ctx, "acct-1", "milk"); err != nil {
		t.Fatalf("warm b's cache: %v", err)
	}

	// Mutation through engine a; engine b sees it on next match.
	if _, err := a.Create(ctx, Rule{AccountID: "acct-1", MatchPattern: "bread", Category: "Groceries"}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	r, err := b.Match(ctx, "acct-1", "Sourdough Bread")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if r == nil || r.MatchPattern != "bread" {
		t.Errorf("engine b matched %+v, want the bread rule", r)
	}
}

// TestCreate_RejectsEmptyPattern verifies pattern validation.
func TestCreate_RejectsEmptyPattern(t *testing.T) {
	e, _, _ := testEngine()

	if _, err := e.Create(context.Background(), Rule{AccountID: "acct-1", MatchPattern: "   ", Category: "Other"}); err == nil {
		t.Error("expected error for blank pattern")
	}
}

// TestRemove verifies deletion and the not-found result.
func TestRemove(t *testing.T) {
	e, _, _ := testEngine()
	ctx := context.Background()

	created, err := e.Create(ctx, Rule{AccountID: "acct-1", MatchPattern: "milk", Category: "Groceries"})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	removed, err := e.Remove(ctx, "acct-1", created.ID)
	if err != nil || !removed {
		t.Fatalf("Remove = (%v, %v), want (true, nil)", removed, err)
	}
	if r, _ := e.Match(ctx, "acct-1", "milk"); r != nil {
		t.Errorf("matched %+v after removal", r)
	}

	removed, err = e.Remove(ctx, "acct-1", 9999)
	if err != nil || removed {
		t.Errorf("Remove of missing rule = (%v, %v), want (false, nil)", removed, err)
	}
}
