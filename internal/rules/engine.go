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

// Package rules implements account-scoped categorization rules with an
// in-process cache invalidated through a shared Redis version counter.
package rules

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

type ruleStore interface {
	List(ctx context.Context, accountID string) ([]Rule, error)
	Insert(ctx context.Context, r Rule) (*Rule, error)
	Delete(ctx context.Context, accountID string, id int64) (bool, error)
}

// versionCounter is the slice of the Redis API the engine needs.
// Satisfied by *redis.Client; faked in tests.
type versionCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

type cachedRules struct {
	version int64
	rules   []Rule
}

// Engine evaluates categorization rules with first-match-wins semantics.
//
// Each account has a monotonically increasing version counter in Redis
// (rules:ver:<account>). Every mutation bumps it; Match reloads its
// in-process snapshot whenever the cached version falls behind, so
// invalidation reaches every process sharing the Redis instance.
type Engine struct {
	store ruleStore
	rdb   versionCounter

	mu    sync.Mutex
	cache map[string]cachedRules
}

func NewEngine(store ruleStore, rdb versionCounter) *Engine {
	return &Engine{
		store: store,
		rdb:   rdb,
		cache: make(map[string]cachedRules),
	}
}

func versionKey(accountID string) string {
	return "rules:ver:" + accountID
}

// Match returns the first rule whose pattern is a case-insensitive
// substring of the item name, or nil when no rule applies.
func (e *Engine) Match(ctx context.Context, accountID, itemName string) (*Rule, error) {
	rules, err := e.snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(itemName)
	for i := range rules {
		if strings.Contains(needle, strings.ToLower(rules[i].MatchPattern)) {
			return &rules[i], nil
		}
	}
	return nil, nil
}

// List returns the account's rules in evaluation order, bypassing the
// cache so the API always reflects committed state.
func (e *Engine) List(ctx context.Context, accountID string) ([]Rule, error) {
	return e.store.List(ctx, accountID)
}

// Create appends a rule and invalidates every process's cache.
func (e *Engine) Create(ctx context.Context, r Rule) (*Rule, error) {
	if strings.TrimSpace(r.MatchPattern) == "" {
		return nil, fmt.Errorf("rule pattern must not be empty")
	}
	if r.Provenance == "" {
		r.Provenance = ProvenanceManual
	}
	created, err := e.store.Insert(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := e.Invalidate(ctx, r.AccountID); err != nil {
		return created, err
	}
	return created, nil
}

// Remove deletes a rule and invalidates the cache. Returns false when
// the rule was not found for this account.
func (e *Engine) Remove(ctx context.Context, accountID string, id int64) (bool, error) {
	removed, err := e.store.Delete(ctx, accountID, id)
	if err != nil || !removed {
		return removed, err
	}
	return true, e.Invalidate(ctx, accountID)
}

// Invalidate bumps the account's version counter so every cached
// snapshot, in this process and any other, reloads on next use.
func (e *Engine) Invalidate(ctx context.Context, accountID string) error {
	if err := e.rdb.Incr(ctx, versionKey(accountID)).Err(); err != nil {
		return fmt.Errorf("bump rules version: %w", err)
	}
	e.mu.Lock()
	delete(e.cache, accountID)
	e.mu.Unlock()
	return nil
}

// snapshot returns the cached rule list when its version is current,
// reloading from the store otherwise.
func (e *Engine) snapshot(ctx context.Context, accountID string) ([]Rule, error) {
	version, err := e.currentVersion(ctx, accountID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	cached, ok := e.cache[accountID]
	e.mu.Unlock()
	if ok && cached.version == version {
		return cached.rules, nil
	}

	rules, err := e.store.List(ctx, accountID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[accountID] = cachedRules{version: version, rules: rules}
	e.mu.Unlock()
	return rules, nil
}

func (e *Engine) currentVersion(ctx context.Context, accountID string) (int64, error) {
	version, err := e.rdb.Get(ctx, versionKey(accountID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read rules version: %w", err)
	}
	return version, nil
}
