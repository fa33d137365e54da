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

// Package categorize assigns taxonomy categories to extracted line
// items, consulting account rules before the classification model.
package categorize

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/runwayhq/ingestion/internal/audit"
	"github.com/runwayhq/ingestion/internal/genai"
	"github.com/runwayhq/ingestion/internal/models"
	"github.com/runwayhq/ingestion/internal/receipts"
	"github.com/runwayhq/ingestion/internal/rules"
)

const defaultBatchSize = 10

type itemStore interface {
	ListUncategorized(ctx context.Context, accountID string) ([]receipts.UncategorizedItem, error)
	ApplyCategoryBatch(ctx context.Context, updates []receipts.CategoryUpdate) error
	GetItem(ctx context.Context, accountID string, itemID int64) (*models.LineItem, error)
	OverrideCategory(ctx context.Context, itemID int64, category string, subcategory *string) error
	DismissReview(ctx context.Context, itemID int64) error
}

type ruleMatcher interface {
	Match(ctx context.Context, accountID, itemName string) (*rules.Rule, error)
	Create(ctx context.Context, r rules.Rule) (*rules.Rule, error)
}

type auditSink interface {
	Write(ctx context.Context, e audit.Event)
}

// Result reports one categorization run.
type Result struct {
	Categorized    int `json:"categorized"`
	RulesHit       int `json:"rules_hit"`
	ClassifierUsed int `json:"classifier_used"`
	ReviewQueue    int `json:"review_queue"`
}

// Engine categorizes uncategorized line items in fixed-size batches.
// Within a batch, rule lookups and classifier calls fan out concurrently;
// the batch's assignments are written in a single transaction only after
// every call has resolved.
type Engine struct {
	store     itemStore
	rules     ruleMatcher
	gen       genai.Generator
	audit     auditSink
	batchSize int
	logger    *slog.Logger
}

type EngineConfig struct {
	Store     itemStore
	Rules     ruleMatcher
	Generator genai.Generator
	Audit     auditSink
	BatchSize int
	Logger    *slog.Logger
}

func New(cfg EngineConfig) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		store:     cfg.Store,
		rules:     cfg.Rules,
		gen:       cfg.Generator,
		audit:     cfg.Audit,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}
}

// Run categorizes every uncategorized item in the account.
func (e *Engine) Run(ctx context.Context, accountID string) (*Result, error) {
	pending, err := e.store.ListUncategorized(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list uncategorized items: %w", err)
	}

	result := &Result{}
	for start := 0; start < len(pending); start += e.batchSize {
		end := start + e.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := e.runBatch(ctx, accountID, pending[start:end], result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (e *Engine) runBatch(ctx context.Context, accountID string, batch []receipts.UncategorizedItem, result *Result) error {
	updates := make([]receipts.CategoryUpdate, len(batch))
	var (
		mu             sync.Mutex
		rulesHit       int
		classifierUsed int
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range batch {
		g.Go(func() error {
			update, byRule, err := e.categorizeItem(gctx, accountID, item)
			if err != nil {
				return err
			}
			updates[i] = update
			mu.Lock()
			if byRule {
				rulesHit++
			} else {
				classifierUsed++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := e.store.ApplyCategoryBatch(ctx, updates); err != nil {
		return fmt.Errorf("apply category batch: %w", err)
	}

	result.Categorized += len(updates)
	result.RulesHit += rulesHit
	result.ClassifierUsed += classifierUsed
	for _, u := range updates {
		if u.Confidence < models.ReviewThreshold {
			result.ReviewQueue++
		}
	}
	return nil
}

// categorizeItem resolves one item's category: matching rule wins with
// full confidence; otherwise the classifier is consulted, and anything it
// gets wrong lands in the fallback category for human review.
func (e *Engine) categorizeItem(ctx context.Context, accountID string, item receipts.UncategorizedItem) (receipts.CategoryUpdate, bool, error) {
	rule, err := e.rules.Match(ctx, accountID, item.Name)
	if err != nil {
		return receipts.CategoryUpdate{}, false, fmt.Errorf("match rules for item %d: %w", item.ID, err)
	}
	if rule != nil {
		return receipts.CategoryUpdate{
			ItemID:      item.ID,
			Category:    rule.Category,
			Subcategory: rule.Subcategory,
			Confidence:  1.0,
		}, true, nil
	}

	update := receipts.CategoryUpdate{
		ItemID:      item.ID,
		Category:    models.FallbackCategory,
		Subcategory: nil,
		Confidence:  models.FallbackConfidence,
	}
	raw, err := e.gen.Generate(ctx, buildPrompt(item.Name))
	if err != nil {
		e.logger.Warn("classifier call failed", "item_id", item.ID, "error", err)
		return update, false, nil
	}
	c, err := parseClassification(raw)
	if err != nil {
		e.logger.Warn("classifier answer rejected", "item_id", item.ID, "error", err)
		return update, false, nil
	}

	update.Category = c.Category
	update.Subcategory = c.Subcategory
	update.Confidence = c.Confidence
	return update, false, nil
}

// Correct applies a human category correction to one item, records a
// correction rule keyed on the item's exact name so future items skip
// the classifier, and invalidates the rule cache.
func (e *Engine) Correct(ctx context.Context, accountID, actor string, itemID int64, category string, subcategory *string) (*models.LineItem, error) {
	if _, ok := models.Categories[category]; !ok {
		return nil, fmt.Errorf("unknown category %q", category)
	}

	item, err := e.store.GetItem(ctx, accountID, itemID)
	if err != nil {
		return nil, fmt.Errorf("load item %d: %w", itemID, err)
	}
	if item == nil {
		return nil, nil
	}

	if err := e.store.OverrideCategory(ctx, itemID, category, subcategory); err != nil {
		return nil, fmt.Errorf("override category: %w", err)
	}

	if _, err := e.rules.Create(ctx, rules.Rule{
		AccountID:    accountID,
		MatchPattern: item.Name,
		Category:     category,
		Subcategory:  subcategory,
		Provenance:   rules.ProvenanceCorrection,
	}); err != nil {
		// The override is committed; the rule can be recreated manually.
		e.logger.Warn("record correction rule", "item_id", itemID, "error", err)
	}

	if e.audit != nil {
		e.audit.Write(ctx, audit.Event{
			AccountID: accountID,
			Actor:     actor,
			Type:      audit.EventItemCorrected,
			Target:    item.Name,
			Metadata: map[string]any{
				"item_id":       itemID,
				"from_category": item.Category,
				"to_category":   category,
			},
		})
	}

	item.Category = category
	item.Subcategory = subcategory
	item.Confidence = 1.0
	item.UserOverridden = true
	return item, nil
}

// Skip dismisses one item from the review queue without recategorizing:
// the assigned category and confidence stand, only the human-resolution
// flag is set. No correction rule is recorded.
func (e *Engine) Skip(ctx context.Context, accountID, actor string, itemID int64) (*models.LineItem, error) {
	item, err := e.store.GetItem(ctx, accountID, itemID)
	if err != nil {
		return nil, fmt.Errorf("load item %d: %w", itemID, err)
	}
	if item == nil {
		return nil, nil
	}

	if err := e.store.DismissReview(ctx, itemID); err != nil {
		return nil, fmt.Errorf("dismiss review: %w", err)
	}

	if e.audit != nil {
		e.audit.Write(ctx, audit.Event{
			AccountID: accountID,
			Actor:     actor,
			Type:      audit.EventItemSkipped,
			Target:    item.Name,
			Metadata: map[string]any{
				"item_id":  itemID,
				"category": item.Category,
			},
		})
	}

	item.UserOverridden = true
	return item, nil
}
