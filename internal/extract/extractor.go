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

// Package extract turns raw receipt email bodies into structured
// line-item data with a generative extraction model.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/runwayhq/ingestion/internal/directory"
	"github.com/runwayhq/ingestion/internal/genai"
	"github.com/runwayhq/ingestion/internal/mailbox"
	"github.com/runwayhq/ingestion/internal/models"
	"github.com/runwayhq/ingestion/internal/pricehistory"
	"github.com/runwayhq/ingestion/internal/receipts"
)

type receiptStore interface {
	ListUnparsed(ctx context.Context, accountID, contributor string) ([]receipts.UnparsedReceipt, error)
	MarkParsed(ctx context.Context, receiptID string, update receipts.ParsedUpdate) (bool, error)
}

type priceRecorder interface {
	Record(ctx context.Context, observations []pricehistory.Observation) error
}

// Result reports one extraction run.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Extractor walks the unparsed receipts of one contributor, fetches each
// message body, and asks the extraction model for structured output.
// Failures are isolated per receipt: a bad parse leaves that receipt
// unparsed and the run continues.
type Extractor struct {
	store  receiptStore
	prices priceRecorder
	gen    genai.Generator
	logger *slog.Logger
}

func New(store receiptStore, prices priceRecorder, gen genai.Generator, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{store: store, prices: prices, gen: gen, logger: logger}
}

// Run extracts every unparsed receipt belonging to the contributor whose
// mailbox the provider reads. Mailbox permission errors abort the run so
// the caller can surface a reconnect; everything else is counted and
// logged per receipt.
func (e *Extractor) Run(ctx context.Context, actx *directory.AccountContext, provider mailbox.Provider) (*Result, error) {
	pending, err := e.store.ListUnparsed(ctx, actx.AccountID, actx.Identity)
	if err != nil {
		return nil, fmt.Errorf("list unparsed receipts: %w", err)
	}

	result := &Result{}
	for _, r := range pending {
		if err := e.processReceipt(ctx, actx.Identity, provider, r); err != nil {
			if mailbox.IsInsufficientPermission(err) {
				return result, err
			}
			if !errors.Is(err, ErrNotAReceipt) {
				e.logger.Warn("receipt extraction failed",
					"receipt_id", r.ID, "retailer", r.Retailer, "error", err)
			}
			result.Failed++
			continue
		}
		result.Processed++
	}
	return result, nil
}

func (e *Extractor) processReceipt(ctx context.Context, contributor string, provider mailbox.Provider, r receipts.UnparsedReceipt) error {
	msg, err := provider.GetMessage(ctx, r.RawMessageID)
	if err != nil {
		return fmt.Errorf("fetch message %s: %w", r.RawMessageID, err)
	}
	if msg.Body == "" {
		return fmt.Errorf("message %s has no readable body", r.RawMessageID)
	}

	raw, err := e.gen.Generate(ctx, BuildPrompt(msg.Body))
	if err != nil {
		return fmt.Errorf("generate extraction: %w", err)
	}

	parsed, err := ParseResponse(raw)
	if err != nil {
		return err
	}

	update := receipts.ParsedUpdate{
		TransactionDate: parsed.Transaction.Date,
		Subtotal:        parsed.Transaction.Subtotal,
		Tax:             parsed.Transaction.Tax,
		Total:           *parsed.Transaction.Total,
		OrderNumber:     parsed.Transaction.OrderNumber,
		Items:           toLineItems(parsed.Items),
	}

	applied, err := e.store.MarkParsed(ctx, r.ID, update)
	if err != nil {
		return fmt.Errorf("store parsed receipt: %w", err)
	}
	if !applied {
		// Another run parsed it between listing and now.
		return nil
	}

	e.recordPrices(contributor, r.Retailer, parsed)
	return nil
}

// recordPrices feeds the price history ledger without blocking or
// failing the extraction run.
func (e *Extractor) recordPrices(contributor, retailer string, parsed *ParsedReceipt) {
	if e.prices == nil {
		return
	}
	observations := make([]pricehistory.Observation, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		observations = append(observations, pricehistory.Observation{
			Contributor: contributor,
			ItemName:    item.Name,
			UnitPrice:   item.UnitPrice,
			Retailer:    retailer,
			Date:        parsed.Transaction.Date,
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.prices.Record(ctx, observations); err != nil {
			e.logger.Warn("record price history", "retailer", retailer, "error", err)
		}
	}()
}

func toLineItems(items []ParsedItem) []models.LineItem {
	out := make([]models.LineItem, 0, len(items))
	for _, item := range items {
		qty := int(math.Round(item.Quantity))
		if qty < 1 {
			qty = 1
		}
		out = append(out, models.LineItem{
			RawName:    item.RawName,
			Name:       item.Name,
			Quantity:   qty,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
			Confidence: item.Confidence,
		})
	}
	return out
}
