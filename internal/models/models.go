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

// Package models defines the data structures shared across the ingestion
// and categorization pipeline.
package models

import "time"

// Receipt is one purchase extracted from a single mailbox message.
//
// A receipt starts as a "skeleton" created by the scanner (identifying
// fields only, totals null) and transitions to parsed exactly once when
// the extractor fills in transaction data and line items.
type Receipt struct {
	ID              string
	AccountID       string
	Contributor     string // identity whose mailbox the message came from
	Retailer        string
	TransactionDate string // YYYY-MM-DD
	Subtotal        *float64
	Tax             *float64
	Total           *float64
	OrderNumber     *string
	RawMessageID    string
	DedupeHash      *string
	ParsedAt        *time.Time
	CreatedAt       time.Time
}

// LineItem is a single purchased product on a receipt.
type LineItem struct {
	ID             int64
	ReceiptID      string
	RawName        string
	Name           string
	Quantity       int
	UnitPrice      float64
	TotalPrice     float64
	Category       string
	Subcategory    *string
	Confidence     float64
	UserOverridden bool
}

// ReceiptSummary is the consumer-facing receipt row with its item count
// and contributor attribution.
type ReceiptSummary struct {
	ID              string   `json:"id"`
	Retailer        string   `json:"retailer"`
	TransactionDate string   `json:"transaction_date"`
	Subtotal        *float64 `json:"subtotal"`
	Tax             *float64 `json:"tax"`
	Total           *float64 `json:"total"`
	OrderNumber     *string  `json:"order_number"`
	ItemCount       int      `json:"item_count"`
	Contributor     string   `json:"contributor"`
	ContributorRole string   `json:"contributor_role"` // "owner" or "member"
}

// ReviewItem is a line item awaiting human categorization review.
type ReviewItem struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	RawName         string   `json:"raw_name"`
	Category        string   `json:"category"`
	Subcategory     *string  `json:"subcategory"`
	Confidence      float64  `json:"confidence"`
	Quantity        int      `json:"quantity"`
	UnitPrice       float64  `json:"unit_price"`
	TotalPrice      float64  `json:"total_price"`
	Retailer        string   `json:"retailer"`
	TransactionDate string   `json:"transaction_date"`
}

// DuplicateKind tags which dedupe tier suppressed a scanned message.
type DuplicateKind int

const (
	DuplicateNone DuplicateKind = iota
	DuplicateByMessageID
	DuplicateByHash
)

func (k DuplicateKind) String() string {
	switch k {
	case DuplicateByMessageID:
		return "message_id"
	case DuplicateByHash:
		return "heuristic"
	default:
		return "none"
	}
}

// ReviewThreshold is the confidence below which an item enters the
// review queue, unless a human has already resolved it.
const ReviewThreshold = 0.40
