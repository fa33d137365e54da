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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/runwayhq/ingestion/internal/genai"
)

// ErrNotAReceipt marks mail the extraction model classified as
// promotional, shipping, or otherwise not a purchase receipt.
var ErrNotAReceipt = errors.New("not a purchase receipt")

// promptTemplate instructs the model to first classify receipt-or-not and
// then return the strict extraction object.
const promptTemplate = `You are a receipt parser. Your job is to extract purchased line items from retail purchase receipt emails.

FIRST, determine if this email is an actual purchase receipt, meaning it contains a list of products the customer bought with prices. Promotional emails, marketing emails, shipping notifications, order status updates, rewards summaries, and newsletters are NOT receipts.

If this email is NOT a purchase receipt, return exactly: {"not_a_receipt": true}

If it IS a purchase receipt, return ONLY a valid JSON object with no markdown and no explanation.

Required format:
{
  "retailer": { "name": "string" },
  "transaction": { "date": "YYYY-MM-DD", "subtotal": number | null, "tax": number | null, "total": number, "order_number": "string | null" },
  "items": [
    { "raw_name": "...", "name": "human-readable product name", "quantity": number, "unit_price": number, "total_price": number, "confidence": number }
  ]
}

Rules:
- "raw_name" is the exact abbreviated text from the receipt (e.g. "CHEERIOS-HN"); "name" is a human-readable normalized version (e.g. "Honey Nut Cheerios")
- "confidence" is 0.0-1.0 representing how certain you are about this line item's data
- Omit items that are clearly not products (e.g., subtotal lines, tax lines, loyalty rewards)
- If a field is missing from the email, use null
- Abbreviated item codes like "BSIFBREAST" should be decoded to "Boneless Skinless Chicken Breast", etc.

Email:
`

// ParsedItem is one extracted line item.
type ParsedItem struct {
	RawName    string  `json:"raw_name"`
	Name       string  `json:"name"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
	Confidence float64 `json:"confidence"`
}

// ParsedReceipt is the validated extraction output for one receipt.
type ParsedReceipt struct {
	Retailer struct {
		Name string `json:"name"`
	} `json:"retailer"`
	Transaction struct {
		Date        string   `json:"date"`
		Subtotal    *float64 `json:"subtotal"`
		Tax         *float64 `json:"tax"`
		Total       *float64 `json:"total"`
		OrderNumber *string  `json:"order_number"`
	} `json:"transaction"`
	Items       []ParsedItem `json:"items"`
	NotAReceipt bool         `json:"not_a_receipt"`
}

// BuildPrompt assembles the extraction prompt for an email body.
func BuildPrompt(emailBody string) string {
	return promptTemplate + emailBody
}

// ParseResponse validates a model response into a ParsedReceipt. Output
// lacking a transaction date, a numeric total, or any items is rejected;
// the receipt stays unparsed and eligible for retry.
func ParseResponse(raw string) (*ParsedReceipt, error) {
	payload, err := genai.ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("locate extraction payload: %w", err)
	}

	var parsed ParsedReceipt
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("decode extraction payload: %w", err)
	}

	if parsed.NotAReceipt {
		return nil, ErrNotAReceipt
	}
	if parsed.Transaction.Date == "" {
		return nil, fmt.Errorf("extraction missing transaction date")
	}
	if parsed.Transaction.Total == nil {
		return nil, fmt.Errorf("extraction missing numeric total")
	}
	if len(parsed.Items) == 0 {
		return nil, fmt.Errorf("extraction returned no items")
	}

	return &parsed, nil
}
