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

package categorize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/runwayhq/ingestion/internal/genai"
	"github.com/runwayhq/ingestion/internal/models"
)

// classification is the model's answer for one item.
type classification struct {
	Category    string  `json:"category"`
	Subcategory *string `json:"subcategory"`
	Confidence  float64 `json:"confidence"`
}

// buildPrompt asks for a single-item classification constrained to the
// closed taxonomy.
func buildPrompt(itemName string) string {
	var b strings.Builder
	b.WriteString("You are a grocery item categorizer. Classify the following purchased item into exactly one category from this taxonomy:\n\n")
	for _, name := range models.CategoryNames {
		fmt.Fprintf(&b, "- %s: %s\n", name, strings.Join(models.Categories[name], ", "))
	}
	b.WriteString("\nReturn ONLY a valid JSON object, no markdown, no explanation:\n")
	b.WriteString(`{"category": "one of the category names above", "subcategory": "one of that category's subcategories, or null", "confidence": 0.0-1.0}`)
	b.WriteString("\n\nItem: ")
	b.WriteString(itemName)
	return b.String()
}

// parseClassification validates a model response against the taxonomy.
// Any answer outside the closed category set is an error; the caller
// falls back rather than inventing categories.
func parseClassification(raw string) (*classification, error) {
	payload, err := genai.ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("locate classification payload: %w", err)
	}

	var c classification
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}

	subs, ok := models.Categories[c.Category]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", c.Category)
	}
	if c.Subcategory != nil {
		valid := false
		for _, s := range subs {
			if strings.EqualFold(s, *c.Subcategory) {
				c.Subcategory = &s
				valid = true
				break
			}
		}
		if !valid {
			c.Subcategory = nil
		}
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range", c.Confidence)
	}
	return &c, nil
}
