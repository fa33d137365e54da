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

package models

import "strings"

// FallbackCategory is assigned when the classifier fails or returns
// something unusable. An item is never left without a category.
const FallbackCategory = "Other"

// FallbackConfidence accompanies FallbackCategory assignments.
const FallbackConfidence = 0.5

// Categories is the closed taxonomy the classifier must choose from.
// The map is keyed by category; values are the allowed subcategories
// (empty slice = no subcategories).
var Categories = map[string][]string{
	"Groceries":          {"Produce", "Dairy & Eggs", "Meat & Seafood", "Pantry", "Snacks", "Beverages", "Frozen", "Bakery"},
	"Household":          {"Cleaning", "Paper Goods", "Storage & Organization"},
	"Baby & Kids":        {"Diapers", "Formula", "Clothing", "Toys"},
	"Health & Wellness":  {"OTC Medicine", "First Aid", "Supplements"},
	"Personal Care":      {"Beauty", "Hygiene"},
	"Electronics":        {"Devices", "Accessories"},
	"Clothing & Apparel": {},
	"Pet Supplies":       {"Food", "Accessories"},
	"Other":              {},
}

// CategoryNames lists the taxonomy in the order used by prompts and seeds.
var CategoryNames = []string{
	"Groceries",
	"Household",
	"Baby & Kids",
	"Health & Wellness",
	"Personal Care",
	"Electronics",
	"Clothing & Apparel",
	"Pet Supplies",
	"Other",
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true,
	"oz": true, "lb": true, "ct": true, "pk": true,
	"pack": true, "count": true,
}

// NormalizeItemName lowercases, collapses whitespace, and drops unit and
// filler words so that the same product parses to a stable key across
// receipts. Used for price observations and correction-derived rules.
func NormalizeItemName(name string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	kept := words[:0]
	for _, w := range words {
		if !stopWords[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
