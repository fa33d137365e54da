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
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// noOrderSentinel stands in when a subject carries no order digits.
const noOrderSentinel = "noorder"

// snippetPrefixLen bounds how much of the snippet feeds the hash. Two
// same-day purchases from the same retailer with no order number and
// near-identical opening text can collide here; that rare false-positive
// suppression is an accepted trade-off and is always audited.
const snippetPrefixLen = 64

// DedupeHash computes the heuristic duplicate key for a scanned message:
// normalized retailer, ISO transaction date, the subject's order suffix,
// and a truncated normalized snippet. Message ids are not unique across
// provider resends and forwards; this hash catches those near-duplicates.
func DedupeHash(retailer, isoDate, subject, snippet string) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(retailer)),
		isoDate,
		orderSuffix(subject),
		normalizeSnippet(snippet),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// orderSuffix returns the last six digits appearing in the subject, or
// the sentinel when the subject has none.
func orderSuffix(subject string) string {
	var digits []rune
	for _, r := range subject {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) == 0 {
		return noOrderSentinel
	}
	if len(digits) > 6 {
		digits = digits[len(digits)-6:]
	}
	return string(digits)
}

// normalizeSnippet lowercases, collapses whitespace, and truncates to the
// fixed prefix length.
func normalizeSnippet(snippet string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(snippet)), " ")
	if len(normalized) > snippetPrefixLen {
		normalized = normalized[:snippetPrefixLen]
	}
	return normalized
}
