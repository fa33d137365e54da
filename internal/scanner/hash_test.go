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

import "testing"

// TestDedupeHash_StableForSamePurchase verifies the hash is insensitive
// to casing and whitespace noise in its inputs.
func TestDedupeHash_StableForSamePurchase(t *testing.T) {
	a := DedupeHash("Walmart", "2026-03-09", "Order #123456", "Thanks for your order")
	b := DedupeHash("walmart ", "2026-03-09", "Your order 99123456 shipped", "  THANKS   for your order ")

	if a != b {
		t.Errorf("hashes differ for equivalent purchases:\n%s\n%s", a, b)
	}
}

// TestDedupeHash_FieldChangesDiffer verifies each input field contributes
// to the hash.
func TestDedupeHash_FieldChangesDiffer(t *testing.T) {
	base := DedupeHash("Walmart", "2026-03-09", "Order #123456", "Thanks for your order")

	variants := map[string]string{
		"retailer": DedupeHash("Costco", "2026-03-09", "Order #123456", "Thanks for your order"),
		"date":     DedupeHash("Walmart", "2026-03-10", "Order #123456", "Thanks for your order"),
		"order":    DedupeHash("Walmart", "2026-03-09", "Order #654321", "Thanks for your order"),
		"snippet":  DedupeHash("Walmart", "2026-03-09", "Order #123456", "A completely different snippet"),
	}
	for field, h := range variants {
		if h == base {
			t.Errorf("changing %s did not change the hash", field)
		}
	}
}

// TestOrderSuffix covers digit extraction from subjects.
func TestOrderSuffix(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{"Order #123456 confirmed", "123456"},
		{"Order #9912345678", "345678"},
		{"Order #42", "42"},
		{"Your receipt", "noorder"},
		{"", "noorder"},
	}
	for _, c := range cases {
		if got := orderSuffix(c.subject); got != c.want {
			t.Errorf("orderSuffix(%q) = %q, want %q", c.subject, got, c.want)
		}
	}
}

// TestNormalizeSnippet verifies lowercasing, whitespace collapse, and the
// prefix bound.
func TestNormalizeSnippet(t *testing.T) {
	if got := normalizeSnippet("  Hello   WORLD  "); got != "hello world" {
		t.Errorf("normalizeSnippet = %q, want %q", got, "hello world")
	}

	long := normalizeSnippet("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	if len(long) != snippetPrefixLen {
		t.Errorf("normalized length = %d, want %d", len(long), snippetPrefixLen)
	}
}
