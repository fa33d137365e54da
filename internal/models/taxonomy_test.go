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

import "testing"

// TestNormalizeItemName verifies casing, whitespace, and stop-word
// handling produce a stable key.
func TestNormalizeItemName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Honey Nut Cheerios", "honey nut cheerios"},
		{"  MILK   2%  ", "milk 2%"},
		{"Chicken Breast 3 LB Pack", "chicken breast 3"},
		{"The Great Value Eggs 12 ct", "great value eggs 12"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeItemName(c.in); got != c.want {
			t.Errorf("NormalizeItemName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// TestCategoryNamesMatchTaxonomy verifies the ordered list and the map
// stay in sync.
func TestCategoryNamesMatchTaxonomy(t *testing.T) {
	if len(CategoryNames) != len(Categories) {
		t.Fatalf("CategoryNames has %d entries, Categories has %d", len(CategoryNames), len(Categories))
	}
	for _, name := range CategoryNames {
		if _, ok := Categories[name]; !ok {
			t.Errorf("CategoryNames entry %q missing from Categories", name)
		}
	}
	if _, ok := Categories[FallbackCategory]; !ok {
		t.Errorf("fallback category %q is not in the taxonomy", FallbackCategory)
	}
}
