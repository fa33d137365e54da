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

package genai

import "testing"

// TestExtractJSON covers the response shapes generative services actually
// produce: bare JSON, fenced JSON, and JSON buried in prose.
func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"bare array", `[1, 2]`, `[1, 2]`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced no language", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose wrapped", `Sure! Here it is: {"a": 1} Hope that helps.`, `{"a": 1}`},
		{"leading whitespace", "\n\n  {\"a\": 1}", `{"a": 1}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ExtractJSON(c.raw)
			if err != nil {
				t.Fatalf("ExtractJSON failed: %v", err)
			}
			if got != c.want {
				t.Errorf("got %q, want %q", got, c.want)
			}
		})
	}
}

// TestExtractJSON_NoPayload verifies pure prose is rejected.
func TestExtractJSON_NoPayload(t *testing.T) {
	for _, raw := range []string{"", "no json here", "{broken", "``` ```"} {
		if _, err := ExtractJSON(raw); err == nil {
			t.Errorf("ExtractJSON(%q) succeeded, want error", raw)
		}
	}
}
