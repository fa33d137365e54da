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

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON locates the JSON payload in a model response. Responses are
// often wrapped in code fences or surrounded by prose; callers must not
// trust the raw text shape.
func ExtractJSON(raw string) (string, error) {
	s := stripFences(strings.TrimSpace(raw))
	if json.Valid([]byte(s)) {
		return s, nil
	}

	for _, delims := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(s, delims[0])
		end := strings.LastIndex(s, delims[1])
		if start >= 0 && end > start {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("no JSON payload in response")
}

// stripFences removes a leading ```json or ``` fence and a trailing ```.
func stripFences(s string) string {
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "JSON")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
