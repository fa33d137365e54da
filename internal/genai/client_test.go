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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestGenerate_RoundTrip verifies the request shape and response text
// extraction against a mock endpoint.
func TestGenerate_RoundTrip(t *testing.T) {
	var gotPath, gotKey, gotPrompt string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Contents) == 1 && len(req.Contents[0].Parts) == 1 {
			gotPrompt = req.Contents[0].Parts[0].Text
		}

		w.Header().Set("Content-Type", "application/json")
		resp := generateResponse{}
		resp.Candidates = append(resp.Candidates, struct {
			Content content `json:"content"`
		}{Content: content{Parts: []part{{Text: `{"answer": 42}`}}}})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "gemini-1.5-flash", "test-key")
	text, err := c.Generate(context.Background(), "classify this")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if text != `{"answer": 42}` {
		t.Errorf("text = %q", text)
	}
	if gotPath != "/models/gemini-1.5-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("key = %q", gotKey)
	}
	if gotPrompt != "classify this" {
		t.Errorf("prompt = %q", gotPrompt)
	}
}

// TestGenerate_HTTPError verifies non-200 responses surface the status
// and a body excerpt.
func TestGenerate_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "quota exhausted"}`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "gemini-1.5-flash", "k")
	_, err := c.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "quota exhausted") {
		t.Errorf("err = %v, want status and body excerpt", err)
	}
}

// TestGenerate_NoCandidates verifies an empty candidate list is an error.
func TestGenerate_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "gemini-1.5-flash", "k")
	if _, err := c.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("expected error for empty candidates")
	}
}
