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

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestHealth verifies the unauthenticated health endpoint.
func TestHealth(t *testing.T) {
	s := NewServer(ServerConfig{})
	server := httptest.NewServer(s.Routes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

// TestAPI_RequiresIdentity verifies API routes reject requests without
// the identity header before any account lookup happens.
func TestAPI_RequiresIdentity(t *testing.T) {
	s := NewServer(ServerConfig{})
	server := httptest.NewServer(s.Routes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/receipts")
	if err != nil {
		t.Fatalf("GET /api/receipts failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

// TestAPI_BlankIdentityRejected verifies whitespace identities normalize
// to empty and are rejected.
func TestAPI_BlankIdentityRejected(t *testing.T) {
	s := NewServer(ServerConfig{})
	server := httptest.NewServer(s.Routes())
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/receipts", nil)
	req.Header.Set("X-Forwarded-Email", "   ")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
