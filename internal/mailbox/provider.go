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

// Package mailbox abstracts the external mailbox provider (message search
// and full-message fetch) and stores per-identity connection tokens.
package mailbox

import (
	"context"
	"errors"
)

// ErrInsufficientPermission marks provider errors that require the user to
// re-authorize the mailbox connection. Never auto-retried.
var ErrInsufficientPermission = errors.New("mailbox permission insufficient")

// IsInsufficientPermission reports whether err requires a reconnect prompt.
func IsInsufficientPermission(err error) bool {
	return errors.Is(err, ErrInsufficientPermission)
}

// Message is a provider message reduced to the fields the pipeline needs.
type Message struct {
	ID      string
	From    string
	Subject string
	Date    string // raw Date header
	Snippet string
	Body    string // text body, extracted from the MIME tree
}

// Provider is the external mailbox API surface.
type Provider interface {
	// ListMessageIDs returns ids of messages matching the search query,
	// paging through results with the given per-page bound.
	ListMessageIDs(ctx context.Context, query string, pageSize int64) ([]string, error)

	// GetMessage fetches a full message including its text body.
	GetMessage(ctx context.Context, id string) (*Message, error)
}
