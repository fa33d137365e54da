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

package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailProvider implements Provider over the Gmail API using a
// per-identity OAuth token pair.
type GmailProvider struct {
	svc *gmail.Service
}

// NewGmailProvider builds a Gmail client from stored connection tokens.
// The token source refreshes the access token transparently.
func NewGmailProvider(ctx context.Context, clientID, clientSecret, accessToken, refreshToken string) (*GmailProvider, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("missing Google OAuth client credentials")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}
	ts := conf.TokenSource(ctx, &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &GmailProvider{svc: svc}, nil
}

// ListMessageIDs pages through messages matching the query.
func (g *GmailProvider) ListMessageIDs(ctx context.Context, query string, pageSize int64) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		call := g.svc.Users.Messages.List("me").
			Q(query).
			MaxResults(pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, mapGoogleError("list messages", err)
		}

		for _, m := range resp.Messages {
			if m.Id != "" {
				ids = append(ids, m.Id)
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return ids, nil
		}
	}
}

// GetMessage fetches the full message and extracts headers, snippet, and
// the text body from the MIME tree.
func (g *GmailProvider) GetMessage(ctx context.Context, id string) (*Message, error) {
	resp, err := g.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleError(fmt.Sprintf("get message %s", id), err)
	}

	msg := &Message{
		ID:      resp.Id,
		Snippet: resp.Snippet,
	}
	if resp.Payload != nil {
		msg.From = headerValue(resp.Payload.Headers, "From")
		msg.Subject = headerValue(resp.Payload.Headers, "Subject")
		msg.Date = headerValue(resp.Payload.Headers, "Date")
		msg.Body = extractBody(resp.Payload)
	}
	return msg, nil
}

// mapGoogleError wraps permission failures with the sentinel the pipeline
// distinguishes; everything else passes through wrapped.
func mapGoogleError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == 401 || gerr.Code == 403) {
		return fmt.Errorf("%s: %s: %w", op, gerr.Message, ErrInsufficientPermission)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// headerValue finds a header case-insensitively; missing headers are "".
func headerValue(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// extractBody descends the MIME tree depth-first and returns the first
// decodable text/plain or text/html leaf.
func extractBody(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}

	if part.MimeType == "text/plain" || part.MimeType == "text/html" {
		if part.Body != nil && part.Body.Data != "" {
			if decoded, err := decodeBody(part.Body.Data); err == nil {
				return decoded
			}
		}
	}

	for _, child := range part.Parts {
		if body := extractBody(child); body != "" {
			return body
		}
	}
	return ""
}

// decodeBody handles both padded and unpadded base64url message bodies.
func decodeBody(data string) (string, error) {
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b), nil
	}
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("decode message body: %w", err)
	}
	return string(b), nil
}
