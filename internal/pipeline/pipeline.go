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

// Package pipeline chains scan, extract, and categorize into the one
// run triggered per identity.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/runwayhq/ingestion/internal/categorize"
	"github.com/runwayhq/ingestion/internal/directory"
	"github.com/runwayhq/ingestion/internal/extract"
	"github.com/runwayhq/ingestion/internal/mailbox"
	"github.com/runwayhq/ingestion/internal/scanner"
)

// ErrNoAccount means the identity resolves to no account (removed
// membership, or provisioning failed).
var ErrNoAccount = errors.New("identity has no account")

// ErrNotConnected means the identity has no connected mailbox.
var ErrNotConnected = errors.New("no connected mailbox")

type accountResolver interface {
	Resolve(ctx context.Context, identity string) (*directory.AccountContext, error)
}

type connectionSource interface {
	GetConnected(ctx context.Context, identity, provider string) (*mailbox.Connection, error)
}

type providerFactory func(ctx context.Context, conn *mailbox.Connection) (mailbox.Provider, error)

// RunResult aggregates one pipeline run's stage counters.
type RunResult struct {
	AccountID  string             `json:"account_id"`
	Scan       *scanner.Result    `json:"scan"`
	Extract    *extract.Result    `json:"extract"`
	Categorize *categorize.Result `json:"categorize"`
}

// Pipeline wires the three stages behind one entry point. Stages run
// sequentially; each consumes what the previous one persisted, so a
// failed stage leaves earlier work committed and retryable.
type Pipeline struct {
	directory   accountResolver
	connections connectionSource
	newProvider providerFactory
	scanner     *scanner.Scanner
	extractor   *extract.Extractor
	categorizer *categorize.Engine
	logger      *slog.Logger
}

type Config struct {
	Directory   accountResolver
	Connections connectionSource
	NewProvider providerFactory
	Scanner     *scanner.Scanner
	Extractor   *extract.Extractor
	Categorizer *categorize.Engine
	Logger      *slog.Logger
}

func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		directory:   cfg.Directory,
		connections: cfg.Connections,
		newProvider: cfg.NewProvider,
		scanner:     cfg.Scanner,
		extractor:   cfg.Extractor,
		categorizer: cfg.Categorizer,
		logger:      cfg.Logger,
	}
}

// Run executes scan, extract, and categorize for one identity. Mailbox
// permission errors are returned unwrapped enough for the caller to tell
// the user to reconnect.
func (p *Pipeline) Run(ctx context.Context, identity string) (*RunResult, error) {
	actx, err := p.directory.Resolve(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	if actx == nil {
		return nil, ErrNoAccount
	}

	conn, err := p.connections.GetConnected(ctx, identity, mailbox.ProviderGmail)
	if err != nil {
		return nil, fmt.Errorf("look up mailbox connection: %w", err)
	}
	if conn == nil {
		return nil, ErrNotConnected
	}

	provider, err := p.newProvider(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("build mailbox client: %w", err)
	}

	result := &RunResult{AccountID: actx.AccountID}

	result.Scan, err = p.scanner.Scan(ctx, actx, provider, conn.ID)
	if err != nil {
		return result, fmt.Errorf("scan mailbox: %w", err)
	}
	p.logger.Info("scan stage done", "identity", identity,
		"scanned", result.Scan.Scanned, "new", result.Scan.New, "skipped", result.Scan.Skipped)

	result.Extract, err = p.extractor.Run(ctx, actx, provider)
	if err != nil {
		return result, fmt.Errorf("extract receipts: %w", err)
	}
	p.logger.Info("extract stage done", "identity", identity,
		"processed", result.Extract.Processed, "failed", result.Extract.Failed)

	result.Categorize, err = p.categorizer.Run(ctx, actx.AccountID)
	if err != nil {
		return result, fmt.Errorf("categorize items: %w", err)
	}
	p.logger.Info("categorize stage done", "identity", identity,
		"categorized", result.Categorize.Categorized,
		"rules_hit", result.Categorize.RulesHit,
		"review_queue", result.Categorize.ReviewQueue)

	return result, nil
}
