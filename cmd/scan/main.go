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

// Command scan runs one pipeline pass for a single identity and exits.
// Useful from cron or for backfilling a newly connected mailbox.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/runwayhq/ingestion/internal/audit"
	"github.com/runwayhq/ingestion/internal/categorize"
	"github.com/runwayhq/ingestion/internal/config"
	"github.com/runwayhq/ingestion/internal/directory"
	"github.com/runwayhq/ingestion/internal/extract"
	"github.com/runwayhq/ingestion/internal/genai"
	"github.com/runwayhq/ingestion/internal/mailbox"
	"github.com/runwayhq/ingestion/internal/pipeline"
	"github.com/runwayhq/ingestion/internal/pricehistory"
	"github.com/runwayhq/ingestion/internal/receipts"
	"github.com/runwayhq/ingestion/internal/rules"
	"github.com/runwayhq/ingestion/internal/scanner"
	"github.com/runwayhq/ingestion/internal/scanstate"
)

func main() {
	_ = godotenv.Load()

	identity := flag.String("identity", "", "identity whose mailbox to scan")
	lookback := flag.Duration("lookback", 0, "scan window override, e.g. 720h (0 = configured default)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if *identity == "" {
		logger.Error("missing -identity flag")
		os.Exit(2)
	}

	if err := run(*identity, *lookback, logger); err != nil {
		logger.Error("scan failed", "identity", *identity, "error", err)
		os.Exit(1)
	}
}

func run(identity string, lookback time.Duration, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lookback > 0 {
		cfg.ScanLookback = lookback
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to Postgres: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse Redis URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	pipe, err := buildPipeline(ctx, cfg, pool, rdb, logger)
	if err != nil {
		return err
	}

	result, err := pipe.Run(ctx, identity)
	if err != nil {
		return err
	}

	out, _ := json.Marshal(result)
	fmt.Println(string(out))
	return nil
}

func buildPipeline(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) (*pipeline.Pipeline, error) {
	auditLog, err := audit.NewLogger(ctx, pool)
	if err != nil {
		return nil, err
	}
	dirStore, err := directory.NewStore(ctx, pool)
	if err != nil {
		return nil, err
	}
	receiptStore, err := receipts.NewStore(ctx, pool)
	if err != nil {
		return nil, err
	}
	watermarks, err := scanstate.NewStore(ctx, pool)
	if err != nil {
		return nil, err
	}
	connections, err := mailbox.NewConnectionStore(ctx, pool)
	if err != nil {
		return nil, err
	}
	ruleStore, err := rules.NewStore(ctx, pool)
	if err != nil {
		return nil, err
	}
	prices, err := pricehistory.NewStore(ctx, pool)
	if err != nil {
		return nil, err
	}

	gen := genai.NewClient(nil, cfg.GenAIBaseURL, cfg.GenAIModel, cfg.GenAIAPIKey)

	return pipeline.New(pipeline.Config{
		Directory:   directory.New(dirStore, auditLog),
		Connections: connections,
		NewProvider: func(ctx context.Context, conn *mailbox.Connection) (mailbox.Provider, error) {
			return mailbox.NewGmailProvider(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, conn.AccessToken, conn.RefreshToken)
		},
		Scanner: scanner.New(scanner.ScannerConfig{
			ProviderName: mailbox.ProviderGmail,
			Detector:     scanner.NewDetector(cfg.Retailers, cfg.DevSenders),
			Receipts:     receiptStore,
			Watermarks:   watermarks,
			Audit:        auditLog,
			Lookback:     cfg.ScanLookback,
			PageSize:     cfg.ScanPageSize,
		}),
		Extractor: extract.New(receiptStore, prices, gen, logger),
		Categorizer: categorize.New(categorize.EngineConfig{
			Store:     receiptStore,
			Rules:     rules.NewEngine(ruleStore, rdb),
			Generator: gen,
			Audit:     auditLog,
			BatchSize: cfg.CategorizeBatchSize,
			Logger:    logger,
		}),
		Logger: logger,
	}), nil
}
