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

// Command server runs the receipt ingestion HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
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
	"github.com/runwayhq/ingestion/internal/httpapi"
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
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

	deps, err := buildDependencies(ctx, cfg, pool, rdb, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      deps.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // pipeline runs are slow
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildDependencies constructs the stores and pipeline stages shared by
// the HTTP handlers.
func buildDependencies(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) (*httpapi.Server, error) {
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

	dir := directory.New(dirStore, auditLog)
	ruleEngine := rules.NewEngine(ruleStore, rdb)
	gen := genai.NewClient(nil, cfg.GenAIBaseURL, cfg.GenAIModel, cfg.GenAIAPIKey)

	scan := scanner.New(scanner.ScannerConfig{
		ProviderName: mailbox.ProviderGmail,
		Detector:     scanner.NewDetector(cfg.Retailers, cfg.DevSenders),
		Receipts:     receiptStore,
		Watermarks:   watermarks,
		Audit:        auditLog,
		Lookback:     cfg.ScanLookback,
		PageSize:     cfg.ScanPageSize,
	})
	extractor := extract.New(receiptStore, prices, gen, logger)
	categorizer := categorize.New(categorize.EngineConfig{
		Store:     receiptStore,
		Rules:     ruleEngine,
		Generator: gen,
		Audit:     auditLog,
		BatchSize: cfg.CategorizeBatchSize,
		Logger:    logger,
	})

	pipe := pipeline.New(pipeline.Config{
		Directory:   dir,
		Connections: connections,
		NewProvider: func(ctx context.Context, conn *mailbox.Connection) (mailbox.Provider, error) {
			return mailbox.NewGmailProvider(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, conn.AccessToken, conn.RefreshToken)
		},
		Scanner:     scan,
		Extractor:   extractor,
		Categorizer: categorizer,
		Logger:      logger,
	})

	return httpapi.NewServer(httpapi.ServerConfig{
		Directory:   dir,
		Receipts:    receiptStore,
		Rules:       ruleEngine,
		Categorizer: categorizer,
		Connections: connections,
		Pipeline:    pipe,
		Prices:      prices,
		Audit:       auditLog,
		Logger:      logger,
	}), nil
}
