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

// Package httpapi exposes the ingestion pipeline over HTTP. Identity
// arrives in the X-Forwarded-Email header set by the fronting auth
// proxy; the API itself does no authentication.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/runwayhq/ingestion/internal/audit"
	"github.com/runwayhq/ingestion/internal/categorize"
	"github.com/runwayhq/ingestion/internal/directory"
	"github.com/runwayhq/ingestion/internal/mailbox"
	"github.com/runwayhq/ingestion/internal/pipeline"
	"github.com/runwayhq/ingestion/internal/pricehistory"
	"github.com/runwayhq/ingestion/internal/receipts"
	"github.com/runwayhq/ingestion/internal/rules"
)

const identityHeader = "X-Forwarded-Email"

// Server holds the handler dependencies.
type Server struct {
	directory   *directory.Directory
	receipts    *receipts.Store
	rules       *rules.Engine
	categorizer *categorize.Engine
	connections *mailbox.ConnectionStore
	pipeline    *pipeline.Pipeline
	prices      *pricehistory.Store
	audit       *audit.Logger
	logger      *slog.Logger
}

type ServerConfig struct {
	Directory   *directory.Directory
	Receipts    *receipts.Store
	Rules       *rules.Engine
	Categorizer *categorize.Engine
	Connections *mailbox.ConnectionStore
	Pipeline    *pipeline.Pipeline
	Prices      *pricehistory.Store
	Audit       *audit.Logger
	Logger      *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		directory:   cfg.Directory,
		receipts:    cfg.Receipts,
		rules:       cfg.Rules,
		categorizer: cfg.Categorizer,
		connections: cfg.Connections,
		pipeline:    cfg.Pipeline,
		prices:      cfg.Prices,
		audit:       cfg.Audit,
		logger:      cfg.Logger,
	}
}

// Routes builds the chi router with all API endpoints mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", identityHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.withAccount)

		r.Post("/scan", s.handleScan)
		r.Get("/receipts", s.handleListReceipts)
		r.Get("/review-queue", s.handleReviewQueue)
		r.Get("/price-history", s.handlePriceHistory)

		r.Get("/rules", s.handleListRules)
		r.Post("/rules", s.handleCreateRule)
		r.Delete("/rules/{id}", s.handleDeleteRule)

		r.Patch("/items/{id}/categorize", s.handleCategorizeItem)
		r.Patch("/items/{id}/skip", s.handleSkipItem)

		r.Get("/account/members", s.handleListMembers)
		r.Post("/account/members", s.handleInviteMember)
		r.Delete("/account/members", s.handleRemoveMember)

		r.Post("/mailbox/connect", s.handleConnectMailbox)
		r.Post("/mailbox/disconnect", s.handleDisconnectMailbox)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
