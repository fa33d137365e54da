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
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/runwayhq/ingestion/internal/audit"
	"github.com/runwayhq/ingestion/internal/directory"
	"github.com/runwayhq/ingestion/internal/mailbox"
	"github.com/runwayhq/ingestion/internal/models"
	"github.com/runwayhq/ingestion/internal/pipeline"
	"github.com/runwayhq/ingestion/internal/pricehistory"
	"github.com/runwayhq/ingestion/internal/rules"
)

const defaultReceiptDays = 30

// handleScan triggers a full pipeline run for the caller's mailbox.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)

	result, err := s.pipeline.Run(r.Context(), actx.Identity)
	switch {
	case errors.Is(err, pipeline.ErrNotConnected):
		writeError(w, http.StatusConflict, "no connected mailbox; connect one first")
		return
	case mailbox.IsInsufficientPermission(err):
		writeError(w, http.StatusBadGateway, "mailbox permission revoked; reconnect your mailbox")
		return
	case err != nil:
		s.logger.Error("pipeline run failed", "identity", actx.Identity, "error", err)
		writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListReceipts lists the account's parsed receipts, optionally
// filtered by contributor role and day window.
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)

	filter, err := directory.ParseContributorFilter(r.URL.Query().Get("contributor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	days := defaultReceiptDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
	}

	contributors := s.directory.ContributorIdentities(actx, filter)
	summaries, err := s.receipts.ListByContributors(r.Context(), actx.AccountID, contributors, days, actx.OwnerIdentity)
	if err != nil {
		s.logger.Error("list receipts", "account", actx.AccountID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list receipts")
		return
	}
	if summaries == nil {
		summaries = []models.ReceiptSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)

	items, err := s.receipts.ListReviewQueue(r.Context(), actx.AccountID)
	if err != nil {
		s.logger.Error("list review queue", "account", actx.AccountID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list review queue")
		return
	}
	if items == nil {
		items = []models.ReviewItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handlePriceHistory returns price observations for one item name across
// all of the account's contributors.
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)

	name := models.NormalizeItemName(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}

	var entries []pricehistory.Entry
	for _, contributor := range s.directory.ContributorIdentities(actx, directory.FilterAll) {
		part, err := s.prices.History(r.Context(), contributor, name)
		if err != nil {
			s.logger.Error("query price history", "account", actx.AccountID, "error", err)
			writeError(w, http.StatusInternalServerError, "could not query price history")
			return
		}
		entries = append(entries, part...)
	}
	if entries == nil {
		entries = []pricehistory.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)

	list, err := s.rules.List(r.Context(), actx.AccountID)
	if err != nil {
		s.logger.Error("list rules", "account", actx.AccountID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list rules")
		return
	}
	if list == nil {
		list = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)
	if actx.Role != directory.RoleOwner {
		writeError(w, http.StatusForbidden, "only the account owner may manage rules")
		return
	}

	var req struct {
		MatchPattern string  `json:"match_pattern"`
		Category     string  `json:"category"`
		Subcategory  *string `json:"subcategory"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, ok := models.Categories[req.Category]; !ok {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}

	created, err := s.rules.Create(r.Context(), rules.Rule{
		AccountID:    actx.AccountID,
		MatchPattern: req.MatchPattern,
		Category:     req.Category,
		Subcategory:  req.Subcategory,
		Provenance:   rules.ProvenanceManual,
	})
	if err != nil {
		s.logger.Error("create rule", "account", actx.AccountID, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)
	if actx.Role != directory.RoleOwner {
		writeError(w, http.StatusForbidden, "only the account owner may manage rules")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	removed, err := s.rules.Remove(r.Context(), actx.AccountID, id)
	if err != nil {
		s.logger.Error("delete rule", "account", actx.AccountID, "rule_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete rule")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "no such rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCategorizeItem applies a human correction to one line item.
func (s *Server) handleCategorizeItem(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req struct {
		Category    string  `json:"category"`
		Subcategory *string `json:"subcategory"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	item, err := s.categorizer.Correct(r.Context(), actx.AccountID, actx.Identity, id, req.Category, req.Subcategory)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "no such item")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              item.ID,
		"category":        item.Category,
		"subcategory":     item.Subcategory,
		"confidence":      item.Confidence,
		"user_overridden": item.UserOverridden,
	})
}

// handleSkipItem dismisses a review-queue item without recategorizing it.
func (s *Server) handleSkipItem(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := s.categorizer.Skip(r.Context(), actx.AccountID, actx.Identity, id)
	if err != nil {
		s.logger.Error("skip item", "account", actx.AccountID, "item_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not skip item")
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "no such item")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              item.ID,
		"category":        item.Category,
		"subcategory":     item.Subcategory,
		"confidence":      item.Confidence,
		"user_overridden": item.UserOverridden,
	})
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)

	memberships, err := s.directory.Members(r.Context(), actx)
	if err != nil {
		s.logger.Error("list members", "account", actx.AccountID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list members")
		return
	}

	type memberView struct {
		Identity string `json:"identity"`
		Role     string `json:"role"`
		Status   string `json:"status"`
	}
	out := make([]memberView, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, memberView{Identity: m.Identity, Role: m.Role, Status: m.Status})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInviteMember(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)

	var req struct {
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.directory.Invite(r.Context(), actx, req.Identity)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{
			"identity": directory.NormalizeIdentity(req.Identity),
			"status":   directory.StatusPending,
		})
	case errors.Is(err, directory.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, directory.ErrSelfInvite):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, directory.ErrAlreadyActiveElsewhere),
		errors.Is(err, directory.ErrAlreadyActive),
		errors.Is(err, directory.ErrAlreadyPending),
		errors.Is(err, directory.ErrMemberCapReached):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("invite member", "account", actx.AccountID, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)

	var req struct {
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.directory.RemoveMember(r.Context(), actx, req.Identity)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, directory.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, directory.ErrMemberNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("remove member", "account", actx.AccountID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not remove member")
	}
}

// handleConnectMailbox stores OAuth tokens obtained by the frontend's
// consent flow. Reconnecting replaces the stored tokens.
func (s *Server) handleConnectMailbox(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)

	var req struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AccessToken == "" || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "access_token and refresh_token are required")
		return
	}

	id, err := s.connections.Upsert(r.Context(), actx.Identity, mailbox.ProviderGmail, req.AccessToken, req.RefreshToken)
	if err != nil {
		s.logger.Error("connect mailbox", "identity", actx.Identity, "error", err)
		writeError(w, http.StatusInternalServerError, "could not store mailbox connection")
		return
	}

	s.audit.Write(r.Context(), audit.Event{
		AccountID: actx.AccountID,
		Actor:     actx.Identity,
		Type:      audit.EventMailboxConnected,
		Target:    mailbox.ProviderGmail,
	})
	writeJSON(w, http.StatusOK, map[string]any{"connection_id": id, "status": mailbox.StatusConnected})
}

func (s *Server) handleDisconnectMailbox(w http.ResponseWriter, r *http.Request) {
	actx := accountFrom(r)

	if err := s.connections.Disconnect(r.Context(), actx.Identity, mailbox.ProviderGmail); err != nil {
		s.logger.Error("disconnect mailbox", "identity", actx.Identity, "error", err)
		writeError(w, http.StatusInternalServerError, "could not disconnect mailbox")
		return
	}

	s.audit.Write(r.Context(), audit.Event{
		AccountID: actx.AccountID,
		Actor:     actx.Identity,
		Type:      audit.EventMailboxDisconnected,
		Target:    mailbox.ProviderGmail,
	})
	w.WriteHeader(http.StatusNoContent)
}
