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
	"context"
	"net/http"

	"github.com/runwayhq/ingestion/internal/directory"
)

type contextKey int

const accountContextKey contextKey = iota

// withAccount resolves the caller's identity into an account context and
// rejects requests with no identity or no resolvable account. Resolution
// auto-provisions first-time identities, so a 403 here means the identity
// was removed from its account.
func (s *Server) withAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := directory.NormalizeIdentity(r.Header.Get(identityHeader))
		if identity == "" {
			writeError(w, http.StatusUnauthorized, "missing identity header")
			return
		}

		actx, err := s.directory.Resolve(r.Context(), identity)
		if err != nil {
			s.logger.Error("resolve account", "identity", identity, "error", err)
			writeError(w, http.StatusInternalServerError, "account resolution failed")
			return
		}
		if actx == nil {
			writeError(w, http.StatusForbidden, "no account for this identity")
			return
		}

		ctx := context.WithValue(r.Context(), accountContextKey, actx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountFrom(r *http.Request) *directory.AccountContext {
	actx, _ := r.Context().Value(accountContextKey).(*directory.AccountContext)
	return actx
}
