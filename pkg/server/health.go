// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/stacklok/gatehouse/pkg/config"
	"github.com/stacklok/gatehouse/pkg/signer"
	"github.com/stacklok/gatehouse/pkg/versions"
)

// handleHealth reports liveness: 204 unless the session store is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Healthy(r.Context()) {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReady reports readiness: 204 once the session store answers, 417
// until then. Redis outages degrade readiness until a PING succeeds again.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Healthy(r.Context()) {
		w.WriteHeader(http.StatusExpectationFailed)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleJWKS serves the public RSA keys. The set is cacheable for an hour;
// rotated-out keys stay listed until removed from the key store.
func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	// An RS256 deployment generates its first pair lazily on sign; make sure
	// the set is non-empty before the first token is issued.
	if s.cfg.JWTAlgorithm == signer.AlgRS256 && s.keys.Count() == 0 {
		if _, _, err := s.keys.ActiveSigningKey(); err != nil {
			s.logger.Error("generating signing key for JWKS failed", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := json.NewEncoder(w).Encode(s.keys.PublicJWKS()); err != nil {
		s.logger.Warn("writing JWKS failed", "error", err)
	}
}

// handleVersions serves the build information.
func (s *Server) handleVersions(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, versions.GetVersionInfo())
}

// handleIndex serves the index page.
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.renderer.RenderIndex(w, &IndexData{AppName: config.AppName})
}
