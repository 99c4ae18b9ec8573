// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/stacklok/gatehouse/pkg/apperrors"
)

// respondJSON writes v with the given status.
func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response failed", "error", err)
	}
}

// respondError maps err onto the wire. API consumers get the JSON error
// shape; browsers get the rendered error page with the same reason key.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.FromError(err)
	if appErr.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "reason", appErr.Reason, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "reason", appErr.Reason)
	}

	if wantsHTML(r) {
		s.renderer.RenderError(w, appErr.Status, appErr.Reason)
		return
	}
	s.respondJSON(w, appErr.Status, appErr)
}

// wantsHTML decides between the JSON and HTML error surface from Accept.
func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	switch {
	case strings.Contains(accept, "text/html"):
		return true
	case strings.Contains(accept, "application/json"):
		return false
	default:
		return false
	}
}
