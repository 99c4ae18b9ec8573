// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/gatehouse/pkg/apperrors"
	"github.com/stacklok/gatehouse/pkg/session"
)

// PKCE challenge methods.
const (
	pkceMethodPlain = "plain"
	pkceMethodS256  = "S256"
)

// handleAuthorize runs the OAuth2 authorization code grant initiation.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFrom(r.Context())
	q := r.URL.Query()

	if rc.Tenant == nil {
		s.respondError(w, r, apperrors.ErrNoTenant)
		return
	}
	if rc.Client == nil {
		s.respondError(w, r, apperrors.ErrNoClient)
		return
	}
	if rc.Client.Tenant != rc.Tenant.Name {
		s.respondError(w, r, apperrors.ErrTenantMismatch)
		return
	}
	if q.Get("response_type") != "code" {
		s.respondError(w, r, apperrors.ErrNotAcceptableRequest)
		return
	}

	challenge := q.Get("code_challenge")
	method := q.Get("code_challenge_method")
	switch method {
	case "":
		if challenge != "" {
			method = pkceMethodPlain
		}
	case pkceMethodPlain, pkceMethodS256:
	default:
		s.respondError(w, r, apperrors.ErrNotAcceptableRequest)
		return
	}
	if rc.Client.PKCEOnly && challenge == "" {
		s.respondError(w, r, apperrors.ErrClientOnlySupportsPKCE)
		return
	}

	payload := rc.Payload
	if rc.Expired {
		payload = nil
	}

	loginID := q.Get("loginid")
	if loginID != "" {
		nonce, err := s.sessions.Get(r.Context(), session.KindLoginNonce, loginID, true)
		if err != nil {
			s.respondError(w, r, apperrors.ErrCodeStorageAvailability)
			return
		}
		if nonce == nil {
			s.respondError(w, r, apperrors.ErrBadLoginID)
			return
		}
	} else {
		if !rc.Client.MatchesReferrer(rc.Referer) {
			s.respondError(w, r, apperrors.ErrWrongReferer)
			return
		}
		// Without a login nonce, silent_login=false tenants always see the
		// form again.
		if !rc.Tenant.SilentLoginEnabled() {
			payload = nil
		}
	}

	if payload == nil {
		s.renderer.RenderLogin(w, http.StatusUnauthorized, &LoginData{
			Target:   r.URL.String(),
			Mode:     "oauth",
			ClientID: rc.Client.Ident,
			Scope:    q.Get("scope"),
			Info:     rc.Tenant.Info,
		})
		return
	}

	if payload.Tenant != rc.Tenant.Name {
		s.respondError(w, r, apperrors.ErrTenantMismatch)
		return
	}

	redirectURI := q.Get("redirect_uri")
	if !rc.Client.MatchesRedirect(redirectURI) {
		s.respondError(w, r, apperrors.ErrRedirectMismatch)
		return
	}
	scopes := rc.Client.FilterScopes(splitScopes(q.Get("scope")))

	sess := &session.Session{
		Payload:         payload,
		Scopes:          scopes,
		RedirectURI:     redirectURI,
		State:           q.Get("state"),
		Challenge:       challenge,
		ChallengeMethod: method,
	}
	code, err := s.pushFresh(r, session.KindCode, sess)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.sink.CountAuthorize(rc.Tenant.Name, rc.Client.Ident)

	target, err := url.Parse(redirectURI)
	if err != nil {
		s.respondError(w, r, apperrors.ErrRedirectMismatch)
		return
	}
	tq := target.Query()
	tq.Set("code", code)
	if state := q.Get("state"); state != "" {
		tq.Set("state", state)
	}
	target.RawQuery = tq.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// pushFresh stores sess under a newly generated value, retrying once on the
// astronomically unlikely collision.
func (s *Server) pushFresh(r *http.Request, kind session.Kind, sess *session.Session) (string, error) {
	ttl := s.cfg.AuthCodeTTL
	if kind == session.KindRefresh {
		ttl = s.cfg.RefreshExpiration
	}
	for range 2 {
		value := session.NewValue(session.CodeLength)
		err := s.sessions.Push(r.Context(), kind, value, sess, ttl)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, session.ErrCodeTaken) {
			return "", apperrors.Wrap(http.StatusInsufficientStorage, apperrors.ReasonCodeStorageAvailability, err)
		}
	}
	return "", apperrors.ErrExpectedValueUnset
}

// splitScopes parses a scope string separated by spaces or plus signs.
func splitScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == '+'
	})
	return fields
}
