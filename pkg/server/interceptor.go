// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/stacklok/gatehouse/pkg/apperrors"
)

// refreshFloor is the remaining token life below which the interceptor
// always re-mints.
const refreshFloor = 2 * time.Hour

// handleInterceptor is the ForwardAuth gate: the proxy consults it for every
// request to a protected host.
func (s *Server) handleInterceptor(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFrom(r.Context())
	if rc.Tenant == nil {
		s.respondError(w, r, apperrors.ErrNoTenant)
		return
	}
	if !rc.Tenant.InterceptorEnabled() {
		s.sink.CountInterceptor(rc.Tenant.Name, apperrors.ReasonTenantNotAllowed)
		s.respondError(w, r, apperrors.ErrTenantNotAllowed)
		return
	}

	if !rc.Authenticated() || rc.Payload.Tenant != rc.Tenant.Name {
		s.sink.CountInterceptor(rc.Tenant.Name, apperrors.ReasonUnauthorized)
		s.redirectToLogin(w, r, rc)
		return
	}

	if s.withinRefreshWindow(rc.Payload.ExpiresAt, time.Now()) {
		s.refreshSession(w, r, rc)
	}

	s.sink.CountInterceptor(rc.Tenant.Name, "")
	w.WriteHeader(http.StatusOK)
}

// withinRefreshWindow reports whether a valid token is close enough to
// expiry to re-mint: less than two hours left, or past the last quarter of
// the cookie lifetime.
func (s *Server) withinRefreshWindow(exp int64, now time.Time) bool {
	expiry := time.Unix(exp, 0)
	if expiry.Sub(now) < refreshFloor {
		return true
	}
	return now.After(expiry.Add(-3 * s.cfg.CookieExpiration / 4))
}

// refreshSession revalidates the user and, on success, attaches a
// fresh-expiry token to the response as both bearer header and cookie.
// Failures leave the current still-valid session untouched.
func (s *Server) refreshSession(w http.ResponseWriter, r *http.Request, rc *RequestContext) {
	valid, err := s.validateUser(r, rc.Tenant, userOf(rc.Payload))
	if err != nil || !valid {
		s.logger.Warn("interceptor refresh validation failed",
			"tenant", rc.Tenant.Name, "user", userOf(rc.Payload), "error", err)
		return
	}

	now := time.Now()
	payload := *rc.Payload
	payload.IssuedAt = now.Unix()
	payload.ExpiresAt = now.Add(s.cfg.CookieExpiration).Unix()

	raw, err := s.signer.Sign(&payload, s.signer.AlgorithmFor(rc.Tenant))
	if err != nil {
		s.logger.Warn("interceptor refresh signing failed", "tenant", rc.Tenant.Name, "error", err)
		return
	}

	w.Header().Set("Authorization", "Bearer "+raw)
	s.setSessionCookie(w, s.cookieDomain(rc, modeInterceptor), raw, int(s.cfg.CookieExpiration.Seconds()))
}

// redirectToLogin sends the browser to the tenant's login domain with the
// original URL as target.
func (s *Server) redirectToLogin(w http.ResponseWriter, r *http.Request, rc *RequestContext) {
	domain := rc.Tenant.Interceptor.LoginDomain
	if domain == "" {
		domain = hostOnly(rc.Host)
	}
	uri := rc.ForwardedURI
	if uri == "" {
		uri = "/"
	}
	original := fmt.Sprintf("%s://%s%s", rc.Scheme, rc.Host, uri)
	location := fmt.Sprintf("%s://%s/login?for=%s&mode=%s",
		rc.Scheme, domain, url.QueryEscape(original), modeInterceptor)
	http.Redirect(w, r, location, http.StatusTemporaryRedirect)
}
