// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/gatehouse/pkg/apperrors"
	"github.com/stacklok/gatehouse/pkg/config"
	"github.com/stacklok/gatehouse/pkg/entities"
	"github.com/stacklok/gatehouse/pkg/provider"
	"github.com/stacklok/gatehouse/pkg/session"
	"github.com/stacklok/gatehouse/pkg/signer"
)

// Login form modes.
const (
	modeOAuth       = "oauth"
	modeInterceptor = "interceptor"
)

// handleLoginForm renders the form, or silently redirects an already
// authenticated session to its target.
func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFrom(r.Context())
	if rc.Tenant == nil {
		s.respondError(w, r, apperrors.ErrNoTenant)
		return
	}

	q := r.URL.Query()
	target := q.Get("for")
	mode := q.Get("mode")
	if mode == "" {
		mode = modeOAuth
	}

	if target != "" && rc.Authenticated() &&
		rc.Payload.Tenant == rc.Tenant.Name && rc.Tenant.SilentLoginEnabled() {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	clientID := ""
	if rc.Client != nil {
		clientID = rc.Client.Ident
	}
	s.renderer.RenderLogin(w, http.StatusOK, &LoginData{
		Target:   target,
		Mode:     mode,
		ClientID: clientID,
		Scope:    q.Get("scope"),
		Info:     rc.Tenant.Info,
	})
}

// handleLoginSubmit checks the credentials against the tenant's scripts,
// sets the SSO cookie and redirects to the nonce-annotated target.
func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFrom(r.Context())
	if rc.Tenant == nil {
		s.respondError(w, r, apperrors.ErrNoTenant)
		return
	}

	if rc.Client != nil && rc.Client.Tenant != rc.Tenant.Name {
		s.sink.CountLogin(rc.Tenant.Name, apperrors.ReasonTenantMismatch)
		s.respondError(w, r, apperrors.ErrTenantMismatch)
		return
	}

	username := r.FormValue("username")
	location := r.FormValue("location")
	mode := r.FormValue("mode")
	if mode == "" {
		mode = modeOAuth
	}

	target, err := s.validateLoginTarget(rc, location, mode)
	if err != nil {
		s.sink.CountLogin(rc.Tenant.Name, apperrors.FromError(err).Reason)
		s.respondError(w, r, err)
		return
	}

	nonce := uuid.NewString()
	if err := s.sessions.Push(r.Context(), session.KindLoginNonce, nonce, &session.Session{}, s.cfg.LoginNonceTTL); err != nil {
		s.sink.CountLogin(rc.Tenant.Name, apperrors.ReasonCodeStorageAvailability)
		s.respondError(w, r, apperrors.ErrCodeStorageAvailability)
		return
	}
	tq := target.Query()
	tq.Set("loginid", nonce)
	target.RawQuery = tq.Encode()

	rt, err := provider.NewRuntime(r.Context(), rc.Tenant, s.logger)
	if err != nil {
		s.sink.CountLogin(rc.Tenant.Name, apperrors.ReasonExpectedValueUnset)
		s.respondError(w, r, apperrors.Wrap(http.StatusInternalServerError, apperrors.ReasonExpectedValueUnset, err))
		return
	}
	defer rt.Close()

	res, err := rt.UserLogin(username, r.FormValue("password"))
	if err != nil {
		s.sink.CountLogin(rc.Tenant.Name, apperrors.ReasonExpectedValueUnset)
		s.respondError(w, r, apperrors.Wrap(http.StatusInternalServerError, apperrors.ReasonExpectedValueUnset, err))
		return
	}
	if !res.CanLogin {
		s.sink.CountLogin(rc.Tenant.Name, apperrors.ReasonWrongCredentials)
		clientID := ""
		if rc.Client != nil {
			clientID = rc.Client.Ident
		}
		s.renderer.RenderLogin(w, http.StatusForbidden, &LoginData{
			Target:   location,
			Mode:     mode,
			ClientID: clientID,
			Scope:    r.FormValue("scope"),
			Reason:   apperrors.ReasonWrongCredentials,
			Info:     rc.Tenant.Info,
		})
		return
	}

	scopes := grantedScopes(rc.Client, splitScopes(r.FormValue("scope")), res.Scopes)
	payload := s.buildPayload(rc, rc.Client, username, res, scopes)

	raw, err := s.signer.Sign(payload, s.signer.AlgorithmFor(rc.Tenant))
	if err != nil {
		s.sink.CountLogin(rc.Tenant.Name, apperrors.ReasonExpectedValueUnset)
		s.respondError(w, r, apperrors.Wrap(http.StatusInternalServerError, apperrors.ReasonExpectedValueUnset, err))
		return
	}

	s.setSessionCookie(w, s.cookieDomain(rc, mode), raw, int(s.cfg.CookieExpiration.Seconds()))
	s.sink.CountLogin(rc.Tenant.Name, "")
	s.logger.Info("login succeeded",
		"tenant", rc.Tenant.Name, "user", username, "mode", mode, "script_context", rt.ContextID())
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// validateLoginTarget checks the redirect target of a login. Interceptor
// targets are accepted as-is (the interceptor minted them); oauth targets
// must stay on a host of the same tenant or match the client's redirect
// patterns.
func (s *Server) validateLoginTarget(rc *RequestContext, location, mode string) (*url.URL, error) {
	target, err := url.Parse(location)
	if err != nil || location == "" {
		return nil, apperrors.ErrNotAcceptableRequest
	}
	if mode == modeInterceptor {
		return target, nil
	}
	if target.Host == "" {
		// Relative target stays on the login host.
		return target, nil
	}
	if owner := s.store.LookupTenantByHost(target.Host); owner != nil && owner.Name == rc.Tenant.Name {
		return target, nil
	}
	if rc.Client != nil && rc.Client.MatchesRedirect(location) {
		return target, nil
	}
	return nil, apperrors.ErrRedirectMismatch
}

// buildPayload assembles the claim set for a fresh login. The subject is the
// script's committed subject when present, else the username.
func (s *Server) buildPayload(
	rc *RequestContext, client *entities.Client, username string, res *provider.LoginResult, scopes []string,
) *signer.Payload {
	now := time.Now()
	subject := res.Subject
	if subject == "" {
		subject = username
	}
	audience := ""
	if client != nil {
		audience = client.Ident
	}
	return &signer.Payload{
		Issuer:         config.AppName,
		Subject:        subject,
		Audience:       audience,
		ExpiresAt:      now.Add(s.cfg.CookieExpiration).Unix(),
		IssuedAt:       now.Unix(),
		AuthTime:       now.Unix(),
		Tenant:         rc.Tenant.Name,
		Responsibility: signer.HashResponsibility(hostOnly(rc.Host)),
		Role:           res.Role,
		User:           username,
		Scope:          strings.Join(scopes, " "),
		Profile:        res.Profile,
	}
}

// cookieDomain resolves the Set-Cookie domain: the interceptor's cookie (or
// login) domain in interceptor mode, else the forwarded host, else the
// public domain.
func (s *Server) cookieDomain(rc *RequestContext, mode string) string {
	if mode == modeInterceptor && rc.Tenant != nil && rc.Tenant.Interceptor != nil {
		if d := rc.Tenant.Interceptor.CookieOrLoginDomain(); d != "" {
			return d
		}
	}
	if h := hostOnly(rc.Host); h != "" {
		return h
	}
	return s.cfg.PublicDomain
}

func (s *Server) setSessionCookie(w http.ResponseWriter, domain, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// handleLogout clears the cookie and redirects to the finalize page or the
// caller-provided target.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFrom(r.Context())
	mode := r.URL.Query().Get("mode")
	s.setSessionCookie(w, s.cookieDomain(rc, mode), "", -1)

	target := r.URL.Query().Get("for")
	if target == "" {
		target = "/logout/finalize"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleLogoutFinalize clears the cookie again and confirms the logout.
func (s *Server) handleLogoutFinalize(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFrom(r.Context())
	s.setSessionCookie(w, s.cookieDomain(rc, ""), "", -1)
	s.renderer.RenderIndex(w, &IndexData{AppName: config.AppName, Message: "Signed out."})
}
