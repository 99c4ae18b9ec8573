// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/stacklok/gatehouse/pkg/apperrors"
	"github.com/stacklok/gatehouse/pkg/entities"
	"github.com/stacklok/gatehouse/pkg/provider"
	"github.com/stacklok/gatehouse/pkg/session"
	"github.com/stacklok/gatehouse/pkg/signer"
)

// minVerifierLength is the RFC 7636 minimum code verifier length.
const minVerifierLength = 43

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// handleToken exchanges codes, refresh tokens and legacy password grants for
// access tokens.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFrom(r.Context())
	grant := r.FormValue("grant_type")

	tenantName := ""
	if rc.Tenant != nil {
		tenantName = rc.Tenant.Name
	}
	fail := func(err error) {
		s.sink.CountToken(tenantName, grant, apperrors.FromError(err).Reason)
		s.respondError(w, r, err)
	}

	client := rc.Client
	if client == nil {
		fail(apperrors.ErrNoClient)
		return
	}
	if client.Secret != "" && r.FormValue("client_secret") != client.Secret {
		fail(apperrors.ErrWrongClientSecret)
		return
	}
	if !client.AllowsGrant(grant) {
		fail(apperrors.ErrUnsupportedGrantType)
		return
	}
	if rc.Tenant == nil {
		fail(apperrors.ErrNoTenant)
		return
	}
	// A client only acts on hosts of its owning tenant.
	if client.Tenant != rc.Tenant.Name {
		fail(apperrors.ErrTenantMismatch)
		return
	}

	var resp *tokenResponse
	var err error
	switch grant {
	case entities.GrantAuthorizationCode:
		resp, err = s.redeemCode(r, client)
	case entities.GrantRefreshToken:
		resp, err = s.redeemRefresh(r)
	case entities.GrantPassword:
		resp, err = s.passwordGrant(r, client)
	default:
		err = apperrors.ErrUnsupportedGrantType
	}
	if err != nil {
		fail(err)
		return
	}

	s.sink.CountToken(tenantName, grant, "")
	s.respondJSON(w, http.StatusOK, resp)
}

// redeemCode consumes an authorization code and mints the token pair.
func (s *Server) redeemCode(r *http.Request, client *entities.Client) (*tokenResponse, error) {
	rc := RequestContextFrom(r.Context())

	sess, err := s.sessions.Get(r.Context(), session.KindCode, r.FormValue("code"), true)
	if err != nil {
		return nil, apperrors.Wrap(http.StatusInsufficientStorage, apperrors.ReasonCodeStorageAvailability, err)
	}
	if sess == nil || sess.Payload == nil {
		return nil, apperrors.ErrInvalidCode
	}

	if err := verifyPKCE(sess.Challenge, sess.ChallengeMethod, r.FormValue("code_verifier")); err != nil {
		return nil, err
	}
	if sess.Payload.Tenant != rc.Tenant.Name {
		return nil, apperrors.ErrTenantMismatch
	}
	if redirect := r.FormValue("redirect_uri"); redirect != "" && redirect != sess.RedirectURI {
		return nil, apperrors.ErrRedirectMismatch
	}
	if sess.Payload.Audience != "" && sess.Payload.Audience != client.Ident {
		return nil, apperrors.ErrInvalidCode
	}

	return s.mintPair(r, sess.Payload, sess.Scopes, true)
}

// redeemRefresh consumes a refresh value and revalidates the user against
// the tenant's scripts before minting a fresh pair. The old refresh value
// stays consumed even when validation fails.
func (s *Server) redeemRefresh(r *http.Request) (*tokenResponse, error) {
	rc := RequestContextFrom(r.Context())

	sess, err := s.sessions.Get(r.Context(), session.KindRefresh, r.FormValue("refresh_token"), true)
	if err != nil {
		return nil, apperrors.Wrap(http.StatusInsufficientStorage, apperrors.ReasonCodeStorageAvailability, err)
	}
	if sess == nil || sess.Payload == nil {
		return nil, apperrors.ErrInvalidCode
	}
	if sess.Payload.Tenant != rc.Tenant.Name {
		return nil, apperrors.ErrTenantMismatch
	}

	valid, err := s.validateUser(r, rc.Tenant, userOf(sess.Payload))
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, apperrors.ErrInvalidate
	}

	return s.mintPair(r, sess.Payload, sess.Scopes, true)
}

// passwordGrant runs the legacy resource-owner credentials grant. No refresh
// token is issued.
func (s *Server) passwordGrant(r *http.Request, client *entities.Client) (*tokenResponse, error) {
	rc := RequestContextFrom(r.Context())
	username := r.FormValue("username")

	rt, err := provider.NewRuntime(r.Context(), rc.Tenant, s.logger)
	if err != nil {
		return nil, apperrors.Wrap(http.StatusInternalServerError, apperrors.ReasonExpectedValueUnset, err)
	}
	defer rt.Close()

	res, err := rt.UserLogin(username, r.FormValue("password"))
	if err != nil {
		return nil, apperrors.Wrap(http.StatusInternalServerError, apperrors.ReasonExpectedValueUnset, err)
	}
	if !res.CanLogin {
		return nil, apperrors.ErrWrongCredentials
	}

	scopes := grantedScopes(client, splitScopes(r.FormValue("scope")), res.Scopes)
	payload := s.buildPayload(rc, client, username, res, scopes)
	return s.mintPair(r, payload, scopes, false)
}

// mintPair signs a fresh access token from payload and, when withRefresh is
// set, rotates in a new refresh value.
func (s *Server) mintPair(r *http.Request, base *signer.Payload, scopes []string, withRefresh bool) (*tokenResponse, error) {
	rc := RequestContextFrom(r.Context())
	now := time.Now()

	payload := *base
	payload.IssuedAt = now.Unix()
	payload.ExpiresAt = now.Add(s.cfg.TokenExpiration).Unix()
	payload.Scope = strings.Join(scopes, " ")

	raw, err := s.signer.Sign(&payload, s.signer.AlgorithmFor(rc.Tenant))
	if err != nil {
		return nil, apperrors.Wrap(http.StatusInternalServerError, apperrors.ReasonExpectedValueUnset, err)
	}

	resp := &tokenResponse{
		AccessToken: raw,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.TokenExpiration.Seconds()),
		Scope:       strings.Join(scopes, " "),
	}

	if withRefresh {
		refreshPayload := payload
		refreshPayload.ExpiresAt = now.Add(s.cfg.RefreshExpiration).Unix()
		refresh, err := s.pushFresh(r, session.KindRefresh, &session.Session{
			Payload: &refreshPayload,
			Scopes:  scopes,
		})
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = refresh
	}
	return resp, nil
}

// validateUser runs the tenant's UserValidationProvider.
func (s *Server) validateUser(r *http.Request, tenant *entities.Tenant, username string) (bool, error) {
	rt, err := provider.NewRuntime(r.Context(), tenant, s.logger)
	if err != nil {
		return false, apperrors.Wrap(http.StatusInternalServerError, apperrors.ReasonExpectedValueUnset, err)
	}
	defer rt.Close()

	valid, err := rt.Validate(username, s.cfg.AllowMissingProviders)
	if err != nil {
		return false, apperrors.Wrap(http.StatusForbidden, apperrors.ReasonInvalidate, err)
	}
	return valid, nil
}

// verifyPKCE enforces the stored challenge against the supplied verifier.
// An unchallenged code must be redeemed without a verifier; a challenged one
// needs a verifier of at least 43 characters matching per its method.
func verifyPKCE(challenge, method, verifier string) error {
	if challenge == "" {
		if verifier != "" {
			return apperrors.ErrCodeChallengeMismatch
		}
		return nil
	}
	if len(verifier) < minVerifierLength {
		return apperrors.ErrCodeChallengeMismatch
	}
	switch method {
	case pkceMethodS256:
		if oauth2.S256ChallengeFromVerifier(verifier) != challenge {
			return apperrors.ErrCodeChallengeMismatch
		}
	case pkceMethodPlain, "":
		if verifier != challenge {
			return apperrors.ErrCodeChallengeMismatch
		}
	default:
		return apperrors.ErrCodeChallengeMismatch
	}
	return nil
}

// userOf names the account a payload belongs to for revalidation.
func userOf(p *signer.Payload) string {
	if p.User != "" {
		return p.User
	}
	return p.Subject
}

// grantedScopes computes the final scope set: the union of the requested
// scopes and the provider-declared ones the client admits, intersected with
// the client's whitelist. Without a client, provider scopes are dropped and
// the requested ones pass through deduplicated.
func grantedScopes(client *entities.Client, requested, declared []string) []string {
	seen := make(map[string]bool, len(requested))
	union := make([]string, 0, len(requested))
	for _, s := range requested {
		if !seen[s] {
			seen[s] = true
			union = append(union, s)
		}
	}
	if client == nil {
		return union
	}
	for _, s := range client.FilterProviderScopes(declared) {
		if !seen[s] {
			seen[s] = true
			union = append(union, s)
		}
	}
	return client.FilterScopes(union)
}

// handleTokenInfo returns the profile claim of a valid bearer token.
func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || raw == "" {
		s.respondError(w, r, apperrors.ErrInvalidToken)
		return
	}

	payload, expired, err := s.signer.Verify(raw)
	if err != nil || expired {
		s.respondError(w, r, apperrors.ErrInvalidToken)
		return
	}
	s.respondJSON(w, http.StatusOK, payload.Profile)
}
