// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/gatehouse/pkg/session"
	"github.com/stacklok/gatehouse/pkg/signer"
)

func (h *harness) postToken(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://cookbooks.example.com/token",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(req)
}

func decodeToken(t *testing.T, rec *httptest.ResponseRecorder) tokenResponse {
	t.Helper()
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestPKCEHappyPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	code := h.obtainCode(t, pkceChallenge, "S256")

	rec := h.postToken(t, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientCookbooks},
		"client_secret": {cookbooksSecret},
		"code":          {code},
		"code_verifier": {pkceVerifier},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeToken(t, rec)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 7200, resp.ExpiresIn)
	assert.Equal(t, "read", resp.Scope)

	payload, expired, err := h.signer.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, "Cheese", payload.Tenant)
	assert.Equal(t, "subject-jdoe", payload.Subject)
	assert.Equal(t, "read", payload.Scope)
}

func TestPKCEWrongVerifier(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	code := h.obtainCode(t, pkceChallenge, "S256")

	rec := h.postToken(t, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientCookbooks},
		"client_secret": {cookbooksSecret},
		"code":          {code},
		"code_verifier": {strings.Repeat("b", 43)},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	_, reason := decodeError(t, rec)
	assert.Equal(t, "ERRORS.CODE_CHALLENGE_METHOD_MISMATCH", reason)
}

func TestCodeConsumedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	code := h.obtainCode(t, "", "")

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientCookbooks},
		"client_secret": {cookbooksSecret},
		"code":          {code},
	}
	rec := h.postToken(t, form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.postToken(t, form)
	require.Equal(t, http.StatusForbidden, rec.Code)
	_, reason := decodeError(t, rec)
	assert.Equal(t, "ERRORS.INVALID_CODE", reason)
}

func TestPasswordGrantDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.postToken(t, url.Values{
		"grant_type": {"password"},
		"client_id":  {clientReadOnly},
		"username":   {"jdoe"},
		"password":   {"s3cret"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, reason := decodeError(t, rec)
	assert.Equal(t, "ERROR.UNSUPPORTED_GRANT_TYPE", reason)
}

func TestWrongClientSecret(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.postToken(t, url.Values{
		"grant_type":    {"password"},
		"client_id":     {clientCookbooks},
		"client_secret": {"wrongClientSecret"},
		"username":      {"jdoe"},
		"password":      {"s3cret"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	_, reason := decodeError(t, rec)
	assert.Equal(t, "ERROR.WRONG_CLIENT_SECRET", reason)
}

func TestTokenForeignTenantClient(t *testing.T) {
	t.Parallel()

	// The Pantry client belongs to Butter: valid Cheese credentials must not
	// mint a Cheese token through it.
	h := newHarness(t)
	rec := h.postToken(t, url.Values{
		"grant_type": {"password"},
		"client_id":  {clientPantry},
		"username":   {"jdoe"},
		"password":   {"s3cret"},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	_, reason := decodeError(t, rec)
	assert.Equal(t, "ERRORS.TENANT_MISMATCH", reason)
}

func TestPasswordGrant(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.postToken(t, url.Values{
		"grant_type":    {"password"},
		"client_id":     {clientCookbooks},
		"client_secret": {cookbooksSecret},
		"username":      {"jdoe"},
		"password":      {"s3cret"},
		"scope":         {"read"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeToken(t, rec)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Empty(t, resp.RefreshToken, "password grant issues no refresh token")
	// Provider-declared scopes the client admits join the requested ones.
	assert.Equal(t, "read recipes:extra", resp.Scope)
}

func TestPasswordGrantWrongCredentials(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.postToken(t, url.Values{
		"grant_type":    {"password"},
		"client_id":     {clientCookbooks},
		"client_secret": {cookbooksSecret},
		"username":      {"jdoe"},
		"password":      {"nope"},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	_, reason := decodeError(t, rec)
	assert.Equal(t, "ERRORS.WRONG_CREDENTIALS", reason)
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	code := h.obtainCode(t, "", "")
	rec := h.postToken(t, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientCookbooks},
		"client_secret": {cookbooksSecret},
		"code":          {code},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeToken(t, rec)

	rec = h.postToken(t, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientCookbooks},
		"client_secret": {cookbooksSecret},
		"refresh_token": {first.RefreshToken},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decodeToken(t, rec)
	assert.NotEmpty(t, second.RefreshToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The old refresh value is consumed.
	rec = h.postToken(t, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientCookbooks},
		"client_secret": {cookbooksSecret},
		"refresh_token": {first.RefreshToken},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	_, reason := decodeError(t, rec)
	assert.Equal(t, "ERRORS.INVALID_CODE", reason)
}

func TestRefreshAgainstDeletedUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	refresh := session.NewValue(session.CodeLength)
	require.NoError(t, h.sessions.Push(context.Background(), session.KindRefresh, refresh, &session.Session{
		Payload: &signer.Payload{
			Tenant:    "Cheese",
			Subject:   "deleted-user",
			User:      "deleted-user",
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
		Scopes: []string{"read"},
	}, time.Hour))

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientCookbooks},
		"client_secret": {cookbooksSecret},
		"refresh_token": {refresh},
	}
	rec := h.postToken(t, form)
	require.Equal(t, http.StatusForbidden, rec.Code)
	_, reason := decodeError(t, rec)
	assert.Equal(t, "ERRORS.INVALIDATE", reason)

	// The refresh value was consumed by the failed attempt.
	rec = h.postToken(t, form)
	require.Equal(t, http.StatusForbidden, rec.Code)
	_, reason = decodeError(t, rec)
	assert.Equal(t, "ERRORS.INVALID_CODE", reason)
}

func TestRefreshTenantMismatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	refresh := session.NewValue(session.CodeLength)
	require.NoError(t, h.sessions.Push(context.Background(), session.KindRefresh, refresh, &session.Session{
		Payload: &signer.Payload{Tenant: "Butter", User: "jdoe"},
	}, time.Hour))

	rec := h.postToken(t, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientCookbooks},
		"client_secret": {cookbooksSecret},
		"refresh_token": {refresh},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	_, reason := decodeError(t, rec)
	assert.Equal(t, "ERRORS.TENANT_MISMATCH", reason)
}

func TestVerifyPKCE(t *testing.T) {
	t.Parallel()

	// The S256 challenge of 43 × "a".
	require.NoError(t, verifyPKCE(pkceChallenge, "S256", pkceVerifier))

	tests := []struct {
		name      string
		challenge string
		method    string
		verifier  string
		wantErr   bool
	}{
		{"no challenge no verifier", "", "", "", false},
		{"no challenge but verifier", "", "", pkceVerifier, true},
		{"s256 wrong verifier", pkceChallenge, "S256", strings.Repeat("b", 43), true},
		{"s256 verifier too short", pkceChallenge, "S256", strings.Repeat("a", 42), true},
		{"plain match", strings.Repeat("p", 43), "plain", strings.Repeat("p", 43), false},
		{"plain mismatch", strings.Repeat("p", 43), "plain", strings.Repeat("q", 43), true},
		{"plain verifier too short", strings.Repeat("p", 42), "plain", strings.Repeat("p", 42), true},
		{"unknown method", pkceChallenge, "S512", pkceVerifier, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := verifyPKCE(tt.challenge, tt.method, tt.verifier)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTokenInfo(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	raw, err := h.signer.Sign(&signer.Payload{
		Subject:   "jdoe",
		Tenant:    "Cheese",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
		Profile:   map[string]any{"displayName": "John Doe"},
	}, signer.AlgHS256)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "https://cookbooks.example.com/token/info", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := h.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"displayName":"John Doe"}`, rec.Body.String())
}

func TestTokenInfoRejectsExpiredAndMissing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "https://cookbooks.example.com/token/info", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	raw, err := h.signer.Sign(&signer.Payload{
		Subject:   "jdoe",
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	}, signer.AlgHS256)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "https://cookbooks.example.com/token/info", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = h.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
