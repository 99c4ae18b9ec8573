// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/gatehouse/pkg/signer"
)

func (h *harness) mintCookie(t *testing.T, payload *signer.Payload) *http.Cookie {
	t.Helper()
	raw, err := h.signer.Sign(payload, signer.AlgHS256)
	require.NoError(t, err)
	return &http.Cookie{Name: CookieName, Value: raw}
}

func TestInterceptorRedirectsAnonymous(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(httptest.NewRequest(http.MethodGet, "https://cookbooks.example.com/interceptor", nil))
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t,
		"https://login.example.com/login?for=https%3A%2F%2Fcookbooks.example.com%2F&mode=interceptor",
		rec.Header().Get("Location"))
}

func TestInterceptorPreservesForwardedURI(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "https://cookbooks.example.com/interceptor", nil)
	req.Header.Set("X-Forwarded-Host", "cookbooks.example.com")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Uri", "/recipes/42")
	rec := h.do(req)
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t,
		"https://login.example.com/login?for=https%3A%2F%2Fcookbooks.example.com%2Frecipes%2F42&mode=interceptor",
		rec.Header().Get("Location"))
}

func TestInterceptorDisabledTenant(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(httptest.NewRequest(http.MethodGet, "https://butter.example.com/interceptor", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	_, reason := decodeError(t, rec)
	assert.Equal(t, "ERRORS.TENANT_NOT_ALLOWED", reason)
}

func TestInterceptorAllowsValidSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	cookie := h.mintCookie(t, &signer.Payload{
		Subject:   "subject-jdoe",
		User:      "jdoe",
		Tenant:    "Cheese",
		ExpiresAt: time.Now().Add(h.cfg.CookieExpiration).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "https://cookbooks.example.com/interceptor", nil)
	req.AddCookie(cookie)
	rec := h.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Authorization"), "no refresh outside the window")
}

func TestInterceptorRejectsForeignTenantSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	cookie := h.mintCookie(t, &signer.Payload{
		Subject:   "jdoe",
		Tenant:    "Butter",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "https://cookbooks.example.com/interceptor", nil)
	req.AddCookie(cookie)
	rec := h.do(req)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
}

func TestInterceptorRefreshesNearExpiry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	oldExp := time.Now().Add(time.Hour).Unix() // inside the 2h floor
	cookie := h.mintCookie(t, &signer.Payload{
		Subject:   "subject-jdoe",
		User:      "jdoe",
		Tenant:    "Cheese",
		ExpiresAt: oldExp,
	})

	req := httptest.NewRequest(http.MethodGet, "https://cookbooks.example.com/interceptor", nil)
	req.AddCookie(cookie)
	rec := h.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	auth := rec.Header().Get("Authorization")
	require.True(t, len(auth) > len("Bearer "), "refresh attaches a bearer header")
	payload, expired, err := h.signer.Verify(auth[len("Bearer "):])
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Greater(t, payload.ExpiresAt, oldExp)

	var refreshed *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			refreshed = c
		}
	}
	require.NotNil(t, refreshed, "refresh resets the cookie")
	assert.Equal(t, "login.example.com", refreshed.Domain)
}

func TestInterceptorRefreshDeniedUserStaysValid(t *testing.T) {
	t.Parallel()

	// A near-expiry session of a user the scripts no longer validate: the
	// request still passes while the token lives, but no refresh happens.
	h := newHarness(t)
	cookie := h.mintCookie(t, &signer.Payload{
		Subject:   "deleted-user",
		User:      "deleted-user",
		Tenant:    "Cheese",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "https://cookbooks.example.com/interceptor", nil)
	req.AddCookie(cookie)
	rec := h.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Authorization"))
	assert.Empty(t, rec.Result().Cookies())
}

func TestInterceptorRejectsExpiredSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	cookie := h.mintCookie(t, &signer.Payload{
		Subject:   "subject-jdoe",
		User:      "jdoe",
		Tenant:    "Cheese",
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "https://cookbooks.example.com/interceptor", nil)
	req.AddCookie(cookie)
	rec := h.do(req)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
}

func TestWithinRefreshWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	now := time.Now()

	// Fresh 7-day token: outside both rules.
	assert.False(t, h.server.withinRefreshWindow(now.Add(7*24*time.Hour).Unix(), now))
	// Less than two hours left.
	assert.True(t, h.server.withinRefreshWindow(now.Add(90*time.Minute).Unix(), now))
	// Past the last quarter of the cookie lifetime (7d × ¾ = 126h left).
	assert.True(t, h.server.withinRefreshWindow(now.Add(100*time.Hour).Unix(), now))
	assert.False(t, h.server.withinRefreshWindow(now.Add(130*time.Hour).Unix(), now))
}
