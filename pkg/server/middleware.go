// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/stacklok/gatehouse/pkg/config"
	"github.com/stacklok/gatehouse/pkg/entities"
	"github.com/stacklok/gatehouse/pkg/signer"
)

// CookieName is the SSO cookie issued on login.
const CookieName = config.AppName + "-sso"

// RequestContext is what the middleware resolved for one request: the
// effective host behind the proxy, the tenant owning it, the optional client
// and the verified token payload, if any.
type RequestContext struct {
	// Host is X-Forwarded-Host when present, else the request host.
	Host string

	// Scheme is X-Forwarded-Proto when present, else derived from the
	// connection.
	Scheme string

	// ForwardedURI is X-Forwarded-Uri, the original path behind the proxy.
	ForwardedURI string

	// Referer is the raw Referer header.
	Referer string

	// Tenant owning the host, or nil when no host pattern matches.
	Tenant *entities.Tenant

	// Client resolved from the client_id parameter, or nil.
	Client *entities.Client

	// Payload is the verified token payload from cookie or bearer. Nil when
	// no token was presented or its signature did not verify.
	Payload *signer.Payload

	// Expired marks a payload whose signature verified but whose exp has
	// passed.
	Expired bool

	// RawToken is the presented token, verified or not.
	RawToken string

	// FromCookie marks whether the token came from the SSO cookie rather
	// than the Authorization header.
	FromCookie bool
}

// Authenticated reports whether the request carries a live verified payload.
func (rc *RequestContext) Authenticated() bool {
	return rc.Payload != nil && !rc.Expired
}

type contextKey struct{}

// RequestContextFrom returns the middleware-populated context, or an empty
// one if the middleware did not run.
func RequestContextFrom(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(contextKey{}).(*RequestContext); ok {
		return rc
	}
	return &RequestContext{}
}

// requestContext resolves host, tenant, client and token for every request.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := &RequestContext{
			Host:         forwardedHost(r),
			Scheme:       forwardedScheme(r, s.cfg.Secure),
			ForwardedURI: r.Header.Get("X-Forwarded-Uri"),
			Referer:      r.Header.Get("Referer"),
		}

		rc.Tenant = s.store.LookupTenantByHost(rc.Host)

		if clientID := r.FormValue("client_id"); clientID != "" {
			rc.Client = s.store.LookupClient(clientID)
		}

		if raw, fromCookie := extractToken(r); raw != "" {
			rc.RawToken = raw
			rc.FromCookie = fromCookie
			payload, expired, err := s.signer.Verify(raw)
			if err != nil {
				s.logger.Debug("presented token failed verification", "error", err)
			} else {
				rc.Payload = payload
				rc.Expired = expired
			}
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, rc)))
	})
}

// extractToken returns the presented token, preferring the SSO cookie over
// the Authorization header.
func extractToken(r *http.Request) (raw string, fromCookie bool) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token != "" {
		return token, false
	}
	return "", false
}

func forwardedHost(r *http.Request) string {
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		return h
	}
	return r.Host
}

func forwardedScheme(r *http.Request, secure bool) string {
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		return p
	}
	if r.TLS != nil || secure {
		return "https"
	}
	return "http"
}

// hostOnly strips a port from a host header value.
func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
