// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server is the HTTP surface of the authorization server: the OAuth2
// endpoints, the login flow, the ForwardAuth interceptor and the operational
// endpoints. Handlers receive their collaborators explicitly through the
// Server struct; nothing in this package reaches for globals.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/gatehouse/pkg/config"
	"github.com/stacklok/gatehouse/pkg/entities"
	"github.com/stacklok/gatehouse/pkg/keys"
	"github.com/stacklok/gatehouse/pkg/metrics"
	"github.com/stacklok/gatehouse/pkg/session"
	"github.com/stacklok/gatehouse/pkg/signer"
)

const shutdownTimeout = 10 * time.Second

// Server wires the collaborators behind the HTTP endpoints.
type Server struct {
	cfg      *config.Settings
	store    *entities.Store
	sessions session.Store
	keys     *keys.Store
	signer   *signer.Signer
	sink     metrics.Sink
	renderer Renderer
	logger   *slog.Logger
}

// New assembles a Server. A nil sink or renderer falls back to the built-in
// no-op sink and inline renderer.
func New(
	cfg *config.Settings,
	store *entities.Store,
	sessions session.Store,
	ks *keys.Store,
	sg *signer.Signer,
	sink metrics.Sink,
	renderer Renderer,
	logger *slog.Logger,
) *Server {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if renderer == nil {
		renderer = NewFallbackRenderer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		keys:     ks,
		signer:   sg,
		sink:     sink,
		renderer: renderer,
		logger:   logger,
	}
}

// Router builds the endpoint tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestContext)

	r.Get("/", s.handleIndex)
	r.Get("/versions", s.handleVersions)
	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/.well-known/jwks.json", s.handleJWKS)

	r.Get("/login", s.handleLoginForm)
	r.Post("/login", s.handleLoginSubmit)
	r.Get("/logout", s.handleLogout)
	r.Post("/logout", s.handleLogout)
	r.Get("/logout/finalize", s.handleLogoutFinalize)

	r.Get("/authorize", s.handleAuthorize)
	r.Post("/token", s.handleToken)
	r.Get("/token/info", s.handleTokenInfo)
	r.Get("/interceptor", s.handleInterceptor)

	if prom, ok := s.sink.(*metrics.PrometheusSink); ok {
		r.Method(http.MethodGet, "/metrics", prom.Handler())
	}

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", s.cfg.ListenAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
