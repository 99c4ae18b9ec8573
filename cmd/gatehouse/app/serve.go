// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/gatehouse/pkg/config"
	"github.com/stacklok/gatehouse/pkg/entities"
	"github.com/stacklok/gatehouse/pkg/keys"
	"github.com/stacklok/gatehouse/pkg/logger"
	"github.com/stacklok/gatehouse/pkg/metrics"
	"github.com/stacklok/gatehouse/pkg/server"
	"github.com/stacklok/gatehouse/pkg/session"
	"github.com/stacklok/gatehouse/pkg/signer"
	"github.com/stacklok/gatehouse/pkg/templates"
	"github.com/stacklok/gatehouse/pkg/versions"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		Long: `Run the authorization server: load the configuration from the
environment, start the entity sources and serve the OAuth2, login and
interceptor endpoints until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	log := logger.Get()
	info := versions.GetVersionInfo()
	log.Info("starting gatehouse",
		"version", info.Version, "environment", cfg.Environment, "algorithm", cfg.JWTAlgorithm)

	sessions, err := newSessionStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = sessions.Close() }()

	keyStore := keys.NewStore(cfg.JWTSecret, log)
	if cfg.JWTAlgorithm == signer.AlgRS256 {
		// Generate the signing pair up front so JWKS is ready before the
		// first token is issued.
		if _, _, err := keyStore.ActiveSigningKey(); err != nil {
			return fmt.Errorf("generating signing key: %w", err)
		}
	}
	sg := signer.New(keyStore, cfg.JWTAlgorithm, log)

	store := entities.NewStore(log)
	templates.Attach(ctx, store, templates.NewLogSource(log), log)

	sink := metrics.NewPrometheusSink()
	srv := server.New(cfg, store, sessions, keyStore, sg, sink, nil, log)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return entities.NewFileSource(cfg.ConfigurationDir, store, log).Run(ctx)
	})
	if cfg.SupportKubernetesCRD {
		namespace := ""
		if cfg.ScopedKubernetesCRD {
			namespace = podNamespace()
		}
		group.Go(func() error {
			return entities.NewKubeSource(store, namespace, log).Run(ctx)
		})
	}
	group.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	err = group.Wait()
	log.Info("gatehouse stopped")
	return err
}

func newSessionStore(cfg *config.Settings, log *slog.Logger) (session.Store, error) {
	if cfg.RedisHost == "" {
		log.Info("using in-memory session store")
		return session.NewMemoryStore(), nil
	}
	log.Info("using redis session store", "host", cfg.RedisHost)
	store, err := session.NewRedisStore(cfg.RedisHost, cfg.RedisPassword, log)
	if err != nil {
		return nil, fmt.Errorf("connecting session store: %w", err)
	}
	return store, nil
}

// podNamespace resolves the namespace the pod runs in, for scoped CRD
// watching.
func podNamespace() string {
	if ns := os.Getenv("POD_NAMESPACE"); ns != "" {
		return ns
	}
	data, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace")
	if err != nil {
		return ""
	}
	return string(data)
}
