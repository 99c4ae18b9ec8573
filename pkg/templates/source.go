// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package templates is the seam to the external template collaborator: the
// component that downloads and serves per-tenant HTML bundles. The core only
// tells it which tenants exist.
package templates

import (
	"context"
	"log/slog"

	"github.com/stacklok/gatehouse/pkg/entities"
)

// Source keeps the external template store in step with the tenant registry.
type Source interface {
	// Sync makes the tenant's template bundle available for rendering.
	Sync(ctx context.Context, tenant *entities.Tenant) error

	// Purge drops the tenant's bundle after removal.
	Purge(ctx context.Context, tenant *entities.Tenant) error
}

// LogSource implements Source by logging the lifecycle events. It stands in
// when no template collaborator is deployed; rendering then falls back to the
// built-in pages.
type LogSource struct {
	logger *slog.Logger
}

// NewLogSource builds a logging Source.
func NewLogSource(logger *slog.Logger) *LogSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSource{logger: logger}
}

// Sync implements Source.
func (s *LogSource) Sync(_ context.Context, tenant *entities.Tenant) error {
	attrs := []any{"tenant", tenant.Name}
	if tenant.Templates != nil {
		attrs = append(attrs, "url", tenant.Templates.URL, "bucket", tenant.Templates.Bucket)
	}
	s.logger.Info("template sync requested", attrs...)
	return nil
}

// Purge implements Source.
func (s *LogSource) Purge(_ context.Context, tenant *entities.Tenant) error {
	s.logger.Info("template purge requested", "tenant", tenant.Name)
	return nil
}

var _ Source = (*LogSource)(nil)

// Attach subscribes source to the registry so tenant add/remove events drive
// Sync and Purge. Errors are logged, not propagated: template availability
// must not block entity loading.
func Attach(ctx context.Context, store *entities.Store, source Source, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	store.Observe(func(ev entities.Event) {
		var err error
		switch ev.Type {
		case entities.TenantAdded:
			err = source.Sync(ctx, ev.Tenant)
		case entities.TenantRemoved:
			err = source.Purge(ctx, ev.Tenant)
		}
		if err != nil {
			logger.Warn("template source call failed", "tenant", ev.Tenant.Name, "error", err)
		}
	})
}
