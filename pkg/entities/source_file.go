// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Subdirectories of the configuration root scanned by the file source.
const (
	tenantsSubdir = "Tenants"
	clientsSubdir = "Clients"
)

// Source feeds entity definitions into the store. Run blocks until the
// context is cancelled.
type Source interface {
	Run(ctx context.Context) error
}

// FileSource loads tenants and clients from YAML files under
// <dir>/Tenants and <dir>/Clients and hot-reloads on filesystem changes.
// Malformed files are logged and skipped; the store keeps its last known
// good state.
type FileSource struct {
	dir    string
	store  *Store
	logger *slog.Logger
}

// NewFileSource creates a file source rooted at dir.
func NewFileSource(dir string, store *Store, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{dir: dir, store: store, logger: logger}
}

// Run performs the initial scan, then watches both directories until ctx is
// cancelled.
func (f *FileSource) Run(ctx context.Context) error {
	tenantDir := filepath.Join(f.dir, tenantsSubdir)
	clientDir := filepath.Join(f.dir, clientsSubdir)

	f.scanDir(tenantDir)
	f.scanDir(clientDir)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range []string{tenantDir, clientDir} {
		if err := watcher.Add(dir); err != nil {
			f.logger.Warn("cannot watch configuration directory", "dir", dir, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			f.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("watcher error", "error", err)
		}
	}
}

func (f *FileSource) handleEvent(ev fsnotify.Event) {
	if !isYAML(ev.Name) {
		return
	}
	switch {
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		f.store.Remove(FileRef(ev.Name))
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		f.applyFile(ev.Name)
	}
}

func (f *FileSource) scanDir(dir string) {
	files, err := os.ReadDir(dir)
	if err != nil {
		f.logger.Warn("cannot read configuration directory", "dir", dir, "error", err)
		return
	}
	for _, entry := range files {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		f.applyFile(filepath.Join(dir, entry.Name()))
	}
}

// applyFile parses and applies a single file. The parent directory decides
// whether it holds a tenant or a client.
func (f *FileSource) applyFile(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		f.logger.Error("cannot read entity file", "path", path, "error", err)
		return
	}
	ref := FileRef(path)
	switch filepath.Base(filepath.Dir(path)) {
	case tenantsSubdir:
		t, err := ParseTenant(raw)
		if err != nil {
			f.logger.Error("skipping malformed tenant file", "path", path, "error", err)
			return
		}
		_ = f.store.ApplyTenant(ref, t)
	case clientsSubdir:
		c, err := ParseClient(raw)
		if err != nil {
			f.logger.Error("skipping malformed client file", "path", path, "error", err)
			return
		}
		_ = f.store.ApplyClient(ref, c)
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
