// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func fixtureDirs(t *testing.T) (root, tenants, clients string) {
	t.Helper()
	root = t.TempDir()
	tenants = filepath.Join(root, tenantsSubdir)
	clients = filepath.Join(root, clientsSubdir)
	require.NoError(t, os.MkdirAll(tenants, 0o750))
	require.NoError(t, os.MkdirAll(clients, 0o750))
	return root, tenants, clients
}

func TestFileSourceInitialScan(t *testing.T) {
	t.Parallel()

	root, tenants, clients := fixtureDirs(t)
	writeFixture(t, tenants, "cheese.yaml", "name: Cheese\nhosts: [cookbooks.example.com]\n")
	writeFixture(t, tenants, "broken.yaml", "name: [not a string\n")
	writeFixture(t, tenants, "notes.txt", "ignored")
	writeFixture(t, clients, "app.yaml", `
ident: e92b4a0b-d1d7-4d55-b2e3-dc570faca745
name: app
tenant: Cheese
redirects: ["https://app.example.com/*"]
`)

	store := NewStore(nil)
	src := NewFileSource(root, store, nil)
	src.scanDir(filepath.Join(root, tenantsSubdir))
	src.scanDir(filepath.Join(root, clientsSubdir))

	require.NotNil(t, store.LookupTenant("Cheese"))
	require.NotNil(t, store.LookupClient("e92b4a0b-d1d7-4d55-b2e3-dc570faca745"))

	nTenants, nClients := store.Counts()
	assert.Equal(t, 1, nTenants, "malformed tenant must be skipped")
	assert.Equal(t, 1, nClients)
}

func TestFileSourceHandleEvents(t *testing.T) {
	t.Parallel()

	root, tenants, _ := fixtureDirs(t)
	store := NewStore(nil)
	src := NewFileSource(root, store, nil)

	path := writeFixture(t, tenants, "t.yaml", "name: T\nhosts: [t.example.com]\n")
	src.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Create})
	require.NotNil(t, store.LookupTenant("T"))

	// Rewrite changes the entity under the same ref.
	writeFixture(t, tenants, "t.yaml", "name: T\nhosts: [t2.example.com]\n")
	src.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})
	assert.Nil(t, store.LookupTenantByHost("t.example.com"))
	assert.NotNil(t, store.LookupTenantByHost("t2.example.com"))

	src.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Remove})
	assert.Nil(t, store.LookupTenant("T"))
}

func TestFileSourceMalformedRewriteKeepsLastGood(t *testing.T) {
	t.Parallel()

	root, tenants, _ := fixtureDirs(t)
	store := NewStore(nil)
	src := NewFileSource(root, store, nil)

	path := writeFixture(t, tenants, "t.yaml", "name: T\nhosts: [t.example.com]\n")
	src.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Create})

	writeFixture(t, tenants, "t.yaml", "hosts: {broken\n")
	src.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})

	require.NotNil(t, store.LookupTenant("T"), "store keeps last known good state")
}
