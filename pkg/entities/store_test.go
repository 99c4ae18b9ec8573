// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTenant(name string, hosts ...string) *Tenant {
	return &Tenant{Name: name, Hosts: hosts}
}

func testClient(ident, tenant string) *Client {
	return &Client{
		Ident:            ident,
		Name:             "app",
		Tenant:           tenant,
		RedirectPatterns: []string{"https://app.example.com/*"},
	}
}

func TestLookupTenantByHost(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	require.NoError(t, s.ApplyTenant(FileRef("cheese.yaml"), testTenant("Cheese", "cookbooks.example.com", "*.cheese.example.com")))
	require.NoError(t, s.ApplyTenant(FileRef("bread.yaml"), testTenant("Bread", "*.example.com")))

	tests := []struct {
		host string
		want string
	}{
		{"cookbooks.example.com", "Cheese"},
		{"cookbooks.example.com:443", "Cheese"},
		{"blue.cheese.example.com", "Cheese"},
		{"other.example.com", "Bread"},
		{"unrelated.org", ""},
		// wildcard matches exactly one label
		{"a.b.cheese.example.com", ""},
	}
	for _, tc := range tests {
		got := s.LookupTenantByHost(tc.host)
		if tc.want == "" {
			assert.Nil(t, got, tc.host)
			continue
		}
		require.NotNil(t, got, tc.host)
		assert.Equal(t, tc.want, got.Name, tc.host)
	}
}

func TestExactPatternBeatsWildcard(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	require.NoError(t, s.ApplyTenant(FileRef("wild.yaml"), testTenant("Wild", "*.example.com")))
	require.NoError(t, s.ApplyTenant(FileRef("exact.yaml"), testTenant("Exact", "login.example.com")))

	got := s.LookupTenantByHost("login.example.com")
	require.NotNil(t, got)
	assert.Equal(t, "Exact", got.Name)
}

func TestHostConflictRejectsLaterTenant(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	require.NoError(t, s.ApplyTenant(FileRef("a.yaml"), testTenant("A", "app.example.com")))
	err := s.ApplyTenant(FileRef("b.yaml"), testTenant("B", "app.example.com"))
	require.Error(t, err)

	// Store keeps last known good state.
	got := s.LookupTenantByHost("app.example.com")
	require.NotNil(t, got)
	assert.Equal(t, "A", got.Name)
	assert.Nil(t, s.LookupTenant("B"))
}

func TestApplyTenantIdempotentPerRef(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	ref := FileRef("t.yaml")
	require.NoError(t, s.ApplyTenant(ref, testTenant("T", "a.example.com")))
	// Same ref replaces the entity, including a rename.
	require.NoError(t, s.ApplyTenant(ref, testTenant("T", "b.example.com")))
	assert.Nil(t, s.LookupTenantByHost("a.example.com"))
	assert.NotNil(t, s.LookupTenantByHost("b.example.com"))

	require.NoError(t, s.ApplyTenant(ref, testTenant("Renamed", "b.example.com")))
	assert.Nil(t, s.LookupTenant("T"))
	assert.NotNil(t, s.LookupTenant("Renamed"))
}

func TestNameUniqueness(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	require.NoError(t, s.ApplyTenant(FileRef("one.yaml"), testTenant("Dup", "one.example.com")))
	err := s.ApplyTenant(FileRef("two.yaml"), testTenant("Dup", "two.example.com"))
	require.Error(t, err)
}

func TestRemoveByRef(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	ref := FileRef("t.yaml")
	require.NoError(t, s.ApplyTenant(ref, testTenant("T", "t.example.com")))
	s.Remove(ref)
	assert.Nil(t, s.LookupTenant("T"))

	// Removing an unknown ref is a no-op.
	s.Remove(FileRef("missing.yaml"))
}

func TestKubeRefIdentityIgnoresRevision(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	require.NoError(t, s.ApplyTenant(KubeRef("uid-1", "100"), testTenant("T", "t.example.com")))
	// Same UID at a newer revision replaces, it does not conflict.
	require.NoError(t, s.ApplyTenant(KubeRef("uid-1", "101"), testTenant("T", "t2.example.com")))
	assert.NotNil(t, s.LookupTenantByHost("t2.example.com"))
	assert.Nil(t, s.LookupTenantByHost("t.example.com"))
}

func TestClientLookup(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	c := testClient("e92b4a0b-d1d7-4d55-b2e3-dc570faca745", "Cheese")
	require.NoError(t, s.ApplyClient(FileRef("c.yaml"), c))

	assert.Same(t, c, s.LookupClient("e92b4a0b-d1d7-4d55-b2e3-dc570faca745"))
	assert.Same(t, c, s.LookupClientByName("app", "Cheese"))
	assert.Nil(t, s.LookupClientByName("app", "Bread"))
	assert.Nil(t, s.LookupClient("d9c48a1b-46bd-49d8-9305-08b8e380a69e"))
}

func TestClientValidation(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	err := s.ApplyClient(FileRef("bad.yaml"), &Client{Ident: "not-a-uuid", Tenant: "T", RedirectPatterns: []string{"x"}})
	require.Error(t, err)

	err = s.ApplyClient(FileRef("bad2.yaml"), &Client{Ident: "e92b4a0b-d1d7-4d55-b2e3-dc570faca745", Tenant: "T"})
	require.Error(t, err)
}

func TestObserverFiresAfterConsistency(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	var events []Event
	s.Observe(func(ev Event) {
		// The store must already reflect the change when the callback fires.
		if ev.Type == TenantAdded {
			require.NotNil(t, s.LookupTenant(ev.Tenant.Name))
		} else {
			require.Nil(t, s.LookupTenant(ev.Tenant.Name))
		}
		events = append(events, ev)
	})

	ref := FileRef("t.yaml")
	require.NoError(t, s.ApplyTenant(ref, testTenant("T", "t.example.com")))
	s.Remove(ref)

	require.Len(t, events, 2)
	assert.Equal(t, TenantAdded, events[0].Type)
	assert.Equal(t, TenantRemoved, events[1].Type)
}
