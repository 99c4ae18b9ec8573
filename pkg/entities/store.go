// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// EventType classifies store change notifications.
type EventType int

// Store change notification types.
const (
	TenantAdded EventType = iota
	TenantRemoved
)

// Event notifies observers about tenant lifecycle changes.
type Event struct {
	Type   EventType
	Tenant *Tenant
}

// record tracks which entity a source ref currently owns.
type record struct {
	tenantName  string
	clientIdent string
}

// Store is the in-memory registry of tenants and clients. Readers are
// unbounded; writers (source callbacks) are serialized. A request reads
// under a snapshot that stays valid for its duration because entities are
// replaced wholesale, never mutated in place.
type Store struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	tenants   map[string]*Tenant // by name
	clients   map[string]*Client // by ident
	refs      map[string]record  // by Ref.Key()
	observers []func(Event)
}

// NewStore creates an empty registry.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:  logger,
		tenants: make(map[string]*Tenant),
		clients: make(map[string]*Client),
		refs:    make(map[string]record),
	}
}

// Observe registers a callback fired after the store reached a consistent
// state. Callbacks run outside the store lock.
func (s *Store) Observe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// ApplyTenant atomically inserts or replaces the tenant owned by ref.
// Malformed or conflicting tenants are rejected; the store keeps its last
// known good state.
func (s *Store) ApplyTenant(ref Ref, t *Tenant) error {
	if err := t.Validate(); err != nil {
		s.logger.Error("rejecting tenant", "ref", ref.String(), "error", err)
		return err
	}

	var events []Event
	s.mu.Lock()
	prev, hadPrev := s.refs[ref.Key()]
	if existing, ok := s.tenants[t.Name]; ok {
		// Name uniqueness: only the ref that owns the name may replace it.
		if !hadPrev || prev.tenantName != t.Name {
			s.mu.Unlock()
			err := fmt.Errorf("tenant name %q already registered", existing.Name)
			s.logger.Error("rejecting tenant", "ref", ref.String(), "error", err)
			return err
		}
	}
	if err := s.checkHostDisjointness(t); err != nil {
		s.mu.Unlock()
		s.logger.Error("rejecting tenant", "ref", ref.String(), "error", err)
		return err
	}
	if hadPrev && prev.tenantName != "" && prev.tenantName != t.Name {
		if old, ok := s.tenants[prev.tenantName]; ok {
			delete(s.tenants, prev.tenantName)
			events = append(events, Event{Type: TenantRemoved, Tenant: old})
		}
	}
	s.tenants[t.Name] = t
	s.refs[ref.Key()] = record{tenantName: t.Name}
	events = append(events, Event{Type: TenantAdded, Tenant: t})
	observers := append([]func(Event){}, s.observers...)
	s.mu.Unlock()

	s.logger.Info("tenant applied", "tenant", t.Name, "ref", ref.String(), "hosts", strings.Join(t.Hosts, ","))
	for _, fn := range observers {
		for _, ev := range events {
			fn(ev)
		}
	}
	return nil
}

// ApplyClient atomically inserts or replaces the client owned by ref.
// The owning tenant is resolved lazily and need not exist yet.
func (s *Store) ApplyClient(ref Ref, c *Client) error {
	if err := c.Validate(); err != nil {
		s.logger.Error("rejecting client", "ref", ref.String(), "error", err)
		return err
	}

	s.mu.Lock()
	prev, hadPrev := s.refs[ref.Key()]
	if existing, ok := s.clients[c.Ident]; ok {
		if !hadPrev || prev.clientIdent != c.Ident {
			s.mu.Unlock()
			err := fmt.Errorf("client ident %q already registered for %q", c.Ident, existing.Name)
			s.logger.Error("rejecting client", "ref", ref.String(), "error", err)
			return err
		}
	}
	if hadPrev && prev.clientIdent != "" && prev.clientIdent != c.Ident {
		delete(s.clients, prev.clientIdent)
	}
	s.clients[c.Ident] = c
	s.refs[ref.Key()] = record{clientIdent: c.Ident}
	s.mu.Unlock()

	s.logger.Info("client applied", "client", c.Ident, "tenant", c.Tenant, "ref", ref.String())
	return nil
}

// Remove deletes whatever entity ref owns. Removing an unknown ref is a no-op.
func (s *Store) Remove(ref Ref) {
	var events []Event
	s.mu.Lock()
	rec, ok := s.refs[ref.Key()]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.refs, ref.Key())
	if rec.tenantName != "" {
		if t, found := s.tenants[rec.tenantName]; found {
			delete(s.tenants, rec.tenantName)
			events = append(events, Event{Type: TenantRemoved, Tenant: t})
		}
	}
	if rec.clientIdent != "" {
		delete(s.clients, rec.clientIdent)
	}
	observers := append([]func(Event){}, s.observers...)
	s.mu.Unlock()

	s.logger.Info("entity removed", "ref", ref.String())
	for _, fn := range observers {
		for _, ev := range events {
			fn(ev)
		}
	}
}

// LookupTenantByHost resolves the tenant responsible for host. Exact host
// patterns win over wildcards; among wildcards the longest literal suffix
// wins. Returns nil when no pattern matches.
func (s *Store) LookupTenantByHost(host string) *Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type candidate struct {
		tenant      *Tenant
		specificity int
	}
	var candidates []candidate
	for _, t := range s.tenants {
		for _, p := range t.Hosts {
			if MatchHostPattern(p, host) {
				candidates = append(candidates, candidate{tenant: t, specificity: patternSpecificity(p)})
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].specificity > candidates[j].specificity
	})
	return candidates[0].tenant
}

// LookupTenant returns the tenant with the given name, or nil.
func (s *Store) LookupTenant(name string) *Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenants[name]
}

// LookupClient returns the client with the given ident, or nil.
func (s *Store) LookupClient(ident string) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[ident]
}

// LookupClientByName returns the named client of a tenant, or nil.
func (s *Store) LookupClientByName(name, tenant string) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.Name == name && c.Tenant == tenant {
			return c
		}
	}
	return nil
}

// Counts returns the number of registered tenants and clients.
func (s *Store) Counts() (tenants, clients int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants), len(s.clients)
}

// checkHostDisjointness rejects a tenant whose host patterns collide with a
// different tenant. Caller holds the write lock.
func (s *Store) checkHostDisjointness(t *Tenant) error {
	for _, other := range s.tenants {
		if other.Name == t.Name {
			continue
		}
		for _, p := range t.Hosts {
			for _, q := range other.Hosts {
				if strings.EqualFold(strings.TrimSpace(p), strings.TrimSpace(q)) {
					return fmt.Errorf("host pattern %q already claimed by tenant %q", p, other.Name)
				}
			}
		}
	}
	return nil
}
