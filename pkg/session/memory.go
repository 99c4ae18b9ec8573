// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store with a mutexed map and per-entry expiration
// timers. Suitable for single-instance deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	closed  bool
}

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
	timer     *time.Timer
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func memoryKey(kind Kind, value string) string {
	return string(kind) + ":" + value
}

// Push implements Store.
func (m *MemoryStore) Push(_ context.Context, kind Kind, value string, session *Session, ttl time.Duration) error {
	key := memoryKey(kind, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[key]; ok && time.Now().Before(existing.expiresAt) {
		return ErrCodeTaken
	}
	entry := &memoryEntry{session: session, expiresAt: time.Now().Add(ttl)}
	entry.timer = time.AfterFunc(ttl, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if current, ok := m.entries[key]; ok && current == entry {
			delete(m.entries, key)
		}
	})
	m.entries[key] = entry
	return nil
}

// Get implements Store. An expired-but-not-yet-swept entry reads as absent.
func (m *MemoryStore) Get(_ context.Context, kind Kind, value string, consume bool) (*Session, error) {
	key := memoryKey(kind, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || !time.Now().Before(entry.expiresAt) {
		return nil, nil
	}
	if consume {
		entry.timer.Stop()
		delete(m.entries, key)
	}
	return entry.session, nil
}

// Healthy implements Store; memory is always healthy.
func (*MemoryStore) Healthy(context.Context) bool { return true }

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context, kind Kind) int {
	prefix := string(kind) + ":"

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := time.Now()
	for key, entry := range m.entries {
		if strings.HasPrefix(key, prefix) && now.Before(entry.expiresAt) {
			n++
		}
	}
	return n
}

// Close stops all pending timers.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for key, entry := range m.entries {
		entry.timer.Stop()
		delete(m.entries, key)
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
