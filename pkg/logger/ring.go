// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RingCapacity is the number of records the ring retains.
const RingCapacity = 250

// Record is a captured log entry.
type Record struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Ring is a bounded FIFO of log records with a wait-for-match primitive.
// It implements slog.Handler so it can be attached to a logger under test.
// The last record is readable synchronously after the log call returns.
type Ring struct {
	mu      sync.Mutex
	entries []Record
	waiters []*waiter
}

type waiter struct {
	pred func(Record) bool
	ch   chan Record
}

// NewRing creates an empty ring.
func NewRing() *Ring {
	return &Ring{}
}

// Enabled reports whether the handler handles records at the given level.
func (*Ring) Enabled(context.Context, slog.Level) bool { return true }

// Handle appends the record to the ring, evicting the oldest entry when full.
func (r *Ring) Handle(_ context.Context, rec slog.Record) error {
	attrs := make(map[string]any, rec.NumAttrs())
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	entry := Record{Time: rec.Time, Level: rec.Level, Message: rec.Message, Attrs: attrs}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	if len(r.entries) > RingCapacity {
		r.entries = r.entries[1:]
	}
	var fire []*waiter
	remaining := r.waiters[:0]
	for _, w := range r.waiters {
		if w.pred(entry) {
			fire = append(fire, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	r.waiters = remaining
	r.mu.Unlock()

	for _, w := range fire {
		w.ch <- entry
	}
	return nil
}

// WithAttrs returns the handler itself; ring capture ignores handler attrs.
func (r *Ring) WithAttrs([]slog.Attr) slog.Handler { return r }

// WithGroup returns the handler itself; ring capture ignores groups.
func (r *Ring) WithGroup(string) slog.Handler { return r }

// Last returns the most recent record, or false if the ring is empty.
func (r *Ring) Last() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return Record{}, false
	}
	return r.entries[len(r.entries)-1], true
}

// Len returns the number of retained records.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// WaitFor blocks until a record satisfying pred is appended, or the timeout
// fires. Records already in the ring are checked first.
func (r *Ring) WaitFor(pred func(Record) bool, timeout time.Duration) (Record, bool) {
	r.mu.Lock()
	for _, e := range r.entries {
		if pred(e) {
			r.mu.Unlock()
			return e, true
		}
	}
	w := &waiter{pred: pred, ch: make(chan Record, 1)}
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()

	select {
	case e := <-w.ch:
		return e, true
	case <-time.After(timeout):
		r.mu.Lock()
		for i, cand := range r.waiters {
			if cand == w {
				r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		return Record{}, false
	}
}
