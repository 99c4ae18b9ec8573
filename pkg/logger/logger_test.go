// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, "debug", "json")
	l.Info("hello", "tenant", "Cheese")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "Cheese", line["tenant"])
}

func TestNewLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, "warn", "text")
	l.Info("dropped")
	assert.Empty(t, buf.String())
	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestRingLastIsSynchronous(t *testing.T) {
	t.Parallel()

	ring := NewRing()
	l := slog.New(ring)
	l.Info("first")

	rec, ok := ring.Last()
	require.True(t, ok)
	assert.Equal(t, "first", rec.Message)
}

func TestRingEvictsAtCapacity(t *testing.T) {
	t.Parallel()

	ring := NewRing()
	l := slog.New(ring)
	for i := 0; i < RingCapacity+10; i++ {
		l.Info(fmt.Sprintf("msg-%d", i))
	}

	assert.Equal(t, RingCapacity, ring.Len())
	rec, ok := ring.Last()
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("msg-%d", RingCapacity+9), rec.Message)
}

func TestRingWaitFor(t *testing.T) {
	t.Parallel()

	ring := NewRing()
	l := slog.New(ring)

	go func() {
		time.Sleep(10 * time.Millisecond)
		l.Error("boom", "reason", "ERRORS.INVALID_CODE")
	}()

	rec, ok := ring.WaitFor(func(r Record) bool {
		return r.Attrs["reason"] == "ERRORS.INVALID_CODE"
	}, time.Second)
	require.True(t, ok)
	assert.Equal(t, "boom", rec.Message)

	_, ok = ring.WaitFor(func(r Record) bool { return r.Message == "never" }, 20*time.Millisecond)
	assert.False(t, ok)
}
