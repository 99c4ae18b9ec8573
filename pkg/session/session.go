// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session stores the short-lived state of OAuth flows: authorization
// codes, refresh tokens, and login nonces. Two backends exist, an in-memory
// map with per-entry expiration timers and a Redis hash-per-key store.
// Consumption of codes and refresh values is at-most-once.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/stacklok/gatehouse/pkg/signer"
)

// Kind partitions stored values. Values are unique across kinds because each
// kind prefixes its storage key and the value itself is CSPRNG-generated.
type Kind string

// Session kinds.
const (
	KindCode       Kind = "code"
	KindRefresh    Kind = "refresh"
	KindLoginNonce Kind = "login-nonce"
)

// ErrCodeTaken is returned by Push when the value already exists.
var ErrCodeTaken = errors.New("code already taken")

// Session is the state captured behind an opaque value.
type Session struct {
	// Payload is the verified token payload captured at issue time.
	Payload *signer.Payload `json:"payload,omitempty"`

	// Scopes are the granted scopes.
	Scopes []string `json:"scopes,omitempty"`

	// RedirectURI is the validated redirect target of the code grant.
	RedirectURI string `json:"redirect_uri,omitempty"`

	// State is the client's opaque state parameter.
	State string `json:"state,omitempty"`

	// Challenge and ChallengeMethod hold the PKCE challenge, when present.
	Challenge       string `json:"challenge,omitempty"`
	ChallengeMethod string `json:"challenge_method,omitempty"`
}

// Store is the pluggable session backend.
type Store interface {
	// Push stores session under (kind, value) with the given TTL.
	// Returns ErrCodeTaken when the value already exists.
	Push(ctx context.Context, kind Kind, value string, session *Session, ttl time.Duration) error

	// Get returns the session, or (nil, nil) when absent or expired. With
	// consume, the entry is deleted atomically before returning, so two
	// concurrent consuming reads yield at most one success.
	Get(ctx context.Context, kind Kind, value string, consume bool) (*Session, error)

	// Healthy reports backend availability.
	Healthy(ctx context.Context) bool

	// Count approximates the number of live entries of a kind.
	Count(ctx context.Context, kind Kind) int

	// Close releases backend resources.
	Close() error
}

// CodeLength is the length of generated codes and refresh values (>=128 bits
// of entropy over the alphanumeric alphabet).
const CodeLength = 32

const valueAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewValue generates an opaque URL-safe random value of length n using a
// CSPRNG over [A-Za-z0-9].
func NewValue(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(valueAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		out[i] = valueAlphabet[idx.Int64()]
	}
	return string(out)
}
