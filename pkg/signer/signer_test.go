// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/gatehouse/pkg/entities"
	"github.com/stacklok/gatehouse/pkg/keys"
)

func newSigner(t *testing.T, defaultAlg string) *Signer {
	t.Helper()
	s, _ := newSignerWithKeys(t, defaultAlg)
	return s
}

func newSignerWithKeys(t *testing.T, defaultAlg string) (*Signer, *keys.Store) {
	t.Helper()
	ks := keys.NewStore("0123456789abcdef0123456789abcdef", nil)
	return New(ks, defaultAlg, nil), ks
}

func samplePayload(exp time.Time) *Payload {
	return &Payload{
		Issuer:         "gatehouse",
		Subject:        "jdoe",
		Audience:       "e92b4a0b-d1d7-4d55-b2e3-dc570faca745",
		ExpiresAt:      exp.Unix(),
		IssuedAt:       time.Now().Unix(),
		AuthTime:       time.Now().Unix(),
		Tenant:         "Cheese",
		Responsibility: HashResponsibility("cookbooks.example.com"),
		Role:           "editor",
		User:           "jdoe",
		Scope:          "read write",
	}
}

func TestSignVerifyRoundTripShapes(t *testing.T) {
	t.Parallel()

	payloads := []*Payload{
		samplePayload(time.Now().Add(time.Hour)),
		{Subject: "", Tenant: "", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		{Subject: "ünïcødé-用户", Role: strings.Repeat("x", 4096), ExpiresAt: time.Now().Add(time.Hour).Unix()},
		{
			Subject:   "nested",
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
			Profile:   map[string]any{"name": "Jöhn", "teams": []any{"a", "b"}, "meta": map[string]any{"depth": map[string]any{"ok": true}}},
		},
	}

	for _, alg := range []string{AlgHS256, AlgRS256} {
		s := newSigner(t, alg)
		for _, p := range payloads {
			raw, err := s.Sign(p, alg)
			require.NoError(t, err)

			got, expired, err := s.Verify(raw)
			require.NoError(t, err)
			assert.False(t, expired)
			assert.Equal(t, p.Subject, got.Subject)
			assert.Equal(t, p.Tenant, got.Tenant)
			assert.Equal(t, p.Role, got.Role)
			if p.Profile != nil {
				assert.Equal(t, p.Profile, got.Profile)
			}
		}
	}
}

func TestRS256CarriesKidHS256DoesNot(t *testing.T) {
	t.Parallel()

	s := newSigner(t, AlgRS256)
	raw, err := s.Sign(samplePayload(time.Now().Add(time.Hour)), AlgRS256)
	require.NoError(t, err)

	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Header["kid"])

	raw, err = s.Sign(samplePayload(time.Now().Add(time.Hour)), AlgHS256)
	require.NoError(t, err)
	token, _, err = jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	require.NoError(t, err)
	_, hasKid := token.Header["kid"]
	assert.False(t, hasKid)
}

func TestVerifyRejectsTampering(t *testing.T) {
	t.Parallel()

	s := newSigner(t, AlgHS256)
	raw, err := s.Sign(samplePayload(time.Now().Add(time.Hour)), AlgHS256)
	require.NoError(t, err)

	tampered := raw[:len(raw)-2] + "xx"
	_, _, err = s.Verify(tampered)
	require.Error(t, err)
}

func TestVerifyRejectsUnknownKid(t *testing.T) {
	t.Parallel()

	a := newSigner(t, AlgRS256)
	raw, err := a.Sign(samplePayload(time.Now().Add(time.Hour)), AlgRS256)
	require.NoError(t, err)

	// A different signer has different keys; the kid is unknown there.
	b := newSigner(t, AlgRS256)
	_, _, err = b.Verify(raw)
	require.Error(t, err)
}

func TestNoAlgorithmDowngrade(t *testing.T) {
	t.Parallel()

	s, ks := newSignerWithKeys(t, AlgRS256)
	// Sign HS256 with the RSA public PEM as the secret: classic confusion.
	_, _, err := ks.ActiveSigningKey()
	require.NoError(t, err)
	meta, err := ks.ActiveMetadata()
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, samplePayload(time.Now().Add(time.Hour)))
	forged, err := token.SignedString(meta.PublicPEM)
	require.NoError(t, err)

	_, _, err = s.Verify(forged)
	require.Error(t, err, "HS256 token keyed on RSA public material must not verify")
}

func TestExpirationBoundary(t *testing.T) {
	t.Parallel()

	s := newSigner(t, AlgHS256)

	fresh := samplePayload(time.Now().Add(2 * time.Second))
	raw, err := s.Sign(fresh, AlgHS256)
	require.NoError(t, err)
	_, expired, err := s.Verify(raw)
	require.NoError(t, err)
	assert.False(t, expired, "token signed just before exp is accepted")

	stale := samplePayload(time.Now().Add(-time.Millisecond))
	raw, err = s.Sign(stale, AlgHS256)
	require.NoError(t, err)
	_, expired, err = s.Verify(raw)
	require.NoError(t, err, "signature stays valid after expiry")
	assert.True(t, expired)

	// now == exp is already expired.
	p := &Payload{ExpiresAt: time.Now().Unix()}
	assert.True(t, p.ExpiredAt(time.Unix(p.ExpiresAt, 0)))
	assert.True(t, p.ExpiredAt(time.Unix(p.ExpiresAt, 0).Add(time.Millisecond)))
	assert.False(t, p.ExpiredAt(time.Unix(p.ExpiresAt, 0).Add(-time.Millisecond)))
}

func TestAlgorithmFor(t *testing.T) {
	t.Parallel()

	s := newSigner(t, AlgHS256)
	assert.Equal(t, AlgHS256, s.AlgorithmFor(nil))
	assert.Equal(t, AlgHS256, s.AlgorithmFor(&entities.Tenant{Name: "T"}))
	assert.Equal(t, AlgRS256, s.AlgorithmFor(&entities.Tenant{Name: "T", Algorithm: AlgRS256}))
}
