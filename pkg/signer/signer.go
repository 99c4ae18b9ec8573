// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package signer signs and verifies the JWTs issued by the authorization
// server. HS256 uses the process symmetric secret; RS256 uses the active
// RSA pair of the key store and carries its kid in the token header.
// Verification dispatches on the header algorithm and kid; expiration is
// checked by the caller so the expired flag can be surfaced separately.
package signer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/gatehouse/pkg/entities"
	"github.com/stacklok/gatehouse/pkg/keys"
)

// Supported signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
)

// Signer wraps the key store for JWT operations.
type Signer struct {
	keys       *keys.Store
	defaultAlg string
	logger     *slog.Logger
}

// New creates a Signer. defaultAlg is the process-wide algorithm used when a
// tenant carries no override; empty defaults to HS256.
func New(ks *keys.Store, defaultAlg string, logger *slog.Logger) *Signer {
	if defaultAlg == "" {
		defaultAlg = AlgHS256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{keys: ks, defaultAlg: defaultAlg, logger: logger}
}

// AlgorithmFor resolves the signing algorithm for a tenant: the tenant
// override wins, then the process default.
func (s *Signer) AlgorithmFor(tenant *entities.Tenant) string {
	if tenant != nil && tenant.Algorithm != "" {
		return tenant.Algorithm
	}
	return s.defaultAlg
}

// Sign serializes and signs the payload under the given algorithm.
func (s *Signer) Sign(payload *Payload, alg string) (string, error) {
	switch alg {
	case AlgHS256:
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
		return token.SignedString(s.keys.Secret())
	case AlgRS256:
		kid, private, err := s.keys.ActiveSigningKey()
		if err != nil {
			return "", fmt.Errorf("resolving signing key: %w", err)
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, payload)
		token.Header["kid"] = kid
		return token.SignedString(private)
	default:
		return "", fmt.Errorf("unsupported signing algorithm %q", alg)
	}
}

// Verify checks the signature of raw and decodes its payload. Expiration is
// evaluated after signature verification and returned as the expired flag;
// an expired token with a valid signature yields (payload, true, nil).
func (s *Signer) Verify(raw string) (*Payload, bool, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{AlgHS256, AlgRS256}),
		jwt.WithoutClaimsValidation(),
	)

	payload := &Payload{}
	_, err := parser.ParseWithClaims(raw, payload, func(token *jwt.Token) (any, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return s.keys.Secret(), nil
		case *jwt.SigningMethodRSA:
			kid, _ := token.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("RS256 token without kid")
			}
			public := s.keys.VerificationKey(kid)
			if public == nil {
				return nil, fmt.Errorf("unknown kid %q", kid)
			}
			return public, nil
		default:
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
	})
	if err != nil {
		return nil, false, fmt.Errorf("verifying token: %w", err)
	}
	return payload, payload.ExpiredAt(time.Now()), nil
}
