// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Payload is the claim set of issued tokens: the registered claims plus the
// private claims binding a token to its tenant and responsible domain.
type Payload struct {
	Issuer         string `json:"iss,omitempty"`
	Subject        string `json:"sub,omitempty"`
	Audience       string `json:"aud,omitempty"`
	ExpiresAt      int64  `json:"exp,omitempty"`
	IssuedAt       int64  `json:"iat,omitempty"`
	AuthTime       int64  `json:"auth_time,omitempty"`
	Tenant         string `json:"tenant,omitempty"`
	Responsibility string `json:"responsibility,omitempty"`
	Role           string `json:"role,omitempty"`
	User           string `json:"user,omitempty"`
	Scope          string `json:"scope,omitempty"`
	Profile        any    `json:"profile,omitempty"`
}

// GetExpirationTime implements jwt.Claims.
func (p *Payload) GetExpirationTime() (*jwt.NumericDate, error) {
	if p.ExpiresAt == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(p.ExpiresAt, 0)), nil
}

// GetIssuedAt implements jwt.Claims.
func (p *Payload) GetIssuedAt() (*jwt.NumericDate, error) {
	if p.IssuedAt == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(p.IssuedAt, 0)), nil
}

// GetNotBefore implements jwt.Claims.
func (*Payload) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }

// GetIssuer implements jwt.Claims.
func (p *Payload) GetIssuer() (string, error) { return p.Issuer, nil }

// GetSubject implements jwt.Claims.
func (p *Payload) GetSubject() (string, error) { return p.Subject, nil }

// GetAudience implements jwt.Claims.
func (p *Payload) GetAudience() (jwt.ClaimStrings, error) {
	if p.Audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{p.Audience}, nil
}

// ExpiredAt reports whether the payload is expired at the given instant.
// A token is rejected from the first instant now >= exp.
func (p *Payload) ExpiredAt(now time.Time) bool {
	if p.ExpiresAt == 0 {
		return false
	}
	return !now.Before(time.Unix(p.ExpiresAt, 0))
}

// HashResponsibility derives the responsibility claim from the responsible
// domain so a cookie stays tied to the scope it was issued for.
func HashResponsibility(domain string) string {
	sum := sha256.Sum256([]byte(domain))
	return hex.EncodeToString(sum[:])
}
