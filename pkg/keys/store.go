// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package keys manages the signing key material of the authorization server:
// the process-scoped symmetric secret for HS256 and a set of RSA key pairs
// for RS256, of which exactly one is active for signing. All stored pairs
// remain valid for verification and are exported via the JWKS endpoint.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RSAKeyBits is the modulus size for generated pairs, per NIST SP 800-57.
const RSAKeyBits = 2048

// Pair is the stored form of an RSA key pair.
type Pair struct {
	// KID is the key identifier carried in JWT headers. Free-form;
	// generated kids use the ISO date.
	KID string

	// PrivatePEM is the PKCS#1 encoded private key.
	PrivatePEM []byte

	// PublicPEM is the PKIX encoded public key.
	PublicPEM []byte

	// Algorithm is always RS256 for stored pairs.
	Algorithm string

	// Active marks the single pair used for signing.
	Active bool

	// CreatedAt is when the pair was generated.
	CreatedAt time.Time
}

type entry struct {
	pair    *Pair
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// Store holds the symmetric secret and the RSA pairs. All operations are
// serialized behind one mutex; key generation blocks other key operations
// until complete. Readers of the JWK set see a point-in-time snapshot.
type Store struct {
	mu        sync.Mutex
	secret    []byte
	pairs     map[string]*entry
	activeKID string
	logger    *slog.Logger
}

// NewStore creates a key store around the process symmetric secret.
func NewStore(secret string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		secret: []byte(secret),
		pairs:  make(map[string]*entry),
		logger: logger,
	}
}

// Secret returns the symmetric HS256 secret.
func (s *Store) Secret() []byte {
	return s.secret
}

// GenerateAndStore creates a 2048-bit RSA pair under kid, optionally marking
// it active. A kid that already exists is rejected.
func (s *Store) GenerateAndStore(kid string, setActive bool) (*Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generateLocked(kid, setActive)
}

func (s *Store) generateLocked(kid string, setActive bool) (*Pair, error) {
	if kid == "" {
		return nil, fmt.Errorf("kid is required")
	}
	if _, exists := s.pairs[kid]; exists {
		return nil, fmt.Errorf("key %q already exists", kid)
	}

	private, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}

	pair := &Pair{
		KID:        kid,
		PrivatePEM: pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(private)}),
		PublicPEM:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER}),
		Algorithm:  "RS256",
		Active:     setActive,
		CreatedAt:  time.Now(),
	}
	s.pairs[kid] = &entry{pair: pair, private: private, public: &private.PublicKey}
	if setActive {
		if prev, ok := s.pairs[s.activeKID]; ok {
			prev.pair.Active = false
		}
		s.activeKID = kid
	}
	s.logger.Info("generated RSA key pair", "kid", kid, "active", setActive)
	return pair, nil
}

// ActiveSigningKey returns the kid and private key of the active pair,
// lazily generating one (kid = current ISO date) when none exists yet.
func (s *Store) ActiveSigningKey() (string, *rsa.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeKID == "" {
		kid := time.Now().Format("2006-01-02")
		if _, exists := s.pairs[kid]; exists {
			kid = fmt.Sprintf("%s-%d", kid, time.Now().UnixNano())
		}
		if _, err := s.generateLocked(kid, true); err != nil {
			return "", nil, err
		}
	}
	e := s.pairs[s.activeKID]
	return s.activeKID, e.private, nil
}

// ActiveMetadata returns a copy of the active pair's metadata.
func (s *Store) ActiveMetadata() (*Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pairs[s.activeKID]
	if !ok {
		return nil, fmt.Errorf("no active key")
	}
	cp := *e.pair
	return &cp, nil
}

// VerificationKey returns the public key stored under kid, or nil.
func (s *Store) VerificationKey(kid string) *rsa.PublicKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pairs[kid]; ok {
		return e.public
	}
	return nil
}

// RemoveOlderThan deletes pairs created before cutoff, never the active one.
// Returns the number of removed pairs.
func (s *Store) RemoveOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for kid, e := range s.pairs {
		if kid == s.activeKID {
			continue
		}
		if e.pair.CreatedAt.Before(cutoff) {
			delete(s.pairs, kid)
			removed++
			s.logger.Info("removed RSA key pair", "kid", kid)
		}
	}
	return removed
}

// Count returns the number of stored pairs.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pairs)
}
