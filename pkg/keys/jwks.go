// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"encoding/base64"
	"sort"
)

// JWK is a single RSA verification key in JWK form. Field order is
// deterministic (alphabetical) so the exported document is byte-stable.
type JWK struct {
	Alg string `json:"alg"`
	E   string `json:"e"`
	KID string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	Use string `json:"use"`
}

// JWKS is the JSON Web Key Set exported on /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// rsaExponentAQAB is the base64url form of the public exponent 65537.
const rsaExponentAQAB = "AQAB"

// PublicJWKS exports every stored pair as a JWK Set snapshot, ordered by kid.
// The modulus is base64url without padding, big-endian.
func (s *Store) PublicJWKS() *JWKS {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := &JWKS{Keys: make([]JWK, 0, len(s.pairs))}
	for kid, e := range s.pairs {
		set.Keys = append(set.Keys, JWK{
			Alg: "RS256",
			E:   rsaExponentAQAB,
			KID: kid,
			Kty: "RSA",
			N:   base64.RawURLEncoding.EncodeToString(e.public.N.Bytes()),
			Use: "sig",
		})
	}
	sort.Slice(set.Keys, func(i, j int) bool { return set.Keys[i].KID < set.Keys[j].KID })
	return set
}
