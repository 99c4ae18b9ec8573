// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config resolves the runtime settings of the authorization server
// from the environment. All values are fully resolved at load time; the rest
// of the code never reads environment variables directly.
package config

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppName is the short product name. It prefixes the SSO cookie
// ("gatehouse-sso") and the Redis key namespace.
const AppName = "gatehouse"

const generatedSecretLength = 64

// Settings is the fully resolved process configuration.
type Settings struct {
	// PublicDomain is the externally visible domain of the server, the last
	// fallback for cookie scoping.
	PublicDomain string

	// Secure marks issued cookies as Secure and forces https in redirects.
	Secure bool

	// Environment is the deployment environment name (e.g. "production").
	Environment string

	// ListenAddress is the HTTP bind address.
	ListenAddress string

	// CookieExpiration is the SSO cookie lifetime.
	CookieExpiration time.Duration

	// TokenExpiration is the access token lifetime.
	TokenExpiration time.Duration

	// RefreshExpiration is the refresh token lifetime.
	RefreshExpiration time.Duration

	// AuthCodeTTL is the authorization code lifetime.
	AuthCodeTTL time.Duration

	// LoginNonceTTL is the single-use login nonce lifetime.
	LoginNonceTTL time.Duration

	// JWTSecret is the symmetric HS256 secret. Generated when unset.
	JWTSecret string

	// JWTAlgorithm is the process default signing algorithm (HS256 or RS256).
	// Tenants may override it per token.
	JWTAlgorithm string

	// RedisHost selects the Redis session store backend when non-empty;
	// otherwise the in-memory backend is used.
	RedisHost string

	// RedisPassword authenticates against Redis when set.
	RedisPassword string

	// ConfigurationDir is the root of the filesystem entity source
	// (Tenants/ and Clients/ subdirectories).
	ConfigurationDir string

	// SupportKubernetesCRD enables the Kubernetes entity source.
	SupportKubernetesCRD bool

	// ScopedKubernetesCRD restricts the Kubernetes source to the pod namespace.
	ScopedKubernetesCRD bool

	// AllowMissingProviders relaxes refresh validation when a tenant ships no
	// UserValidationProvider. Production deployments should leave this off.
	AllowMissingProviders bool
}

// Load resolves Settings from the environment with defaults applied.
func Load() *Settings {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PUBLIC_DOMAIN", "localhost")
	v.SetDefault("SECURE", true)
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("LISTEN_ADDRESS", ":8080")
	v.SetDefault("COOKIE_EXPIRATION_IN_DAYS", 7)
	v.SetDefault("TOKEN_EXPIRATION_IN_HOURS", 2)
	v.SetDefault("TOKEN_REFRESH_EXPIRATION_IN_HOURS", 720)
	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("CONFIGURATION_DIR", "./Configurations")
	v.SetDefault("SUPPORT_KUBERNETES_CRD", false)
	v.SetDefault("SCOPED_KUBERNETES_CRD", false)
	v.SetDefault("ALLOW_MISSING_PROVIDERS", false)

	secret := v.GetString("JWT_SECRET")
	if secret == "" {
		secret = randomSecret(generatedSecretLength)
	}

	return &Settings{
		PublicDomain:          v.GetString("PUBLIC_DOMAIN"),
		Secure:                v.GetBool("SECURE"),
		Environment:           v.GetString("ENVIRONMENT"),
		ListenAddress:         v.GetString("LISTEN_ADDRESS"),
		CookieExpiration:      time.Duration(v.GetInt("COOKIE_EXPIRATION_IN_DAYS")) * 24 * time.Hour,
		TokenExpiration:       time.Duration(v.GetInt("TOKEN_EXPIRATION_IN_HOURS")) * time.Hour,
		RefreshExpiration:     time.Duration(v.GetInt("TOKEN_REFRESH_EXPIRATION_IN_HOURS")) * time.Hour,
		AuthCodeTTL:           10 * time.Minute,
		LoginNonceTTL:         10 * time.Minute,
		JWTSecret:             secret,
		JWTAlgorithm:          strings.ToUpper(v.GetString("JWT_ALGORITHM")),
		RedisHost:             v.GetString("REDIS_HOST"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		ConfigurationDir:      v.GetString("CONFIGURATION_DIR"),
		SupportKubernetesCRD:  v.GetBool("SUPPORT_KUBERNETES_CRD"),
		ScopedKubernetesCRD:   v.GetBool("SCOPED_KUBERNETES_CRD"),
		AllowMissingProviders: v.GetBool("ALLOW_MISSING_PROVIDERS"),
	}
}

// IsProduction reports whether the deployment environment is production.
func (s *Settings) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomSecret(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(secretAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		out[i] = secretAlphabet[idx.Int64()]
	}
	return string(out)
}
