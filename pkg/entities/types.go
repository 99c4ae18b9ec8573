// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package entities holds the tenant and client registry of the authorization
// server. Entities arrive from sources (filesystem, Kubernetes) as YAML and
// are kept in an in-memory store with host-based tenant resolution.
package entities

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"sigs.k8s.io/yaml"
)

// Grant type names accepted on the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantPassword          = "password"
)

// DefaultGrantTypes are the grants enabled for a client that declares none.
var DefaultGrantTypes = []string{GrantAuthorizationCode, GrantRefreshToken}

// InterceptorSettings configures the ForwardAuth gate for a tenant.
type InterceptorSettings struct {
	// Enabled gates /interceptor for this tenant.
	Enabled bool `json:"enabled"`

	// LoginDomain is the domain the interceptor redirects to for login.
	LoginDomain string `json:"login_domain,omitempty"`

	// CookieDomain overrides the cookie scope in interceptor mode.
	CookieDomain string `json:"cookie_domain,omitempty"`
}

// CookieOrLoginDomain returns the cookie domain, falling back to the login
// domain when no explicit cookie domain is set.
func (i *InterceptorSettings) CookieOrLoginDomain() string {
	if i.CookieDomain != "" {
		return i.CookieDomain
	}
	return i.LoginDomain
}

// TenantInfo carries informational URLs rendered on human pages.
type TenantInfo struct {
	Imprint       string `json:"imprint,omitempty"`
	PrivacyPolicy string `json:"privacy_policy,omitempty"`
	Support       string `json:"support,omitempty"`
}

// TemplateDescriptor points the external template collaborator at the
// tenant's template bundle.
type TemplateDescriptor struct {
	URL    string `json:"url,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

// Tenant is the top-level authentication boundary keyed by host patterns.
type Tenant struct {
	// Name is the unique tenant identity.
	Name string `json:"name"`

	// Hosts is the ordered list of host patterns. A pattern may carry one
	// leading "*." wildcard label; other wildcard shapes are rejected.
	Hosts []string `json:"hosts"`

	// Interceptor holds the ForwardAuth settings, when enabled.
	Interceptor *InterceptorSettings `json:"interceptor,omitempty"`

	// Providers are the provider script sources, concatenated at load.
	Providers []string `json:"providers,omitempty"`

	// Algorithm optionally overrides the JWT signing algorithm (HS256|RS256).
	Algorithm string `json:"algorithm,omitempty"`

	// SilentLogin suppresses the login form when a valid session exists.
	// Defaults to true when unset.
	SilentLogin *bool `json:"silent_login,omitempty"`

	// Info holds optional informational URLs.
	Info *TenantInfo `json:"info,omitempty"`

	// Templates describes where the tenant's HTML templates live.
	Templates *TemplateDescriptor `json:"templates,omitempty"`
}

// SilentLoginEnabled reports the silent_login flag with its default of true.
func (t *Tenant) SilentLoginEnabled() bool {
	return t.SilentLogin == nil || *t.SilentLogin
}

// ProviderSource returns the concatenation of the tenant's provider scripts.
func (t *Tenant) ProviderSource() string {
	return strings.Join(t.Providers, "\n")
}

// InterceptorEnabled reports whether the ForwardAuth gate is on.
func (t *Tenant) InterceptorEnabled() bool {
	return t.Interceptor != nil && t.Interceptor.Enabled
}

// Validate checks tenant invariants shared by all sources.
func (t *Tenant) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tenant name is required")
	}
	if len(t.Hosts) == 0 {
		return fmt.Errorf("tenant %q: at least one host pattern is required", t.Name)
	}
	for _, h := range t.Hosts {
		if err := ValidateHostPattern(h); err != nil {
			return fmt.Errorf("tenant %q: %w", t.Name, err)
		}
	}
	switch t.Algorithm {
	case "", "HS256", "RS256":
	default:
		return fmt.Errorf("tenant %q: unsupported algorithm %q", t.Name, t.Algorithm)
	}
	return nil
}

// Client is an OAuth2 relying party owned by a tenant.
type Client struct {
	// Ident is the client UUID.
	Ident string `json:"ident"`

	// Name is the human-readable client name.
	Name string `json:"name"`

	// Tenant names the owning tenant. Resolution is lazy: the tenant need
	// not exist at load time, only at use time.
	Tenant string `json:"tenant"`

	// RedirectPatterns is the non-empty list of allowed redirect URI
	// patterns; "*" matches any run of characters.
	RedirectPatterns []string `json:"redirects"`

	// Scopes is the optional scope whitelist acting as a final intersection.
	Scopes []string `json:"scopes,omitempty"`

	// Referrers is the optional Referer whitelist for /authorize.
	Referrers []string `json:"referrers,omitempty"`

	// GrantTypes are the enabled grants; defaults to DefaultGrantTypes.
	GrantTypes []string `json:"grant_types,omitempty"`

	// PKCEOnly rejects authorization requests without a PKCE challenge.
	PKCEOnly bool `json:"pkce_only,omitempty"`

	// Secret is the optional shared client secret.
	Secret string `json:"secret,omitempty"`

	// ProviderScopes limits which provider-declared scopes reach tokens.
	ProviderScopes []string `json:"provider_scopes,omitempty"`
}

// Validate checks client invariants shared by all sources.
func (c *Client) Validate() error {
	if _, err := uuid.Parse(c.Ident); err != nil {
		return fmt.Errorf("client ident %q is not a UUID: %w", c.Ident, err)
	}
	if c.Tenant == "" {
		return fmt.Errorf("client %s: owning tenant is required", c.Ident)
	}
	if len(c.RedirectPatterns) == 0 {
		return fmt.Errorf("client %s: at least one redirect pattern is required", c.Ident)
	}
	return nil
}

// AllowsGrant reports whether the grant type is enabled for the client.
func (c *Client) AllowsGrant(grant string) bool {
	grants := c.GrantTypes
	if len(grants) == 0 {
		grants = DefaultGrantTypes
	}
	for _, g := range grants {
		if g == grant {
			return true
		}
	}
	return false
}

// MatchesRedirect reports whether uri matches one of the redirect patterns.
func (c *Client) MatchesRedirect(uri string) bool {
	for _, p := range c.RedirectPatterns {
		if wildcardMatch(p, uri) {
			return true
		}
	}
	return false
}

// MatchesReferrer reports whether ref matches the referrer whitelist.
// An empty whitelist admits every referrer.
func (c *Client) MatchesReferrer(ref string) bool {
	if len(c.Referrers) == 0 {
		return true
	}
	for _, p := range c.Referrers {
		if wildcardMatch(p, ref) {
			return true
		}
	}
	return false
}

// FilterScopes intersects the requested scopes with the client whitelist.
// An empty whitelist admits every scope; an empty result is allowed.
func (c *Client) FilterScopes(requested []string) []string {
	if len(c.Scopes) == 0 {
		return requested
	}
	allowed := make(map[string]bool, len(c.Scopes))
	for _, s := range c.Scopes {
		allowed[s] = true
	}
	var out []string
	for _, s := range requested {
		if allowed[s] {
			out = append(out, s)
		}
	}
	return out
}

// FilterProviderScopes intersects provider-declared scopes with the
// client's allowed provider scopes. An empty allowance drops them all.
func (c *Client) FilterProviderScopes(declared []string) []string {
	allowed := make(map[string]bool, len(c.ProviderScopes))
	for _, s := range c.ProviderScopes {
		allowed[s] = true
	}
	var out []string
	for _, s := range declared {
		if allowed[s] {
			out = append(out, s)
		}
	}
	return out
}

// wildcardMatch matches s against a pattern where '*' matches any run of
// characters. Used for redirect URI and referrer whitelists.
func wildcardMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

// ParseTenant decodes a tenant definition from YAML (or JSON).
func ParseTenant(raw []byte) (*Tenant, error) {
	var t Tenant
	if err := yaml.UnmarshalStrict(raw, &t); err != nil {
		return nil, fmt.Errorf("parsing tenant: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseClient decodes a client definition from YAML (or JSON).
func ParseClient(raw []byte) (*Client, error) {
	var c Client
	if err := yaml.UnmarshalStrict(raw, &c); err != nil {
		return nil, fmt.Errorf("parsing client: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
