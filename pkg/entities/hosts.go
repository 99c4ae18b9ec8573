// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"fmt"
	"strings"
)

// ValidateHostPattern accepts a literal host or a pattern with exactly one
// leading "*." wildcard label. Any other wildcard shape is rejected at load.
func ValidateHostPattern(pattern string) error {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if p == "" {
		return fmt.Errorf("empty host pattern")
	}
	rest := p
	if strings.HasPrefix(p, "*.") {
		rest = p[2:]
	}
	if rest == "" || strings.Contains(rest, "*") {
		return fmt.Errorf("invalid host pattern %q: only a single leading wildcard label is supported", pattern)
	}
	return nil
}

// MatchHostPattern reports whether host matches pattern. A "*." prefix
// matches exactly one additional leading label.
func MatchHostPattern(pattern, host string) bool {
	p := strings.ToLower(strings.TrimSpace(pattern))
	h := strings.ToLower(hostWithoutPort(host))
	if !strings.HasPrefix(p, "*.") {
		return p == h
	}
	suffix := p[2:]
	if !strings.HasSuffix(h, "."+suffix) {
		return false
	}
	label := h[:len(h)-len(suffix)-1]
	return label != "" && !strings.Contains(label, ".")
}

// patternSpecificity orders candidate patterns: exact hosts beat wildcards,
// and longer literal suffixes beat shorter ones.
func patternSpecificity(pattern string) int {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if strings.HasPrefix(p, "*.") {
		return len(p) - 2
	}
	// An exact pattern always outranks any wildcard.
	return len(p) + 1<<16
}

func hostWithoutPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx >= 0 && !strings.Contains(host[idx:], "]") {
		return host[:idx]
	}
	return host
}
